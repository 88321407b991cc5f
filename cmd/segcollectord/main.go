package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/businessperformancetuning/segutil/collector"
	"github.com/businessperformancetuning/segutil/database"
	"github.com/businessperformancetuning/segutil/database/postgres"
	"github.com/businessperformancetuning/segutil/dataset"
	"github.com/businessperformancetuning/segutil/metrics"
	"github.com/businessperformancetuning/segutil/util"
	"golang.org/x/sync/errgroup"
)

// newRunner returns the runner for the cleaner and status commands.  Commands
// run locally unless a remote host is configured.
func newRunner(cfg *config) (collector.Runner, func(), error) {
	if cfg.SSHHost == "" {
		return collector.ExecRunner{}, func() {}, nil
	}

	sshConfig, err := util.SSHClientConfig(cfg.SSHUser, cfg.SSHKeyFile,
		cfg.SSHKnownHosts)
	if err != nil {
		return nil, nil, err
	}
	r := util.NewSSHRunner(cfg.SSHHost, sshConfig)
	return r, func() {
		if err := r.Close(); err != nil {
			log.Errorf("ssh close: %v", err)
		}
	}, nil
}

// newSinks returns the dataset writer and, when configured, the database
// sink.
func newSinks(cfg *config) ([]collector.Sink, func(), error) {
	sinks := []collector.Sink{dataset.NewWriter(cfg.Out, cfg.location)}
	if cfg.DBURI == "" {
		return sinks, func() {}, nil
	}

	db, err := postgres.New(database.Name, cfg.DBURI)
	if err != nil {
		return nil, nil, err
	}
	if err := db.Open(); err != nil {
		return nil, nil, fmt.Errorf("database: %w", err)
	}
	log.Infof("Database version: %v", database.Version)

	sinks = append(sinks, database.Sink{DB: db, Device: cfg.Device})
	return sinks, func() {
		if err := db.Close(); err != nil {
			log.Errorf("database close: %v", err)
		}
	}, nil
}

func _main() error {
	// Load configuration and parse command line.  This function also
	// initializes logging and configures it accordingly.
	cfg, _, err := loadConfig()
	if err != nil {
		return fmt.Errorf("Could not load configuration file: %v", err)
	}
	defer func() {
		if logRotator != nil {
			logRotator.Close()
		}
	}()

	log.Infof("Version      : %v", version())
	log.Infof("Home dir     : %v", cfg.HomeDir)
	log.Infof("Device       : %v", cfg.Device)
	log.Infof("Dataset      : %v", cfg.Out)
	if cfg.SSHHost != "" {
		log.Infof("Remote host  : %v@%v", cfg.SSHUser, cfg.SSHHost)
	}

	runner, closeRunner, err := newRunner(cfg)
	if err != nil {
		return err
	}
	defer closeRunner()

	sinks, closeSinks, err := newSinks(cfg)
	if err != nil {
		return err
	}
	defer closeSinks()

	c, err := collector.New(cfg.collectorConfig(), runner, sinks...)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Setup OS signals
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigs:
			log.Infof("Terminating with %v", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return c.Run(gctx)
	})
	if cfg.Metrics != "" {
		log.Infof("Metrics      : http://%v/metrics", cfg.Metrics)
		g.Go(func() error {
			return metrics.Serve(gctx, cfg.Metrics)
		})
	}

	// Tell user we are ready to go.
	log.Infof("Start of day")

	err = g.Wait()
	log.Infof("Waiting on subsystems to shut down")
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Errorf("%v", err)
		return err
	}

	log.Infof("Exiting")

	return nil
}

func main() {
	err := _main()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}
