package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/businessperformancetuning/segutil/util"
	"github.com/businessperformancetuning/segutil/workload"
	"github.com/decred/dcrd/dcrutil"
	"github.com/decred/slog"
	"github.com/inhies/go-bytesize"
	"github.com/jrick/flagfile"
	"github.com/jrick/logrotate/rotator"
)

var (
	defaultHomeDir    = dcrutil.AppDataDir("segload", false)
	defaultConfigFile = filepath.Join(defaultHomeDir, "segload.conf")
)

// logWriter writes to standard output and, when -log is set, to the log
// rotator.
type logWriter struct{}

func (logWriter) Write(p []byte) (n int, err error) {
	os.Stdout.Write(p)
	if logRotator != nil {
		logRotator.Write(p)
	}
	return len(p), nil
}

var (
	backendLog = slog.NewBackend(logWriter{})
	logRotator *rotator.Rotator

	log     = backendLog.Logger("SEGL")
	loadLog = backendLog.Logger("LOAD")
)

func init() {
	workload.UseLogger(loadLog)
}

func versionString() string {
	return "1.0.0"
}

// sizeFlag is a byte count flag that accepts K, M, G and T suffixes.
type sizeFlag uint64

func (s *sizeFlag) String() string {
	return bytesize.New(float64(*s)).String()
}

func (s *sizeFlag) Set(value string) error {
	n, err := workload.ParseSize(value)
	if err != nil {
		return err
	}
	*s = sizeFlag(n)
	return nil
}

// durationFlag is a duration flag where a bare number is seconds.
type durationFlag time.Duration

func (d *durationFlag) String() string {
	return time.Duration(*d).String()
}

func (d *durationFlag) Set(value string) error {
	v, err := workload.ParseDuration(value)
	if err != nil {
		return err
	}
	*d = durationFlag(v)
	return nil
}

type config struct {
	Config        flag.Value
	ShowVersion   bool
	Verbose       bool
	Test          string
	Size          sizeFlag
	Rate          sizeFlag
	Duration      durationFlag
	BlockSize     sizeFlag
	Threads       int
	Window        sizeFlag
	Path          string
	LogFile       string
	Fsync         string
	FsyncInterval uint64
	Seed          uint64
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage of segload:
  segload [flags]
Flags:
  -C value
        config file
  -v    verbose
  -V	Show version and exit
  -test string
        seq, rand, append, hotcold (hotspot) or storm (default seq)
  -size size
        file size (default 100G)
  -rate size
        bytes per second, 0 is unlimited (default 200M)
  -duration duration
        run time, bare numbers are seconds (default 10m)
  -bs size
        block size (default 4K)
  -threads int
        workers, one file each (default 1)
  -window size
        rand overwrite window, hotcold hot window (default 1G)
  -path string
        directory to write in (default .)
  -log string
        also log to this file
  -fsync string
        none, always or periodic (default none)
  -fsync-interval uint
        blocks between periodic fsyncs (default %v)
  -seed uint
        generator seed, 0 uses the per test default
`, workload.DefaultFsyncInterval)
	os.Exit(2)
}

func (c *config) FlagSet() *flag.FlagSet {
	d := workload.DefaultConfig()
	c.Size = sizeFlag(d.Size)
	c.Rate = sizeFlag(d.Rate)
	c.Duration = durationFlag(d.Duration)
	c.BlockSize = sizeFlag(d.BlockSize)
	c.Window = sizeFlag(d.Window)

	fs := flag.NewFlagSet("segload", flag.ExitOnError)
	configParser := flagfile.Parser{AllowUnknown: false}
	c.Config = configParser.ConfigFlag(fs)
	fs.Var(c.Config, "C", "config file")
	fs.BoolVar(&c.ShowVersion, "V", false, "")
	fs.BoolVar(&c.Verbose, "v", false, "")
	fs.StringVar(&c.Test, "test", d.Test.String(), "")
	fs.Var(&c.Size, "size", "")
	fs.Var(&c.Rate, "rate", "")
	fs.Var(&c.Duration, "duration", "")
	fs.Var(&c.BlockSize, "bs", "")
	fs.IntVar(&c.Threads, "threads", d.Threads, "")
	fs.Var(&c.Window, "window", "")
	fs.StringVar(&c.Path, "path", d.Path, "")
	fs.StringVar(&c.LogFile, "log", "", "")
	fs.StringVar(&c.Fsync, "fsync", d.Fsync.String(), "")
	fs.Uint64Var(&c.FsyncInterval, "fsync-interval", d.FsyncInterval, "")
	fs.Uint64Var(&c.Seed, "seed", 0, "")
	fs.Usage = usage
	return fs
}

// cleanAndExpandPath expands environment variables and a leading ~ to the
// user home directory.
func cleanAndExpandPath(path string) string {
	return util.CleanAndExpandPath(path, filepath.Dir(defaultHomeDir))
}

// workloadConfig converts the flags into a workload configuration.
func (c *config) workloadConfig() (workload.Config, error) {
	test, err := workload.ParseTest(c.Test)
	if err != nil {
		return workload.Config{}, err
	}
	fsync, err := workload.ParseFsyncMode(c.Fsync)
	if err != nil {
		return workload.Config{}, err
	}
	wc := workload.Config{
		Test:          test,
		Path:          cleanAndExpandPath(c.Path),
		Size:          uint64(c.Size),
		Rate:          uint64(c.Rate),
		Duration:      time.Duration(c.Duration),
		BlockSize:     uint64(c.BlockSize),
		Threads:       c.Threads,
		Window:        uint64(c.Window),
		Fsync:         fsync,
		FsyncInterval: c.FsyncInterval,
		Seed:          c.Seed,
	}
	return wc, wc.Validate()
}

// loadConfig initializes and parses the config using a config file and command
// line options.
//
// When -C is the first parameter, flags are configured from the specified
// config file rather than the application default path.  Otherwise the
// default config will be parsed if the file exists.  Command line options
// always take precedence.
func loadConfig() (*config, []string, error) {
	cfg := &config{}
	fs := cfg.FlagSet()
	args := os.Args[1:]

	if len(args) >= 2 && args[0] == "-C" {
		err := cfg.Config.Set(args[1])
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid value %q for flag "+
				"-C: %s\n", args[1], err)
			os.Exit(1)
		}
		args = args[2:]
	} else if util.FileExists(defaultConfigFile) {
		err := cfg.Config.Set(defaultConfigFile)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	}
	fs.Parse(args)

	// Show the version and exit if the version flag was specified.
	appName := filepath.Base(os.Args[0])
	appName = strings.TrimSuffix(appName, filepath.Ext(appName))
	if cfg.ShowVersion {
		fmt.Printf("%s version %s (Go version %s %s/%s)\n", appName,
			versionString(), runtime.Version(), runtime.GOOS, runtime.GOARCH)
		os.Exit(0)
	}

	return cfg, fs.Args(), nil
}

func _main() error {
	cfg, args, err := loadConfig()
	if err != nil {
		return err
	}
	if len(args) != 0 {
		return fmt.Errorf("unexpected arguments: %v", args)
	}
	if cfg.Verbose {
		log.SetLevel(slog.LevelDebug)
		loadLog.SetLevel(slog.LevelDebug)
	}
	if cfg.LogFile != "" {
		r, err := rotator.New(cleanAndExpandPath(cfg.LogFile),
			10*1024, false, 3)
		if err != nil {
			return fmt.Errorf("log file: %w", err)
		}
		logRotator = r
		defer r.Close()
	}

	wc, err := cfg.workloadConfig()
	if err != nil {
		return err
	}

	log.Infof("Test         : %v", wc.Test)
	log.Infof("Path         : %v", wc.Path)
	log.Infof("Size         : %v", bytesize.New(float64(wc.Size)))
	if wc.Rate == 0 {
		log.Infof("Rate         : unlimited")
	} else {
		log.Infof("Rate         : %v/s", bytesize.New(float64(wc.Rate)))
	}
	log.Infof("Duration     : %v", wc.Duration)
	log.Infof("Block size   : %v", bytesize.New(float64(wc.BlockSize)))
	log.Infof("Threads      : %v", wc.Threads)
	log.Infof("Fsync        : %v", wc.Fsync)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

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

	start := time.Now()
	stats, err := workload.Run(ctx, wc)
	if stats != nil {
		elapsed := time.Since(start)
		log.Infof("%v written in %v writes over %v (%v/s), %v syncs",
			bytesize.New(float64(stats.BytesWritten)), stats.Writes,
			elapsed.Round(time.Millisecond),
			bytesize.New(float64(stats.BytesWritten)/elapsed.Seconds()),
			stats.Syncs)
		if wc.Test == workload.TestStorm {
			log.Infof("files created %v deleted %v, dirs created %v "+
				"removed %v, renames %v", stats.FilesCreated,
				stats.FilesDeleted, stats.DirsCreated,
				stats.DirsRemoved, stats.Renames)
		}
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func main() {
	err := _main()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}
