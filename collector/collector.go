// Package collector drives the segment sampling loop: run a cleaner pass,
// query lssu, parse the result and persist it, forever.
package collector

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/businessperformancetuning/segutil/metrics"
	"github.com/businessperformancetuning/segutil/parser"
	"github.com/davecgh/go-spew/spew"
	"github.com/decred/slog"
	"github.com/gonum/stat"
	"github.com/inhies/go-bytesize"
)

const (
	DefaultSettle    = 200 * time.Millisecond
	DefaultBlockSize = 4096
)

var (
	ErrNoSink      = errors.New("no sink")
	ErrNoDevice    = errors.New("no device")
	ErrNoStatus    = errors.New("no status command")
	ErrBadInterval = errors.New("interval must be positive")
)

// Runner executes an external command and returns what it wrote to stdout
// and stderr.  A non-nil error is returned when the command could not be
// started or exited with a non-zero status; stdout is still returned in that
// case.
type Runner interface {
	Run(ctx context.Context, argv []string) (stdout, stderr []byte, err error)
}

// Sink persists one sampling round.  An error means the round was not
// persisted.
type Sink interface {
	Append(ts time.Time, segments []parser.Segment) error
}

// Config is the collector configuration.
type Config struct {
	Device    string          // Device passed to the status command
	Interval  time.Duration   // Sleep between rounds
	Settle    time.Duration   // Delay between cleaner pass and status query
	Cleaner   []string        // Cleaner command, empty to skip
	Status    []string        // Status command, device and -l are appended
	Overflow  parser.Overflow // Policy for live > total
	Location  *time.Location  // Timestamp location, defaults to local
	BlockSize uint64          // Bytes per block, for logging only
}

// Collector samples segment utilization of one device.
type Collector struct {
	cfg    Config
	runner Runner
	sinks  []Sink

	now   func() time.Time
	sleep func(context.Context, time.Duration) error
}

// New returns a collector that writes every round to all sinks.
func New(cfg Config, runner Runner, sinks ...Sink) (*Collector, error) {
	switch {
	case len(sinks) == 0:
		return nil, ErrNoSink
	case cfg.Device == "":
		return nil, ErrNoDevice
	case len(cfg.Status) == 0:
		return nil, ErrNoStatus
	case cfg.Interval <= 0:
		return nil, ErrBadInterval
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.BlockSize == 0 {
		cfg.BlockSize = DefaultBlockSize
	}
	return &Collector{
		cfg:    cfg,
		runner: runner,
		sinks:  sinks,
		now:    time.Now,
		sleep:  sleep,
	}, nil
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// run executes argv and logs failures.  It reports whether the command
// succeeded.
func (c *Collector) run(ctx context.Context, argv []string) ([]byte, bool) {
	log.Tracef("run %v", argv)
	defer log.Tracef("run %v exit", argv)

	stdout, stderr, err := c.runner.Run(ctx, argv)
	if err != nil {
		log.Errorf("Command failed: %v: %v", strings.Join(argv, " "),
			err)
		if s := strings.TrimSpace(string(stderr)); s != "" {
			log.Errorf("%v", s)
		}
		metrics.CommandFailed(argv[0])
		return stdout, false
	}
	return stdout, true
}

// CleanerPass triggers garbage collection on the filesystem.  Failures are
// logged and otherwise ignored.
func (c *Collector) CleanerPass(ctx context.Context) bool {
	if len(c.cfg.Cleaner) == 0 {
		return true
	}
	_, ok := c.run(ctx, c.cfg.Cleaner)
	return ok
}

// QueryStatus returns the long segment listing of the device.  On failure the
// output, if any, is still returned.
func (c *Collector) QueryStatus(ctx context.Context) []byte {
	argv := make([]string, 0, len(c.cfg.Status)+2)
	argv = append(argv, c.cfg.Status...)
	argv = append(argv, c.cfg.Device, "-l")
	stdout, _ := c.run(ctx, argv)
	return stdout
}

// Round runs a single sampling round and persists it in every sink.  Only
// sink errors and cancellation are returned.  Nothing is persisted once ctx
// is done.
func (c *Collector) Round(ctx context.Context) error {
	log.Tracef("Round")
	defer log.Tracef("Round exit")

	start := c.now()

	c.CleanerPass(ctx)
	if err := c.sleep(ctx, c.cfg.Settle); err != nil {
		return err
	}
	out := c.QueryStatus(ctx)
	// A query cut short by cancellation is partial output.
	if err := ctx.Err(); err != nil {
		return err
	}
	ts := c.now().In(c.cfg.Location)

	segments := parser.Parse(out, c.cfg.Overflow)
	if log.Level() <= slog.LevelTrace {
		log.Tracef("segments: %v", spew.Sdump(segments))
	}

	for _, s := range c.sinks {
		if err := s.Append(ts, segments); err != nil {
			return fmt.Errorf("round %v: %w", ts, err)
		}
	}

	var (
		blocks, live uint64
		utils        = make([]float64, 0, len(segments))
	)
	for _, s := range segments {
		blocks += s.Blocks
		live += s.LiveBlocks
		utils = append(utils, s.Utilization)
	}
	var mean float64
	if len(utils) > 0 {
		mean = stat.Mean(utils, nil)
	}
	elapsed := c.now().Sub(start)
	metrics.ObserveRound(len(segments), live, mean, elapsed)

	log.Infof("Sampled %v segments, live %v of %v, mean utilization %.4f",
		len(segments),
		bytesize.New(float64(live*c.cfg.BlockSize)),
		bytesize.New(float64(blocks*c.cfg.BlockSize)), mean)

	return nil
}

// Run samples the device every interval until a sink fails or ctx is done.
func (c *Collector) Run(ctx context.Context) error {
	log.Tracef("Run")
	defer log.Tracef("Run exit")

	log.Infof("Sampling %v every %v", c.cfg.Device, c.cfg.Interval)
	for {
		if err := c.Round(ctx); err != nil {
			return err
		}
		if err := c.sleep(ctx, c.cfg.Interval); err != nil {
			return err
		}
	}
}
