// Package workload generates filesystem write patterns that shape the
// segment utilization distribution of a log-structured filesystem.
package workload

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"
)

// Test selects the write pattern.
type Test int

const (
	TestSeq     Test = iota // Sequential writes into a truncated file
	TestRand                // Random block overwrites inside a window
	TestAppend              // Appends to a file that grows up to Size
	TestHotCold             // 80% of overwrites in a hot window
	TestStorm               // Create, unlink, mkdir, rmdir and rename
)

var testNames = map[Test]string{
	TestSeq:     "seq",
	TestRand:    "rand",
	TestAppend:  "append",
	TestHotCold: "hotcold",
	TestStorm:   "storm",
}

func (t Test) String() string {
	if s, ok := testNames[t]; ok {
		return s
	}
	return fmt.Sprintf("Test(%d)", int(t))
}

// ParseTest returns the test with the provided name.  hotspot is accepted
// for hotcold.
func ParseTest(s string) (Test, error) {
	if s == "hotspot" {
		return TestHotCold, nil
	}
	for k, v := range testNames {
		if v == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown test: %q", s)
}

// FsyncMode selects when written data is synced.
type FsyncMode int

const (
	FsyncNone     FsyncMode = iota // Never, not even at the end
	FsyncAlways                    // After every block
	FsyncPeriodic                  // Every FsyncInterval blocks and at the end
)

var fsyncNames = map[FsyncMode]string{
	FsyncNone:     "none",
	FsyncAlways:   "always",
	FsyncPeriodic: "periodic",
}

func (m FsyncMode) String() string {
	if s, ok := fsyncNames[m]; ok {
		return s
	}
	return fmt.Sprintf("FsyncMode(%d)", int(m))
}

// ParseFsyncMode returns the fsync mode with the provided name.
func ParseFsyncMode(s string) (FsyncMode, error) {
	for k, v := range fsyncNames {
		if v == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown fsync mode: %q", s)
}

const (
	DefaultSize          = 100 << 30 // bytes
	DefaultRate          = 200 << 20 // bytes per second
	DefaultDuration      = 10 * time.Minute
	DefaultBlockSize     = 4 << 10
	DefaultWindow        = 1 << 30
	DefaultFsyncInterval = 1000 // blocks
)

var (
	ErrBlockSize = errors.New("block size must be positive")
	ErrThreads   = errors.New("threads must be positive")
	ErrDuration  = errors.New("duration must be positive")
	ErrRate      = errors.New("rate must be zero or at least one block")
	ErrInterval  = errors.New("periodic fsync needs a positive interval")
	ErrWindow    = errors.New("window too small")
)

// Config describes a workload run.
type Config struct {
	Test          Test
	Path          string        // Directory the files are written in
	Size          uint64        // File size in bytes
	Rate          uint64        // Bytes per second, 0 is unlimited
	Duration      time.Duration // Run time
	BlockSize     uint64        // Bytes per write
	Threads       int           // Concurrent workers, one file each
	Window        uint64        // rand: overwrite window, hotcold: hot window
	Fsync         FsyncMode
	FsyncInterval uint64 // Blocks between periodic syncs
	Seed          uint64 // 0 selects the per test default

	worker int
}

// DefaultConfig returns the default settings.  Test must still be chosen.
func DefaultConfig() Config {
	return Config{
		Test:          TestSeq,
		Path:          ".",
		Size:          DefaultSize,
		Rate:          DefaultRate,
		Duration:      DefaultDuration,
		BlockSize:     DefaultBlockSize,
		Threads:       1,
		Window:        DefaultWindow,
		Fsync:         FsyncNone,
		FsyncInterval: DefaultFsyncInterval,
	}
}

// hotCold returns the hot and cold window sizes.
func (c *Config) hotCold() (uint64, uint64) {
	hot := min(c.Window, c.Size)
	return hot, c.Size - hot
}

// Validate checks c for settings the writers cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.BlockSize == 0:
		return ErrBlockSize
	case c.Threads < 1:
		return ErrThreads
	case c.Duration <= 0:
		return ErrDuration
	case c.Rate != 0 && c.Rate < c.BlockSize*uint64(c.Threads):
		return ErrRate
	case c.Fsync == FsyncPeriodic && c.FsyncInterval == 0:
		return ErrInterval
	}

	switch c.Test {
	case TestSeq, TestAppend, TestStorm:
	case TestRand:
		if min(c.Window, c.Size)/c.BlockSize == 0 {
			return fmt.Errorf("%w: %v bytes for %v byte blocks",
				ErrWindow, min(c.Window, c.Size), c.BlockSize)
		}
	case TestHotCold:
		hot, cold := c.hotCold()
		if hot/c.BlockSize == 0 || cold/c.BlockSize == 0 {
			return fmt.Errorf("%w: hot %v cold %v bytes for %v "+
				"byte blocks", ErrWindow, hot, cold, c.BlockSize)
		}
	default:
		return fmt.Errorf("unknown test: %v", c.Test)
	}
	return nil
}

// forWorker returns the configuration of worker id.  The rate is shared
// evenly.
func (c *Config) forWorker(id int) Config {
	w := *c
	w.worker = id
	w.Rate = c.Rate / uint64(c.Threads)
	return w
}

// seed returns the generator seed of the worker.  fallback replaces an unset
// seed so that every test has its own default stream.
func (c *Config) seed(fallback uint64) uint64 {
	s := c.Seed
	if s == 0 {
		s = fallback
	}
	return s + uint64(c.worker)
}

// filename returns the path of a workload file.  Workers other than the
// only one get a numeric suffix.
func (c *Config) filename(name string) string {
	if c.Threads > 1 {
		name = fmt.Sprintf("%v.%d", name, c.worker)
	}
	return filepath.Join(c.Path, name)
}

// Stats counts what a run did.
type Stats struct {
	BytesWritten uint64
	Writes       uint64
	Syncs        uint64

	FilesCreated uint64
	FilesDeleted uint64
	DirsCreated  uint64
	DirsRemoved  uint64
	Renames      uint64
}

func (s *Stats) add(o *Stats) {
	s.BytesWritten += o.BytesWritten
	s.Writes += o.Writes
	s.Syncs += o.Syncs
	s.FilesCreated += o.FilesCreated
	s.FilesDeleted += o.FilesDeleted
	s.DirsCreated += o.DirsCreated
	s.DirsRemoved += o.DirsRemoved
	s.Renames += o.Renames
}

// Run executes the workload on cfg.Threads workers.  It stops without error
// when the duration elapses, when every file reached its size or when ctx is
// done.  The returned stats are valid even when an error is returned.
func Run(ctx context.Context, cfg Config) (*Stats, error) {
	log.Tracef("Run %v", cfg.Test)
	defer log.Tracef("Run %v exit", cfg.Test)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.Duration)
	defer cancel()

	stats := make([]Stats, cfg.Threads)
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < cfg.Threads; i++ {
		wc := cfg.forWorker(i)
		s := &stats[i]
		g.Go(func() error {
			return run(gctx, &wc, s)
		})
	}
	err := g.Wait()

	total := &Stats{}
	for i := range stats {
		total.add(&stats[i])
	}
	return total, err
}

func run(ctx context.Context, cfg *Config, s *Stats) error {
	switch cfg.Test {
	case TestSeq:
		return runSeq(ctx, cfg, s)
	case TestRand:
		return runRand(ctx, cfg, s)
	case TestAppend:
		return runAppend(ctx, cfg, s)
	case TestHotCold:
		return runHotCold(ctx, cfg, s)
	case TestStorm:
		return runStorm(ctx, cfg, s)
	}
	return fmt.Errorf("unknown test: %v", cfg.Test)
}
