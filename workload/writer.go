package workload

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/inhies/go-bytesize"
	"golang.org/x/time/rate"
)

const (
	seedRand    = 0x123456789ABCDEF
	seedHotCold = 0xFEEDBEEFC0FFEE11
	seedStorm   = 0xBADC0FFEE0DDF00D

	hotPercent = 80

	reportInterval = time.Second
)

// xorshift is a xorshift64* generator.  The stream only depends on the seed
// so runs can be repeated.
type xorshift uint64

func newXorshift(seed uint64) *xorshift {
	x := xorshift(seed)
	return &x
}

func (x *xorshift) next() uint64 {
	v := uint64(*x)
	v ^= v >> 12
	v ^= v << 25
	v ^= v >> 27
	*x = xorshift(v)
	return v * 2685821657736338717
}

// pattern returns a block filled with a seed dependent byte ramp.
func pattern(size, seed uint64) []byte {
	buf := make([]byte, size)
	for i := range buf {
		buf[i] = byte(uint64(i) + seed)
	}
	return buf
}

// newLimiter returns a token bucket holding one second worth of bytes.  It
// starts full.
func newLimiter(bps uint64) *rate.Limiter {
	if bps == 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	return rate.NewLimiter(rate.Limit(bps), int(bps))
}

// progress logs throughput once per reportInterval.
type progress struct {
	name  string
	stats *Stats
	start time.Time
	next  time.Time
}

func newProgress(name string, s *Stats) *progress {
	now := time.Now()
	return &progress{
		name:  name,
		stats: s,
		start: now,
		next:  now.Add(reportInterval),
	}
}

func (p *progress) report() {
	now := time.Now()
	if now.Before(p.next) {
		return
	}
	p.next = now.Add(reportInterval)

	elapsed := now.Sub(p.start).Seconds()
	log.Infof("%v: %v written in %.0fs (%v/s)", p.name,
		bytesize.New(float64(p.stats.BytesWritten)), elapsed,
		bytesize.New(float64(p.stats.BytesWritten)/elapsed))
}

// blockWriter writes rate limited pattern blocks to one file and applies the
// fsync policy.
type blockWriter struct {
	cfg      *Config
	f        *os.File
	buf      []byte
	limiter  *rate.Limiter
	stats    *Stats
	progress *progress
}

func newBlockWriter(cfg *Config, f *os.File, s *Stats) *blockWriter {
	return &blockWriter{
		cfg:      cfg,
		f:        f,
		buf:      pattern(cfg.BlockSize, cfg.Seed+uint64(cfg.worker)),
		limiter:  newLimiter(cfg.Rate),
		stats:    s,
		progress: newProgress(f.Name(), s),
	}
}

// write writes one block at off, or at the current position when off is
// negative.  It returns false when the run is over.
func (w *blockWriter) write(ctx context.Context, off int64) (bool, error) {
	// Fails when ctx is done or the wait outlasts the deadline.
	if err := w.limiter.WaitN(ctx, len(w.buf)); err != nil {
		return false, nil
	}

	var err error
	if off < 0 {
		_, err = w.f.Write(w.buf)
	} else {
		_, err = w.f.WriteAt(w.buf, off)
	}
	if err != nil {
		return false, fmt.Errorf("write %v: %w", w.f.Name(), err)
	}
	w.stats.BytesWritten += uint64(len(w.buf))
	w.stats.Writes++

	switch w.cfg.Fsync {
	case FsyncAlways:
		err = w.sync()
	case FsyncPeriodic:
		if w.stats.Writes%w.cfg.FsyncInterval == 0 {
			err = w.sync()
		}
	}
	if err != nil {
		return false, err
	}

	w.progress.report()
	return true, nil
}

func (w *blockWriter) sync() error {
	if err := w.f.Sync(); err != nil {
		return fmt.Errorf("fsync %v: %w", w.f.Name(), err)
	}
	w.stats.Syncs++
	return nil
}

// finish syncs a final time unless fsync is disabled and closes the file.
func (w *blockWriter) finish() error {
	if w.cfg.Fsync != FsyncNone {
		if err := w.sync(); err != nil {
			w.f.Close()
			return err
		}
	}
	return w.f.Close()
}

// fill writes blocks at the offsets returned by next until the run is over.
func (w *blockWriter) fill(ctx context.Context, next func() int64) error {
	for ctx.Err() == nil {
		ok, err := w.write(ctx, next())
		if err != nil {
			w.f.Close()
			return err
		}
		if !ok {
			break
		}
	}
	return w.finish()
}

// runSeq writes a fresh file front to back until it holds cfg.Size bytes.
func runSeq(ctx context.Context, cfg *Config, s *Stats) error {
	f, err := os.OpenFile(cfg.filename("seq_write.bin"),
		os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}

	w := newBlockWriter(cfg, f, s)
	for s.BytesWritten < cfg.Size && ctx.Err() == nil {
		ok, err := w.write(ctx, -1)
		if err != nil {
			f.Close()
			return err
		}
		if !ok {
			break
		}
	}
	return w.finish()
}

// runAppend grows an existing log file until it holds cfg.Size bytes.
func runAppend(ctx context.Context, cfg *Config, s *Stats) error {
	f, err := os.OpenFile(cfg.filename("append_log.bin"),
		os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return err
	}
	initial := uint64(fi.Size())

	w := newBlockWriter(cfg, f, s)
	for initial+s.BytesWritten < cfg.Size && ctx.Err() == nil {
		ok, err := w.write(ctx, -1)
		if err != nil {
			f.Close()
			return err
		}
		if !ok {
			break
		}
	}
	return w.finish()
}

// openSized opens name for overwrites and sizes it to cfg.Size bytes.
func openSized(cfg *Config, name string) (*os.File, error) {
	f, err := os.OpenFile(cfg.filename(name), os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	if err := f.Truncate(int64(cfg.Size)); err != nil {
		f.Close()
		return nil, err
	}
	return f, nil
}

// runRand overwrites uniformly chosen blocks of the first cfg.Window bytes
// until the run is over.
func runRand(ctx context.Context, cfg *Config, s *Stats) error {
	f, err := openSized(cfg, "rand_write.bin")
	if err != nil {
		return err
	}

	slots := min(cfg.Window, cfg.Size) / cfg.BlockSize
	rng := newXorshift(cfg.seed(seedRand))
	return newBlockWriter(cfg, f, s).fill(ctx, func() int64 {
		return int64(rng.next() % slots * cfg.BlockSize)
	})
}

// runHotCold overwrites blocks of a hot window hotPercent of the time and
// blocks of the remaining cold region otherwise.
func runHotCold(ctx context.Context, cfg *Config, s *Stats) error {
	f, err := openSized(cfg, "hot_cold.bin")
	if err != nil {
		return err
	}

	hot, cold := cfg.hotCold()
	hotSlots := hot / cfg.BlockSize
	coldSlots := cold / cfg.BlockSize
	rng := newXorshift(cfg.seed(seedHotCold))
	return newBlockWriter(cfg, f, s).fill(ctx, func() int64 {
		r := rng.next()
		if r%100 < hotPercent {
			return int64((r >> 32) % hotSlots * cfg.BlockSize)
		}
		return int64(hot + (r>>32)%coldSlots*cfg.BlockSize)
	})
}
