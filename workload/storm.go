package workload

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
)

const (
	stormDirs     = 8
	stormOps      = 6
	stormMaxBlock = 4096
)

// storm churns directory metadata.  Every step creates, unlinks or renames a
// small file, or creates or removes a subdirectory, in one of stormDirs
// directories.
type storm struct {
	cfg   *Config
	dirs  []string
	buf   []byte
	stats *Stats
}

// create writes the block to a new file.  A full filesystem is not an error.
func (st *storm) create(name string) (bool, error) {
	f, err := os.OpenFile(name, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		if errors.Is(err, syscall.ENOSPC) {
			return false, nil
		}
		return false, err
	}
	n, err := f.Write(st.buf)
	st.stats.BytesWritten += uint64(n)
	if err == nil && st.cfg.Fsync == FsyncAlways {
		if err = f.Sync(); err == nil {
			st.stats.Syncs++
		}
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		if errors.Is(err, syscall.ENOSPC) {
			return false, nil
		}
		return false, fmt.Errorf("write %v: %w", name, err)
	}
	st.stats.Writes++
	return true, nil
}

func (st *storm) step(r uint64) error {
	dir := st.dirs[r%stormDirs]
	id := uint32(r >> 16)
	name := func(prefix string) string {
		return filepath.Join(dir, fmt.Sprintf("%v_%08x", prefix, id))
	}

	switch (r >> 8) % stormOps {
	case 0, 1:
		ok, err := st.create(name("f"))
		if err != nil {
			return err
		}
		if ok {
			st.stats.FilesCreated++
		}
	case 2:
		if os.Remove(name("f")) == nil {
			st.stats.FilesDeleted++
		}
	case 3:
		if os.Mkdir(name("sub"), 0755) == nil {
			st.stats.DirsCreated++
		}
	case 4:
		if os.Remove(name("sub")) == nil {
			st.stats.DirsRemoved++
		}
	case 5:
		tmp := name("t")
		ok, err := st.create(tmp)
		if err != nil {
			return err
		}
		if !ok {
			os.Remove(tmp)
			break
		}
		if os.Rename(tmp, name("g")) != nil {
			os.Remove(tmp)
			break
		}
		st.stats.Renames++
	}
	return nil
}

// runStorm runs metadata operations as fast as possible until the run is
// over.  The rate limit does not apply.
func runStorm(ctx context.Context, cfg *Config, s *Stats) error {
	base := cfg.filename("metadata_storm")
	st := &storm{
		cfg:   cfg,
		dirs:  make([]string, stormDirs),
		buf:   pattern(min(cfg.BlockSize, stormMaxBlock), cfg.Seed+uint64(cfg.worker)),
		stats: s,
	}
	for i := range st.dirs {
		st.dirs[i] = filepath.Join(base, fmt.Sprintf("d%02d", i))
		if err := os.MkdirAll(st.dirs[i], 0755); err != nil {
			return err
		}
	}

	rng := newXorshift(cfg.seed(seedStorm))
	p := newProgress(base, s)
	for ctx.Err() == nil {
		if err := st.step(rng.next()); err != nil {
			return err
		}
		p.report()
	}
	log.Debugf("%v: %v files created, %v deleted, %v dirs created, %v "+
		"removed, %v renames", base, s.FilesCreated, s.FilesDeleted,
		s.DirsCreated, s.DirsRemoved, s.Renames)
	return nil
}
