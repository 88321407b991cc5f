// Package dataset reads and writes the segment utilization time series.
//
// A dataset is a CSV file with the header
//
//	timestamp,segnum,nblocks,nliveblocks,util
//
// followed by one row per sampled segment.  Writers only ever append; the
// header is written when, and only when, the file holds no complete line.
package dataset

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/businessperformancetuning/segutil/parser"
)

const (
	ColumnTimestamp   = "timestamp"
	ColumnSegment     = "segnum"
	ColumnBlocks      = "nblocks"
	ColumnLiveBlocks  = "nliveblocks"
	ColumnUtilization = "util"

	// TimestampFormat is the local ISO-8601 layout of the timestamp column.
	TimestampFormat = "2006-01-02T15:04:05.000000"

	// TimestampFormatUTC is used when timestamps are recorded in UTC.
	TimestampFormatUTC = "2006-01-02T15:04:05.000000Z"
)

// Header is the first row of every dataset.
var Header = []string{
	ColumnTimestamp,
	ColumnSegment,
	ColumnBlocks,
	ColumnLiveBlocks,
	ColumnUtilization,
}

// ErrMissingColumn is returned when a dataset lacks a required column.
var ErrMissingColumn = errors.New("missing column")

// FormatTimestamp returns the dataset representation of t.  UTC times use
// the Z suffixed layout so that a run is unambiguous either way.
func FormatTimestamp(t time.Time) string {
	if t.Location() == time.UTC {
		return t.Format(TimestampFormatUTC)
	}
	return t.Format(TimestampFormat)
}

// Record returns the CSV fields for a single segment.
func Record(timestamp string, s parser.Segment) []string {
	return []string{
		timestamp,
		strconv.FormatUint(s.Number, 10),
		strconv.FormatUint(s.Blocks, 10),
		strconv.FormatUint(s.LiveBlocks, 10),
		strconv.FormatFloat(s.Utilization, 'f', 6, 64),
	}
}

// Append opens filename for appending, creating it if needed, and writes one
// row per segment, all stamped with ts.  The header is written only if the
// file holds no complete line at open time.  Append returns after the data
// has been flushed, synced to stable storage and closed; any error means the
// round was not persisted.
func Append(filename string, ts time.Time, segments []parser.Segment) (err error) {
	log.Tracef("Append %v %v", filename, len(segments))
	defer log.Tracef("Append %v exit", filename)

	f, err := os.OpenFile(filename, os.O_APPEND|os.O_CREATE|os.O_RDWR,
		0644)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("close %v: %w", filename, cerr)
		}
	}()

	// The write position at open time decides whether this is a new
	// dataset.
	size, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		return fmt.Errorf("seek %v: %w", filename, err)
	}
	if size > 0 {
		size, err = repairTail(f, size)
		if err != nil {
			return fmt.Errorf("tail %v: %w", filename, err)
		}
	}

	w := csv.NewWriter(f)
	if size == 0 {
		if err := w.Write(Header); err != nil {
			return fmt.Errorf("header %v: %w", filename, err)
		}
	}

	timestamp := FormatTimestamp(ts)
	for _, s := range segments {
		if err := w.Write(Record(timestamp, s)); err != nil {
			return fmt.Errorf("write %v: %w", filename, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush %v: %w", filename, err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync %v: %w", filename, err)
	}
	return nil
}

// repairTail cleans up after a writer that was interrupted mid line and
// returns the resulting size.  A partial final row is terminated so that only
// that row is lost.  A file without any newline only holds part of the header
// and is truncated.
func repairTail(f *os.File, size int64) (int64, error) {
	last := make([]byte, 1)
	if _, err := f.ReadAt(last, size-1); err != nil {
		return 0, err
	}
	if last[0] == '\n' {
		return size, nil
	}

	complete, err := hasNewline(io.NewSectionReader(f, 0, size))
	if err != nil {
		return 0, err
	}
	if !complete {
		log.Warnf("%v: discarding partial header", f.Name())
		if err := f.Truncate(0); err != nil {
			return 0, err
		}
		return 0, nil
	}

	log.Warnf("%v: terminating partial final row", f.Name())
	if _, err := f.Write([]byte{'\n'}); err != nil {
		return 0, err
	}
	return size + 1, nil
}

// hasNewline reports whether r contains a newline.
func hasNewline(r io.Reader) (bool, error) {
	br := bufio.NewReader(r)
	for {
		_, err := br.ReadSlice('\n')
		switch {
		case err == nil:
			return true, nil
		case errors.Is(err, io.EOF):
			return false, nil
		case !errors.Is(err, bufio.ErrBufferFull):
			return false, err
		}
	}
}

// Writer appends rounds to a single dataset file.
type Writer struct {
	filename string
	location *time.Location
}

// NewWriter returns a Writer for filename.  Timestamps are converted to loc
// before they are formatted.
func NewWriter(filename string, loc *time.Location) *Writer {
	if loc == nil {
		loc = time.Local
	}
	return &Writer{filename: filename, location: loc}
}

// Filename returns the dataset path.
func (w *Writer) Filename() string {
	return w.filename
}

// Append writes one round to the dataset.
func (w *Writer) Append(ts time.Time, segments []parser.Segment) error {
	return Append(w.filename, ts.In(w.location), segments)
}
