package database

import (
	"time"

	"github.com/businessperformancetuning/segutil/parser"
)

type Database interface {
	Create() error // Create database. Database is NOT Opened!
	Open() error   // Open database connection and create+upgrade schema
	Close() error  // Close database

	SegmentsInsert(*Round) error // Insert one sampling round
}

const (
	Name    = "segutil"
	Version = 1
)

var (
	CreateFormat  = "CREATE DATABASE %v;"
	SelectVersion = "SELECT * FROM version LIMIT 1;"
)

// Round is a single sampling round of one device.
type Round struct {
	Device    string
	Timestamp time.Time
	Segments  []parser.Segment
}

// Segment is the database representation of a parser.Segment.
type Segment struct {
	Timestamp   time.Time `db:"timestamp"`
	Device      string    `db:"device"`
	Number      int64     `db:"segnum"`
	Modified    string    `db:"modified"`
	Flags       string    `db:"flags"`
	Blocks      int64     `db:"nblocks"`
	LiveBlocks  int64     `db:"nliveblocks"`
	Utilization float64   `db:"util"`
}

// Rows converts a round into insertable rows.
func (r *Round) Rows() []Segment {
	rows := make([]Segment, 0, len(r.Segments))
	for _, s := range r.Segments {
		rows = append(rows, Segment{
			Timestamp:   r.Timestamp,
			Device:      r.Device,
			Number:      int64(s.Number),
			Modified:    s.Modified,
			Flags:       s.Flags,
			Blocks:      int64(s.Blocks),
			LiveBlocks:  int64(s.LiveBlocks),
			Utilization: s.Utilization,
		})
	}
	return rows
}

// Sink adapts a Database to the collector sink interface.
type Sink struct {
	DB     Database
	Device string
}

// Append inserts one round.
func (s Sink) Append(ts time.Time, segments []parser.Segment) error {
	return s.DB.SegmentsInsert(&Round{
		Device:    s.Device,
		Timestamp: ts,
		Segments:  segments,
	})
}

var (
	InsertSegment = `
INSERT INTO segments (
	timestamp,
	device,
	segnum,
	modified,
	flags,
	nblocks,
	nliveblocks,
	util
) VALUES (
	:timestamp,
	:device,
	:segnum,
	:modified,
	:flags,
	:nblocks,
	:nliveblocks,
	:util
);`

	SchemaV1 = []string{`
CREATE TABLE version (Version int);
`, `
INSERT INTO version (Version) VALUES (1);
`, `
CREATE TABLE segments (
	id		BIGSERIAL PRIMARY KEY,
	timestamp	TIMESTAMPTZ NOT NULL,
	device		TEXT NOT NULL,
	segnum		BIGINT NOT NULL,
	modified	TEXT,
	flags		TEXT,
	nblocks		BIGINT NOT NULL,
	nliveblocks	BIGINT NOT NULL,
	util		DOUBLE PRECISION NOT NULL
);
`, `
CREATE INDEX segments_timestamp ON segments (device, timestamp);
`}
)
