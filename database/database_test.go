package database

import (
	"testing"
	"time"

	"github.com/businessperformancetuning/segutil/parser"
)

type memoryDB struct {
	rounds []*Round
}

func (m *memoryDB) Create() error { return nil }
func (m *memoryDB) Open() error   { return nil }
func (m *memoryDB) Close() error  { return nil }

func (m *memoryDB) SegmentsInsert(r *Round) error {
	m.rounds = append(m.rounds, r)
	return nil
}

func TestSink(t *testing.T) {
	db := &memoryDB{}
	sink := Sink{DB: db, Device: "/dev/sdb1"}
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	segments := []parser.Segment{
		{Number: 4, Modified: "2024-01-01 00:00:00", Flags: "-d--",
			Blocks: 2048, LiveBlocks: 1024, Utilization: 0.5},
	}
	if err := sink.Append(ts, segments); err != nil {
		t.Fatal(err)
	}
	if len(db.rounds) != 1 {
		t.Fatalf("got %v rounds", len(db.rounds))
	}

	rows := db.rounds[0].Rows()
	if len(rows) != 1 {
		t.Fatalf("got %v rows", len(rows))
	}
	want := Segment{
		Timestamp:   ts,
		Device:      "/dev/sdb1",
		Number:      4,
		Modified:    "2024-01-01 00:00:00",
		Flags:       "-d--",
		Blocks:      2048,
		LiveBlocks:  1024,
		Utilization: 0.5,
	}
	if rows[0] != want {
		t.Fatalf("got %+v, want %+v", rows[0], want)
	}
}
