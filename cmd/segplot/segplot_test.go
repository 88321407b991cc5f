package main

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/businessperformancetuning/segutil/analysis"
	"github.com/businessperformancetuning/segutil/dataset"
)

func TestSeriesFlag(t *testing.T) {
	var s seriesFlag
	if err := s.Set("nilfs=/var/tmp/segment_util.csv"); err != nil {
		t.Fatal(err)
	}
	if err := s.Set("a=b=c"); err != nil {
		t.Fatal(err)
	}
	if len(s) != 2 || s[0].label != "nilfs" ||
		s[0].filename != "/var/tmp/segment_util.csv" ||
		s[1].label != "a" || s[1].filename != "b=c" {
		t.Fatalf("unexpected series %+v", s)
	}
	if s.String() != "nilfs=/var/tmp/segment_util.csv,a=b=c" {
		t.Fatalf("got %q", s.String())
	}

	for _, v := range []string{"", "noequals", "=path", "label="} {
		if err := s.Set(v); err == nil {
			t.Fatalf("%q: expected error", v)
		}
	}
}

func TestSpecsFromArgs(t *testing.T) {
	specs := specsFromArgs([]string{"/data/ssd_run1.csv", "hdd"})
	if specs[0].label != "ssd_run1" || specs[1].label != "hdd" {
		t.Fatalf("unexpected specs %+v", specs)
	}
}

func writeDataset(t *testing.T, dir, name, content string) string {
	t.Helper()
	filename := filepath.Join(dir, name)
	if err := os.WriteFile(filename, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return filename
}

func TestLoadSeries(t *testing.T) {
	dir := t.TempDir()
	good := writeDataset(t, dir, "good.csv",
		"timestamp,segnum,nblocks,nliveblocks,util\n"+
			"2024-01-01T00:00:00.000000,1,100,50,0.500000\n"+
			"2024-01-01T00:00:00.000000,2,100,0,0.000000\n"+
			"2024-01-01T00:00:00.000000,3,100,25,0.250000\n")
	bad := writeDataset(t, dir, "bad.csv",
		"timestamp,segnum,nblocks,nliveblocks\n"+
			"2024-01-01T00:00:00.000000,1,100,50\n")
	zeros := writeDataset(t, dir, "zeros.csv",
		"timestamp,segnum,nblocks,nliveblocks,util\n"+
			"2024-01-01T00:00:00.000000,2,100,0,0.000000\n")
	header := writeDataset(t, dir, "header.csv",
		"timestamp,segnum,nblocks,nliveblocks,util\n")

	series, err := loadSeries([]seriesSpec{{"good", good}}, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(series) != 1 || series[0].Label != "good" ||
		len(series[0].Centers) != 10 {
		t.Fatalf("unexpected series %+v", series)
	}

	_, err = loadSeries([]seriesSpec{{"good", good}, {"bad", bad}}, 10)
	if !errors.Is(err, dataset.ErrMissingColumn) {
		t.Fatalf("got %v, want ErrMissingColumn", err)
	}

	// Datasets without positive utilization are skipped.
	series, err = loadSeries([]seriesSpec{{"zeros", zeros}, {"good", good},
		{"header", header}}, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(series) != 1 || series[0].Label != "good" {
		t.Fatalf("unexpected series %+v", series)
	}

	_, err = loadSeries([]seriesSpec{{"zeros", zeros}, {"header", header}}, 10)
	if !errors.Is(err, analysis.ErrNoValues) {
		t.Fatalf("got %v, want ErrNoValues", err)
	}

	_, err = loadSeries([]seriesSpec{{"missing", filepath.Join(dir, "x")}}, 10)
	if err == nil {
		t.Fatal("expected error")
	}

	if _, err := loadSeries(nil, 10); err == nil {
		t.Fatal("expected error")
	}
}
