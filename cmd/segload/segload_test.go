package main

import (
	"testing"
	"time"

	"github.com/businessperformancetuning/segutil/workload"
)

func TestFlags(t *testing.T) {
	cfg := &config{}
	fs := cfg.FlagSet()
	err := fs.Parse([]string{"-test", "hotspot", "-size", "2G", "-rate",
		"64m", "-duration", "90", "-bs", "8K", "-window", "512M",
		"-fsync", "periodic", "-fsync-interval", "16", "-seed", "7",
		"-path", "/mnt/nilfs"})
	if err != nil {
		t.Fatal(err)
	}

	wc, err := cfg.workloadConfig()
	if err != nil {
		t.Fatal(err)
	}
	want := workload.Config{
		Test:          workload.TestHotCold,
		Path:          "/mnt/nilfs",
		Size:          2 << 30,
		Rate:          64 << 20,
		Duration:      90 * time.Second,
		BlockSize:     8 << 10,
		Threads:       1,
		Window:        512 << 20,
		Fsync:         workload.FsyncPeriodic,
		FsyncInterval: 16,
		Seed:          7,
	}
	if wc != want {
		t.Fatalf("got %+v, want %+v", wc, want)
	}
}

func TestFlagDefaults(t *testing.T) {
	cfg := &config{}
	if err := cfg.FlagSet().Parse(nil); err != nil {
		t.Fatal(err)
	}
	wc, err := cfg.workloadConfig()
	if err != nil {
		t.Fatal(err)
	}
	d := workload.DefaultConfig()
	if wc.Size != d.Size || wc.Rate != d.Rate || wc.Duration != d.Duration ||
		wc.BlockSize != d.BlockSize || wc.Window != d.Window ||
		wc.Fsync != d.Fsync || wc.Test != d.Test {
		t.Fatalf("got %+v, want %+v", wc, d)
	}
}

func TestFlagErrors(t *testing.T) {
	tests := [][]string{
		{"-test", "mixed"},
		{"-fsync", "sometimes"},
		{"-rate", "1K"},
		{"-bs", "0"},
	}
	for _, args := range tests {
		cfg := &config{}
		if err := cfg.FlagSet().Parse(args); err != nil {
			t.Fatal(err)
		}
		if _, err := cfg.workloadConfig(); err == nil {
			t.Fatalf("%v: expected error", args)
		}
	}

	var s sizeFlag
	if err := s.Set("12Q"); err == nil {
		t.Fatal("expected error")
	}
	var d durationFlag
	if err := d.Set("soon"); err == nil {
		t.Fatal("expected error")
	}
}
