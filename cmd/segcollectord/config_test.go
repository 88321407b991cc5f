package main

import (
	"strings"
	"testing"
	"time"

	"github.com/businessperformancetuning/segutil/parser"
)

func TestValidate(t *testing.T) {
	cfg := defaultConfig()
	cfg.Cleaner = `sudo nilfs-clean --speed "32 8"`
	cfg.LSSU = "/usr/bin/lssu"
	cfg.Overflow = "clamp"
	cfg.UTC = true
	if err := cfg.validate(); err != nil {
		t.Fatal(err)
	}

	want := []string{"sudo", "nilfs-clean", "--speed", "32 8"}
	if strings.Join(cfg.cleaner, "|") != strings.Join(want, "|") {
		t.Fatalf("got %q, want %q", cfg.cleaner, want)
	}

	cc := cfg.collectorConfig()
	if cc.Interval != 5*time.Second {
		t.Fatalf("got interval %v", cc.Interval)
	}
	if cc.Settle != 200*time.Millisecond {
		t.Fatalf("got settle %v", cc.Settle)
	}
	if cc.Device != "/dev/sda4" || cc.Status[0] != "/usr/bin/lssu" {
		t.Fatalf("unexpected config %+v", cc)
	}
	if cc.Overflow != parser.OverflowClamp {
		t.Fatalf("got overflow %v", cc.Overflow)
	}
	if cc.Location != time.UTC {
		t.Fatalf("got location %v", cc.Location)
	}
}

func TestValidateNoCleaner(t *testing.T) {
	cfg := defaultConfig()
	cfg.Cleaner = ""
	if err := cfg.validate(); err != nil {
		t.Fatal(err)
	}
	if len(cfg.cleaner) != 0 {
		t.Fatalf("got cleaner %q", cfg.cleaner)
	}
	if cfg.location != time.Local {
		t.Fatalf("got location %v", cfg.location)
	}
}

func TestValidateSSH(t *testing.T) {
	cfg := defaultConfig()
	cfg.SSHHost = "storage1"
	cfg.SSHUser = "admin"
	cfg.SSHKeyFile = "/etc/segcollectord/id_ed25519"
	if err := cfg.validate(); err != nil {
		t.Fatal(err)
	}
	if cfg.SSHHost != "storage1:22" {
		t.Fatalf("got host %v", cfg.SSHHost)
	}

	cfg = defaultConfig()
	cfg.SSHHost = "storage1"
	cfg.SSHUser = ""
	if err := cfg.validate(); err == nil {
		t.Fatal("expected error")
	}
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name string
		cfg  func(*config)
	}{
		{"no device", func(c *config) { c.Device = "" }},
		{"no output", func(c *config) { c.Out = "" }},
		{"zero interval", func(c *config) { c.Interval = 0 }},
		{"negative settle", func(c *config) { c.Settle = -time.Second }},
		{"no status", func(c *config) { c.LSSU = "" }},
		{"unbalanced quote", func(c *config) { c.Cleaner = `nilfs-clean "` }},
		{"bad overflow", func(c *config) { c.Overflow = "wrap" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.cfg(&cfg)
			if err := cfg.validate(); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestParseAndSetDebugLevels(t *testing.T) {
	tests := []struct {
		level string
		ok    bool
	}{
		{"info", true},
		{"COLL=trace,DATA=debug", true},
		{"loud", false},
		{"COLL", false},
		{"NOPE=info", false},
		{"COLL=loud", false},
		{"COLL=info,debug", false},
	}
	for _, tt := range tests {
		err := parseAndSetDebugLevels(tt.level)
		if (err == nil) != tt.ok {
			t.Errorf("%q: got %v", tt.level, err)
		}
	}
	setLogLevels(defaultLogLevel)
}
