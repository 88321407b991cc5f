package collector

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/businessperformancetuning/segutil/dataset"
	"github.com/businessperformancetuning/segutil/parser"
)

const lssuOutput = `              SEGNUM        DATE     TIME STAT     NBLOCKS       NLIVEBLOCKS
                   1  2024-01-01 00:00:00 ----         100         50 ( 50%)
                   2  2024-01-01 00:00:00 ----           0          0 (  0%)
                   3  2024-01-01 00:00:00 -d--        2048        512 ( 25%)
`

type reply struct {
	stdout string
	stderr string
	err    error
}

// fakeRunner replies to commands by name and records every invocation.
type fakeRunner struct {
	replies map[string]reply
	calls   [][]string
}

func (f *fakeRunner) Run(ctx context.Context, argv []string) ([]byte, []byte, error) {
	f.calls = append(f.calls, argv)
	r := f.replies[argv[0]]
	return []byte(r.stdout), []byte(r.stderr), r.err
}

type round struct {
	ts       time.Time
	segments []parser.Segment
}

type memorySink struct {
	rounds []round
	err    error
}

func (m *memorySink) Append(ts time.Time, segments []parser.Segment) error {
	if m.err != nil {
		return m.err
	}
	m.rounds = append(m.rounds, round{ts: ts, segments: segments})
	return nil
}

func testConfig() Config {
	return Config{
		Device:   "/dev/sda4",
		Interval: 5 * time.Second,
		Cleaner:  []string{"nilfs-clean"},
		Status:   []string{"lssu"},
		Location: time.UTC,
	}
}

func newTestCollector(t *testing.T, runner Runner, sinks ...Sink) *Collector {
	t.Helper()
	c, err := New(testConfig(), runner, sinks...)
	if err != nil {
		t.Fatal(err)
	}
	c.sleep = func(ctx context.Context, d time.Duration) error {
		return ctx.Err()
	}
	return c
}

func TestNew(t *testing.T) {
	sink := &memorySink{}
	type test struct {
		name string
		cfg  func(*Config)
		want error
	}
	tests := []test{
		{
			name: "no device",
			cfg:  func(c *Config) { c.Device = "" },
			want: ErrNoDevice,
		},
		{
			name: "no status",
			cfg:  func(c *Config) { c.Status = nil },
			want: ErrNoStatus,
		},
		{
			name: "zero interval",
			cfg:  func(c *Config) { c.Interval = 0 },
			want: ErrBadInterval,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.cfg(&cfg)
			_, err := New(cfg, &fakeRunner{}, sink)
			if !errors.Is(err, tt.want) {
				t.Fatalf("got %v, want %v", err, tt.want)
			}
		})
	}

	if _, err := New(testConfig(), &fakeRunner{}); !errors.Is(err, ErrNoSink) {
		t.Fatalf("got %v, want %v", err, ErrNoSink)
	}
}

func TestRound(t *testing.T) {
	runner := &fakeRunner{replies: map[string]reply{
		"lssu": {stdout: lssuOutput},
	}}
	sink := &memorySink{}
	c := newTestCollector(t, runner, sink)

	if err := c.Round(context.Background()); err != nil {
		t.Fatal(err)
	}

	if len(runner.calls) != 2 {
		t.Fatalf("got %v calls", len(runner.calls))
	}
	if runner.calls[0][0] != "nilfs-clean" {
		t.Fatalf("cleaner not run first: %v", runner.calls[0])
	}
	if got := strings.Join(runner.calls[1], " "); got != "lssu /dev/sda4 -l" {
		t.Fatalf("unexpected status command %q", got)
	}

	if len(sink.rounds) != 1 {
		t.Fatalf("got %v rounds", len(sink.rounds))
	}
	r := sink.rounds[0]
	if len(r.segments) != 2 {
		t.Fatalf("got %v segments", len(r.segments))
	}
	if r.segments[0].Number != 1 || r.segments[1].Number != 3 {
		t.Fatalf("unexpected order %v %v", r.segments[0].Number,
			r.segments[1].Number)
	}
	if r.ts.Location() != time.UTC {
		t.Fatalf("timestamp not in configured location: %v", r.ts)
	}
}

func TestRoundCommandFailures(t *testing.T) {
	runner := &fakeRunner{replies: map[string]reply{
		"nilfs-clean": {
			stderr: "nilfs-clean: permission denied",
			err:    errors.New("exit status 1"),
		},
		"lssu": {
			stdout: lssuOutput[:strings.Index(lssuOutput, "   2  ")],
			err:    errors.New("exit status 1"),
		},
	}}
	sink := &memorySink{}
	c := newTestCollector(t, runner, sink)

	if err := c.Round(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(runner.calls) != 2 {
		t.Fatalf("status not queried after cleaner failure")
	}
	if len(sink.rounds) != 1 {
		t.Fatalf("got %v rounds", len(sink.rounds))
	}
	// Partial output still yields its complete rows.
	if len(sink.rounds[0].segments) != 1 {
		t.Fatalf("got %v segments", len(sink.rounds[0].segments))
	}
}

func TestRoundNoCleaner(t *testing.T) {
	runner := &fakeRunner{replies: map[string]reply{
		"lssu": {stdout: lssuOutput},
	}}
	cfg := testConfig()
	cfg.Cleaner = nil
	c, err := New(cfg, runner, &memorySink{})
	if err != nil {
		t.Fatal(err)
	}
	c.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	if err := c.Round(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(runner.calls) != 1 || runner.calls[0][0] != "lssu" {
		t.Fatalf("unexpected calls %v", runner.calls)
	}
}

// killRunner cancels the round while the status command runs and returns the
// partial output of the killed command.
type killRunner struct {
	fakeRunner
	cancel context.CancelFunc
}

func (k *killRunner) Run(ctx context.Context, argv []string) ([]byte, []byte, error) {
	stdout, stderr, err := k.fakeRunner.Run(ctx, argv)
	if argv[0] == "lssu" {
		k.cancel()
		err = errors.New("signal: killed")
	}
	return stdout, stderr, err
}

func TestRoundCanceledQuery(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runner := &killRunner{
		fakeRunner: fakeRunner{replies: map[string]reply{
			"lssu": {stdout: lssuOutput[:strings.Index(lssuOutput, "   2  ")]},
		}},
		cancel: cancel,
	}
	sink := &memorySink{}
	c := newTestCollector(t, runner, sink)

	err := c.Round(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want %v", err, context.Canceled)
	}
	if len(sink.rounds) != 0 {
		t.Fatalf("persisted %v rounds", len(sink.rounds))
	}
}

func TestRoundSinkError(t *testing.T) {
	runner := &fakeRunner{replies: map[string]reply{
		"lssu": {stdout: lssuOutput},
	}}
	errDisk := errors.New("disk full")
	c := newTestCollector(t, runner, &memorySink{err: errDisk})

	err := c.Run(context.Background())
	if !errors.Is(err, errDisk) {
		t.Fatalf("got %v, want %v", err, errDisk)
	}
}

// cancelSink cancels after a number of rounds.
type cancelSink struct {
	Sink
	rounds int
	cancel context.CancelFunc
}

func (c *cancelSink) Append(ts time.Time, segments []parser.Segment) error {
	if err := c.Sink.Append(ts, segments); err != nil {
		return err
	}
	c.rounds--
	if c.rounds == 0 {
		c.cancel()
	}
	return nil
}

func TestRunDataset(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "segment_util.csv")
	runner := &fakeRunner{replies: map[string]reply{
		"lssu": {stdout: lssuOutput},
	}}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sink := &cancelSink{
		Sink:   dataset.NewWriter(filename, time.UTC),
		rounds: 2,
		cancel: cancel,
	}
	c := newTestCollector(t, runner, sink)

	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time {
		ts = ts.Add(time.Second)
		return ts
	}

	err := c.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want %v", err, context.Canceled)
	}

	b, err := os.ReadFile(filename)
	if err != nil {
		t.Fatal(err)
	}
	want := "timestamp,segnum,nblocks,nliveblocks,util\n" +
		"2024-01-01T00:00:02.000000Z,1,100,50,0.500000\n" +
		"2024-01-01T00:00:02.000000Z,3,2048,512,0.250000\n" +
		"2024-01-01T00:00:05.000000Z,1,100,50,0.500000\n" +
		"2024-01-01T00:00:05.000000Z,3,2048,512,0.250000\n"
	if string(b) != want {
		t.Fatalf("got\n%v\nwant\n%v", string(b), want)
	}
}

func TestExecRunner(t *testing.T) {
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("no /bin/sh")
	}
	var r ExecRunner
	stdout, stderr, err := r.Run(context.Background(),
		[]string{"/bin/sh", "-c", "echo out; echo err 1>&2; exit 3"})
	if err == nil {
		t.Fatal("expected error")
	}
	if string(stdout) != "out\n" || string(stderr) != "err\n" {
		t.Fatalf("got %q %q", stdout, stderr)
	}
	if _, _, err := r.Run(context.Background(), nil); err == nil {
		t.Fatal("expected error")
	}
}
