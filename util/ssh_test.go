package util

import (
	"context"
	"errors"
	"io"
	"net"
	"path/filepath"
	"testing"

	"github.com/businessperformancetuning/segutil/collector"
	gssh "github.com/gliderlabs/ssh"
	"golang.org/x/crypto/ssh"
)

var _ collector.Runner = (*SSHRunner)(nil)

// testServer starts an ssh server that accepts any client and emulates lssu.
func testServer(t *testing.T) string {
	t.Helper()

	srv := &gssh.Server{
		Handler: func(s gssh.Session) {
			argv := s.Command()
			if len(argv) == 0 {
				s.Exit(127)
				return
			}
			switch argv[0] {
			case "lssu":
				io.WriteString(s, "1 2024-01-01 00:00:00 ---- 100 50 ( 50%)\n")
			case "echo":
				for k, v := range argv[1:] {
					if k > 0 {
						io.WriteString(s, "|")
					}
					io.WriteString(s, v)
				}
			case "nilfs-clean":
				io.WriteString(s.Stderr(), "cannot open device\n")
				s.Exit(1)
			default:
				s.Exit(127)
			}
		},
	}
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	go srv.Serve(l)
	t.Cleanup(func() { srv.Close() })
	return l.Addr().String()
}

func testRunner(t *testing.T) *SSHRunner {
	t.Helper()
	r := NewSSHRunner(testServer(t), &ssh.ClientConfig{
		User:            "test",
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
	})
	t.Cleanup(func() { r.Close() })
	return r
}

func TestSSHRunner(t *testing.T) {
	r := testRunner(t)
	ctx := context.Background()

	stdout, _, err := r.Run(ctx, []string{"lssu", "/dev/sda4", "-l"})
	if err != nil {
		t.Fatal(err)
	}
	if string(stdout) != "1 2024-01-01 00:00:00 ---- 100 50 ( 50%)\n" {
		t.Fatalf("unexpected output %q", stdout)
	}

	// Arguments survive quoting.
	stdout, _, err = r.Run(ctx, []string{"echo", "a b", "it's"})
	if err != nil {
		t.Fatal(err)
	}
	if string(stdout) != "a b|it's" {
		t.Fatalf("unexpected output %q", stdout)
	}
}

func TestSSHRunnerExitStatus(t *testing.T) {
	r := testRunner(t)

	_, stderr, err := r.Run(context.Background(), []string{"nilfs-clean"})
	var exitErr *ssh.ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("got %v, want *ssh.ExitError", err)
	}
	if exitErr.ExitStatus() != 1 {
		t.Fatalf("got exit status %v", exitErr.ExitStatus())
	}
	if string(stderr) != "cannot open device\n" {
		t.Fatalf("unexpected stderr %q", stderr)
	}

	// The connection is reused after a remote failure.
	if _, _, err := r.Run(context.Background(), []string{"lssu"}); err != nil {
		t.Fatal(err)
	}
	if _, _, err := r.Run(context.Background(), nil); err == nil {
		t.Fatal("expected error")
	}
}

func TestSSHRunnerDialError(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := l.Addr().String()
	l.Close()

	r := NewSSHRunner(addr, &ssh.ClientConfig{
		User:            "test",
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
	})
	if _, _, err := r.Run(context.Background(), []string{"lssu"}); err == nil {
		t.Fatal("expected error")
	}
}

func TestShellQuote(t *testing.T) {
	type test struct {
		argv []string
		want string
	}
	tests := []test{
		{argv: []string{"lssu", "/dev/sda4", "-l"}, want: "lssu /dev/sda4 -l"},
		{argv: []string{"echo", "a b"}, want: "echo 'a b'"},
		{argv: []string{"echo", "it's"}, want: `echo 'it'\''s'`},
		{argv: []string{"echo", ""}, want: "echo ''"},
	}
	for _, tt := range tests {
		if got := ShellQuote(tt.argv); got != tt.want {
			t.Fatalf("got %q, want %q", got, tt.want)
		}
	}
}

func TestSSHClientConfig(t *testing.T) {
	dir := t.TempDir()
	if _, err := SSHClientConfig("u", filepath.Join(dir, "missing"),
		filepath.Join(dir, "known_hosts")); err == nil {
		t.Fatal("expected error")
	}
}

func TestFileExists(t *testing.T) {
	dir := t.TempDir()
	if !FileExists(dir) {
		t.Fatal("directory does not exist")
	}
	if FileExists(filepath.Join(dir, "nope")) {
		t.Fatal("file exists")
	}
	t.Setenv("SEGUTIL_TEST_DIR", dir)
	if got := CleanAndExpandPath("$SEGUTIL_TEST_DIR/x/../y", "/home"); got != filepath.Join(dir, "y") {
		t.Fatalf("got %v", got)
	}
	if got := CleanAndExpandPath("~/data", "/home/u"); got != "/home/u/data" {
		t.Fatalf("got %v", got)
	}
}
