package executor

import (
	"bytes"
	"context"
	"runtime"
	"strings"
	"testing"
	"time"
)

func TestRunCapturesOutputAndExitCode(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("test shells out to sh")
	}

	r := NewToolRunner()
	res, err := r.Run(context.Background(), "sh", "-c", "echo out; echo err >&2; exit 3")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.ExitCode != 3 {
		t.Fatalf("expected exit code 3, got %d", res.ExitCode)
	}
	if !strings.Contains(res.Stdout, "out") {
		t.Fatalf("expected stdout capture, got %q", res.Stdout)
	}
	if !strings.Contains(res.Stderr, "err") {
		t.Fatalf("expected stderr capture, got %q", res.Stderr)
	}
	if res.Duration <= 0 {
		t.Fatal("expected a measured duration")
	}
}

func TestRunReportsSpawnFailure(t *testing.T) {
	r := NewToolRunner()
	res, err := r.Run(context.Background(), "definitely-not-a-real-tool-7f3a")
	if err == nil {
		t.Fatal("expected spawn failure")
	}
	if res.ExitCode != -1 {
		t.Fatalf("expected exit code -1, got %d", res.ExitCode)
	}
}

func TestRunHonorsContextCancellation(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("test shells out to sh")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	r := NewToolRunner()
	_, err := r.Run(ctx, "sh", "-c", "sleep 30")
	if err == nil {
		t.Fatal("expected cancellation error")
	}
	if !strings.Contains(err.Error(), "interrupted") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestResultErrIncludesStderrTail(t *testing.T) {
	res := Result{ExitCode: 1, Stderr: "main executable failed strict validation\n"}
	err := res.Err("codesign")
	if err == nil {
		t.Fatal("expected error for non-zero exit")
	}
	if !strings.Contains(err.Error(), "codesign exited with status 1") {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(err.Error(), "strict validation") {
		t.Fatalf("expected stderr detail, got: %v", err)
	}

	if err := (Result{ExitCode: 0}).Err("codesign"); err != nil {
		t.Fatalf("expected nil error for success, got %v", err)
	}
}

func TestCapWriterCapsCapture(t *testing.T) {
	var buf bytes.Buffer
	w := &capWriter{dst: &buf, limit: 8}

	n, err := w.Write([]byte("0123456789"))
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if n != 10 {
		t.Fatalf("expected full length reported, got %d", n)
	}
	if buf.String() != "01234567" {
		t.Fatalf("expected capped capture, got %q", buf.String())
	}

	if _, err := w.Write([]byte("more")); err != nil {
		t.Fatalf("write past cap: %v", err)
	}
	if buf.String() != "01234567" {
		t.Fatalf("expected no growth past cap, got %q", buf.String())
	}
}
