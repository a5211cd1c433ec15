package watch

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/foldline/worklog-mcp/internal/autoswitch"
)

type captureSink struct {
	ch chan autoswitch.ContextSignal
}

func (s *captureSink) OnSignal(_ context.Context, sig autoswitch.ContextSignal) {
	select {
	case s.ch <- sig:
	default:
	}
}

func waitSignal(t *testing.T, ch <-chan autoswitch.ContextSignal) autoswitch.ContextSignal {
	t.Helper()
	select {
	case sig := <-ch:
		return sig
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a signal")
		return autoswitch.ContextSignal{}
	}
}

func TestWatcherEmitsCoalescedProjectSignals(t *testing.T) {
	root, err := filepath.EvalSymlinks(t.TempDir())
	if err != nil {
		t.Fatalf("EvalSymlinks: %v", err)
	}
	proj := filepath.Join(root, "proj")
	mustMkdirAll(t, filepath.Join(proj, ".git"))
	mustWriteFile(t, filepath.Join(proj, ".git", "config"), `[remote "origin"]
	url = https://github.com/foldline/demo.git
`)

	sink := &captureSink{ch: make(chan autoswitch.ContextSignal, 16)}
	w, err := New(sink, Config{
		Roots:       []string{root},
		Debounce:    20 * time.Millisecond,
		IgnoreGlobs: []string{"*.log"},
	}, slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Close()

	mustWriteFile(t, filepath.Join(proj, "main.go"), "package main\n")

	sig := waitSignal(t, sink.ch)
	if sig.Path != proj {
		t.Errorf("Expected project path %s, got %s", proj, sig.Path)
	}
	if sig.ProjectName != "proj" {
		t.Errorf("Expected project name proj, got %s", sig.ProjectName)
	}
	if sig.RepositoryID != "https://github.com/foldline/demo.git" {
		t.Errorf("Expected the origin url, got %q", sig.RepositoryID)
	}

	// Ignored writes never surface.
	mustWriteFile(t, filepath.Join(proj, "noise.log"), "x")
	select {
	case sig := <-sink.ch:
		t.Errorf("Expected no signal for an ignored file, got %+v", sig)
	case <-time.After(150 * time.Millisecond):
	}

	// New subdirectories join the watch set.
	pkg := filepath.Join(proj, "pkg")
	mustMkdirAll(t, pkg)
	time.Sleep(100 * time.Millisecond)
	mustWriteFile(t, filepath.Join(pkg, "util.go"), "package pkg\n")

	sig = waitSignal(t, sink.ch)
	if sig.Path != proj {
		t.Errorf("Expected the nested write attributed to %s, got %s", proj, sig.Path)
	}

	if err := w.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("Expected the second Close to be a no-op, got %v", err)
	}
}
