package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"serenity/src/hardware/timer"
)

func TestRunWritesTimeline(t *testing.T) {
	out := filepath.Join(t.TempDir(), "schedule.png")
	opts := &options{
		Frames:   512,
		Slice:    timer.DefaultSlice,
		Timeline: out,
	}
	if code := run(opts); code != 0 {
		t.Fatalf("run exited with %d", code)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("timeline not written: %v", err)
	}
	if !bytes.HasPrefix(data, []byte("\x89PNG\r\n\x1a\n")) {
		t.Errorf("timeline is not a png")
	}
}

func TestRunRejectsBadMemorySize(t *testing.T) {
	if code := run(&options{Frames: 100, Slice: timer.DefaultSlice}); code != 1 {
		t.Errorf("expected exit code 1 for 100 frames, got %d", code)
	}
}

func TestRunRejectsMissingAppsDir(t *testing.T) {
	opts := &options{
		AppsDir: filepath.Join(t.TempDir(), "missing"),
		Frames:  512,
		Slice:   timer.DefaultSlice,
	}
	if code := run(opts); code != 1 {
		t.Errorf("expected exit code 1, got %d", code)
	}
}
