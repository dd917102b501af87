package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/menta2k/image-annotator/internal/config"
)

func TestRunUnknownCommand(t *testing.T) {
	if err := run(context.Background(), "frobnicate", nil); !errors.Is(err, errUnknownCommand) {
		t.Errorf("expected errUnknownCommand, got %v", err)
	}
}

func TestRunConfig(t *testing.T) {
	out := filepath.Join(t.TempDir(), "annotator.yaml")
	ctx := context.Background()

	if err := run(ctx, "config", []string{"-out", out}); err != nil {
		t.Fatalf("config failed: %v", err)
	}
	cfg, err := config.LoadFromFile(out)
	if err != nil {
		t.Fatalf("written config does not load: %v", err)
	}
	if cfg.Backend.URL != config.Default().Backend.URL {
		t.Errorf("unexpected backend url %q", cfg.Backend.URL)
	}

	if err := run(ctx, "config", []string{"-out", out}); err == nil {
		t.Error("expected error when the file exists")
	}
	if err := run(ctx, "config", []string{"-out", out, "-force"}); err != nil {
		t.Errorf("config -force failed: %v", err)
	}
	if _, err := os.Stat(out); err != nil {
		t.Error(err)
	}
}
