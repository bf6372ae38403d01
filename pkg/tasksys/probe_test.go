package tasksys

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"
)

func TestProberCachesLookups(t *testing.T) {
	lookups := 0
	prober := NewProber("")
	prober.lookPath = func(name string) (string, error) {
		lookups++
		return "", exec.ErrNotFound
	}

	for i := 0; i < 3; i++ {
		if prober.Has("taplo") {
			t.Fatal("expected the probe to report absent")
		}
	}

	if lookups != 1 {
		t.Errorf("expected exactly one lookup, got %d", lookups)
	}
}

func TestProberFindsToolsDirBinaries(t *testing.T) {
	root := t.TempDir()
	toolsDir := filepath.Join(root, ".tools")
	if err := os.MkdirAll(toolsDir, 0o755); err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(filepath.Join(toolsDir, "taplo"), []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatal(err)
	}

	prober := NewProber(root)
	prober.lookPath = func(name string) (string, error) {
		t.Errorf("PATH must not be consulted for %s, the .tools copy wins", name)
		return "", exec.ErrNotFound
	}

	if !prober.Has("taplo") {
		t.Error("expected the .tools binary to be found")
	}
}

func TestProberIgnoresNonExecutableFiles(t *testing.T) {
	root := t.TempDir()
	toolsDir := filepath.Join(root, ".tools")
	if err := os.MkdirAll(toolsDir, 0o755); err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(filepath.Join(toolsDir, "notes"), []byte("text"), 0o644); err != nil {
		t.Fatal(err)
	}

	prober := NewProber(root)
	prober.lookPath = func(name string) (string, error) {
		return "", exec.ErrNotFound
	}

	if prober.Has("notes") {
		t.Error("a non-executable file must not satisfy the probe")
	}
}
