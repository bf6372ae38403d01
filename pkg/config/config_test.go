package config

import (
	"os"
	"testing"
)

// Flag parsing belongs to the CLI layer; Load must not touch os.Args.
func TestLoadIgnoresCommandLineFlags(t *testing.T) {
	oldArgs := os.Args
	os.Args = append([]string{oldArgs[0]}, "--dry", "build", "tool=hatch")
	defer func() { os.Args = oldArgs }()

	_, loader := Loader()
	if err := loader.Load(); err != nil {
		t.Fatalf("Load must ignore unrelated command line flags: %v", err)
	}
}

func TestDefaults(t *testing.T) {
	cfg, loader := Loader()
	if err := loader.Load(); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Tool != "" {
		t.Errorf("expected no tool override by default, got %q", cfg.Tool)
	}
	if !cfg.NoSync {
		t.Error("expected NoSync to default to true")
	}
	if cfg.PythonDownloads != "never" {
		t.Errorf("expected PythonDownloads to default to never, got %q", cfg.PythonDownloads)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("expected log level info, got %q", cfg.Log.Level)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("the defaults must validate: %v", err)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("DEVTOOL_TOOL", "hatch")
	t.Setenv("DEVTOOL_PYTHON", "3.12")

	cfg, loader := Loader()
	if err := loader.Load(); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Tool != "hatch" {
		t.Errorf("expected the env override to win, got %q", cfg.Tool)
	}
	if cfg.Python != "3.12" {
		t.Errorf("expected python 3.12, got %q", cfg.Python)
	}

	options := cfg.TaskOptions()
	if options["tool"] != "hatch" {
		t.Errorf("expected the tool override to reach the taskfile options, got %v", options)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "valid uv", mutate: func(c *Config) { c.Tool = "uv" }},
		{name: "valid hatch", mutate: func(c *Config) { c.Tool = "hatch" }},
		{name: "invalid tool", mutate: func(c *Config) { c.Tool = "poetry" }, wantErr: true},
		{name: "invalid log level", mutate: func(c *Config) { c.Log.Level = "shout" }, wantErr: true},
		{name: "invalid download mode", mutate: func(c *Config) { c.PythonDownloads = "sometimes" }, wantErr: true},
		{name: "valid download mode", mutate: func(c *Config) { c.PythonDownloads = "manual" }},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg, loader := Loader()
			if err := loader.Load(); err != nil {
				t.Fatalf("Load failed: %v", err)
			}

			tc.mutate(cfg)
			err := cfg.Validate()
			if tc.wantErr && err == nil {
				t.Error("expected a validation error")
			}
			if !tc.wantErr && err != nil {
				t.Errorf("unexpected validation error: %v", err)
			}
		})
	}
}

func TestTaskEnv(t *testing.T) {
	cfg, loader := Loader()
	if err := loader.Load(); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	cfg.Python = "3.11"
	env := cfg.TaskEnv("/work/tidygraph-py")

	if env["UV_NO_SYNC"] != "1" {
		t.Errorf("expected UV_NO_SYNC=1, got %v", env)
	}
	if env["UV_PYTHON"] != "3.11" {
		t.Errorf("expected UV_PYTHON=3.11, got %v", env)
	}
	if env["UV_PYTHON_DOWNLOADS"] != "never" {
		t.Errorf("expected UV_PYTHON_DOWNLOADS=never, got %v", env)
	}
	if env["REPO_ROOT"] != "/work/tidygraph-py" {
		t.Errorf("expected REPO_ROOT to point at the project, got %v", env)
	}

	cfg.NoSync = false
	env = cfg.TaskEnv("/work/tidygraph-py")
	if _, present := env["UV_NO_SYNC"]; present {
		t.Error("UV_NO_SYNC must not be exported when NoSync is off")
	}
}
