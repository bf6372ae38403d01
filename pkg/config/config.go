// Package config holds every knob the dispatcher reads from the environment
// or from devtool.toml. The values that delegated commands care about are
// exported to them through Config.TaskEnv instead of being mutated into the
// dispatcher's own environment.
package config

import (
	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigtoml"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
)

// Config describes all configuration options
type Config struct {
	Tool            string `usage:"Override the taskfile's tool option (uv or hatch)"`
	Python          string `usage:"Interpreter version exported as UV_PYTHON"`
	NoSync          bool   `default:"true" env:"NO_SYNC" usage:"Export UV_NO_SYNC=1 so delegated commands don't resync the venv"`
	PythonDownloads string `default:"never" env:"PYTHON_DOWNLOADS" usage:"Value exported as UV_PYTHON_DOWNLOADS"`
	Taskfile        string `usage:"Explicit taskfile path (default: search for tasks.star upwards from the working directory)"`
	Log             struct {
		Level string `default:"info"`
		JSON  bool   `default:"false" usage:"Output JSON lines instead of pretty console messages"`
	}
}

var logLevels = map[string]zerolog.Level{
	"debug":   zerolog.DebugLevel,
	"info":    zerolog.InfoLevel,
	"warn":    zerolog.WarnLevel,
	"warning": zerolog.WarnLevel,
	"error":   zerolog.ErrorLevel,
	"fatal":   zerolog.FatalLevel,
}

var pythonDownloadModes = []string{"automatic", "manual", "never"}

// Loader initializes an empty config object and returns a new Loader for this object
func Loader() (*Config, *aconfig.Loader) {
	cfg := Config{}
	return &cfg, aconfig.LoaderFor(&cfg, aconfig.Config{
		// flags are cobra's job, aconfig must not touch os.Args
		SkipFlags: true,
		EnvPrefix: "DEVTOOL",
		Files:     []string{"devtool.toml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".toml": aconfigtoml.New(),
		},
	})
}

// Validate verifies that all config fields have valid values
func (cfg *Config) Validate() error {
	switch cfg.Tool {
	case "", "uv", "hatch":
		// valid
	default:
		return eris.Errorf(`Invalid value for tool: %s (must be uv or hatch)`, cfg.Tool)
	}

	_, ok := logLevels[cfg.Log.Level]
	if !ok {
		return eris.Errorf(`Invalid value for log.level: %s`, cfg.Log.Level)
	}

	valid := false
	for _, mode := range pythonDownloadModes {
		if cfg.PythonDownloads == mode {
			valid = true
			break
		}
	}
	if !valid {
		return eris.Errorf(`Invalid value for pythondownloads: %s (must be one of automatic, manual or never)`, cfg.PythonDownloads)
	}

	return nil
}

// LogLevel converts the .Log.Level field to a zerolog.Level
func (cfg *Config) LogLevel() zerolog.Level {
	return logLevels[cfg.Log.Level]
}

// TaskEnv returns the variables every task step runs with. REPO_ROOT points
// delegated editable installs back at the project.
func (cfg *Config) TaskEnv(projectRoot string) map[string]string {
	env := map[string]string{
		"REPO_ROOT":           projectRoot,
		"UV_PYTHON_DOWNLOADS": cfg.PythonDownloads,
	}

	if cfg.NoSync {
		env["UV_NO_SYNC"] = "1"
	}

	if cfg.Python != "" {
		env["UV_PYTHON"] = cfg.Python
	}

	return env
}

// TaskOptions returns the option overrides implied by the config, for merging
// below explicit name=value arguments.
func (cfg *Config) TaskOptions() map[string]string {
	options := make(map[string]string)
	if cfg.Tool != "" {
		options["tool"] = cfg.Tool
	}

	return options
}
