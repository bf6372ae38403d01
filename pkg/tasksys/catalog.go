package tasksys

import (
	"context"
	_ "embed"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
)

//go:embed tasks.star
var defaultTaskfile []byte

// TaskfileName is the name of the per-project taskfile.
const TaskfileName = "tasks.star"

// DefaultScript evaluates the embedded default taskfile as if it lived at
// <projectRoot>/tasks.star.
func DefaultScript(ctx context.Context, projectRoot string, options map[string]string, prober *Prober) (*Script, error) {
	projectRoot, err := filepath.Abs(projectRoot)
	if err != nil {
		return nil, err
	}

	return evalScript(ctx, filepath.Join(projectRoot, TaskfileName), defaultTaskfile, projectRoot, options, prober)
}

// FindTaskfile walks up from dir and returns the first tasks.star it finds.
// An empty result means no taskfile exists and the embedded default applies.
func FindTaskfile(dir string) (string, error) {
	dir, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}

	for {
		candidate := filepath.Join(dir, TaskfileName)
		_, err := os.Stat(candidate)
		if err == nil {
			return candidate, nil
		}
		if !eris.Is(err, os.ErrNotExist) {
			return "", eris.Wrapf(err, "failed to check %s", candidate)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", nil
		}

		dir = parent
	}
}
