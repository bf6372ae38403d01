package tasksys

import (
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sync"
)

// Prober answers "is this external tool available?" questions. Results are
// cached for the lifetime of the process since PATH doesn't change while a
// task runs. Binaries placed in <projectRoot>/.tools (e.g. by fetch-tools)
// are found without any PATH setup.
type Prober struct {
	mu       sync.Mutex
	results  map[string]bool
	toolsDir string
	lookPath func(string) (string, error)
}

// NewProber returns a Prober that consults projectRoot/.tools before PATH.
// An empty projectRoot disables the overlay.
func NewProber(projectRoot string) *Prober {
	toolsDir := ""
	if projectRoot != "" {
		toolsDir = filepath.Join(projectRoot, ".tools")
	}

	return &Prober{
		results:  make(map[string]bool),
		toolsDir: toolsDir,
		lookPath: exec.LookPath,
	}
}

// Has reports whether the named tool can be executed.
func (p *Prober) Has(name string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	found, ok := p.results[name]
	if ok {
		return found
	}

	found = p.probe(name)
	p.results[name] = found
	return found
}

func (p *Prober) probe(name string) bool {
	if p.toolsDir != "" {
		candidate := filepath.Join(p.toolsDir, name)
		if runtime.GOOS == "windows" {
			candidate += ".exe"
		}

		info, err := os.Stat(candidate)
		if err == nil && info.Mode().IsRegular() {
			if runtime.GOOS == "windows" || info.Mode().Perm()&0111 != 0 {
				return true
			}
		}
	}

	_, err := p.lookPath(name)
	return err == nil
}
