package pkg

import (
	"os"
	"path/filepath"

	"github.com/mitchellh/colorstring"
	"github.com/rotisserie/eris"
)

// rootMarkers identify the project root, most specific first.
var rootMarkers = []string{"tasks.star", "pyproject.toml", ".git"}

// GetProjectRoot walks up from the working directory until it finds a
// directory containing one of the root markers.
func GetProjectRoot() (string, error) {
	current, err := os.Getwd()
	if err != nil {
		return "", eris.Wrap(err, "Failed to retrieve the current working directory")
	}

	for {
		for _, marker := range rootMarkers {
			_, err := os.Stat(filepath.Join(current, marker))
			if err == nil {
				return current, nil
			}

			if !eris.Is(err, os.ErrNotExist) {
				return "", eris.Wrap(err, "Error occurred while searching for project root")
			}
		}

		nextPath := filepath.Dir(current)
		if current == nextPath {
			break
		}
		current = nextPath
	}

	return "", eris.New("Project root not found")
}

func PrintTask(msg string) {
	colorstring.Printf("[blue][bold]==>[default] %s\n", msg)
}

func PrintSubtask(msg string) {
	colorstring.Printf("[green][bold]  ->[reset] %s\n", msg)
}

func PrintError(msg string) {
	colorstring.Printf("[red][bold]  ->[reset] %s\n", msg)
}
