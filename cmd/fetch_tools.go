package cmd

import (
	"archive/tar"
	"archive/zip"
	"compress/bzip2"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"github.com/ulikunitz/xz"
	"gopkg.in/yaml.v3"

	"github.com/yiping-allison/tidygraph-py/pkg"
)

type toolSpec struct {
	Condition string `yaml:"if,omitempty"`
	URL       string `yaml:"url"`
	Sha256    string `yaml:"sha256"`
	// Member is the archive entry that holds the binary; defaults to the
	// tool's name. Ignored for plain binary downloads.
	Member string `yaml:"member,omitempty"`
}

type toolsConfig struct {
	Vars  map[string]string   `yaml:"vars,omitempty"`
	Tools map[string]toolSpec `yaml:"tools"`
}

var fetchToolsCmd = &cobra.Command{
	Use:   "fetch-tools",
	Short: "Downloads the pinned external tools",
	Long: `Downloads the tools listed in tools.yml (uv, ruff, taplo, ...) into the
project's .tools directory. The dispatcher checks that directory before PATH,
so fetched tools work without any shell setup.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := pkg.GetProjectRoot()
		if err != nil {
			return err
		}

		pkg.PrintTask("Loading tools.yml")
		cfg, err := loadToolsConfig(root)
		if err != nil {
			return err
		}

		toolsDir := filepath.Join(root, ".tools")
		err = os.MkdirAll(toolsDir, 0o755)
		if err != nil {
			return eris.Wrapf(err, "Failed to create %s", toolsDir)
		}

		stamps := loadStamps(toolsDir)

		pkg.PrintTask("Downloading tools")
		for name, spec := range cfg.Tools {
			if spec.Condition != "" && spec.Condition != runtime.GOOS {
				continue
			}

			if spec.Sha256 != "" && stamps[name] == spec.Sha256 {
				pkg.PrintSubtask(name + " is up to date")
				continue
			}

			err = fetchTool(toolsDir, name, spec, cfg.Vars)
			if err != nil {
				pkg.PrintError(err.Error())
				return err
			}

			stamps[name] = spec.Sha256
		}

		saveStamps(toolsDir, stamps)
		pkg.PrintTask("Done")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(fetchToolsCmd)
}

func loadToolsConfig(projectRoot string) (toolsConfig, error) {
	var cfg toolsConfig

	cfgPath := filepath.Join(projectRoot, "tools.yml")
	cfgData, err := os.ReadFile(cfgPath)
	if err != nil {
		return cfg, eris.Wrapf(err, "Could not open %s", cfgPath)
	}

	err = yaml.Unmarshal(cfgData, &cfg)
	if err != nil {
		return cfg, eris.Wrapf(err, "Failed to parse %s", cfgPath)
	}

	return cfg, nil
}

func expandURL(url string, vars map[string]string) string {
	url = strings.ReplaceAll(url, "${os}", runtime.GOOS)
	url = strings.ReplaceAll(url, "${arch}", runtime.GOARCH)
	for key, value := range vars {
		url = strings.ReplaceAll(url, "${"+key+"}", value)
	}

	return url
}

func fetchTool(toolsDir, name string, spec toolSpec, vars map[string]string) error {
	url := expandURL(spec.URL, vars)
	pkg.PrintSubtask("Fetching " + name)

	resp, err := http.Get(url)
	if err != nil {
		return eris.Wrapf(err, "Failed to download %s", url)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return eris.Errorf("Download of %s failed with status %d", url, resp.StatusCode)
	}

	tmpFile, err := os.CreateTemp("", "devtool-fetch-*")
	if err != nil {
		return eris.Wrap(err, "Failed to create temporary file")
	}
	defer os.Remove(tmpFile.Name())
	defer tmpFile.Close()

	hasher := sha256.New()
	bar := getProgressBar(resp.ContentLength, name)
	_, err = io.Copy(io.MultiWriter(tmpFile, hasher, bar), resp.Body)
	if err != nil {
		return eris.Wrapf(err, "Failed to download %s", url)
	}

	digest := hex.EncodeToString(hasher.Sum(nil))
	if spec.Sha256 != "" && digest != spec.Sha256 {
		return eris.Errorf("Checksum mismatch for %s: got %s, want %s", name, digest, spec.Sha256)
	}

	_, err = tmpFile.Seek(0, io.SeekStart)
	if err != nil {
		return err
	}

	dest := filepath.Join(toolsDir, name)
	if runtime.GOOS == "windows" {
		dest += ".exe"
	}

	member := spec.Member
	if member == "" {
		member = name
	}

	err = extractBinary(tmpFile, url, member, dest)
	if err != nil {
		return eris.Wrapf(err, "Failed to unpack %s", name)
	}

	return os.Chmod(dest, 0o755)
}

func getProgressBar(length int64, desc string) *progressbar.ProgressBar {
	if os.Getenv("CI") == "true" {
		return progressbar.NewOptions64(length, progressbar.OptionSetVisibility(false))
	}

	return progressbar.DefaultBytes(length, desc)
}

// extractBinary copies the named member out of the downloaded archive (or the
// whole file if the URL doesn't point at an archive) to dest.
func extractBinary(f *os.File, url, member, dest string) error {
	switch {
	case strings.HasSuffix(url, ".zip"):
		return extractZipMember(f, member, dest)
	case strings.HasSuffix(url, ".tar.gz") || strings.HasSuffix(url, ".tgz"):
		reader, err := gzip.NewReader(f)
		if err != nil {
			return err
		}
		return extractTarMember(reader, member, dest)
	case strings.HasSuffix(url, ".tar.xz"):
		reader, err := xz.NewReader(f)
		if err != nil {
			return err
		}
		return extractTarMember(reader, member, dest)
	case strings.HasSuffix(url, ".tar.bz2"):
		return extractTarMember(bzip2.NewReader(f), member, dest)
	case strings.HasSuffix(url, ".gz"):
		// plain gzipped binary, no archive around it
		reader, err := gzip.NewReader(f)
		if err != nil {
			return err
		}
		return writeFileFrom(reader, dest)
	default:
		return writeFileFrom(f, dest)
	}
}

func extractTarMember(r io.Reader, member, dest string) error {
	archive := tar.NewReader(r)
	for {
		header, err := archive.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}

		if header.Typeflag != tar.TypeReg {
			continue
		}

		if filepath.Base(header.Name) == member {
			return writeFileFrom(archive, dest)
		}
	}

	return eris.Errorf("member %s not found in archive", member)
}

func extractZipMember(f *os.File, member, dest string) error {
	info, err := f.Stat()
	if err != nil {
		return err
	}

	archive, err := zip.NewReader(f, info.Size())
	if err != nil {
		return err
	}

	for _, entry := range archive.File {
		if entry.FileInfo().IsDir() || filepath.Base(entry.Name) != member {
			continue
		}

		reader, err := entry.Open()
		if err != nil {
			return err
		}
		defer reader.Close()

		return writeFileFrom(reader, dest)
	}

	return eris.Errorf("member %s not found in archive", member)
}

func writeFileFrom(r io.Reader, dest string) error {
	handle, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer handle.Close()

	_, err = io.Copy(handle, r)
	return err
}

func loadStamps(toolsDir string) map[string]string {
	stamps := map[string]string{}

	data, err := os.ReadFile(filepath.Join(toolsDir, ".stamps.json"))
	if err == nil {
		// a broken stamps file only causes re-downloads
		_ = json.Unmarshal(data, &stamps)
	}

	return stamps
}

func saveStamps(toolsDir string, stamps map[string]string) {
	data, err := json.Marshal(stamps)
	if err == nil {
		err = os.WriteFile(filepath.Join(toolsDir, ".stamps.json"), data, 0o644)
	}
	if err != nil {
		pkg.PrintError(err.Error())
	}
}
