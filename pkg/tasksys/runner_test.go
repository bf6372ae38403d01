package tasksys

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func runTestTask(t *testing.T, source, name string, opts RunOpts) (string, error) {
	t.Helper()

	prober := opts.Prober
	if prober == nil {
		prober = testProber(nil)
	}

	script, dir, err := evalTestScript(t, source, nil, prober)
	if err != nil {
		t.Fatalf("RunScript failed: %v", err)
	}

	opts.ProjectRoot = dir
	opts.Prober = prober
	return dir, RunTask(context.Background(), name, script, opts)
}

func readLines(t *testing.T, path string) []string {
	t.Helper()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read %s: %v", path, err)
	}

	return strings.Split(strings.TrimSpace(string(data)), "\n")
}

func TestRunTaskUnknown(t *testing.T) {
	source := `
def configure():
    task("build", cmds = ["echo built > built.txt"])
`

	dir, err := runTestTask(t, source, "nope", RunOpts{})
	if err == nil {
		t.Fatal("expected an error for an unknown task")
	}
	if !strings.Contains(err.Error(), "unknown task nope") {
		t.Errorf("expected the diagnostic to name the task, got: %v", err)
	}

	_, statErr := os.Stat(filepath.Join(dir, "built.txt"))
	if statErr == nil {
		t.Error("no task should have run")
	}
}

func TestRunTaskWritesOutput(t *testing.T) {
	source := `
def configure():
    task("build", cmds = ["echo built > built.txt"])
`

	dir, err := runTestTask(t, source, "build", RunOpts{})
	if err != nil {
		t.Fatalf("RunTask failed: %v", err)
	}

	lines := readLines(t, filepath.Join(dir, "built.txt"))
	if len(lines) != 1 || lines[0] != "built" {
		t.Errorf("unexpected output: %v", lines)
	}
}

func TestDependencyRunsFirst(t *testing.T) {
	source := `
def configure():
    task("build", cmds = ["echo build >> log.txt"])
    task("upload", deps = ["build"], cmds = ["echo upload >> log.txt"])
`

	dir, err := runTestTask(t, source, "upload", RunOpts{})
	if err != nil {
		t.Fatalf("RunTask failed: %v", err)
	}

	lines := readLines(t, filepath.Join(dir, "log.txt"))
	if len(lines) != 2 || lines[0] != "build" || lines[1] != "upload" {
		t.Errorf("expected build to run before upload, got %v", lines)
	}
}

func TestDependencyFailureAborts(t *testing.T) {
	source := `
def configure():
    task("build", cmds = ["exit 1"])
    task("upload", deps = ["build"], cmds = ["echo upload >> log.txt"])
`

	dir, err := runTestTask(t, source, "upload", RunOpts{})
	if err == nil {
		t.Fatal("expected the dependency failure to propagate")
	}
	if !strings.Contains(err.Error(), "build") {
		t.Errorf("expected the diagnostic to name the failed dependency, got: %v", err)
	}

	_, statErr := os.Stat(filepath.Join(dir, "log.txt"))
	if statErr == nil {
		t.Error("upload must not run after its dependency failed")
	}
}

func TestFailingStepAbortsRemainingSteps(t *testing.T) {
	source := `
def configure():
    task("build", cmds = ["echo one >> log.txt", "exit 1", "echo two >> log.txt"])
`

	dir, err := runTestTask(t, source, "build", RunOpts{})
	if err == nil {
		t.Fatal("expected an error")
	}

	lines := readLines(t, filepath.Join(dir, "log.txt"))
	if len(lines) != 1 || lines[0] != "one" {
		t.Errorf("expected only the first step to have run, got %v", lines)
	}
}

func TestExitStatusPropagates(t *testing.T) {
	source := `
def configure():
    task("build", cmds = ["exit 3"])
`

	_, err := runTestTask(t, source, "build", RunOpts{})
	if err == nil {
		t.Fatal("expected an error")
	}

	if got := ExitCode(err); got != 3 {
		t.Errorf("expected exit code 3, got %d", got)
	}
}

func TestExitCodeDefaults(t *testing.T) {
	if got := ExitCode(nil); got != 0 {
		t.Errorf("expected 0 for nil, got %d", got)
	}

	_, err := runTestTask(t, `
def configure():
    task("build", cmds = ["echo ok"])
`, "nope", RunOpts{})
	if got := ExitCode(err); got != 1 {
		t.Errorf("expected 1 for a dispatcher error, got %d", got)
	}
}

func TestRequiredToolMissing(t *testing.T) {
	source := `
def configure():
    task("schema", requires = ["taplo"], cmds = ["echo schema > schema.txt"])
`

	prober := testProber(map[string]bool{"taplo": false})
	dir, err := runTestTask(t, source, "schema", RunOpts{Prober: prober})
	if err == nil {
		t.Fatal("expected an error for a missing required tool")
	}
	if !strings.Contains(err.Error(), "taplo") {
		t.Errorf("expected the diagnostic to name the tool, got: %v", err)
	}

	_, statErr := os.Stat(filepath.Join(dir, "schema.txt"))
	if statErr == nil {
		t.Error("no step should have run")
	}
}

func TestRequiredToolPresent(t *testing.T) {
	source := `
def configure():
    task("schema", requires = ["taplo"], cmds = ["echo schema > schema.txt"])
`

	prober := testProber(map[string]bool{"taplo": true})
	dir, err := runTestTask(t, source, "schema", RunOpts{Prober: prober})
	if err != nil {
		t.Fatalf("RunTask failed: %v", err)
	}

	if _, statErr := os.Stat(filepath.Join(dir, "schema.txt")); statErr != nil {
		t.Error("expected the task to have run")
	}
}

func TestTaskRunsOnce(t *testing.T) {
	source := `
def configure():
    task("base", cmds = ["echo base >> count.txt"])
    task("left", deps = ["base"], cmds = ["echo left >> count.txt"])
    task("right", deps = ["base"], cmds = ["echo right >> count.txt"])
    task("all", deps = ["left", "right"], cmds = ["echo all >> count.txt"])
`

	dir, err := runTestTask(t, source, "all", RunOpts{})
	if err != nil {
		t.Fatalf("RunTask failed: %v", err)
	}

	lines := readLines(t, filepath.Join(dir, "count.txt"))
	baseRuns := 0
	for _, line := range lines {
		if line == "base" {
			baseRuns++
		}
	}
	if baseRuns != 1 {
		t.Errorf("expected base to run exactly once, ran %d times (%v)", baseRuns, lines)
	}
	if len(lines) != 4 {
		t.Errorf("expected 4 task runs, got %v", lines)
	}
}

func TestDependencyCycle(t *testing.T) {
	source := `
def configure():
    task("a", deps = ["b"], cmds = ["echo a"])
    task("b", deps = ["a"], cmds = ["echo b"])
`

	_, err := runTestTask(t, source, "a", RunOpts{})
	if err == nil {
		t.Fatal("expected a cycle error")
	}
	if !strings.Contains(err.Error(), "cycle") {
		t.Errorf("expected a cycle diagnostic, got: %v", err)
	}
}

func TestUnknownDependency(t *testing.T) {
	source := `
def configure():
    task("a", deps = ["ghost"], cmds = ["echo a"])
`

	_, err := runTestTask(t, source, "a", RunOpts{})
	if err == nil {
		t.Fatal("expected an error for an unknown dependency")
	}
	if !strings.Contains(err.Error(), "ghost") {
		t.Errorf("expected the diagnostic to name the dependency, got: %v", err)
	}
}

func TestSkipIfExists(t *testing.T) {
	source := `
def configure():
    task("build", skip_if_exists = ["done.txt"], cmds = ["exit 1"])
`

	prober := testProber(nil)
	script, dir, err := evalTestScript(t, source, nil, prober)
	if err != nil {
		t.Fatalf("RunScript failed: %v", err)
	}

	if err := os.WriteFile(filepath.Join(dir, "done.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	opts := RunOpts{ProjectRoot: dir, Prober: prober}
	if err := RunTask(context.Background(), "build", script, opts); err != nil {
		t.Errorf("expected the task to be skipped, got: %v", err)
	}

	opts.Force = true
	if err := RunTask(context.Background(), "build", script, opts); err == nil {
		t.Error("expected --force to run the failing task anyway")
	}
}

func TestDryRun(t *testing.T) {
	source := `
def configure():
    task("build", cmds = ["echo built > built.txt"])
`

	dir, err := runTestTask(t, source, "build", RunOpts{DryRun: true})
	if err != nil {
		t.Fatalf("RunTask failed: %v", err)
	}

	_, statErr := os.Stat(filepath.Join(dir, "built.txt"))
	if statErr == nil {
		t.Error("dry run must not execute anything")
	}
}

func TestHiddenTaskRefRuns(t *testing.T) {
	source := `
def configure():
    helper = task(cmds = ["echo helper >> log.txt"])
    task("main", cmds = [helper, "echo main >> log.txt"])
`

	dir, err := runTestTask(t, source, "main", RunOpts{})
	if err != nil {
		t.Fatalf("RunTask failed: %v", err)
	}

	lines := readLines(t, filepath.Join(dir, "log.txt"))
	if len(lines) != 2 || lines[0] != "helper" || lines[1] != "main" {
		t.Errorf("expected the helper to run in place, got %v", lines)
	}
}

func TestTaskEnvIsExported(t *testing.T) {
	source := `
def configure():
    task("build", env = {"MARKER": "hello"}, cmds = ["echo $MARKER > env.txt"])
`

	dir, err := runTestTask(t, source, "build", RunOpts{})
	if err != nil {
		t.Fatalf("RunTask failed: %v", err)
	}

	lines := readLines(t, filepath.Join(dir, "env.txt"))
	if len(lines) != 1 || lines[0] != "hello" {
		t.Errorf("expected the task env to reach the step, got %v", lines)
	}
}

func TestRunOptsEnvIsExported(t *testing.T) {
	source := `
def configure():
    task("test", cmds = ["echo $UV_NO_SYNC > env.txt"])
`

	dir, err := runTestTask(t, source, "test", RunOpts{Env: map[string]string{"UV_NO_SYNC": "1"}})
	if err != nil {
		t.Fatalf("RunTask failed: %v", err)
	}

	lines := readLines(t, filepath.Join(dir, "env.txt"))
	if len(lines) != 1 || lines[0] != "1" {
		t.Errorf("expected the threaded env to reach the step, got %v", lines)
	}
}
