package tasksys

import (
	"context"
	"errors"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"

	"github.com/gammazero/toposort"
	"github.com/rotisserie/eris"
	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/interp"
	"mvdan.cc/sh/v3/syntax"
)

// RunOpts carries the per-invocation state the runner needs. Env holds the
// variables exported to every step (UV_NO_SYNC and friends); it's threaded in
// explicitly instead of being read from the ambient process environment so
// runs stay reproducible.
type RunOpts struct {
	ProjectRoot string
	Env         map[string]string
	Prober      *Prober
	DryRun      bool
	Force       bool
}

func (o RunOpts) prober() *Prober {
	if o.Prober == nil {
		return NewProber(o.ProjectRoot)
	}
	return o.Prober
}

type runState struct {
	done    map[string]bool
	running map[string]bool
}

// RunTask executes the named task after running its declared dependencies.
// Unknown names, dependency cycles and missing required tools all fail before
// any step is executed. A failing step aborts the remaining steps and the
// error carries the delegated command's exit status (see ExitCode).
func RunTask(ctx context.Context, name string, script *Script, opts RunOpts) error {
	task, found := script.Tasks[name]
	if !found {
		return eris.Errorf("unknown task %s", name)
	}

	order, err := executionOrder(task, script.Tasks)
	if err != nil {
		return err
	}

	state := &runState{
		done:    make(map[string]bool),
		running: make(map[string]bool),
	}

	for _, step := range order {
		err = state.run(ctx, script.Tasks[step], script, opts)
		if err != nil {
			if step != name {
				return eris.Wrapf(err, "task %s failed due to its dependency %s", name, step)
			}
			return err
		}
	}

	return nil
}

// executionOrder returns the dependency closure of task in topological order,
// ending with the task itself.
func executionOrder(task *Task, tasks TaskList) ([]string, error) {
	closure := make(map[string]bool)
	pending := []string{task.Short}

	for len(pending) > 0 {
		name := pending[len(pending)-1]
		pending = pending[:len(pending)-1]

		if closure[name] {
			continue
		}
		closure[name] = true

		current, found := tasks[name]
		if !found {
			return nil, eris.Errorf("unknown task %s (listed as a dependency)", name)
		}

		pending = append(pending, current.Deps...)
	}

	edges := make([]toposort.Edge, 0, len(closure))
	for name := range closure {
		edges = append(edges, toposort.Edge{nil, name})
		for _, dep := range tasks[name].Deps {
			edges = append(edges, toposort.Edge{dep, name})
		}
	}

	sorted, err := toposort.Toposort(edges)
	if err != nil {
		return nil, eris.Wrapf(err, "dependency cycle involving task %s", task.Short)
	}

	order := make([]string, 0, len(closure))
	for _, node := range sorted {
		name, ok := node.(string)
		if ok && closure[name] {
			order = append(order, name)
		}
	}

	return order, nil
}

func (s *runState) run(ctx context.Context, task *Task, script *Script, opts RunOpts) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if s.done[task.Short] {
		log(ctx).Debug().Msgf("Task %s already run", task.Short)
		return nil
	}

	if s.running[task.Short] {
		return eris.Errorf("task %s was called recursively", task.Short)
	}

	s.running[task.Short] = true
	defer delete(s.running, task.Short)

	// Inline task refs can pull in tasks the toposorted order doesn't cover,
	// so dependencies are resolved here as well.
	for _, dep := range task.Deps {
		depTask, found := script.Tasks[dep]
		if !found {
			return eris.Errorf("unknown task %s (dependency of %s)", dep, task.Short)
		}

		err := s.run(ctx, depTask, script, opts)
		if err != nil {
			return eris.Wrapf(err, "task %s failed due to its dependency %s", task.Short, dep)
		}
	}

	prober := opts.prober()
	for _, tool := range task.Requires {
		if !prober.Has(tool) {
			return eris.Errorf("task %s needs %s but it couldn't be found (checked PATH and the project's .tools directory)", task.Short, tool)
		}
	}

	if !opts.Force && len(task.SkipIfExists) > 0 {
		skipList, err := resolvePatternList(opts.ProjectRoot, task.Base, task.SkipIfExists)
		if err != nil {
			return eris.Wrap(err, "failed to resolve skip_if_exists list")
		}

		found := 0
		for _, item := range skipList {
			_, err := os.Stat(item)
			if err == nil {
				found++
			} else if !eris.Is(err, os.ErrNotExist) {
				return eris.Wrapf(err, "failed to check %s", item)
			}
		}

		if found > 0 && found == len(skipList) {
			log(ctx).Info().
				Str("task", task.Short).
				Msg("skipped because all skip files exist")

			s.done[task.Short] = true
			return nil
		}
	}

	runner, err := interp.New(
		interp.Dir(task.Base),
		interp.Env(expand.ListEnviron(mergeEnviron(opts.Env, task.Env)...)),
		interp.OpenHandler(openHandler),
		interp.StdIO(nil, os.Stdout, os.Stderr),
		interp.Params("-e"),
	)
	if err != nil {
		return eris.Wrap(err, "failed to initialize runner")
	}

	parser := syntax.NewParser()
	printer := syntax.NewPrinter(
		syntax.Minify(true),
	)
	strBuffer := strings.Builder{}

	for _, item := range task.Cmds {
		stmts, err := item.ToShellStmts(parser)
		if err != nil {
			return eris.Wrap(err, "failed to parse shell script")
		}

		if stmts != nil {
			for _, stm := range stmts {
				strBuffer.Reset()
				printer.Print(&strBuffer, stm)
				log(ctx).Info().
					Str("task", task.Short).
					Bool("command", true).
					Msg(strBuffer.String())

				if !opts.DryRun {
					err = runner.Run(ctx, stm)
					if err != nil {
						return err
					}

					if runner.Exited() {
						return nil
					}
				}
			}
		} else {
			subTask, err := item.ToTask()
			if err != nil {
				return eris.Wrap(err, "failed to retrieve task ref")
			}

			if subTask == nil {
				return eris.Errorf("unexpected task command %+v", item)
			}

			err = s.run(ctx, subTask, script, opts)
			if err != nil {
				return err
			}
		}

		if err = ctx.Err(); err != nil {
			return err
		}
	}

	s.done[task.Short] = true
	return nil
}

func shellReadDir(path string) ([]os.FileInfo, error) {
	if path == "" {
		path = "."
	}

	return ioutil.ReadDir(path)
}

// resolvePatternList expands the given shell glob patterns relative to base.
// Patterns that didn't match anything are dropped.
func resolvePatternList(projectRoot, base string, patterns []string) ([]string, error) {
	result := []string{}
	cfg := expand.Config{
		ReadDir:  shellReadDir,
		GlobStar: true,
	}

	parser := syntax.NewParser()
	for _, item := range patterns {
		item = resolvePath(base, projectRoot, item)
		item = filepath.ToSlash(item)

		words := make([]*syntax.Word, 0)
		parser.Words(strings.NewReader(item), func(w *syntax.Word) bool {
			words = append(words, w)
			return true
		})

		matches, err := expand.Fields(&cfg, words...)
		if err != nil {
			return nil, eris.Wrapf(err, "failed to resolve pattern %s", item)
		}

		for _, match := range matches {
			// unmatched patterns are returned verbatim, skip those
			if !strings.Contains(match, "*") {
				result = append(result, match)
			}
		}
	}
	return result, nil
}

var defaultOpenHandler = interp.DefaultOpenHandler()

func openHandler(ctx context.Context, path string, flag int, perm os.FileMode) (io.ReadWriteCloser, error) {
	if path == "/dev/null" {
		path = os.DevNull
	}

	return defaultOpenHandler(ctx, path, flag, perm)
}

// ExitCode maps an error returned by RunTask to the process exit status:
// delegated commands propagate their own status, anything else is 1.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}

	for e := err; e != nil; e = errors.Unwrap(e) {
		if status, ok := interp.IsExitStatus(e); ok {
			return int(status)
		}
	}

	return 1
}
