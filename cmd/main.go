// Package cmd implements the devtool CLI.
package cmd

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/yiping-allison/tidygraph-py/pkg"
	"github.com/yiping-allison/tidygraph-py/pkg/config"
	"github.com/yiping-allison/tidygraph-py/pkg/tasksys"
)

var rootCmd = &cobra.Command{
	Use:   "devtool [task...] [name=value...]",
	Short: "Development task runner for tidygraph-py",
	Long: `This command runs the development tasks (build, fmt, test, schema, upload)
for this project. Tasks come from the first tasks.star file found above the
working directory; without one, the built-in catalog is used. name=value
arguments override taskfile options (e.g. tool=hatch).`,
	Args:          cobra.ArbitraryArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		dryRun, err := cmd.Flags().GetBool("dry")
		if err != nil {
			return err
		}

		force, err := cmd.Flags().GetBool("force")
		if err != nil {
			return err
		}

		taskArgs, cliOptions := splitArgs(args)

		cfg, loader := config.Loader()
		if err := loader.Load(); err != nil {
			return err
		}

		var logger zerolog.Logger
		if cfg.Log.JSON {
			logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
		} else {
			logger = zerolog.New(NewConsoleWriter())
		}
		logger = logger.Level(cfg.LogLevel())

		if err := cfg.Validate(); err != nil {
			logger.Error().Err(err).Msg("Failed to parse config")
			return err
		}

		ctx := tasksys.WithLogger(context.Background(), &logger)

		root, err := pkg.GetProjectRoot()
		if err != nil {
			// running outside a checkout still allows listing the catalog
			root, err = os.Getwd()
			if err != nil {
				return err
			}
			logger.Warn().Msgf("No project root found, using %s", root)
		}

		options := cfg.TaskOptions()
		for name, value := range cliOptions {
			options[name] = value
		}

		prober := tasksys.NewProber(root)

		taskfile := cfg.Taskfile
		if taskfile == "" {
			taskfile, err = tasksys.FindTaskfile(root)
			if err != nil {
				logger.Error().Err(err).Msg("Failed to search for a taskfile")
				return err
			}
		}

		var script *tasksys.Script
		if taskfile == "" {
			script, err = tasksys.DefaultScript(ctx, root, options, prober)
		} else {
			script, err = tasksys.RunScript(ctx, taskfile, root, options, prober)
		}
		if err != nil {
			logger.Error().Err(err).Msg("Failed to load tasks")
			return err
		}

		for name := range cliOptions {
			if _, ok := script.Option(name); !ok {
				err := eris.Errorf("unknown option %s", name)
				logger.Error().Msgf("Unknown option %s, run devtool without arguments to see the declared options", name)
				return err
			}
		}

		if len(taskArgs) == 0 {
			printCatalog(script)
			return nil
		}

		opts := tasksys.RunOpts{
			ProjectRoot: root,
			Env:         cfg.TaskEnv(root),
			Prober:      prober,
			DryRun:      dryRun,
			Force:       force,
		}

		for _, name := range taskArgs {
			err = tasksys.RunTask(ctx, name, script, opts)
			if err != nil {
				logger.Error().Err(err).Msgf("Failed task %s", name)
				return err
			}
		}

		return nil
	},
}

// splitArgs separates task names from name=value option assignments.
func splitArgs(args []string) ([]string, map[string]string) {
	taskArgs := make([]string, 0, len(args))
	options := make(map[string]string)

	for _, part := range args {
		pos := strings.Index(part, "=")
		if pos > -1 {
			options[part[:pos]] = part[pos+1:]
		} else {
			taskArgs = append(taskArgs, part)
		}
	}

	return taskArgs, options
}

// printCatalog lists the visible tasks in declaration order, then the
// declared options.
func printCatalog(script *tasksys.Script) {
	fmt.Println("Available tasks:")

	maxNameLen := 0
	for _, name := range script.Order {
		if len(name) > maxNameLen {
			maxNameLen = len(name)
		}
	}

	lineFmt := fmt.Sprintf(" * %%-%ds %%-8s %%s\n", maxNameLen+1)
	for _, name := range script.Order {
		task := script.Tasks[name]
		group := ""
		if task.Group != "" {
			group = "(" + task.Group + ")"
		}

		fmt.Printf(lineFmt, name+":", group, task.Desc)
	}

	if len(script.Options) == 0 {
		return
	}

	fmt.Println("\nOptions:")
	names := make([]string, 0, len(script.Options))
	for name := range script.Options {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		opt := script.Options[name]
		line := fmt.Sprintf(" * %s=%s", name, opt.Default())
		if len(opt.Choices) > 0 {
			line += fmt.Sprintf(" [%s]", strings.Join(opt.Choices, "|"))
		}
		if opt.Help != "" {
			line += "  " + opt.Help
		}
		fmt.Println(line)
	}
}

func init() {
	rootCmd.Flags().BoolP("dry", "n", false, "dry run; only print the commands, don't execute anything")
	rootCmd.Flags().BoolP("force", "f", false, "always run the named tasks, even when their skip files exist")
}

// Execute runs the CLI and exits with the status of the first failed
// delegated command (or 1 for any other error).
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		pkg.PrintError(err.Error())
		os.Exit(tasksys.ExitCode(err))
	}
}
