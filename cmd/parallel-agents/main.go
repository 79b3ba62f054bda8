// Command parallel-agents decomposes a task into microtasks, runs them on
// pools of agents in parallel and prints the merged result.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/aristath/parallel-agents/internal/config"
	"github.com/aristath/parallel-agents/internal/logging"
)

const (
	Version = "0.1.0"
	appName = "parallel-agents"
)

// errTaskFailed marks a run whose merged result is a failure. The result has
// already been printed, so main only sets the exit code.
var errTaskFailed = errors.New("task failed")

func main() {
	if err := rootCmd().Execute(); err != nil {
		if !errors.Is(err, errTaskFailed) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	logLevel   string
}

func rootCmd() *cobra.Command {
	g := &globalFlags{}

	cmd := &cobra.Command{
		Use:   appName,
		Short: "Parallel task decomposition, dispatch and merge",
		Long: `parallel-agents splits a task into microtasks, dispatches them to pools of
agents under a dependency graph, retries failures and merges the results
into one answer with a confidence score.

Pools without a command run the built-in simulated agent; pools with a
command spawn it once per microtask and exchange JSON over stdin/stdout.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.CompletionOptions.DisableDefaultCmd = true

	cmd.PersistentFlags().StringVarP(&g.configPath, "config", "c", "", "config file (JSON or YAML); default: global then project config")
	cmd.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "log level override (debug, info, warn, error)")

	cmd.AddCommand(runCmd(g), historyCmd(g), configCmd(g))
	return cmd
}

// loadConfig reads the --config file, or the conventional global and project files.
func (g *globalFlags) loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if g.configPath != "" {
		cfg, err = config.Load("", g.configPath)
	} else {
		cfg, err = config.LoadDefault()
	}
	if err != nil {
		return nil, err
	}
	if g.logLevel != "" {
		cfg.Logger.Level = g.logLevel
	}
	return cfg, nil
}

func (g *globalFlags) logger(cfg *config.Config) (*zap.Logger, error) {
	logger, _, err := logging.Build(cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}
	return logger, nil
}
