package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cochaviz/isoforge/internal/engine"
	"github.com/cochaviz/isoforge/internal/logging"
	"github.com/cochaviz/isoforge/internal/plugins"
	"github.com/cochaviz/isoforge/internal/setup"
)

// exitStatus carries a non-zero build status out of a command.
type exitStatus struct {
	code int
}

func (e *exitStatus) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

// app is the process context handed to every command.
type app struct {
	levelVar *slog.LevelVar
	logger   *slog.Logger
	settings setup.Settings
	registry *plugins.Registry

	configPath string
	logLevel   string
	logFormat  string
}

func main() {
	var levelVar slog.LevelVar
	levelVar.Set(slog.LevelInfo)

	logger := logging.NewCLI(os.Stderr, &levelVar)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := &app{levelVar: &levelVar, logger: logger}
	root := newRootCommand(a)
	err := root.ExecuteContext(ctx)
	interrupted := ctx.Err() != nil
	stop()

	var status *exitStatus
	switch {
	case err == nil:
	case interrupted || errors.Is(err, context.Canceled):
		a.logger.Warn("interrupted", "error", err)
		os.Exit(130)
	case errors.As(err, &status):
		os.Exit(status.code)
	default:
		a.logger.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

func newRootCommand(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "isoforge",
		Short:         "Build Linux disc images from declarative spec files",
		Version:       setup.Version,
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	root.PersistentFlags().StringVar(&a.configPath, "config", "", "Configuration file (default: "+setup.ConfigPaths()[0]+")")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Set log verbosity (debug, info, warning, error)")
	root.PersistentFlags().StringVar(&a.logFormat, "log-format", "", "Set log format (cli, json)")
	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		return a.init(cmd)
	}

	root.AddCommand(
		newBuildCommand(a),
		newCheckCommand(a),
		newExpandCommand(a),
		newStrategiesCommand(a),
		newVerifyCommand(a),
	)
	return root
}

// init loads settings and rebuilds the logger from flags and settings.
func (a *app) init(cmd *cobra.Command) error {
	setup.SetLogger(a.logger.With("component", "setup"))

	settings, err := setup.Load(a.configPath)
	if err != nil {
		return err
	}

	levelValue := settings.LogLevel
	if cmd.Flags().Changed("log-level") {
		levelValue = a.logLevel
	}
	level, err := logging.ParseLevel(levelValue)
	if err != nil {
		return err
	}
	a.levelVar.Set(level)

	formatValue := settings.LogFormat
	if cmd.Flags().Changed("log-format") {
		formatValue = a.logFormat
	}
	mode, err := logging.ParseMode(formatValue)
	if err != nil {
		return err
	}

	a.logger = logging.New(mode, os.Stderr, a.levelVar)
	slog.SetDefault(a.logger)
	setup.SetLogger(a.logger.With("component", "setup"))

	a.settings = settings
	a.registry = plugins.Default()
	if settings.ConfigFile != "" {
		a.logger.Debug("using configuration", "path", settings.ConfigFile)
	}
	return nil
}

func (a *app) engine() *engine.Engine {
	return engine.New(a.settings, a.registry, a.logger)
}
