// Package engine processes batches of spec files: every file is parsed up
// front, then each is executed in order until one fails.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cochaviz/isoforge/internal/hostexec"
	"github.com/cochaviz/isoforge/internal/logging"
	"github.com/cochaviz/isoforge/internal/plugins"
	"github.com/cochaviz/isoforge/internal/preprocess"
	"github.com/cochaviz/isoforge/internal/runner"
	"github.com/cochaviz/isoforge/internal/setup"
	"github.com/cochaviz/isoforge/internal/spec"
)

// ErrSuperUserRequired is returned when a strategy needs root and the
// process runs without it.
var ErrSuperUserRequired = errors.New("strategy requires super user privileges")

// Job is a parsed spec file ready to run.
type Job struct {
	Path     string
	Metadata spec.Metadata
}

// Engine carries everything a batch needs: settings, strategies, the parser
// and the step runner.
type Engine struct {
	Settings setup.Settings
	Registry *plugins.Registry
	Parser   *spec.Parser
	Runner   *runner.Runner
	Logger   *slog.Logger

	// IsSuperUser reports the effective privilege level; defaults to
	// hostexec.IsSuperUser.
	IsSuperUser func() bool
}

// New wires an Engine from settings and a registry.
func New(settings setup.Settings, registry *plugins.Registry, logger *slog.Logger) *Engine {
	logger = logging.Ensure(logger)
	evaluator := preprocess.ShellEvaluator{Shell: settings.Shell}

	return &Engine{
		Settings: settings,
		Registry: registry,
		Parser: spec.NewParser(registry,
			spec.WithParserLogger(logger.With("component", "parser")),
			spec.WithPreprocessOptions(
				preprocess.WithEvaluator(evaluator),
				preprocess.WithMaxDepth(settings.MaxIncludeDepth),
			),
		),
		Runner:      runner.New(logger.With("component", "runner")),
		Logger:      logger,
		IsSuperUser: hostexec.IsSuperUser,
	}
}

// ParseFiles parses every path. The first error aborts the batch.
func (e *Engine) ParseFiles(ctx context.Context, paths []string) ([]Job, error) {
	if e.Parser == nil {
		return nil, errors.New("engine parser is not configured")
	}

	jobs := make([]Job, 0, len(paths))
	for _, path := range paths {
		metadata, err := e.Parser.Parse(ctx, path)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, Job{Path: path, Metadata: metadata})
	}
	return jobs, nil
}

// ProcessFiles parses paths and runs them in order. It returns the first
// non-zero step status, halting the batch there.
func (e *Engine) ProcessFiles(ctx context.Context, paths []string) (int, error) {
	jobs, err := e.ParseFiles(ctx, paths)
	if err != nil {
		return 1, err
	}

	for i, job := range jobs {
		logger := e.logger().With(logging.SpecKey, job.Path, logging.ProgressKey, fmt.Sprintf("%d/%d", i+1, len(jobs)))

		status, err := e.Execute(ctx, job)
		if err != nil {
			return statusOrOne(status), fmt.Errorf("%s: %w", job.Path, err)
		}
		if status != 0 {
			logger.Error("spec failed, stopping batch", "status", status, "remaining", len(jobs)-i-1)
			return status, nil
		}
		logger.Info("spec completed")
	}
	return 0, nil
}

// Execute runs a single parsed job.
func (e *Engine) Execute(ctx context.Context, job Job) (int, error) {
	strategy := job.Metadata.Strategy()
	if strategy == nil {
		return 1, runner.ErrNoStrategy
	}
	if strategy.RequireSuperUser() && !e.superUser() {
		return 1, fmt.Errorf("%w: %s", ErrSuperUserRequired, strategy.ID())
	}

	logger := e.logger().With(logging.SpecKey, job.Path)
	attrs := strategy.Describe(job.Metadata)
	args := make([]any, 0, len(attrs))
	for _, attr := range attrs {
		args = append(args, attr)
	}
	logger.Info("executing spec", args...)

	r := e.Runner
	if r == nil {
		r = runner.New(e.logger())
	}
	return r.Run(ctx, spec.StepEnv{
		SpecPath: job.Path,
		Metadata: job.Metadata,
		Settings: e.Settings,
	})
}

func (e *Engine) superUser() bool {
	if e.IsSuperUser != nil {
		return e.IsSuperUser()
	}
	return hostexec.IsSuperUser()
}

func (e *Engine) logger() *slog.Logger {
	return logging.Ensure(e.Logger)
}

func statusOrOne(status int) int {
	if status != 0 {
		return status
	}
	return 1
}
