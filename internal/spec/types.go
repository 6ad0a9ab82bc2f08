package spec

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/cochaviz/isoforge/internal/logging"
	"github.com/cochaviz/isoforge/internal/setup"
)

// ExecutionStrategyKey is the one key every spec file must declare.
const ExecutionStrategyKey = "execution_strategy"

// StrategyKey holds the resolved Strategy inside parsed Metadata.
const StrategyKey = "__strategy__"

// A Parameter is one schema entry. Parse returns ok=false when the raw text
// is not a valid value; Verify, when set, rejects parsed values. Rejected
// pairs are dropped without distinguishing the reason.
type Parameter struct {
	Parse  func(raw string) (any, bool)
	Verify func(value any) bool
}

// Schema maps parameter names to their entries.
type Schema map[string]Parameter

// Strategy is a build strategy plugin: the identifier used in
// execution_strategy, its parameter schema and its ordered steps.
type Strategy interface {
	ID() string
	VitalParameters() []string
	Parameters() Schema
	ExecutionSteps() []StepFactory
	// RequireSuperUser reports whether the steps need uid 0.
	RequireSuperUser() bool
	// Describe summarizes the parsed configuration for display.
	Describe(metadata Metadata) []slog.Attr
}

// Step is one stage of a strategy pipeline. Setup, PreRun, Run and PostRun
// return a status code; non-zero stops the pipeline. A returned error is a
// fault. Kill is always called once the step has been created.
type Step interface {
	Setup(ctx context.Context) (int, error)
	PreRun(ctx context.Context) (int, error)
	Run(ctx context.Context) (int, error)
	PostRun(ctx context.Context) (int, error)
	Kill(ctx context.Context, success bool) error
}

// StepFactory creates a fresh Step for every spec run.
type StepFactory struct {
	Name string
	New  func(env StepEnv) Step
}

// StepEnv is everything a step receives at construction.
type StepEnv struct {
	SpecPath string
	Metadata Metadata
	Settings setup.Settings
	Logger   *slog.Logger
}

// SpecName is the base name of the spec file.
func (e StepEnv) SpecName() string {
	return filepath.Base(e.SpecPath)
}

// BaseStep provides no-op hooks; steps embed it and override what they need.
type BaseStep struct {
	Env StepEnv
}

func (s *BaseStep) Setup(context.Context) (int, error)   { return 0, nil }
func (s *BaseStep) PreRun(context.Context) (int, error)  { return 0, nil }
func (s *BaseStep) Run(context.Context) (int, error)     { return 0, nil }
func (s *BaseStep) PostRun(context.Context) (int, error) { return 0, nil }
func (s *BaseStep) Kill(context.Context, bool) error     { return nil }

// Logger returns the step logger or the process default.
func (s *BaseStep) Logger() *slog.Logger {
	return logging.Ensure(s.Env.Logger)
}
