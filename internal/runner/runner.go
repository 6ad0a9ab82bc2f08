// Package runner drives the steps of a parsed spec through their lifecycle.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cochaviz/isoforge/internal/logging"
	"github.com/cochaviz/isoforge/internal/spec"
)

// Phase names a lifecycle hook.
type Phase string

const (
	PhaseSetup   Phase = "setup"
	PhasePreRun  Phase = "pre_run"
	PhaseRun     Phase = "run"
	PhasePostRun Phase = "post_run"
	PhaseKill    Phase = "kill"
)

// DefaultKillTimeout bounds teardown once the run context has been cancelled.
const DefaultKillTimeout = 2 * time.Minute

// ErrNoStrategy is returned for metadata without a resolved strategy.
var ErrNoStrategy = errors.New("metadata carries no execution strategy")

// StepError is a fault raised by a step hook. Teardown has already run when
// the caller receives it.
type StepError struct {
	Step  string
	Phase Phase
	Err   error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %s: %s: %v", e.Step, e.Phase, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// Runner executes strategy steps strictly in order.
type Runner struct {
	Logger      *slog.Logger
	KillTimeout time.Duration
}

// New constructs a Runner.
func New(logger *slog.Logger) *Runner {
	return &Runner{Logger: logger, KillTimeout: DefaultKillTimeout}
}

// Run executes every step of the strategy attached to env.Metadata. It
// returns the first non-zero status, or 0. A fault from any hook is returned
// as a *StepError after the step's Kill(false) has completed. Cancelling ctx
// stops the run before the next hook; the in-flight step is still killed.
func (r *Runner) Run(ctx context.Context, env spec.StepEnv) (int, error) {
	strategy := env.Metadata.Strategy()
	if strategy == nil {
		return 0, ErrNoStrategy
	}

	logger := r.logger().With(logging.SpecKey, env.SpecName(), "strategy", strategy.ID())
	env.Logger = logger

	factories := strategy.ExecutionSteps()
	for i, factory := range factories {
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		stepLogger := logger.With("step", factory.Name, logging.ProgressKey, fmt.Sprintf("%d/%d", i+1, len(factories)))
		stepEnv := env
		stepEnv.Logger = stepLogger

		stepLogger.Info("starting step")
		started := time.Now()
		status, err := r.runStep(ctx, factory, stepEnv)
		if err != nil {
			stepLogger.Error("step faulted", "error", err)
			return status, err
		}
		if status != 0 {
			stepLogger.Error("step failed", "status", status)
			return status, nil
		}
		stepLogger.Info("step finished", "duration", time.Since(started).Round(time.Millisecond))
	}
	return 0, nil
}

func (r *Runner) runStep(ctx context.Context, factory spec.StepFactory, env spec.StepEnv) (status int, err error) {
	if factory.New == nil {
		return 0, &StepError{Step: factory.Name, Phase: PhaseSetup, Err: errors.New("step has no constructor")}
	}
	step := factory.New(env)
	if step == nil {
		return 0, &StepError{Step: factory.Name, Phase: PhaseSetup, Err: errors.New("constructor returned nil")}
	}

	phase := PhaseSetup
	completed := false
	defer func() {
		recovered := recover()
		if recovered != nil {
			err = &StepError{Step: factory.Name, Phase: phase, Err: fmt.Errorf("panic: %v", recovered)}
		}

		success := completed && status == 0 && err == nil
		if killErr := r.kill(ctx, env.Logger, step, success); killErr != nil {
			killErr = &StepError{Step: factory.Name, Phase: PhaseKill, Err: killErr}
			if err == nil {
				err = killErr
			} else {
				err = errors.Join(err, killErr)
			}
		}
	}()

	hooks := []struct {
		phase Phase
		fn    func(context.Context) (int, error)
	}{
		{PhaseSetup, step.Setup},
		{PhasePreRun, step.PreRun},
		{PhaseRun, step.Run},
		{PhasePostRun, step.PostRun},
	}
	for _, hook := range hooks {
		phase = hook.phase
		if ctxErr := ctx.Err(); ctxErr != nil {
			return 0, ctxErr
		}
		env.Logger.Debug("running hook", "phase", string(phase))
		status, err = hook.fn(ctx)
		if err != nil {
			return status, &StepError{Step: factory.Name, Phase: phase, Err: err}
		}
		if status != 0 {
			return status, nil
		}
	}
	completed = true
	return 0, nil
}

func (r *Runner) kill(ctx context.Context, logger *slog.Logger, step spec.Step, success bool) error {
	timeout := r.KillTimeout
	if timeout <= 0 {
		timeout = DefaultKillTimeout
	}
	killCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	logger.Debug("running hook", "phase", string(PhaseKill), "success", success)
	return step.Kill(killCtx, success)
}

func (r *Runner) logger() *slog.Logger {
	return logging.Ensure(r.Logger)
}
