// Package saga runs an ordered list of steps, undoing completed steps in reverse
// order when a later one fails.
package saga

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// Step is one forward action and the action that undoes it.
// Compensate may be nil for steps with nothing to undo.
type Step struct {
	Name       string
	Action     func(ctx context.Context) error
	Compensate func(ctx context.Context) error
}

// StepError reports which step failed.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %q failed: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// Saga executes steps in order.
type Saga struct {
	name   string
	steps  []Step
	logger *zap.Logger
}

// New creates a saga with the given steps.
func New(name string, logger *zap.Logger, steps ...Step) *Saga {
	return &Saga{name: name, steps: steps, logger: logger}
}

// Run executes every step. When step k fails, compensations for steps k-1..1 run in
// reverse order and the original error is returned wrapped in a *StepError.
// Compensations run on a context that ignores cancellation of ctx, so a cancelled
// request still gets cleaned up. Compensation failures are logged and joined to
// the returned error but never replace it.
func (s *Saga) Run(ctx context.Context) error {
	for i, step := range s.steps {
		err := step.Action(ctx)
		if err == nil {
			continue
		}

		s.logger.Warn("Saga step failed, compensating",
			zap.String("saga", s.name),
			zap.String("step", step.Name),
			zap.Error(err),
		)

		stepErr := &StepError{Step: step.Name, Err: err}
		if compErr := s.compensate(context.WithoutCancel(ctx), i); compErr != nil {
			return errors.Join(stepErr, compErr)
		}
		return stepErr
	}
	return nil
}

func (s *Saga) compensate(ctx context.Context, failed int) error {
	var errs []error
	for i := failed - 1; i >= 0; i-- {
		step := s.steps[i]
		if step.Compensate == nil {
			continue
		}

		if err := step.Compensate(ctx); err != nil {
			s.logger.Error("Saga compensation failed",
				zap.String("saga", s.name),
				zap.String("step", step.Name),
				zap.Error(err),
			)
			errs = append(errs, fmt.Errorf("compensate %q: %w", step.Name, err))
		}
	}
	return errors.Join(errs...)
}
