package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/tjfontaine/console-bridge/internal/core/domain"
	"github.com/tjfontaine/console-bridge/internal/core/ports"
)

// Executor runs events through an ordered list of stages.
type Executor struct {
	stages []ports.Stage
}

// StageConfig places a stage in the executor.
type StageConfig struct {
	Order int
	Stage ports.Stage
}

// NewExecutor creates an executor with stages sorted by Order. Stages with
// equal Order keep their relative position.
func NewExecutor(stages ...StageConfig) *Executor {
	sorted := make([]StageConfig, 0, len(stages))
	for _, s := range stages {
		if s.Stage != nil {
			sorted = append(sorted, s)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Order < sorted[j].Order
	})

	e := &Executor{stages: make([]ports.Stage, len(sorted))}
	for i, s := range sorted {
		e.stages[i] = s.Stage
	}
	return e
}

// Run executes all stages in order and returns the (possibly mutated)
// event, or a *DeniedError if a stage dropped it.
func (e *Executor) Run(ctx context.Context, ev domain.LogEvent) (domain.LogEvent, error) {
	if e == nil {
		return ev, nil
	}
	current := ev
	for _, stage := range e.stages {
		output, err := stage.Process(ctx, current)
		if err != nil {
			return ev, fmt.Errorf("pipeline stage %s error: %w", stage.Name(), err)
		}
		if output == nil {
			continue
		}

		switch output.Action {
		case ports.ActionDeny:
			reason := output.DenyReason
			if reason == "" {
				reason = "denied by pipeline stage " + stage.Name()
			}
			return ev, &DeniedError{
				StageName: stage.Name(),
				Reason:    reason,
			}
		case ports.ActionMutate:
			if output.Event != nil {
				current = *output.Event
			}
		case ports.ActionAllow:
		}
	}
	return current, nil
}

// Len returns the number of stages.
func (e *Executor) Len() int {
	if e == nil {
		return 0
	}
	return len(e.stages)
}

// DeniedError is returned when a stage drops an event.
type DeniedError struct {
	StageName string
	Reason    string
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("pipeline denied by %s: %s", e.StageName, e.Reason)
}

// IsDenied reports whether err is a pipeline denial.
func IsDenied(err error) bool {
	var d *DeniedError
	return errors.As(err, &d)
}
