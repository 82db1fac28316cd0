package ports

import (
	"context"

	"github.com/tjfontaine/console-bridge/internal/core/domain"
)

// StageAction is the result action from a pipeline stage.
type StageAction string

const (
	// ActionAllow passes the event on unchanged.
	ActionAllow StageAction = "allow"
	// ActionDeny drops the event.
	ActionDeny StageAction = "deny"
	// ActionMutate replaces the event.
	ActionMutate StageAction = "mutate"
)

// StageOutput is a stage's decision about one event.
type StageOutput struct {
	Action     StageAction
	Event      *domain.LogEvent
	DenyReason string
}

// Stage inspects events after normalization and before formatting.
type Stage interface {
	Name() string
	Process(ctx context.Context, ev domain.LogEvent) (*StageOutput, error)
}
