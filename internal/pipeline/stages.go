package pipeline

import (
	"context"
	"slices"

	"github.com/tjfontaine/console-bridge/internal/core/domain"
	"github.com/tjfontaine/console-bridge/internal/core/ports"
)

// StageFunc adapts a function to ports.Stage.
type StageFunc struct {
	StageName string
	Fn        func(ctx context.Context, ev domain.LogEvent) (*ports.StageOutput, error)
}

func (s StageFunc) Name() string { return s.StageName }

func (s StageFunc) Process(ctx context.Context, ev domain.LogEvent) (*ports.StageOutput, error) {
	return s.Fn(ctx, ev)
}

// LevelStage denies events whose method is not in the allowed set. An
// empty set allows everything.
type LevelStage struct {
	allowed []domain.Method
}

// NewLevelStage creates a LevelStage for methods.
func NewLevelStage(methods ...domain.Method) *LevelStage {
	return &LevelStage{allowed: slices.Clone(methods)}
}

func (s *LevelStage) Name() string { return "levels" }

func (s *LevelStage) Process(_ context.Context, ev domain.LogEvent) (*ports.StageOutput, error) {
	if len(s.allowed) == 0 || slices.Contains(s.allowed, ev.Method) {
		return &ports.StageOutput{Action: ports.ActionAllow}, nil
	}
	return &ports.StageOutput{Action: ports.ActionDeny, DenyReason: "level " + ev.Method.String() + " filtered"}, nil
}
