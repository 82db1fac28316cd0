// Package ports defines the interfaces the bridge core depends on.
package ports

import (
	"context"

	"github.com/tjfontaine/console-bridge/internal/pkg/config"
)

// ConfigProvider loads and manages configuration.
// Implementations: file-based with hot reload, static.
type ConfigProvider interface {
	Load(ctx context.Context) (*config.Config, error)
	Watch(ctx context.Context, onChange func(*config.Config)) error
	Close() error
}

// Capturer observes console activity from one kind of browser connection
// and hands it to the normalizer.
// Implementations: debugging protocol (go-rod), extension WebSocket server.
type Capturer interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}
