// Package bridge provides the public API for embedding the console bridge.
// This is the stable API for external consumers.
package bridge

import (
	"github.com/tjfontaine/console-bridge/internal/core/domain"
	"github.com/tjfontaine/console-bridge/internal/core/ports"
	"github.com/tjfontaine/console-bridge/internal/formatter"
	"github.com/tjfontaine/console-bridge/internal/normalize"
	"github.com/tjfontaine/console-bridge/internal/pipeline"
	"github.com/tjfontaine/console-bridge/internal/pkg/config"
	"github.com/tjfontaine/console-bridge/internal/runtime"
	"github.com/tjfontaine/console-bridge/internal/sink"
)

// Bridge captures browser console output and renders it to the terminal.
// See internal/runtime.Bridge for full documentation.
type Bridge = runtime.Bridge

// Option is a functional option for configuring a Bridge.
type Option = runtime.Option

// New creates a new Bridge with the given options.
// Example:
//
//	b, err := bridge.New(
//	    bridge.WithFileConfig("console-bridge.yaml", nil),
//	    bridge.WithExtensionServer(),
//	)
var New = runtime.New

type (
	Mode          = runtime.Mode
	Config        = config.Config
	Observation   = normalize.Observation
	LogEvent      = domain.LogEvent
	Value         = domain.Value
	Method        = domain.Method
	Formatter     = ports.Formatter
	FormatterFunc = ports.FormatterFunc
	FormatOptions = formatter.Options
	Sink          = ports.Sink
	SinkFunc      = sink.Func
	Stage         = ports.Stage
	StageFunc     = pipeline.StageFunc
	StageOutput   = ports.StageOutput
)

const (
	ModeBrowser   = runtime.ModeBrowser
	ModeExtension = runtime.ModeExtension
)

var (
	ErrAlreadyStarted = runtime.ErrAlreadyStarted
	ErrNotStarted     = runtime.ErrNotStarted
	ErrWrongMode      = runtime.ErrWrongMode
)

// Configuration options
var (
	// Config sources
	WithFileConfig     = runtime.WithFileConfig
	WithConfig         = runtime.WithConfig
	WithConfigProvider = runtime.WithConfigProvider
	LoadConfig         = config.Load

	// Capture
	WithBrowser         = runtime.WithBrowser
	WithExtensionServer = runtime.WithExtensionServer

	// Output
	WithOutput           = runtime.WithOutput
	WithSink             = runtime.WithSink
	WithFormatterFactory = runtime.WithFormatterFactory
	WithStage            = runtime.WithStage

	// Advanced options
	WithLogger         = runtime.WithLogger
	WithTracerProvider = runtime.WithTracerProvider
)

// Formatters for WithFormatterFactory.
var (
	NewFormatter      = formatter.New
	NewStyle          = formatter.NewStyle
	Emoji             = formatter.Emoji
	DefaultFormatOpts = formatter.DefaultOptions
	OptionsFromMap    = formatter.OptionsFromMap
	NewLevelStage     = pipeline.NewLevelStage
)

// JSONFormatter renders one JSON object per event.
type JSONFormatter = formatter.JSON
