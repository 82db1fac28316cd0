package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"
	"slices"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/tjfontaine/console-bridge/internal/core/domain"
	"github.com/tjfontaine/console-bridge/internal/serialize"
)

// DefaultFile is read from the working directory when no path is given.
const DefaultFile = "console-bridge.yaml"

// EnvPrefix marks environment overrides. A double underscore separates
// nested keys, so CONSOLE_BRIDGE_SERVER__PORT sets server.port.
const EnvPrefix = "CONSOLE_BRIDGE_"

var ErrInvalid = errors.New("invalid configuration")

type Config struct {
	Server    ServerConfig     `koanf:"server"`
	Format    FormatConfig     `koanf:"format"`
	Capture   CaptureConfig    `koanf:"capture"`
	Limits    serialize.Limits `koanf:"limits"`
	Output    OutputConfig     `koanf:"output"`
	Log       LogConfig        `koanf:"log"`
	Telemetry TelemetryConfig  `koanf:"telemetry"`
}

type ServerConfig struct {
	Host string `koanf:"host"`
	Port int    `koanf:"port"`
}

type FormatConfig struct {
	ShowTimestamp   bool   `koanf:"show_timestamp"`
	ShowSource      bool   `koanf:"show_source"`
	ShowLocation    bool   `koanf:"show_location"`
	TimestampFormat string `koanf:"timestamp_format"` // time, iso
	Style           string `koanf:"style"`            // text, json, emoji
	MergeSources    bool   `koanf:"merge_sources"`
}

type CaptureConfig struct {
	URLs       []string `koanf:"urls"`
	Levels     []string `koanf:"levels"`
	Headless   bool     `koanf:"headless"`
	BrowserBin string   `koanf:"browser_bin"`
}

type OutputConfig struct {
	File         string `koanf:"file"`
	FileMaxBytes int64  `koanf:"file_max_bytes"`
	Exec         string `koanf:"exec"`
	Color        string `koanf:"color"` // auto, always, never
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // text, json
}

type TelemetryConfig struct {
	Enabled bool   `koanf:"enabled"`
	File    string `koanf:"file"`
}

// Defaults holds the value of every key that has one.
func Defaults() map[string]any {
	limits := serialize.DefaultLimits()
	return map[string]any{
		"server.host":              "127.0.0.1",
		"server.port":              9223,
		"format.show_timestamp":    true,
		"format.show_source":       true,
		"format.show_location":     false,
		"format.timestamp_format":  "time",
		"format.style":             "text",
		"format.merge_sources":     false,
		"capture.headless":         true,
		"limits.max_depth":         limits.MaxDepth,
		"limits.max_string_length": limits.MaxStringLength,
		"limits.max_array_length":  limits.MaxArrayLength,
		"limits.max_object_keys":   limits.MaxObjectKeys,
		"limits.max_map_entries":   limits.MaxMapEntries,
		"limits.max_set_values":    limits.MaxSetValues,
		"output.color":             "auto",
		"log.level":                "info",
		"log.format":               "text",
	}
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Load reads path (or DefaultFile when empty, where a missing file is not
// an error), then the environment, then overrides. Keys without a value
// fall back to Defaults.
func Load(path string, overrides map[string]any) (*Config, error) {
	k := koanf.New(".")

	name := path
	if name == "" {
		name = DefaultFile
	}
	if err := k.Load(file.Provider(name), yaml.Parser()); err != nil {
		if path != "" || !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
	}), nil); err != nil {
		return nil, err
	}

	for key, value := range overrides {
		if err := k.Set(key, value); err != nil {
			return nil, fmt.Errorf("override %s: %w", key, err)
		}
	}

	for key, value := range Defaults() {
		if !k.Exists(key) {
			if err := k.Set(key, value); err != nil {
				return nil, err
			}
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	cfg.Output.File = substituteEnvVars(cfg.Output.File)
	cfg.Output.Exec = substituteEnvVars(cfg.Output.Exec)
	cfg.Capture.BrowserBin = substituteEnvVars(cfg.Capture.BrowserBin)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func substituteEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
		}
	}

	check(c.Server.Port >= 0 && c.Server.Port < 65536, "server.port %d out of range", c.Server.Port)
	check(slices.Contains([]string{"time", "iso"}, c.Format.TimestampFormat), "format.timestamp_format %q", c.Format.TimestampFormat)
	check(slices.Contains([]string{"text", "json", "emoji"}, c.Format.Style), "format.style %q", c.Format.Style)
	check(slices.Contains([]string{"auto", "always", "never"}, c.Output.Color), "output.color %q", c.Output.Color)
	check(slices.Contains([]string{"debug", "info", "warn", "error"}, c.Log.Level), "log.level %q", c.Log.Level)
	check(slices.Contains([]string{"text", "json"}, c.Log.Format), "log.format %q", c.Log.Format)
	check(c.Output.FileMaxBytes >= 0, "output.file_max_bytes %d is negative", c.Output.FileMaxBytes)
	for _, level := range c.Capture.Levels {
		_, ok := domain.ParseMethod(level)
		check(ok, "capture.levels: unknown level %q", level)
	}

	return errors.Join(errs...)
}

// Static serves a fixed configuration and never reports changes.
type Static struct {
	Config *Config
}

func (s Static) Load(context.Context) (*Config, error) {
	if s.Config == nil {
		return Load("", nil)
	}
	return s.Config, nil
}

func (Static) Watch(context.Context, func(*Config)) error { return nil }

func (Static) Close() error { return nil }
