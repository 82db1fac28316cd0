package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v3"

	"github.com/tjfontaine/console-bridge/internal/codec"
	"github.com/tjfontaine/console-bridge/internal/pkg/config"
	"github.com/tjfontaine/console-bridge/internal/source"
	"github.com/tjfontaine/console-bridge/internal/telemetry"
	"github.com/tjfontaine/console-bridge/pkg/bridge"
)

const shutdownTimeout = 10 * time.Second

// invocation is what the command line resolves to before anything starts.
type invocation struct {
	configPath string
	overrides  map[string]any
	extension  bool
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	cmd := newCommand(run)
	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "console-bridge:", err)
		os.Exit(1)
	}
}

func newCommand(action func(context.Context, invocation) error) *cli.Command {
	return &cli.Command{
		Name:      "console-bridge",
		Usage:     "stream browser console output to the terminal",
		ArgsUsage: "[url...]",
		Version:   codec.Version,
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "extension-mode", Usage: "accept connections from the browser extension instead of launching a browser"},
			&cli.StringFlag{Name: "host", Usage: "extension server host"},
			&cli.IntFlag{Name: "port", Aliases: []string{"p"}, Usage: "extension server port (default 9223)"},
			&cli.BoolFlag{Name: "no-timestamp", Usage: "hide timestamps"},
			&cli.BoolFlag{Name: "no-source", Usage: "hide the source of each line"},
			&cli.BoolFlag{Name: "location", Usage: "show the file location of each call"},
			&cli.StringFlag{Name: "timestamp-format", Usage: "time or iso"},
			&cli.StringFlag{Name: "levels", Usage: "comma separated console methods to show (default all)"},
			&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Usage: "also append output to this file"},
			&cli.StringFlag{Name: "exec", Usage: "also pipe output into this command"},
			&cli.StringFlag{Name: "style", Usage: "text, json or emoji"},
			&cli.BoolFlag{Name: "merge-sources", Usage: "share formatter state across sources"},
			&cli.BoolFlag{Name: "no-headless", Usage: "show the browser window"},
			&cli.StringFlag{Name: "browser", Usage: "path to the browser binary"},
			&cli.StringFlag{Name: "color", Usage: "auto, always or never"},
			&cli.StringFlag{Name: "log-level", Usage: "diagnostics level: debug, info, warn or error"},
			&cli.BoolFlag{Name: "trace", Usage: "export OpenTelemetry spans"},
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "config file (default " + config.DefaultFile + " when present)"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			inv, err := parseInvocation(cmd)
			if err != nil {
				return err
			}
			return action(ctx, inv)
		},
	}
}

// parseInvocation turns explicitly set flags into config overrides so
// unset flags leave the file and environment values alone.
func parseInvocation(cmd *cli.Command) (invocation, error) {
	inv := invocation{
		configPath: cmd.String("config"),
		overrides:  make(map[string]any),
		extension:  cmd.Bool("extension-mode"),
	}
	set := func(flag, key string, value any) {
		if cmd.IsSet(flag) {
			inv.overrides[key] = value
		}
	}

	set("host", "server.host", cmd.String("host"))
	set("port", "server.port", int(cmd.Int("port")))
	set("no-timestamp", "format.show_timestamp", !cmd.Bool("no-timestamp"))
	set("no-source", "format.show_source", !cmd.Bool("no-source"))
	set("location", "format.show_location", cmd.Bool("location"))
	set("timestamp-format", "format.timestamp_format", cmd.String("timestamp-format"))
	set("style", "format.style", cmd.String("style"))
	set("merge-sources", "format.merge_sources", cmd.Bool("merge-sources"))
	set("no-headless", "capture.headless", !cmd.Bool("no-headless"))
	set("browser", "capture.browser_bin", cmd.String("browser"))
	set("output", "output.file", cmd.String("output"))
	set("exec", "output.exec", cmd.String("exec"))
	set("color", "output.color", cmd.String("color"))
	set("log-level", "log.level", cmd.String("log-level"))
	set("trace", "telemetry.enabled", cmd.Bool("trace"))
	set("levels", "capture.levels", splitList(cmd.String("levels")))

	if args := cmd.Args().Slice(); len(args) > 0 {
		if inv.extension {
			return inv, errors.New("urls cannot be combined with --extension-mode")
		}
		urls, err := source.ParseList(args...)
		if err != nil {
			return inv, err
		}
		inv.overrides["capture.urls"] = urls
	}
	return inv, nil
}

func splitList(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' })
}

// configSource picks hot-reloading file config when a file is in play.
func configSource(inv invocation) (string, bool) {
	if inv.configPath != "" {
		return inv.configPath, true
	}
	if _, err := os.Stat(config.DefaultFile); err == nil {
		return config.DefaultFile, true
	}
	return "", false
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func run(ctx context.Context, inv invocation) error {
	path, watched := configSource(inv)
	cfg, err := config.Load(path, inv.overrides)
	if err != nil {
		return err
	}
	if !inv.extension {
		if len(cfg.Capture.URLs) == 0 {
			return errors.New("no urls to capture: pass at least one url or use --extension-mode")
		}
		if _, err := source.ParseList(cfg.Capture.URLs...); err != nil {
			return err
		}
	}

	// Diagnostics go to stderr; stdout carries console output.
	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)

	opts := []bridge.Option{bridge.WithLogger(logger)}
	if watched {
		opts = append(opts, bridge.WithFileConfig(path, inv.overrides))
	} else {
		opts = append(opts, bridge.WithConfig(cfg))
	}
	if inv.extension {
		opts = append(opts, bridge.WithExtensionServer())
	}

	if cfg.Telemetry.Enabled {
		shutdown, err := telemetry.InitFileTracer("console-bridge", cfg.Telemetry.File, logger)
		if err != nil {
			return fmt.Errorf("initialize tracer: %w", err)
		}
		defer func() {
			if err := shutdown(context.Background()); err != nil {
				logger.Error("failed to shutdown tracer", slog.String("error", err.Error()))
			}
		}()
	}

	b, err := bridge.New(opts...)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := b.Start(ctx); err != nil {
		return err
	}
	if inv.extension {
		logger.Info("waiting for the browser extension", slog.String("addr", b.Addr()))
	}

	<-ctx.Done()
	logger.Info("shutdown signal received, stopping bridge")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return b.Shutdown(shutdownCtx)
}
