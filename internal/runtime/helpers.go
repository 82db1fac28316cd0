package runtime

import (
	"errors"
	"fmt"

	"github.com/tjfontaine/console-bridge/internal/core/ports"
	"github.com/tjfontaine/console-bridge/internal/formatter"
	"github.com/tjfontaine/console-bridge/internal/pkg/config"
	"github.com/tjfontaine/console-bridge/internal/sink"
)

// formatterOptions maps the format section onto display options.
func formatterOptions(cfg *config.Config, color bool) formatter.Options {
	return formatter.Options{
		ShowTimestamp:   cfg.Format.ShowTimestamp,
		ShowSource:      cfg.Format.ShowSource,
		ShowLocation:    cfg.Format.ShowLocation,
		TimestampFormat: cfg.Format.TimestampFormat,
		Color:           color,
	}
}

// buildSinks opens the terminal, file and process destinations named in
// cfg followed by extra. Anything opened before a failure is closed.
func buildSinks(cfg *config.Config, terminal ports.Sink, extra []ports.Sink) (*sink.Multi, error) {
	var opened []ports.Sink
	fail := func(err error) (*sink.Multi, error) {
		var errs []error
		for _, s := range opened {
			errs = append(errs, s.Close())
		}
		return nil, errors.Join(append([]error{err}, errs...)...)
	}

	if cfg.Output.File != "" {
		f, err := sink.NewFile(cfg.Output.File, sink.WithMaxSize(cfg.Output.FileMaxBytes))
		if err != nil {
			return fail(fmt.Errorf("open output file: %w", err))
		}
		opened = append(opened, f)
	}
	if cfg.Output.Exec != "" {
		p, err := sink.NewShellProcess(cfg.Output.Exec)
		if err != nil {
			return fail(fmt.Errorf("start output process: %w", err))
		}
		opened = append(opened, p)
	}

	all := append([]ports.Sink{terminal}, opened...)
	return sink.NewMulti(append(all, extra...)...), nil
}

// setOptions pushes opts into a formatter that supports it.
func setOptions(f ports.Formatter, opts formatter.Options) bool {
	s, ok := f.(interface{ SetOptions(formatter.Options) })
	if ok {
		s.SetOptions(opts)
	}
	return ok
}
