package formatter

import (
	"time"
)

const (
	TimestampTime = "time"
	TimestampISO  = "iso"
)

// Options controls how lines are decorated. Changing options never
// touches formatter state.
type Options struct {
	ShowTimestamp   bool
	ShowSource      bool
	ShowLocation    bool
	TimestampFormat string

	// Color enables ANSI colour codes.
	Color bool
	// TimeZone is used for the short timestamp format; nil means local time.
	TimeZone *time.Location
}

// DefaultOptions returns the options used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		ShowTimestamp:   true,
		ShowSource:      true,
		ShowLocation:    false,
		TimestampFormat: TimestampTime,
		Color:           true,
	}
}

// OptionsFromMap applies recognised keys from a loosely typed configuration
// map on top of the defaults. Both camelCase and snake_case keys are
// accepted; unknown keys and values of the wrong type are ignored.
func OptionsFromMap(m map[string]any) Options {
	opts := DefaultOptions()
	boolKey := func(dst *bool, keys ...string) {
		for _, k := range keys {
			if v, ok := m[k].(bool); ok {
				*dst = v
			}
		}
	}
	boolKey(&opts.ShowTimestamp, "showTimestamp", "show_timestamp")
	boolKey(&opts.ShowSource, "showSource", "show_source")
	boolKey(&opts.ShowLocation, "showLocation", "show_location")
	boolKey(&opts.Color, "color")
	for _, k := range []string{"timestampFormat", "timestamp_format"} {
		if v, ok := m[k].(string); ok && (v == TimestampTime || v == TimestampISO) {
			opts.TimestampFormat = v
		}
	}
	return opts
}

func (o Options) zone() *time.Location {
	if o.TimeZone == nil {
		return time.Local
	}
	return o.TimeZone
}
