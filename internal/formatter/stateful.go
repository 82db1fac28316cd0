// Package formatter renders console events as terminal lines, replaying
// the multi-call semantics of groups, counters, timers and tables.
package formatter

import (
	"fmt"
	"maps"
	"strings"
	"sync/atomic"

	"github.com/tjfontaine/console-bridge/internal/core/domain"
	"github.com/tjfontaine/console-bridge/internal/source"
)

const indentUnit = "  "

// State is the mutable part of a formatter.
type State struct {
	GroupDepth int
	Counters   map[string]int
	Timers     map[string]float64
}

type settings struct {
	opts Options
	pal  *palette
}

// TagFunc rewrites the rendered level tag of a line, such as "log:".
type TagFunc func(m domain.Method, tag string) string

// Stateful is the default formatter. Its state must only be touched by
// one goroutine at a time; options may be swapped from any goroutine.
type Stateful struct {
	cfg   atomic.Pointer[settings]
	state State
	tag   TagFunc
}

// New creates a formatter with empty state.
func New(opts Options) *Stateful {
	f := &Stateful{
		state: State{
			Counters: make(map[string]int),
			Timers:   make(map[string]float64),
		},
	}
	f.SetOptions(opts)
	return f
}

// SetOptions replaces the display options without touching state.
func (f *Stateful) SetOptions(opts Options) {
	if opts.TimestampFormat != TimestampISO {
		opts.TimestampFormat = TimestampTime
	}
	f.cfg.Store(&settings{opts: opts, pal: newPalette(opts.Color)})
}

// WithTag installs fn to rewrite level tags. Call it before the formatter
// is in use.
func (f *Stateful) WithTag(fn TagFunc) *Stateful {
	f.tag = fn
	return f
}

// Options returns the display options in effect.
func (f *Stateful) Options() Options {
	return f.cfg.Load().opts
}

// State returns a copy of the current state.
func (f *Stateful) State() State {
	return State{
		GroupDepth: f.state.GroupDepth,
		Counters:   maps.Clone(f.state.Counters),
		Timers:     maps.Clone(f.state.Timers),
	}
}

// Format renders ev. It returns false when the event produces no output,
// which only happens for the first half of a timer pair.
func (f *Stateful) Format(ev domain.LogEvent) (string, bool) {
	cfg := f.cfg.Load()
	p := cfg.pal
	r := renderer{pal: p}
	indent := strings.Repeat(indentUnit, f.state.GroupDepth)

	switch ev.Method {
	case domain.MethodLog, domain.MethodInfo, domain.MethodWarning, domain.MethodError,
		domain.MethodDebug, domain.MethodDir, domain.MethodDirXML,
		domain.MethodProfile, domain.MethodProfileEnd:
		return f.compose(cfg, ev, p.level(ev.Method).Sprint(ev.Method.String()+":"), indent, r.message(ev.Args)), true

	case domain.MethodTrace:
		return f.compose(cfg, ev, p.magenta.Sprint("trace:"), indent, r.message(ev.Args)), true

	case domain.MethodStartGroup, domain.MethodStartGroupCollapsed:
		tag := "group:"
		if ev.Method == domain.MethodStartGroupCollapsed {
			tag = "groupCollapsed:"
		}
		line := f.compose(cfg, ev, p.blue.Sprint(tag), indent, r.message(ev.Args))
		f.state.GroupDepth++
		return line, true

	case domain.MethodEndGroup:
		if f.state.GroupDepth > 0 {
			f.state.GroupDepth--
		}
		return f.compose(cfg, ev, p.blue.Sprint("groupEnd:"), "", ""), true

	case domain.MethodCount:
		name := label(ev.Args)
		f.state.Counters[name]++
		body := fmt.Sprintf("%s: %d", name, f.state.Counters[name])
		return f.compose(cfg, ev, p.green.Sprint("count:"), indent, body), true

	case domain.MethodTimeEnd:
		name := label(ev.Args)
		start, ok := f.state.Timers[name]
		if !ok {
			f.state.Timers[name] = ev.Timestamp
			return "", false
		}
		delete(f.state.Timers, name)
		body := fmt.Sprintf("%s: %.3fms", name, ev.Timestamp-start)
		return f.compose(cfg, ev, p.green.Sprint("timeEnd:"), indent, body), true

	case domain.MethodTable:
		columns, rows, ok := tableRows(ev.Args)
		if !ok {
			return f.compose(cfg, ev, p.green.Sprint("table:"), indent, r.message(ev.Args)), true
		}
		head := f.compose(cfg, ev, p.green.Sprint("table:"), "", "")
		lines := renderTable(columns, rows)
		return head + "\n" + indent + strings.Join(lines, "\n"+indent), true

	case domain.MethodAssert:
		body := p.red.Sprint("Assertion failed:")
		if msg := r.message(ev.Args); msg != "" {
			body += " " + msg
		}
		return f.compose(cfg, ev, p.red.Sprint("assert:"), indent, body), true

	case domain.MethodClear:
		return f.compose(cfg, ev, p.white.Sprint("clear:"), "", p.gray.Sprint(strings.Repeat("─", 50))), true
	}

	return "", false
}

// compose assembles "[ts] [source] tag: <indent>body (location)". Lines
// after the first in a multi-line body keep the group indent.
func (f *Stateful) compose(cfg *settings, ev domain.LogEvent, tag, indent, body string) string {
	opts, p := cfg.opts, cfg.pal
	parts := make([]string, 0, 5)
	if opts.ShowTimestamp {
		parts = append(parts, p.gray.Sprint("["+timestamp(opts, ev)+"]"))
	}
	if opts.ShowSource && ev.Source != "" {
		parts = append(parts, p.source(ev.Source).Sprint("["+source.DisplayName(ev.Source)+"]"))
	}
	if f.tag != nil {
		tag = f.tag(ev.Method, tag)
	}
	parts = append(parts, tag)
	if body != "" {
		if indent != "" {
			body = strings.ReplaceAll(body, "\n", "\n"+indent)
		}
		parts = append(parts, indent+body)
	}
	if opts.ShowLocation && ev.Location != nil && ev.Location.URL != "" {
		loc := fmt.Sprintf("(%s:%d:%d)", ev.Location.URL, ev.Location.Line, ev.Location.Column)
		parts = append(parts, p.gray.Sprint(loc))
	}
	return strings.Join(parts, " ")
}

func timestamp(opts Options, ev domain.LogEvent) string {
	t := ev.Time()
	if opts.TimestampFormat == TimestampISO {
		return t.UTC().Format("2006-01-02T15:04:05.000Z")
	}
	return t.In(opts.zone()).Format("15:04:05")
}
