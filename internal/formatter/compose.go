package formatter

import (
	"encoding/json"
	"strings"

	"github.com/fatih/color"

	"github.com/tjfontaine/console-bridge/internal/core/domain"
	"github.com/tjfontaine/console-bridge/internal/core/ports"
)

const (
	StyleText  = "text"
	StyleJSON  = "json"
	StyleEmoji = "emoji"
)

// Decorator post-processes the lines of another formatter. The wrapped
// formatter keeps its own state; suppressed events stay suppressed.
type Decorator struct {
	Base     ports.Formatter
	Decorate func(ev domain.LogEvent, line string) string
}

func (d *Decorator) Format(ev domain.LogEvent) (string, bool) {
	line, ok := d.Base.Format(ev)
	if !ok || d.Decorate == nil {
		return line, ok
	}
	return d.Decorate(ev, line), true
}

// SetOptions forwards to the wrapped formatter when it supports it.
func (d *Decorator) SetOptions(opts Options) {
	if s, ok := d.Base.(interface{ SetOptions(Options) }); ok {
		s.SetOptions(opts)
	}
}

var emojis = map[domain.Method]string{
	domain.MethodLog:     "📝",
	domain.MethodInfo:    "ℹ️",
	domain.MethodWarning: "⚠️",
	domain.MethodError:   "❌",
	domain.MethodDebug:   "🐛",
	domain.MethodAssert:  "❌",
	domain.MethodTrace:   "🔍",
	domain.MethodCount:   "🔢",
	domain.MethodTimeEnd: "⏱️",
	domain.MethodTable:   "📊",
}

// Emoji is the text style with an emoji in front of each level tag and a
// rule above errors.
func Emoji(opts Options) *Decorator {
	base := New(opts).WithTag(func(m domain.Method, tag string) string {
		mark, ok := emojis[m]
		if !ok {
			mark = "📋"
		}
		return mark + " " + tag
	})
	return &Decorator{
		Base: base,
		Decorate: func(ev domain.LogEvent, line string) string {
			if ev.Method != domain.MethodError {
				return line
			}
			rule := color.New(color.FgRed, color.Bold)
			if base.Options().Color {
				rule.EnableColor()
			} else {
				rule.DisableColor()
			}
			return rule.Sprint(strings.Repeat("━", 28)) + "\n" + line
		},
	}
}

// JSON renders each event as one JSON object per line for machine
// consumption. It keeps no state.
type JSON struct{}

type jsonLine struct {
	Timestamp string         `json:"timestamp"`
	Level     string         `json:"level"`
	Source    string         `json:"source,omitempty"`
	Message   string         `json:"message"`
	Location  *jsonLocation  `json:"location,omitempty"`
	Args      []domain.Value `json:"args"`
}

type jsonLocation struct {
	File   string `json:"file"`
	Line   int    `json:"line"`
	Column int    `json:"column"`
}

func (JSON) Format(ev domain.LogEvent) (string, bool) {
	out := jsonLine{
		Timestamp: ev.Time().UTC().Format("2006-01-02T15:04:05.000Z"),
		Level:     ev.Method.String(),
		Source:    ev.Source,
		Message:   plainMessage(ev.Args),
		Args:      ev.Args,
	}
	if out.Args == nil {
		out.Args = []domain.Value{}
	}
	if ev.Location != nil && ev.Location.URL != "" {
		out.Location = &jsonLocation{File: ev.Location.URL, Line: ev.Location.Line, Column: ev.Location.Column}
	}
	b, err := json.Marshal(out)
	if err != nil {
		b, _ = json.Marshal(map[string]string{"level": ev.Method.String(), "error": err.Error()})
	}
	return string(b), true
}

func plainMessage(args []domain.Value) string {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = plain(a)
	}
	return strings.Join(parts, " ")
}

// NewStyle builds the formatter for a configured style name. Unknown
// styles fall back to text.
func NewStyle(style string, opts Options) ports.Formatter {
	switch style {
	case StyleJSON:
		return JSON{}
	case StyleEmoji:
		return Emoji(opts)
	default:
		return New(opts)
	}
}
