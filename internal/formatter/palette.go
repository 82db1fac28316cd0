package formatter

import (
	"github.com/fatih/color"

	"github.com/tjfontaine/console-bridge/internal/core/domain"
	"github.com/tjfontaine/console-bridge/internal/source"
)

// palette holds one colour per role. Each colour is forced on or off so a
// formatter's output does not depend on the global color.NoColor switch.
type palette struct {
	gray    *color.Color
	red     *color.Color
	redBold *color.Color
	green   *color.Color
	yellow  *color.Color
	blue    *color.Color
	magenta *color.Color
	cyan    *color.Color
	white   *color.Color

	sources []*color.Color
}

func newPalette(enabled bool) *palette {
	mk := func(attrs ...color.Attribute) *color.Color {
		c := color.New(attrs...)
		if enabled {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
		return c
	}
	p := &palette{
		gray:    mk(color.FgHiBlack),
		red:     mk(color.FgRed),
		redBold: mk(color.FgRed, color.Bold),
		green:   mk(color.FgGreen),
		yellow:  mk(color.FgYellow),
		blue:    mk(color.FgBlue),
		magenta: mk(color.FgMagenta),
		cyan:    mk(color.FgCyan),
		white:   mk(color.FgWhite),
	}
	p.sources = []*color.Color{p.cyan, p.magenta, p.green, p.yellow, p.blue, p.red, p.white}
	return p
}

func (p *palette) source(src string) *color.Color {
	return p.sources[source.ColorIndex(src, len(p.sources))]
}

func (p *palette) level(m domain.Method) *color.Color {
	switch m {
	case domain.MethodInfo:
		return p.blue
	case domain.MethodWarning:
		return p.yellow
	case domain.MethodError, domain.MethodAssert:
		return p.red
	case domain.MethodDebug:
		return p.gray
	case domain.MethodTrace:
		return p.magenta
	case domain.MethodStartGroup, domain.MethodStartGroupCollapsed, domain.MethodEndGroup:
		return p.blue
	case domain.MethodCount, domain.MethodTimeEnd:
		return p.green
	default:
		return p.white
	}
}
