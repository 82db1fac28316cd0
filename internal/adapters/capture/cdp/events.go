package cdp

import (
	"regexp"
	"strconv"

	"github.com/go-rod/rod/lib/proto"

	"github.com/tjfontaine/console-bridge/internal/core/domain"
	"github.com/tjfontaine/console-bridge/internal/normalize"
)

var (
	countPattern = regexp.MustCompile(`^(.*): \d+$`)
	timerPattern = regexp.MustCompile(`^(.*): ([0-9.]+) ?ms$`)
)

// consoleObservations maps one Runtime.consoleAPICalled event. The browser
// reports count and timeEnd with their results already rendered, so the
// label is recovered and the formatter recomputes the result. A timeEnd
// becomes a start/end pair spaced by the reported duration.
func consoleObservations(e *proto.RuntimeConsoleAPICalled, src string, conv *converter) []normalize.Observation {
	ts := float64(e.Timestamp)
	loc := stackLocation(e.StackTrace)
	obs := normalize.Observation{
		Method:    string(e.Type),
		Source:    src,
		Timestamp: ts,
		Location:  loc,
	}

	switch obs.Method {
	case "count":
		if label, ok := reportedLabel(e.Args, countPattern); ok {
			obs.Args = []any{label}
			return []normalize.Observation{obs}
		}
	case "timeEnd":
		if m, ok := reportedMatch(e.Args, timerPattern); ok {
			elapsed, err := strconv.ParseFloat(m[2], 64)
			if err == nil {
				start := obs
				start.Method = "time"
				start.Timestamp = ts - elapsed
				start.Args = []any{m[1]}
				obs.Args = []any{m[1]}
				return []normalize.Observation{start, obs}
			}
		}
	}

	obs.Args = make([]any, len(e.Args))
	for i, arg := range e.Args {
		obs.Args[i] = conv.value(arg, 0)
	}
	return []normalize.Observation{obs}
}

func reportedMatch(args []*proto.RuntimeRemoteObject, re *regexp.Regexp) ([]string, bool) {
	if len(args) != 1 || args[0] == nil || string(args[0].Type) != "string" {
		return nil, false
	}
	m := re.FindStringSubmatch(args[0].Value.Str())
	return m, m != nil
}

func reportedLabel(args []*proto.RuntimeRemoteObject, re *regexp.Regexp) (string, bool) {
	m, ok := reportedMatch(args, re)
	if !ok {
		return "", false
	}
	return m[1], true
}

// stackLocation converts the top frame to 1-based line and column numbers.
func stackLocation(st *proto.RuntimeStackTrace) *domain.Location {
	if st == nil || len(st.CallFrames) == 0 {
		return nil
	}
	f := st.CallFrames[0]
	return &domain.Location{URL: f.URL, Line: f.LineNumber + 1, Column: f.ColumnNumber + 1}
}

func exceptionObservation(e *proto.RuntimeExceptionThrown, src string) normalize.Observation {
	d := e.ExceptionDetails
	obs := normalize.Observation{
		Method:    "error",
		Source:    src,
		Timestamp: float64(e.Timestamp),
	}
	if d == nil {
		obs.Args = []any{"Uncaught Exception"}
		return obs
	}
	obs.Args = []any{"Uncaught Exception: " + exceptionMessage(d)}
	if loc := stackLocation(d.StackTrace); loc != nil {
		obs.Location = loc
	} else if d.URL != "" {
		obs.Location = &domain.Location{URL: d.URL, Line: d.LineNumber + 1, Column: d.ColumnNumber + 1}
	}
	return obs
}

// exceptionMessage prefers the message of the thrown Error over the
// generic "Uncaught" text.
func exceptionMessage(d *proto.RuntimeExceptionDetails) string {
	if ex := d.Exception; ex != nil {
		if string(ex.Subtype) == "error" {
			if msg := errorFrom(ex).Message; msg != "" {
				return msg
			}
		}
		if ex.Description != "" {
			return ex.Description
		}
		if s := ex.Value.Str(); s != "" {
			return s
		}
	}
	return d.Text
}

func requestFailedObservation(url, errorText, src string) normalize.Observation {
	return normalize.Observation{
		Method: "error",
		Args:   []any{"Request failed: " + url + " - " + errorText},
		Source: src,
	}
}

// maxTrackedRequests bounds the request id to URL map of a page.
const maxTrackedRequests = 4096

// requestTracker remembers request URLs until they finish or fail. It is
// only used from the page's event goroutine.
type requestTracker map[proto.NetworkRequestID]string

func (r requestTracker) sent(e *proto.NetworkRequestWillBeSent) {
	if e.Request == nil {
		return
	}
	if len(r) >= maxTrackedRequests {
		clear(r)
	}
	r[e.RequestID] = e.Request.URL
}

func (r requestTracker) finished(id proto.NetworkRequestID) {
	delete(r, id)
}

func (r requestTracker) failed(e *proto.NetworkLoadingFailed) (string, bool) {
	url, ok := r[e.RequestID]
	delete(r, e.RequestID)
	if !ok {
		return "", false
	}
	return url, true
}
