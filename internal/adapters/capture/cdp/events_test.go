package cdp

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/go-rod/rod/lib/proto"

	"github.com/tjfontaine/console-bridge/internal/core/domain"
	"github.com/tjfontaine/console-bridge/internal/formatter"
	"github.com/tjfontaine/console-bridge/internal/normalize"
	"github.com/tjfontaine/console-bridge/internal/source"
)

const page = "http://localhost:3000/"

func consoleEvent(t *testing.T, raw string) *proto.RuntimeConsoleAPICalled {
	t.Helper()
	var e proto.RuntimeConsoleAPICalled
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		t.Fatalf("json.Unmarshal() error = %v", err)
	}
	return &e
}

func TestConsoleObservations_Log(t *testing.T) {
	e := consoleEvent(t, `{
		"type":"warning",
		"args":[{"type":"string","value":"disk"},{"type":"number","value":93}],
		"timestamp":1700000000123.5,
		"stackTrace":{"callFrames":[{"functionName":"f","scriptId":"1","url":"http://localhost:3000/app.js","lineNumber":6,"columnNumber":2}]}
	}`)

	obs := consoleObservations(e, page, newTestConverter(newFakeProperties(nil)))
	if len(obs) != 1 {
		t.Fatalf("consoleObservations() returned %d observations, want 1", len(obs))
	}
	got := obs[0]
	if got.Method != "warning" || got.Source != page || got.Timestamp != 1700000000123.5 {
		t.Errorf("observation = %+v", got)
	}
	if len(got.Args) != 2 || got.Args[0] != "disk" || got.Args[1] != 93.0 {
		t.Errorf("Args = %#v", got.Args)
	}
	if got.Location == nil || got.Location.Line != 7 || got.Location.Column != 3 {
		t.Errorf("Location = %+v, want 1-based 7:3", got.Location)
	}
}

func TestConsoleObservations_CountLabel(t *testing.T) {
	e := consoleEvent(t, `{"type":"count","args":[{"type":"string","value":"clicks: 4"}],"timestamp":10}`)

	obs := consoleObservations(e, page, newTestConverter(newFakeProperties(nil)))
	if len(obs) != 1 || len(obs[0].Args) != 1 || obs[0].Args[0] != "clicks" {
		t.Errorf("consoleObservations() = %+v, want label only", obs)
	}
}

func TestConsoleObservations_TimerPair(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"spaced", "load: 250.5 ms"},
		{"compact", "load: 250.5ms"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, _ := json.Marshal(map[string]any{
				"type":      "timeEnd",
				"args":      []map[string]string{{"type": "string", "value": tt.text}},
				"timestamp": 1000,
			})
			obs := consoleObservations(consoleEvent(t, string(raw)), page, newTestConverter(newFakeProperties(nil)))
			if len(obs) != 2 {
				t.Fatalf("consoleObservations() returned %d observations, want 2", len(obs))
			}
			if obs[0].Method != "time" || obs[0].Timestamp != 749.5 || obs[0].Args[0] != "load" {
				t.Errorf("start = %+v", obs[0])
			}
			if obs[1].Method != "timeEnd" || obs[1].Timestamp != 1000 || obs[1].Args[0] != "load" {
				t.Errorf("end = %+v", obs[1])
			}
		})
	}
}

func TestConsoleObservations_TimerRendersElapsed(t *testing.T) {
	e := consoleEvent(t, `{"type":"timeEnd","args":[{"type":"string","value":"load: 250.5 ms"}],"timestamp":1000}`)
	n := normalize.New(nil)
	f := formatter.New(formatter.Options{TimestampFormat: formatter.TimestampTime})

	var lines []string
	for _, obs := range consoleObservations(e, page, newTestConverter(newFakeProperties(nil))) {
		ev, ok := n.Normalize(obs)
		if !ok {
			t.Fatalf("Normalize(%q) dropped the event", obs.Method)
		}
		if line, ok := f.Format(ev); ok {
			lines = append(lines, line)
		}
	}
	if len(lines) != 1 || lines[0] != "timeEnd: load: 250.500ms" {
		t.Errorf("lines = %q, want one timeEnd line", lines)
	}
}

func TestExceptionObservation(t *testing.T) {
	var e proto.RuntimeExceptionThrown
	raw := `{"timestamp":42,"exceptionDetails":{"exceptionId":1,"text":"Uncaught","lineNumber":9,"columnNumber":4,"url":"http://localhost:3000/app.js",
		"exception":{"type":"object","subtype":"error","className":"Error","description":"Error: boom\n    at app.js:10:5","objectId":"x"}}}`
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		t.Fatalf("json.Unmarshal() error = %v", err)
	}

	obs := exceptionObservation(&e, page)
	if obs.Method != "error" || obs.Args[0] != "Uncaught Exception: boom" {
		t.Errorf("exceptionObservation() = %+v", obs)
	}
	if obs.Location == nil || obs.Location.Line != 10 || obs.Location.Column != 5 {
		t.Errorf("Location = %+v", obs.Location)
	}
}

func TestRequestTracker(t *testing.T) {
	r := make(requestTracker)
	r.sent(&proto.NetworkRequestWillBeSent{RequestID: "1", Request: &proto.NetworkRequest{URL: "http://localhost:3000/api"}})
	r.sent(&proto.NetworkRequestWillBeSent{RequestID: "2", Request: &proto.NetworkRequest{URL: "http://localhost:3000/ok"}})
	r.finished("2")

	url, ok := r.failed(&proto.NetworkLoadingFailed{RequestID: "1", ErrorText: "net::ERR_CONNECTION_REFUSED"})
	if !ok || url != "http://localhost:3000/api" {
		t.Errorf("failed(1) = %q, %v", url, ok)
	}
	if _, ok := r.failed(&proto.NetworkLoadingFailed{RequestID: "2"}); ok {
		t.Error("failed(2) reported a finished request")
	}
	if len(r) != 0 {
		t.Errorf("tracker holds %d requests, want 0", len(r))
	}

	obs := requestFailedObservation(url, "net::ERR_CONNECTION_REFUSED", page)
	if obs.Method != "error" || obs.Args[0] != "Request failed: http://localhost:3000/api - net::ERR_CONNECTION_REFUSED" {
		t.Errorf("requestFailedObservation() = %+v", obs)
	}
}

type recordingEvents struct {
	events []domain.LogEvent
}

func (r *recordingEvents) Submit(_ context.Context, ev domain.LogEvent) error {
	r.events = append(r.events, ev)
	return nil
}

func TestManager_SubmitHonoursLevels(t *testing.T) {
	levels, err := normalize.ParseLevels([]string{"warning"})
	if err != nil {
		t.Fatalf("ParseLevels() error = %v", err)
	}
	events := &recordingEvents{}
	m := NewManager(Config{}, normalize.New(nil, normalize.WithLevels(levels...)), events)

	m.submit(context.Background(), requestFailedObservation("http://localhost:3000/x", "boom", page))
	m.submit(context.Background(), normalize.Observation{Method: "warn", Args: []any{"careful"}, Source: page})

	if len(events.events) != 1 || events.events[0].Method != domain.MethodWarning {
		t.Errorf("submitted = %+v, want only the warning", events.events)
	}
}

func TestManager_RequiresStart(t *testing.T) {
	m := NewManager(Config{}, nil, &recordingEvents{})
	ctx := context.Background()

	if err := m.AddURL(ctx, "localhost:3000"); !errors.Is(err, ErrNotStarted) {
		t.Errorf("AddURL() error = %v, want ErrNotStarted", err)
	}
	if err := m.AddURL(ctx, "https://example.com"); !errors.Is(err, source.ErrNotLocalhost) {
		t.Errorf("AddURL(remote) error = %v, want ErrNotLocalhost", err)
	}
	if err := m.RemoveURL("localhost:3000"); !errors.Is(err, ErrNotActive) {
		t.Errorf("RemoveURL() error = %v, want ErrNotActive", err)
	}
	if m.IsActive("localhost:3000") || len(m.ActiveURLs()) != 0 {
		t.Error("manager reports active pages before Start")
	}
	if err := m.Stop(ctx); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
}
