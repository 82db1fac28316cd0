// Package codec encodes and decodes the JSON envelopes exchanged with the
// browser extension over WebSocket.
package codec

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/tjfontaine/console-bridge/internal/core/domain"
)

// Version is the only protocol version this codec speaks.
const Version = "1.0.0"

// MessageType names an envelope kind.
type MessageType string

const (
	TypeConsoleEvent     MessageType = "console_event"
	TypeConnectionStatus MessageType = "connection_status"
	TypeError            MessageType = "error"
	TypePing             MessageType = "ping"
	TypePong             MessageType = "pong"
	TypeWelcome          MessageType = "welcome"
)

// Connection statuses reported by the extension.
const (
	StatusConnected    = "connected"
	StatusDisconnected = "disconnected"
	StatusReconnecting = "reconnecting"
)

const timeLayout = "2006-01-02T15:04:05.000Z07:00"

// Envelope is the outer frame of every message. Payload is decoded lazily
// by the typed accessors.
type Envelope struct {
	Version   string          `json:"version"`
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"-"`
	Source    *domain.Source  `json:"source,omitempty"`
	Payload   json.RawMessage `json:"payload"`
}

type wireEnvelope struct {
	Version   string          `json:"version"`
	Type      MessageType     `json:"type"`
	Timestamp string          `json:"timestamp"`
	Source    *domain.Source  `json:"source,omitempty"`
	Payload   json.RawMessage `json:"payload"`
}

// ConsoleEvent is the payload of a console_event message.
type ConsoleEvent struct {
	Method   string           `json:"method"`
	Args     []domain.Value   `json:"args"`
	Location *domain.Location `json:"-"`
}

type wireConsoleEvent struct {
	Method   string         `json:"method"`
	Args     []domain.Value `json:"args"`
	Location *wireLocation  `json:"location,omitempty"`
}

// wireLocation accepts both the extension's {line, column} and the
// debugging protocol's {lineNumber, columnNumber} spellings.
type wireLocation struct {
	URL          string `json:"url"`
	Line         int    `json:"line"`
	Column       int    `json:"column"`
	LineNumber   int    `json:"lineNumber,omitempty"`
	ColumnNumber int    `json:"columnNumber,omitempty"`
}

// ClientInfo describes the extension build.
type ClientInfo struct {
	ExtensionVersion string `json:"extensionVersion,omitempty"`
	Browser          string `json:"browser,omitempty"`
	BrowserVersion   string `json:"browserVersion,omitempty"`
}

// ConnectionStatus is the payload of a connection_status message.
type ConnectionStatus struct {
	Status     string      `json:"status"`
	Reason     string      `json:"reason,omitempty"`
	ClientInfo *ClientInfo `json:"clientInfo,omitempty"`
}

// ErrorPayload is the payload of an error message.
type ErrorPayload struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// PingPayload is the payload of ping and pong messages.
type PingPayload struct {
	ID string `json:"id,omitempty"`
}

// Welcome is sent by the server when an extension connects.
type Welcome struct {
	Message       string `json:"message"`
	ServerVersion string `json:"serverVersion"`
	ClientID      string `json:"clientId,omitempty"`
}

func (e Envelope) MarshalJSON() ([]byte, error) {
	ts := e.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	payload := e.Payload
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}
	return json.Marshal(wireEnvelope{
		Version:   e.Version,
		Type:      e.Type,
		Timestamp: ts.UTC().Format(timeLayout),
		Source:    e.Source,
		Payload:   payload,
	})
}

// Millis returns the envelope timestamp as epoch milliseconds, or 0 when
// the sender did not set one.
func (e Envelope) Millis() float64 {
	if e.Timestamp.IsZero() {
		return 0
	}
	return domain.TimeToMillis(e.Timestamp)
}

// Decode parses and validates one message. Version mismatches return an
// error wrapping ErrUnsupportedVersion; structural problems wrap
// ErrInvalidMessage.
func Decode(data []byte) (*Envelope, error) {
	var w wireEnvelope
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, &MessageError{Reason: err.Error(), Err: ErrInvalidMessage}
	}
	if w.Version != Version {
		return nil, &MessageError{Type: w.Type, Version: w.Version, Reason: fmt.Sprintf("got %q, want %q", w.Version, Version), Err: ErrUnsupportedVersion}
	}
	if w.Type == "" {
		return nil, invalid("", "missing type")
	}

	env := &Envelope{Version: w.Version, Type: w.Type, Source: w.Source, Payload: w.Payload}
	if w.Timestamp != "" {
		ts, err := time.Parse(time.RFC3339Nano, w.Timestamp)
		if err != nil {
			return nil, invalid(w.Type, "bad timestamp %q", w.Timestamp)
		}
		env.Timestamp = ts
	}

	switch w.Type {
	case TypeConsoleEvent:
		if w.Source == nil {
			return nil, invalid(w.Type, "missing source")
		}
		if _, err := env.ConsoleEvent(); err != nil {
			return nil, err
		}
	case TypeConnectionStatus, TypeError, TypePing, TypePong, TypeWelcome:
	default:
		return nil, invalid(w.Type, "unknown message type")
	}
	return env, nil
}

// Encode builds an envelope of the given type around payload.
func Encode(typ MessageType, source *domain.Source, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", typ, err)
	}
	return json.Marshal(Envelope{
		Version:   Version,
		Type:      typ,
		Timestamp: time.Now(),
		Source:    source,
		Payload:   raw,
	})
}

// EncodeConsoleEvent builds a console_event message.
func EncodeConsoleEvent(source domain.Source, ev ConsoleEvent, at time.Time) ([]byte, error) {
	w := wireConsoleEvent{Method: ev.Method, Args: ev.Args}
	if w.Args == nil {
		w.Args = []domain.Value{}
	}
	if ev.Location != nil {
		w.Location = &wireLocation{URL: ev.Location.URL, Line: ev.Location.Line, Column: ev.Location.Column}
	}
	raw, err := json.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", TypeConsoleEvent, err)
	}
	return json.Marshal(Envelope{Version: Version, Type: TypeConsoleEvent, Timestamp: at, Source: &source, Payload: raw})
}

// ConsoleEvent decodes the payload of a console_event message.
func (e *Envelope) ConsoleEvent() (ConsoleEvent, error) {
	var w wireConsoleEvent
	if err := json.Unmarshal(e.Payload, &w); err != nil {
		return ConsoleEvent{}, invalid(e.Type, "payload: %v", err)
	}
	if w.Method == "" {
		return ConsoleEvent{}, invalid(e.Type, "missing method")
	}
	if w.Args == nil {
		return ConsoleEvent{}, invalid(e.Type, "missing args")
	}
	ev := ConsoleEvent{Method: w.Method, Args: w.Args}
	if loc := w.Location; loc != nil {
		line, col := loc.Line, loc.Column
		if line == 0 {
			line = loc.LineNumber
		}
		if col == 0 {
			col = loc.ColumnNumber
		}
		ev.Location = &domain.Location{URL: loc.URL, Line: line, Column: col}
	}
	return ev, nil
}

// ConnectionStatus decodes the payload of a connection_status message.
func (e *Envelope) ConnectionStatus() (ConnectionStatus, error) {
	var cs ConnectionStatus
	if err := json.Unmarshal(e.Payload, &cs); err != nil {
		return cs, invalid(e.Type, "payload: %v", err)
	}
	if cs.Status == "" {
		return cs, invalid(e.Type, "missing status")
	}
	return cs, nil
}

// ErrorPayload decodes the payload of an error message.
func (e *Envelope) ErrorPayload() (ErrorPayload, error) {
	var p ErrorPayload
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		return p, invalid(e.Type, "payload: %v", err)
	}
	return p, nil
}

// Ping decodes the payload of a ping or pong message. An empty payload is
// accepted.
func (e *Envelope) Ping() PingPayload {
	var p PingPayload
	_ = json.Unmarshal(e.Payload, &p)
	return p
}
