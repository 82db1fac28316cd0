package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tjfontaine/console-bridge/internal/codec"
	"github.com/tjfontaine/console-bridge/internal/core/domain"
	"github.com/tjfontaine/console-bridge/internal/normalize"
	"github.com/tjfontaine/console-bridge/internal/source"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 8 << 20
)

// Events receives normalized events and connection notices.
type Events interface {
	Submit(ctx context.Context, ev domain.LogEvent) error
	Notice(ctx context.Context, source, line string) error
}

// ClientInfo describes one connected extension.
type ClientInfo struct {
	ID          string            `json:"id"`
	TabID       int               `json:"tabId,omitempty"`
	URL         string            `json:"url,omitempty"`
	Title       string            `json:"title,omitempty"`
	Browser     *codec.ClientInfo `json:"clientInfo,omitempty"`
	ConnectedAt time.Time         `json:"connectedAt"`
	Remote      string            `json:"remoteAddr"`
}

type client struct {
	id     string
	conn   *websocket.Conn
	remote string
	since  time.Time

	writeMu sync.Mutex

	mu      sync.Mutex
	meta    *domain.Source
	browser *codec.ClientInfo
}

func (c *client) send(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *client) info() ClientInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := ClientInfo{ID: c.id, ConnectedAt: c.since, Remote: c.remote, Browser: c.browser}
	if c.meta != nil {
		out.TabID, out.URL, out.Title = c.meta.TabID, c.meta.URL, c.meta.Title
	}
	return out
}

// Hub accepts WebSocket connections from the browser extension and feeds
// their console events into the pipeline.
type Hub struct {
	normalizer *normalize.Normalizer
	events     Events
	logger     *slog.Logger
	tracer     trace.Tracer
	upgrader   websocket.Upgrader

	mu      sync.RWMutex
	clients map[string]*client
	wg      sync.WaitGroup
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithHubLogger sets the diagnostics logger.
func WithHubLogger(logger *slog.Logger) HubOption {
	return func(h *Hub) { h.logger = logger }
}

// WithCheckOrigin replaces the default origin check.
func WithCheckOrigin(fn func(r *http.Request) bool) HubOption {
	return func(h *Hub) { h.upgrader.CheckOrigin = fn }
}

// NewHub creates a hub that normalizes with n and submits to events.
func NewHub(n *normalize.Normalizer, events Events, opts ...HubOption) *Hub {
	h := &Hub{
		normalizer: n,
		events:     events,
		logger:     slog.Default(),
		tracer:     otel.Tracer("github.com/tjfontaine/console-bridge/internal/server"),
		clients:    make(map[string]*client),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     allowedOrigin,
		},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// allowedOrigin accepts browser extensions and local pages.
func allowedOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	switch u.Scheme {
	case "chrome-extension", "moz-extension", "safari-web-extension":
		return true
	}
	return source.IsLocal(u.Hostname())
}

// ServeHTTP upgrades the request and runs the connection until it closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !websocket.IsWebSocketUpgrade(r) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprintln(w, "console-bridge extension server: connect with a WebSocket client")
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		AddError(r.Context(), err)
		h.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{id: uuid.New().String(), conn: conn, remote: r.RemoteAddr, since: time.Now()}
	AddLogField(r.Context(), "client_id", c.id)

	h.mu.Lock()
	h.clients[c.id] = c
	h.wg.Add(1)
	h.mu.Unlock()
	defer h.wg.Done()

	h.logger.Info("extension connected", slog.String("client_id", c.id), slog.String("remote_addr", c.remote))
	h.reply(c, codec.TypeWelcome, codec.Welcome{
		Message:       "Console Bridge CLI ready",
		ServerVersion: codec.Version,
		ClientID:      c.id,
	})

	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()
	go h.keepalive(ctx, c)

	h.readLoop(ctx, c)
	h.drop(ctx, c)
}

func (h *Hub) keepalive(ctx context.Context, c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (h *Hub) readLoop(ctx context.Context, c *client) {
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				h.logger.Warn("websocket read failed", slog.String("client_id", c.id), slog.String("error", err.Error()))
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		h.handle(ctx, c, data)
	}
}

// handle processes one message. Failures are logged and never end the
// connection.
func (h *Hub) handle(ctx context.Context, c *client, data []byte) {
	ctx, span := h.tracer.Start(ctx, "extension.message", trace.WithAttributes(
		attribute.String("client.id", c.id),
		attribute.Int("message.bytes", len(data)),
	))
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("recovered from panic while handling extension message",
				slog.String("client_id", c.id),
				slog.String("error", fmt.Sprint(r)))
		}
	}()

	env, err := codec.Decode(data)
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, codec.ErrUnsupportedVersion) {
			h.logger.Warn("ignoring message with unexpected protocol version", slog.String("client_id", c.id), slog.String("error", err.Error()))
		} else {
			h.logger.Warn("ignoring invalid extension message", slog.String("client_id", c.id), slog.String("error", err.Error()))
		}
		h.reply(c, codec.TypeError, codec.ErrorPayload{Code: codec.ErrorCode(err), Message: err.Error()})
		return
	}
	span.SetAttributes(attribute.String("message.type", string(env.Type)))

	switch env.Type {
	case codec.TypeConsoleEvent:
		h.consoleEvent(ctx, c, env)
	case codec.TypeConnectionStatus:
		h.connectionStatus(ctx, c, env)
	case codec.TypePing:
		h.reply(c, codec.TypePong, codec.PingPayload{ID: env.Ping().ID})
	case codec.TypeError:
		p, _ := env.ErrorPayload()
		h.logger.Warn("extension reported an error", slog.String("client_id", c.id), slog.String("code", p.Code), slog.String("message", p.Message))
	default:
		h.logger.Debug("ignoring extension message", slog.String("client_id", c.id), slog.String("type", string(env.Type)))
	}
}

func (h *Hub) consoleEvent(ctx context.Context, c *client, env *codec.Envelope) {
	payload, err := env.ConsoleEvent()
	if err != nil {
		h.logger.Warn("ignoring malformed console event", slog.String("client_id", c.id), slog.String("error", err.Error()))
		return
	}
	src := sourceID(env.Source)
	ev, ok := h.normalizer.NormalizeSerialized(payload.Method, payload.Args, src, env.Millis(), payload.Location)
	if !ok {
		return
	}
	if err := h.events.Submit(ctx, ev); err != nil {
		h.logger.Warn("dropping console event", slog.String("source", src), slog.String("error", err.Error()))
	}
}

func (h *Hub) connectionStatus(ctx context.Context, c *client, env *codec.Envelope) {
	status, err := env.ConnectionStatus()
	if err != nil {
		h.logger.Warn("ignoring malformed connection status", slog.String("client_id", c.id), slog.String("error", err.Error()))
		return
	}
	if status.Status != codec.StatusConnected || env.Source == nil {
		h.logger.Debug("extension status", slog.String("client_id", c.id), slog.String("status", status.Status), slog.String("reason", status.Reason))
		return
	}

	meta := *env.Source
	c.mu.Lock()
	c.meta = &meta
	c.browser = status.ClientInfo
	c.mu.Unlock()

	line := fmt.Sprintf("✓ Extension connected (Tab %d: %s)", meta.TabID, meta.URL)
	if err := h.events.Notice(ctx, sourceID(&meta), line); err != nil {
		h.logger.Warn("dropping connection notice", slog.String("error", err.Error()))
	}
}

func (h *Hub) drop(ctx context.Context, c *client) {
	h.mu.Lock()
	delete(h.clients, c.id)
	h.mu.Unlock()
	c.conn.Close()

	c.mu.Lock()
	meta := c.meta
	c.mu.Unlock()
	h.logger.Info("extension disconnected", slog.String("client_id", c.id))
	if meta == nil {
		return
	}
	line := fmt.Sprintf("❌ Extension disconnected (Tab %d: %s)", meta.TabID, meta.URL)
	if err := h.events.Notice(ctx, sourceID(meta), line); err != nil {
		h.logger.Debug("dropping disconnect notice", slog.String("error", err.Error()))
	}
}

func (h *Hub) reply(c *client, typ codec.MessageType, payload any) {
	data, err := codec.Encode(typ, nil, payload)
	if err != nil {
		h.logger.Error("encode reply", slog.String("type", string(typ)), slog.String("error", err.Error()))
		return
	}
	if err := c.send(data); err != nil {
		h.logger.Warn("send reply", slog.String("client_id", c.id), slog.String("type", string(typ)), slog.String("error", err.Error()))
	}
}

// Clients lists connected extensions ordered by connection time.
func (h *Hub) Clients() []ClientInfo {
	h.mu.RLock()
	out := make([]ClientInfo, 0, len(h.clients))
	for _, c := range h.clients {
		out = append(out, c.info())
	}
	h.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].ConnectedAt.Equal(out[j].ConnectedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].ConnectedAt.Before(out[j].ConnectedAt)
	})
	return out
}

// Len returns the number of connected extensions.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// CloseAll sends a close frame to every client and waits for their
// connection handlers to finish or ctx to end.
func (h *Hub) CloseAll(ctx context.Context) error {
	h.mu.RLock()
	clients := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "console-bridge shutting down")
	for _, c := range clients {
		c.writeMu.Lock()
		c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		c.writeMu.Unlock()
		c.conn.Close()
	}

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// sourceID picks the lane key for an extension tab: its URL, or the tab
// id when the URL is unknown.
func sourceID(src *domain.Source) string {
	if src == nil {
		return "extension"
	}
	if src.URL != "" {
		return src.URL
	}
	return "tab:" + strconv.Itoa(src.TabID)
}
