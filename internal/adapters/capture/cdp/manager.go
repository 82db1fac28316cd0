// Package cdp captures console output from pages opened in a browser it
// drives over the Chrome DevTools Protocol.
package cdp

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/ysmood/gson"

	"github.com/tjfontaine/console-bridge/internal/core/domain"
	"github.com/tjfontaine/console-bridge/internal/normalize"
	"github.com/tjfontaine/console-bridge/internal/serialize"
	"github.com/tjfontaine/console-bridge/internal/source"
)

var (
	ErrNotStarted     = errors.New("browser capture is not started")
	ErrAlreadyStarted = errors.New("browser capture is already started")
	ErrAlreadyActive  = errors.New("url is already being captured")
	ErrNotActive      = errors.New("url is not being captured")
)

// Events receives normalized events.
type Events interface {
	Submit(ctx context.Context, ev domain.LogEvent) error
}

// Config selects the browser and the pages to open. Limits bounds what is
// read from the page for each console argument.
type Config struct {
	URLs       []string
	Headless   bool
	BrowserBin string
	Limits     serialize.Limits
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger for browser and page lifecycle messages.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// Manager owns one browser and a page per captured URL.
type Manager struct {
	cfg        Config
	normalizer *normalize.Normalizer
	events     Events
	logger     *slog.Logger

	mu       sync.Mutex
	ctx      context.Context
	cancel   context.CancelFunc
	launcher *launcher.Launcher
	browser  *rod.Browser
	pages    map[string]*pageCapture
}

type pageCapture struct {
	url    string
	page   *rod.Page
	cancel context.CancelFunc
	done   chan struct{}
}

// NewManager creates a Manager. Nothing is launched until Start.
func NewManager(cfg Config, n *normalize.Normalizer, events Events, opts ...Option) *Manager {
	if n == nil {
		n = normalize.New(nil)
	}
	cfg.Limits = serialize.New(cfg.Limits).Limits()
	m := &Manager{
		cfg:        cfg,
		normalizer: n,
		events:     events,
		logger:     slog.Default(),
		pages:      make(map[string]*pageCapture),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start launches the browser and opens every configured URL. A URL that
// fails to open is logged and skipped.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.browser != nil {
		m.mu.Unlock()
		return ErrAlreadyStarted
	}

	l := launcher.New().Headless(m.cfg.Headless)
	if m.cfg.BrowserBin != "" {
		l = l.Bin(m.cfg.BrowserBin)
	}
	controlURL, err := l.Launch()
	if err != nil {
		m.mu.Unlock()
		return fmt.Errorf("launch browser: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	browser := rod.New().ControlURL(controlURL).Context(runCtx)
	if err := browser.Connect(); err != nil {
		cancel()
		l.Kill()
		m.mu.Unlock()
		return fmt.Errorf("connect to browser: %w", err)
	}
	m.ctx, m.cancel = runCtx, cancel
	m.launcher, m.browser = l, browser
	m.mu.Unlock()

	m.logger.Info("browser started", slog.Bool("headless", m.cfg.Headless))

	for _, u := range m.cfg.URLs {
		if err := m.AddURL(ctx, u); err != nil {
			m.logger.Error("failed to capture url", slog.String("url", u), slog.String("error", err.Error()))
		}
	}
	return nil
}

// AddURL opens raw in a new page and starts forwarding its console.
func (m *Manager) AddURL(ctx context.Context, raw string) error {
	u, err := source.Normalize(raw)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.browser == nil {
		return ErrNotStarted
	}
	if _, ok := m.pages[u]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyActive, u)
	}

	page, err := m.browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return fmt.Errorf("open page: %w", err)
	}

	pageCtx, cancel := context.WithCancel(m.ctx)
	pc := &pageCapture{url: u, page: page, cancel: cancel, done: make(chan struct{})}
	if err := m.listen(pageCtx, pc); err != nil {
		cancel()
		_ = page.Close()
		return err
	}
	if err := page.Context(ctx).Navigate(u); err != nil {
		cancel()
		<-pc.done
		_ = page.Close()
		return fmt.Errorf("navigate to %s: %w", u, err)
	}
	m.pages[u] = pc

	m.logger.Info("capturing console", slog.String("url", u))
	return nil
}

// listen subscribes to the page's console, exception and network events.
// Subscriptions survive navigation, so reloads keep being captured.
func (m *Manager) listen(ctx context.Context, pc *pageCapture) error {
	page := pc.page.Context(ctx)
	for _, enable := range []interface{ Call(proto.Client) error }{
		proto.RuntimeEnable{},
		proto.NetworkEnable{},
	} {
		if err := enable.Call(page); err != nil {
			return fmt.Errorf("enable page domains: %w", err)
		}
	}

	remote := pageRemote{page: page}
	requests := make(requestTracker)

	wait := page.EachEvent(
		func(e *proto.RuntimeConsoleAPICalled) {
			conv := newConverter(remote, m.cfg.Limits)
			for _, obs := range consoleObservations(e, pc.url, conv) {
				m.submit(ctx, obs)
			}
		},
		func(e *proto.RuntimeExceptionThrown) {
			m.submit(ctx, exceptionObservation(e, pc.url))
		},
		func(e *proto.NetworkRequestWillBeSent) {
			requests.sent(e)
		},
		func(e *proto.NetworkLoadingFinished) {
			requests.finished(e.RequestID)
		},
		func(e *proto.NetworkLoadingFailed) {
			if url, ok := requests.failed(e); ok {
				m.submit(ctx, requestFailedObservation(url, e.ErrorText, pc.url))
			}
		},
		func(e *proto.InspectorTargetCrashed) {
			m.logger.Warn("page crashed, reloading", slog.String("url", pc.url))
			go func() {
				if err := pc.page.Context(ctx).Reload(); err != nil {
					m.logger.Error("page reload failed", slog.String("url", pc.url), slog.String("error", err.Error()))
				}
			}()
		},
	)
	go func() {
		defer close(pc.done)
		wait()
	}()
	return nil
}

func (m *Manager) submit(ctx context.Context, obs normalize.Observation) {
	ev, ok := m.normalizer.Normalize(obs)
	if !ok {
		return
	}
	if err := m.events.Submit(ctx, ev); err != nil && ctx.Err() == nil {
		m.logger.Warn("dropping console event", slog.String("url", obs.Source), slog.String("error", err.Error()))
	}
}

// RemoveURL stops capturing raw and closes its page.
func (m *Manager) RemoveURL(raw string) error {
	u, err := source.Normalize(raw)
	if err != nil {
		return err
	}
	m.mu.Lock()
	pc, ok := m.pages[u]
	delete(m.pages, u)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotActive, u)
	}
	return closePage(pc)
}

func closePage(pc *pageCapture) error {
	pc.cancel()
	<-pc.done
	if err := pc.page.Close(); err != nil {
		return fmt.Errorf("close page %s: %w", pc.url, err)
	}
	return nil
}

// ActiveURLs lists the captured URLs in sorted order.
func (m *Manager) ActiveURLs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	urls := make([]string, 0, len(m.pages))
	for u := range m.pages {
		urls = append(urls, u)
	}
	slices.Sort(urls)
	return urls
}

// IsActive reports whether raw is being captured.
func (m *Manager) IsActive(raw string) bool {
	u, err := source.Normalize(raw)
	if err != nil {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.pages[u]
	return ok
}

// Stop closes every page and the browser.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	if m.browser == nil {
		m.mu.Unlock()
		return nil
	}
	pages := m.pages
	m.pages = make(map[string]*pageCapture)
	browser, l, cancel := m.browser, m.launcher, m.cancel
	m.browser, m.launcher, m.cancel = nil, nil, nil
	m.mu.Unlock()

	var errs []error
	for _, pc := range pages {
		if err := closePage(pc); err != nil {
			errs = append(errs, err)
		}
	}

	done := make(chan error, 1)
	go func() { done <- browser.Close() }()
	select {
	case err := <-done:
		if err != nil {
			errs = append(errs, fmt.Errorf("close browser: %w", err))
		}
	case <-ctx.Done():
		errs = append(errs, ctx.Err())
	}
	cancel()
	l.Kill()
	l.Cleanup()

	m.logger.Info("browser stopped")
	return errors.Join(errs...)
}

//go:embed snapshot.js
var snapshotFunction string

// pageRemote reads objects of one page over the protocol.
type pageRemote struct {
	page *rod.Page
}

// Snapshot runs snapshotFunction on the object and decodes the returned
// value tree.
func (p pageRemote) Snapshot(id proto.RuntimeRemoteObjectID, limits serialize.Limits) (domain.Value, error) {
	res, err := proto.RuntimeCallFunctionOn{
		FunctionDeclaration: snapshotFunction,
		ObjectID:            id,
		Arguments:           []*proto.RuntimeCallArgument{{Value: gson.New(snapshotLimits(limits))}},
		Silent:              true,
		ReturnByValue:       true,
	}.Call(p.page)
	if err != nil {
		return domain.Value{}, fmt.Errorf("snapshot: %w", err)
	}
	if res.ExceptionDetails != nil {
		return domain.Value{}, fmt.Errorf("snapshot threw: %s", res.ExceptionDetails.Text)
	}
	return decodeSnapshot(res.Result)
}

func (p pageRemote) Properties(id proto.RuntimeRemoteObjectID) (*proto.RuntimeGetPropertiesResult, error) {
	return proto.RuntimeGetProperties{ObjectID: id, OwnProperties: true}.Call(p.page)
}

func snapshotLimits(l serialize.Limits) map[string]int {
	return map[string]int{
		"maxDepth":  l.MaxDepth,
		"maxString": l.MaxStringLength,
		"maxArray":  l.MaxArrayLength,
		"maxKeys":   l.MaxObjectKeys,
		"maxMap":    l.MaxMapEntries,
		"maxSet":    l.MaxSetValues,
	}
}

// decodeSnapshot reads the by-value result of snapshotFunction, which uses
// the extension's wire shape.
func decodeSnapshot(ro *proto.RuntimeRemoteObject) (domain.Value, error) {
	if ro == nil || ro.Value.Nil() {
		return domain.Value{}, errors.New("snapshot: empty result")
	}
	var v domain.Value
	if err := json.Unmarshal([]byte(ro.Value.JSON("", "")), &v); err != nil {
		return domain.Value{}, fmt.Errorf("snapshot: decode: %w", err)
	}
	return v, nil
}
