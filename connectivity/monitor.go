// Package connectivity tracks whether the remote system is reachable and
// notifies subscribers on state transitions. The sync engine registers an
// online callback here to trigger replay.
package connectivity

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/tillsync/tillsync/logging"
)

// Probe answers a single reachability question.
type Probe interface {
	// Check reports whether the remote is reachable right now.
	Check(ctx context.Context) bool
}

// ProbeFunc adapts a function to the Probe interface.
type ProbeFunc func(ctx context.Context) bool

func (f ProbeFunc) Check(ctx context.Context) bool { return f(ctx) }

// HTTPProbe checks reachability with a HEAD request against a health URL.
// Any 2xx or 3xx response counts as online.
type HTTPProbe struct {
	URL    string
	Client *http.Client
}

// NewHTTPProbe creates a probe against url with a bounded request timeout.
func NewHTTPProbe(url string, timeout time.Duration) *HTTPProbe {
	return &HTTPProbe{
		URL:    url,
		Client: &http.Client{Timeout: timeout},
	}
}

func (p *HTTPProbe) Check(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.URL, nil)
	if err != nil {
		return false
	}
	resp, err := p.Client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 400
}

// Options configures a Monitor.
type Options struct {
	// Probe decides reachability on each poll tick. Required for Start;
	// a monitor driven purely by SetOnline may leave it nil.
	Probe Probe

	// Interval between polls. Default 15s.
	Interval time.Duration

	// InitiallyOnline is the state before the first probe result.
	InitiallyOnline bool

	// Logger for transition logging. Defaults to the process logger.
	Logger *logging.Logger
}

// setDefaults applies default values to the options
func (o *Options) setDefaults() {
	if o.Interval == 0 {
		o.Interval = 15 * time.Second
	}
	if o.Logger == nil {
		o.Logger = logging.WithComponent(logging.Component("connectivity"))
	}
}

// Monitor tracks online state and fires callbacks exactly once per
// transition. Callbacks run outside the monitor lock.
type Monitor struct {
	options Options

	mu        sync.RWMutex
	online    bool
	closed    bool
	onOnline  []func()
	onOffline []func()

	cancel context.CancelFunc
	done   chan struct{}
}

// NewMonitor creates a monitor. Call Start to begin polling, or drive the
// state externally with SetOnline.
func NewMonitor(options Options) *Monitor {
	options.setDefaults()
	return &Monitor{
		options: options,
		online:  options.InitiallyOnline,
	}
}

// Online reports the current state.
func (m *Monitor) Online() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.online
}

// OnOnline registers a callback for offline-to-online transitions.
func (m *Monitor) OnOnline(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onOnline = append(m.onOnline, fn)
}

// OnOffline registers a callback for online-to-offline transitions.
func (m *Monitor) OnOffline(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onOffline = append(m.onOffline, fn)
}

// SetOnline records a state observation. Callbacks fire only when the state
// actually changes, so repeated observations of the same state are cheap.
func (m *Monitor) SetOnline(online bool) {
	m.mu.Lock()
	if m.closed || m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online

	var callbacks []func()
	if online {
		callbacks = append(callbacks, m.onOnline...)
	} else {
		callbacks = append(callbacks, m.onOffline...)
	}
	m.mu.Unlock()

	m.options.Logger.Info("connectivity changed", slog.Bool("online", online))

	for _, fn := range callbacks {
		fn()
	}
}

// Start begins polling the probe until ctx is cancelled or Close is called.
// It returns immediately; polling runs on its own goroutine. Without a probe
// there is nothing to poll and Start is a no-op.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.closed || m.cancel != nil {
		m.mu.Unlock()
		return
	}
	if m.options.Probe == nil {
		m.mu.Unlock()
		m.options.Logger.Warn("no probe configured, polling not started")
		return
	}
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	m.mu.Unlock()

	go m.poll(ctx)
}

func (m *Monitor) poll(ctx context.Context) {
	defer close(m.done)

	ticker := time.NewTicker(m.options.Interval)
	defer ticker.Stop()

	// First check happens immediately, not one interval in.
	m.SetOnline(m.options.Probe.Check(ctx))

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.SetOnline(m.options.Probe.Check(ctx))
		}
	}
}

// Close stops polling and drops all callbacks. Safe to call more than once.
func (m *Monitor) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	cancel := m.cancel
	done := m.done
	m.onOnline = nil
	m.onOffline = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	return nil
}
