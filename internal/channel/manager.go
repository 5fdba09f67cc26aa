package channel

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/osvaldoandrade/docsync/internal/backoff"
	"github.com/osvaldoandrade/docsync/internal/metrics"
	"github.com/osvaldoandrade/docsync/pkg/domain"
)

// Manager keeps a best-effort persistent logical connection on top of
// connections that may drop at any time, and fans decoded events out to
// subscribers. After the reconnect budget is exhausted it settles into a
// persistent Disconnected state and tells state subscribers so, rather than
// failing silently; callers are expected to degrade to polling-only mode.
type Manager struct {
	factory     Factory
	url         string
	logger      *slog.Logger
	policy      string
	base        time.Duration
	max         time.Duration
	maxAttempts int
	rng         *rand.Rand

	mu          sync.Mutex
	status      State
	attempts    int
	lastErr     error
	conn        Conn
	subIDs      []string
	subs        map[string]func(domain.Event)
	stateSubIDs []string
	stateSubs   map[string]func(State)
	started     bool

	cancel context.CancelFunc
	done   chan struct{}
}

// NewManager wires a reconnect policy around a connection factory. Zero
// values pick the defaults: fixed 5s interval, 10 attempts.
func NewManager(factory Factory, url string, logger *slog.Logger, policy string, base, max time.Duration, maxAttempts int) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if policy == "" {
		policy = "fixed"
	}
	if base <= 0 {
		base = 5 * time.Second
	}
	if max <= 0 {
		max = base
	}
	if maxAttempts <= 0 {
		maxAttempts = 10
	}
	return &Manager{
		factory:     factory,
		url:         url,
		logger:      logger.With("component", "channel"),
		policy:      policy,
		base:        base,
		max:         max,
		maxAttempts: maxAttempts,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
		status:      StateClosed,
		subs:        make(map[string]func(domain.Event)),
		stateSubs:   make(map[string]func(State)),
		done:        make(chan struct{}),
	}
}

// Start launches the supervision loop. It returns immediately; connection
// progress is observable through Status and state subscriptions.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return errors.New("channel manager already started")
	}
	m.started = true
	m.status = StateConnecting
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.mu.Unlock()

	m.setGauge(StateConnecting)
	go m.run(runCtx)
	return nil
}

func (m *Manager) run(ctx context.Context) {
	defer close(m.done)
	for {
		conn := m.factory(m.url, m.logger)
		conn.OnMessage(m.dispatch)

		if err := conn.Open(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			if m.recordFailure(err) {
				return
			}
			if !m.wait(ctx) {
				return
			}
			continue
		}

		m.setOpen(conn)

		select {
		case <-ctx.Done():
			_ = conn.Close()
			return
		case err := <-conn.Done():
			m.noteDrop(err)
		}
		if !m.wait(ctx) {
			return
		}
	}
}

// Close tears the channel down. Safe to call more than once.
func (m *Manager) Close() error {
	m.mu.Lock()
	cancel := m.cancel
	conn := m.conn
	m.conn = nil
	started := m.started
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close()
	}
	if started {
		<-m.done
	}

	m.mu.Lock()
	m.status = StateClosed
	m.mu.Unlock()
	m.setGauge(StateClosed)
	return nil
}

// Subscribe registers an event handler under id. Re-subscribing the same id
// replaces the handler; it never duplicates deliveries.
func (m *Manager) Subscribe(id string, fn func(domain.Event)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subs[id]; !ok {
		m.subIDs = append(m.subIDs, id)
	}
	m.subs[id] = fn
}

// Unsubscribe removes the handler registered under id. Unknown ids are a
// no-op.
func (m *Manager) Unsubscribe(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subs[id]; !ok {
		return
	}
	delete(m.subs, id)
	for i, sid := range m.subIDs {
		if sid == id {
			m.subIDs = append(m.subIDs[:i], m.subIDs[i+1:]...)
			break
		}
	}
}

// SubscribeState registers a connection-state observer under id.
func (m *Manager) SubscribeState(id string, fn func(State)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.stateSubs[id]; !ok {
		m.stateSubIDs = append(m.stateSubIDs, id)
	}
	m.stateSubs[id] = fn
}

// UnsubscribeState removes the state observer registered under id.
func (m *Manager) UnsubscribeState(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.stateSubs[id]; !ok {
		return
	}
	delete(m.stateSubs, id)
	for i, sid := range m.stateSubIDs {
		if sid == id {
			m.stateSubIDs = append(m.stateSubIDs[:i], m.stateSubIDs[i+1:]...)
			break
		}
	}
}

// Send transmits a payload over the current connection. While not open the
// payload is dropped with a warning; delivery is best effort by design.
func (m *Manager) Send(payload []byte) {
	m.mu.Lock()
	conn := m.conn
	status := m.status
	m.mu.Unlock()

	if status != StateOpen || conn == nil {
		m.logger.Warn("dropping send, channel not open", "state", string(status))
		return
	}
	if err := conn.Send(payload); err != nil {
		m.logger.Warn("channel send failed", "err", err)
	}
}

func (m *Manager) Status() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

func (m *Manager) Attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

func (m *Manager) LastError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

func (m *Manager) dispatch(raw string) {
	ev, err := domain.DecodeEvent([]byte(raw))
	if err != nil {
		metrics.EventDecodeFailuresTotal.Inc()
		m.logger.Warn("dropping undecodable frame", "err", err)
		return
	}
	if unk, ok := ev.(domain.UnknownEvent); ok {
		metrics.EventsReceivedTotal.WithLabelValues("unknown").Inc()
		m.logger.Debug("ignoring unknown event type", "type", unk.Type)
		return
	}
	metrics.EventsReceivedTotal.WithLabelValues(string(ev.Kind())).Inc()

	m.mu.Lock()
	fns := make([]func(domain.Event), 0, len(m.subIDs))
	for _, id := range m.subIDs {
		fns = append(fns, m.subs[id])
	}
	m.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}

// recordFailure accounts one failed connect attempt. It reports true when
// the budget is exhausted, in which case the manager has gone Disconnected
// and the supervision loop must stop.
func (m *Manager) recordFailure(err error) bool {
	m.mu.Lock()
	m.attempts++
	m.lastErr = err
	attempts := m.attempts
	exhausted := attempts >= m.maxAttempts
	if exhausted {
		m.status = StateDisconnected
	} else {
		m.status = StateReconnecting
	}
	status := m.status
	m.mu.Unlock()

	metrics.ChannelReconnectsTotal.Inc()
	if exhausted {
		m.logger.Error("channel reconnect budget exhausted", "attempts", attempts, "err", err)
	} else {
		m.logger.Warn("channel connect failed", "attempt", attempts, "err", err)
	}
	m.notifyState(status)
	return exhausted
}

func (m *Manager) setOpen(conn Conn) {
	m.mu.Lock()
	m.conn = conn
	m.attempts = 0
	m.lastErr = nil
	m.status = StateOpen
	m.mu.Unlock()

	m.logger.Info("channel open")
	m.notifyState(StateOpen)
}

func (m *Manager) noteDrop(err error) {
	m.mu.Lock()
	m.conn = nil
	m.lastErr = err
	m.status = StateReconnecting
	m.mu.Unlock()

	m.logger.Warn("channel dropped", "err", err)
	m.notifyState(StateReconnecting)
}

func (m *Manager) wait(ctx context.Context) bool {
	m.mu.Lock()
	attempts := m.attempts
	m.mu.Unlock()

	delay := backoff.Compute(m.policy, m.base, m.max, attempts, m.rng)
	select {
	case <-ctx.Done():
		return false
	case <-time.After(delay):
		return true
	}
}

func (m *Manager) notifyState(s State) {
	m.setGauge(s)
	m.mu.Lock()
	fns := make([]func(State), 0, len(m.stateSubIDs))
	for _, id := range m.stateSubIDs {
		fns = append(fns, m.stateSubs[id])
	}
	m.mu.Unlock()

	for _, fn := range fns {
		fn(s)
	}
}

func (m *Manager) setGauge(s State) {
	var v float64
	switch s {
	case StateConnecting:
		v = 1
	case StateOpen:
		v = 2
	case StateReconnecting:
		v = 3
	case StateDisconnected:
		v = 4
	}
	metrics.ChannelState.Set(v)
}
