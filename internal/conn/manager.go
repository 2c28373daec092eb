// Package conn owns the persistent lobby connection lifecycle.
//
// One Manager holds at most one live WebSocket at a time, feeds parsed
// frames to the event sink, and drives reconnection with exponential
// backoff and jitter up to a hard attempt ceiling.
package conn

import (
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/mhoffm/lobbysync/internal/lobby"
	"github.com/mhoffm/lobbysync/internal/metrics"
)

// State is the connection lifecycle state.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateClosing
	StateReconnectScheduled
	StateClosed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateReconnectScheduled:
		return "reconnect_scheduled"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Sink receives parsed events and force-flush requests. Satisfied by
// *batch.Batcher.
type Sink interface {
	Add(lobby.Event)
	Flush()
}

const (
	defaultReconnectBase    = time.Second
	defaultReconnectMax     = 30 * time.Second
	defaultMaxAttempts      = 10
	defaultHandshakeTimeout = 10 * time.Second
)

// Config configures a Manager.
type Config struct {
	// URL is the lobby stream endpoint.
	URL string
	// Enabled gates the whole manager; Connect is a no-op when false.
	Enabled bool
	// ReconnectBase is the first backoff step.
	ReconnectBase time.Duration
	// ReconnectMax caps the exponential backoff.
	ReconnectMax time.Duration
	// MaxAttempts is the reconnect ceiling before entering Failed.
	MaxAttempts int
	// HandshakeTimeout bounds the WebSocket dial.
	HandshakeTimeout time.Duration
	// OnState is invoked on every state transition. It must not call
	// back into the Manager.
	OnState func(State)
}

// Manager drives the connection state machine. All mutation happens
// under one mutex; the read loop and reconnect timers carry a
// generation stamp so work for a torn-down connection is a no-op.
type Manager struct {
	cfg    Config
	clock  clockwork.Clock
	logger *slog.Logger
	sink   Sink
	dialer *websocket.Dialer

	mu       sync.Mutex
	state    State
	conn     *websocket.Conn
	attempt  int
	timer    clockwork.Timer
	timerSet bool
	gen      uint64
}

// NewManager creates a Manager feeding parsed frames into sink.
func NewManager(cfg Config, sink Sink, clock clockwork.Clock, logger *slog.Logger) *Manager {
	if cfg.ReconnectBase <= 0 {
		cfg.ReconnectBase = defaultReconnectBase
	}
	if cfg.ReconnectMax <= 0 {
		cfg.ReconnectMax = defaultReconnectMax
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = defaultHandshakeTimeout
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		cfg:    cfg,
		clock:  clock,
		logger: logger.With("component", "conn"),
		sink:   sink,
		dialer: &websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout},
		state:  StateIdle,
	}
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Attempts returns the current reconnect-attempt counter.
func (m *Manager) Attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempt
}

// Connect opens the connection. No-op when disabled or already
// open/connecting. Connecting while a reconnect is scheduled cancels
// the timer and dials immediately.
func (m *Manager) Connect() {
	if !m.cfg.Enabled {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case StateOpen, StateConnecting:
		return
	case StateFailed:
		// Manual reconnect after terminal failure starts a fresh cycle.
		m.attempt = 0
	}

	m.cancelTimerLocked()
	m.setStateLocked(StateConnecting)
	go m.dial(m.gen)
}

// Disconnect is idempotent: it cancels any pending reconnect timer,
// force-flushes the sink, and releases the connection.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cancelTimerLocked()
	m.gen++ // invalidate in-flight dials, timers, and the read loop

	if m.conn != nil {
		m.setStateLocked(StateClosing)
		deadline := m.clock.Now().Add(time.Second)
		_ = m.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client disconnect"), deadline)
		_ = m.conn.Close()
		m.conn = nil
	}

	m.sink.Flush()
	if m.state != StateIdle || m.timerSet {
		m.setStateLocked(StateClosed)
	}
}

// ErrNotConnected is returned by Send when the connection is not open.
var ErrNotConnected = errors.New("connection not open")

// writeWait bounds a single outbound write so a stalled peer cannot
// hold the manager lock indefinitely.
const writeWait = 10 * time.Second

// Send writes one JSON message over the open connection. Callers fall
// back to the offline queue on error.
func (m *Manager) Send(v any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateOpen || m.conn == nil {
		return fmt.Errorf("%w (state %s)", ErrNotConnected, m.state)
	}
	_ = m.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := m.conn.WriteJSON(v); err != nil {
		return fmt.Errorf("writing action frame: %w", err)
	}
	return nil
}

func (m *Manager) dial(gen uint64) {
	ws, _, err := m.dialer.Dial(m.cfg.URL, nil)

	m.mu.Lock()
	defer m.mu.Unlock()

	if gen != m.gen || m.state != StateConnecting {
		// Disconnected while dialing.
		if ws != nil {
			_ = ws.Close()
		}
		return
	}

	if err != nil {
		m.logger.Warn("dial failed", "url", m.cfg.URL, "error", err)
		m.scheduleReconnectLocked()
		return
	}

	m.conn = ws
	m.attempt = 0
	m.setStateLocked(StateOpen)
	m.logger.Info("connection open", "url", m.cfg.URL)
	go m.readLoop(ws, gen)
}

// readLoop parses inbound frames and feeds them to the sink. Malformed
// frames are dropped and counted, never fatal.
func (m *Manager) readLoop(ws *websocket.Conn, gen uint64) {
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			m.onReadClosed(gen, err)
			return
		}
		ev, perr := lobby.ParseFrame(data)
		if perr != nil {
			metrics.ConnectionMalformedFramesTotal.Inc()
			m.logger.Warn("dropping malformed frame", "error", perr)
			continue
		}
		m.sink.Add(ev)
	}
}

func (m *Manager) onReadClosed(gen uint64, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if gen != m.gen {
		// Deliberate disconnect already handled cleanup.
		return
	}

	m.logger.Warn("connection closed", "error", err)
	if m.conn != nil {
		_ = m.conn.Close()
		m.conn = nil
	}

	// Flush before anything else so no partial batch is lost to the drop.
	m.sink.Flush()

	if m.state == StateClosing {
		m.setStateLocked(StateClosed)
		return
	}
	m.scheduleReconnectLocked()
}

func (m *Manager) scheduleReconnectLocked() {
	if m.attempt >= m.cfg.MaxAttempts {
		m.setStateLocked(StateFailed)
		m.logger.Error("reconnect ceiling reached, giving up", "attempts", m.attempt)
		return
	}

	delay := m.backoffDelay(m.attempt)
	m.attempt++
	metrics.ConnectionReconnectsTotal.Inc()
	m.setStateLocked(StateReconnectScheduled)
	m.logger.Info("reconnect scheduled", "attempt", m.attempt, "delay", delay)

	gen := m.gen
	m.timerSet = true
	m.timer = m.clock.AfterFunc(delay, func() { m.onReconnectTimer(gen) })
}

func (m *Manager) onReconnectTimer(gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if gen != m.gen || m.state != StateReconnectScheduled {
		return
	}
	m.timerSet = false
	m.setStateLocked(StateConnecting)
	go m.dial(m.gen)
}

// backoffDelay is min(maxDelay, base*2^attempt) plus up to one base
// interval of jitter, so clients do not retry in lockstep.
func (m *Manager) backoffDelay(attempt int) time.Duration {
	delay := m.cfg.ReconnectBase
	for i := 0; i < attempt && delay < m.cfg.ReconnectMax; i++ {
		delay *= 2
	}
	if delay > m.cfg.ReconnectMax {
		delay = m.cfg.ReconnectMax
	}
	return delay + time.Duration(rand.Int64N(int64(m.cfg.ReconnectBase)))
}

func (m *Manager) cancelTimerLocked() {
	if m.timerSet {
		m.timer.Stop()
		m.timerSet = false
	}
}

func (m *Manager) setStateLocked(s State) {
	if m.state == s {
		return
	}
	m.state = s
	metrics.ConnectionState.Set(float64(s))
	if m.cfg.OnState != nil {
		m.cfg.OnState(s)
	}
}
