package conn

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"ledger-chat/internal/models"
	"ledger-chat/internal/timers"
)

type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Reconnecting
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	default:
		return "disconnected"
	}
}

type Config struct {
	URL         string
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxAttempts int
	Jitter      float64
	DialTimeout time.Duration
}

// Handlers receive lifecycle notifications and inbound events. They are invoked
// from the manager's goroutines and must not block.
type Handlers struct {
	OnOpen            func()
	OnClose           func(reason string)
	OnError           func(err error)
	OnEvent           func(env models.Envelope)
	OnReconnectFailed func(err error)
}

func (h Handlers) open() {
	if h.OnOpen != nil {
		h.OnOpen()
	}
}

func (h Handlers) close(reason string) {
	if h.OnClose != nil {
		h.OnClose(reason)
	}
}

func (h Handlers) fail(err error) {
	if h.OnError != nil {
		h.OnError(err)
	}
}

func (h Handlers) event(env models.Envelope) {
	if h.OnEvent != nil {
		h.OnEvent(env)
	}
}

func (h Handlers) exhausted(err error) {
	if h.OnReconnectFailed != nil {
		h.OnReconnectFailed(err)
	}
}

// Manager owns the single transport connection of a client session.
type Manager struct {
	cfg    Config
	dialer Dialer
	sched  timers.Scheduler
	log    *zap.Logger
	rand   func() float64

	mu         sync.Mutex
	state      State
	credential string
	attempts   int
	sock       Socket
	handlers   Handlers
	retry      timers.Timer
	lastErr    error
	// session is bumped by Connect and Disconnect; goroutines of an older session stand down.
	session uint64
}

func NewManager(cfg Config, dialer Dialer, sched timers.Scheduler, log *zap.Logger) *Manager {
	if sched == nil {
		sched = timers.Real{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 20 * time.Second
	}
	return &Manager{
		cfg:    cfg,
		dialer: dialer,
		sched:  sched,
		log:    log.Named("conn"),
		rand:   rand.Float64,
	}
}

func (m *Manager) SetHandlers(h Handlers) {
	m.mu.Lock()
	m.handlers = h
	m.mu.Unlock()
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) IsConnected() bool {
	return m.State() == Connected
}

func (m *Manager) Attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

// Connect opens the connection. It is a no-op while a connection is open or being
// established. A failed first dial is returned and also handed to the reconnect policy.
func (m *Manager) Connect(ctx context.Context, credential string) error {
	m.mu.Lock()
	if m.state != Disconnected {
		m.mu.Unlock()
		m.log.Debug("connect ignored", zap.Stringer("state", m.State()))
		return nil
	}
	m.session++
	session := m.session
	m.credential = credential
	m.attempts = 0
	m.state = Connecting
	m.mu.Unlock()

	m.log.Info("connecting", zap.String("url", m.cfg.URL))
	return m.dial(ctx, session)
}

// Reconnect starts a fresh connect cycle with the last credential after the
// reconnect budget ran out.
func (m *Manager) Reconnect(ctx context.Context) error {
	m.mu.Lock()
	cred := m.credential
	state := m.state
	m.mu.Unlock()
	if state != Disconnected || cred == "" {
		return nil
	}
	return m.Connect(ctx, cred)
}

// Disconnect closes the connection and forgets handlers, credential and retry state.
// It is safe to call any number of times.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.session++
	if m.retry != nil {
		m.retry.Stop()
		m.retry = nil
	}
	sock := m.sock
	m.sock = nil
	m.state = Disconnected
	m.credential = ""
	m.attempts = 0
	m.lastErr = nil
	m.handlers = Handlers{}
	m.mu.Unlock()

	if sock != nil {
		m.log.Info("disconnecting")
		_ = sock.Close()
	}
}

// Emit sends one event frame. It fails with ErrNotConnected unless the connection is open.
func (m *Manager) Emit(event string, payload interface{}) error {
	frame, err := models.EncodeEnvelope(event, payload)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != Connected || m.sock == nil {
		return ErrNotConnected
	}
	if err := m.sock.WriteMessage(frame); err != nil {
		return &ConnectionError{Op: "write", Err: err}
	}
	return nil
}

// Backoff returns the delay before reconnect attempt n (1-based), without jitter.
func (m *Manager) Backoff(n int) time.Duration {
	d := m.cfg.BaseDelay
	for i := 1; i < n && d < m.cfg.MaxDelay; i++ {
		d *= 2
	}
	if d > m.cfg.MaxDelay {
		d = m.cfg.MaxDelay
	}
	return d
}

func (m *Manager) delay(n int) time.Duration {
	d := m.Backoff(n)
	if m.cfg.Jitter > 0 {
		delta := float64(d) * m.cfg.Jitter * (2*m.rand() - 1)
		d += time.Duration(delta)
		if d > m.cfg.MaxDelay {
			d = m.cfg.MaxDelay
		}
		if d < 0 {
			d = 0
		}
	}
	return d
}

func (m *Manager) dial(ctx context.Context, session uint64) error {
	m.mu.Lock()
	cred := m.credential
	m.mu.Unlock()

	dctx, cancel := context.WithTimeout(ctx, m.cfg.DialTimeout)
	sock, err := m.dialer.Dial(dctx, m.cfg.URL, cred)
	cancel()

	m.mu.Lock()
	if session != m.session {
		// Disconnect raced with the dial.
		m.mu.Unlock()
		if sock != nil {
			_ = sock.Close()
		}
		return ErrNotConnected
	}

	if err != nil {
		cerr := &ConnectionError{Op: "dial", Err: err}
		m.lastErr = cerr
		h := m.handlers
		exhausted := m.scheduleRetryLocked(session, false)
		m.mu.Unlock()

		m.log.Warn("connection error", zap.Error(err), zap.Int("attempt", m.Attempts()))
		h.fail(cerr)
		if exhausted != nil {
			m.log.Error("reconnection failed", zap.Error(exhausted))
			h.exhausted(exhausted)
		}
		return cerr
	}

	reconnected := m.attempts > 0
	m.sock = sock
	m.state = Connected
	m.attempts = 0
	m.lastErr = nil
	h := m.handlers
	m.mu.Unlock()

	if reconnected {
		m.log.Info("reconnected")
	} else {
		m.log.Info("connected")
	}
	go m.readPump(session, sock)
	h.open()
	return nil
}

// scheduleRetryLocked counts the next attempt and arms its timer, or returns the
// terminal error once the budget is spent. immediate skips the backoff wait.
func (m *Manager) scheduleRetryLocked(session uint64, immediate bool) error {
	if m.attempts >= m.cfg.MaxAttempts {
		m.state = Disconnected
		m.retry = nil
		return &ReconnectExhaustedError{Attempts: m.attempts, Err: m.lastErr}
	}
	m.attempts++
	m.state = Reconnecting

	d := time.Duration(0)
	if !immediate {
		d = m.delay(m.attempts)
	}
	m.log.Info("reconnect scheduled", zap.Int("attempt", m.attempts), zap.Duration("delay", d))
	m.retry = m.sched.AfterFunc(d, func() { m.retryDial(session) })
	return nil
}

func (m *Manager) retryDial(session uint64) {
	m.mu.Lock()
	if session != m.session || m.state != Reconnecting {
		m.mu.Unlock()
		return
	}
	m.retry = nil
	m.mu.Unlock()

	_ = m.dial(context.Background(), session)
}

func (m *Manager) readPump(session uint64, sock Socket) {
	for {
		frame, err := sock.ReadMessage()
		if err != nil {
			m.handleClose(session, sock, err)
			return
		}

		env, err := models.DecodeEnvelope(frame)
		if err != nil {
			m.log.Warn("dropping malformed frame", zap.Error(err))
			continue
		}

		m.mu.Lock()
		h := m.handlers
		current := session == m.session && m.sock == sock
		m.mu.Unlock()
		if !current {
			return
		}
		h.event(env)
	}
}

func (m *Manager) handleClose(session uint64, sock Socket, err error) {
	m.mu.Lock()
	if session != m.session || m.sock != sock {
		m.mu.Unlock()
		return
	}
	m.sock = nil
	m.lastErr = &ConnectionError{Op: "read", Err: err}
	immediate := serverInitiated(err)
	h := m.handlers
	exhausted := m.scheduleRetryLocked(session, immediate)
	m.mu.Unlock()

	_ = sock.Close()
	reason := err.Error()
	if immediate {
		m.log.Warn("server closed connection, reconnecting now", zap.String("reason", reason))
	} else {
		m.log.Warn("connection lost", zap.String("reason", reason))
	}
	h.close(reason)
	if exhausted != nil {
		h.exhausted(exhausted)
	}
}
