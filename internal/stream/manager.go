// Package stream fans session events out to subscribers with buffer replay,
// bounded per-subscriber queues and grace-period cleanup.
package stream

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tjfontaine/agent-router/internal/core/domain"
	"github.com/tjfontaine/agent-router/internal/telemetry"
)

var (
	// ErrDuplicateSession is returned when a live session already claims the id.
	ErrDuplicateSession = domain.NewAPIError(domain.ErrorTypeDuplicateSession, "session already exists")

	// ErrSessionNotFound is returned when publishing to an unknown session.
	ErrSessionNotFound = domain.ErrNotFound("session not found")

	// ErrSessionTerminal is returned when publishing after the terminal event.
	ErrSessionTerminal = errors.New("stream: session already received its terminal event")

	// ErrSubscriberOverflow is recorded on a subscription dropped for falling behind.
	ErrSubscriberOverflow = domain.NewAPIError(domain.ErrorTypeSubscriberOverflow, "subscriber queue overflowed")
)

const (
	DefaultQueueSize     = 64
	DefaultGracePeriod   = 30 * time.Second
	DefaultIdleTimeout   = 2 * time.Minute
	DefaultSweepInterval = 5 * time.Second
)

type session struct {
	id string

	// claimed is set by CreateSession. An unclaimed session exists only
	// because a subscriber arrived before the run.
	claimed bool
	// terminal is set once the terminal event is published.
	terminal bool
	// closed is set by CloseSession; the session is removed at expiresAt.
	closed    bool
	expiresAt time.Time

	createdAt time.Time
	buffer    []domain.StreamEvent
	subs      map[string]*Subscription
}

// Manager owns every live session. It is safe for concurrent use.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*session

	queueSize       int
	grace           time.Duration
	idle            time.Duration
	sweep           time.Duration
	onNoSubscribers func(id string)
	now             func() time.Time
	logger          *slog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithQueueSize bounds each subscriber's live-event queue.
func WithQueueSize(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.queueSize = n
		}
	}
}

// WithGracePeriod sets how long a closed session stays replayable.
func WithGracePeriod(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.grace = d
		}
	}
}

// WithIdleTimeout sets how long an unclaimed session may wait for a run.
func WithIdleTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.idle = d
		}
	}
}

// WithSweepInterval sets the janitor period used by Run.
func WithSweepInterval(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.sweep = d
		}
	}
}

// WithNoSubscribersFunc registers fn to be called when the last subscriber
// detaches from a claimed, non-terminal session.
func WithNoSubscribersFunc(fn func(id string)) Option {
	return func(m *Manager) {
		m.onNoSubscribers = fn
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// NewManager creates a Manager. Call Run to start the janitor.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		sessions:  make(map[string]*session),
		queueSize: DefaultQueueSize,
		grace:     DefaultGracePeriod,
		idle:      DefaultIdleTimeout,
		sweep:     DefaultSweepInterval,
		now:       time.Now,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SetNoSubscribersFunc replaces the callback registered with WithNoSubscribersFunc.
func (m *Manager) SetNoSubscribersFunc(fn func(id string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onNoSubscribers = fn
}

func (m *Manager) newSession(id string) *session {
	s := &session{
		id:        id,
		createdAt: m.now(),
		subs:      make(map[string]*Subscription),
	}
	m.sessions[id] = s
	telemetry.SessionOpened()
	return s
}

// CreateSession claims id for a run. A session pre-created by an early
// subscriber is claimed in place.
func (m *Manager) CreateSession(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[id]; ok {
		if s.claimed {
			return ErrDuplicateSession
		}
		s.claimed = true
		return nil
	}

	m.newSession(id).claimed = true
	return nil
}

// Exists reports whether a session, claimed or not, is held for id.
func (m *Manager) Exists(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sessions[id]
	return ok
}

// Claimed reports whether a run has claimed id and the session is not yet collected.
func (m *Manager) Claimed(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return ok && s.claimed
}

// Len returns the number of held sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// SubscriberCount returns the number of attached subscribers for id.
func (m *Manager) SubscriberCount(id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		return len(s.subs)
	}
	return 0
}

// Publish buffers ev and delivers it to every subscriber without blocking.
// A subscriber whose queue is full is dropped with ErrSubscriberOverflow.
func (m *Manager) Publish(id string, ev domain.StreamEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	if s.terminal {
		return ErrSessionTerminal
	}

	s.buffer = append(s.buffer, ev)
	for subID, sub := range s.subs {
		select {
		case sub.events <- ev:
		default:
			m.logger.Warn("subscriber overflowed, dropping",
				slog.String("context_id", id),
				slog.String("subscriber", subID),
				slog.Int("queue_size", m.queueSize))
			sub.err = ErrSubscriberOverflow
			m.detachLocked(s, sub)
			telemetry.RecordOverflow()
		}
	}

	if ev.Type.IsTerminal() {
		s.terminal = true
		for _, sub := range s.subs {
			m.detachLocked(s, sub)
		}
	}
	return nil
}

// Subscribe attaches a subscriber to id, creating an unclaimed session when
// none exists. The subscription receives connected, then the buffered events,
// then live events, and is closed after the terminal event.
func (m *Manager) Subscribe(id string) (*Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		s = m.newSession(id)
	}
	return m.attachLocked(s, id), nil
}

// SubscribeExisting is Subscribe without the implicit session: it reports
// false, and creates nothing, when id is not held.
func (m *Manager) SubscribeExisting(id string) (*Subscription, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, false
	}
	return m.attachLocked(s, id), true
}

func (m *Manager) attachLocked(s *session, id string) *Subscription {
	sub := &Subscription{
		id:        uuid.NewString(),
		sessionID: id,
		events:    make(chan domain.StreamEvent, 1+len(s.buffer)+m.queueSize),
		mgr:       m,
	}
	sub.events <- domain.NewConnectedEvent(id)
	for _, ev := range s.buffer {
		sub.events <- ev
	}

	if s.terminal {
		close(sub.events)
		sub.closed = true
		return sub
	}

	s.subs[sub.id] = sub
	telemetry.SubscriberAttached()
	return sub
}

// CloseSession marks id terminal and schedules its removal after the grace period.
func (m *Manager) CloseSession(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	if !s.terminal {
		s.terminal = true
		for _, sub := range s.subs {
			m.detachLocked(s, sub)
		}
	}
	if !s.closed {
		s.closed = true
		s.expiresAt = m.now().Add(m.grace)
	}
	return nil
}

// Sweep removes expired sessions and ends unclaimed sessions that waited
// longer than the idle timeout for a run.
func (m *Manager) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	removed := 0
	for id, s := range m.sessions {
		switch {
		case s.closed && !now.Before(s.expiresAt):
		case !s.claimed && now.Sub(s.createdAt) >= m.idle:
			ev := domain.NewErrorEvent(domain.ErrorTypeNotFound, "no run started for this session", nil)
			for _, sub := range s.subs {
				select {
				case sub.events <- ev:
				default:
				}
				m.detachLocked(s, sub)
			}
		default:
			continue
		}
		delete(m.sessions, id)
		telemetry.SessionClosed()
		removed++
	}
	return removed
}

// Run sweeps periodically until ctx is done.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.sweep)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.Sweep(); n > 0 {
				m.logger.Debug("swept sessions", slog.Int("removed", n))
			}
		}
	}
}

// Shutdown ends every subscription and drops all sessions.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, s := range m.sessions {
		for _, sub := range s.subs {
			m.detachLocked(s, sub)
		}
		delete(m.sessions, id)
		telemetry.SessionClosed()
	}
}

// detachLocked removes sub from s and closes its channel. m.mu must be held.
func (m *Manager) detachLocked(s *session, sub *Subscription) {
	if sub.closed {
		return
	}
	delete(s.subs, sub.id)
	close(sub.events)
	sub.closed = true
	telemetry.SubscriberDetached()
}

func (m *Manager) unsubscribe(sub *Subscription) {
	m.mu.Lock()
	s, ok := m.sessions[sub.sessionID]
	if !ok || sub.closed {
		m.mu.Unlock()
		return
	}
	m.detachLocked(s, sub)
	notify := s.claimed && !s.terminal && len(s.subs) == 0
	fn := m.onNoSubscribers
	m.mu.Unlock()

	if notify && fn != nil {
		fn(sub.sessionID)
	}
}

// Subscription is one subscriber's view of a session.
type Subscription struct {
	id        string
	sessionID string
	events    chan domain.StreamEvent
	mgr       *Manager

	// closed and err are guarded by mgr.mu.
	closed bool
	err    error
}

// ID returns the subscriber id.
func (s *Subscription) ID() string {
	return s.id
}

// Events yields the stream. It is closed after the terminal event, on
// overflow, or on Close.
func (s *Subscription) Events() <-chan domain.StreamEvent {
	return s.events
}

// Err returns ErrSubscriberOverflow if the subscriber was dropped for falling behind.
func (s *Subscription) Err() error {
	s.mgr.mu.Lock()
	defer s.mgr.mu.Unlock()
	return s.err
}

// Close detaches this subscriber only.
func (s *Subscription) Close() {
	s.mgr.unsubscribe(s)
}
