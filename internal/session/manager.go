// Package session tracks the lifecycle of check-in sessions: creation,
// countdown, expiry, resumption and explicit close.
package session

import (
	"context"
	"fmt"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"asistencia/internal/metrics"
	"asistencia/internal/recordstore"
)

// State is the lifecycle state of a tracked session.
type State int

const (
	StateNone State = iota
	StateActive
	StateExpired
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "ACTIVE"
	case StateExpired:
		return "EXPIRED"
	case StateClosed:
		return "CLOSED"
	default:
		return "NONE"
	}
}

// Store is the slice of the record store the manager needs.
type Store interface {
	Create(ctx context.Context, s recordstore.CheckinSession) (recordstore.CheckinSession, error)
	List(ctx context.Context, f recordstore.Filter) ([]recordstore.CheckinSession, error)
	Get(ctx context.Context, id string) (recordstore.CheckinSession, error)
	Delete(ctx context.Context, id string) error
}

// Manager creates, resumes, expires and closes check-in sessions. One per
// process; individual sessions are tracked as Active handles.
type Manager struct {
	store      Store
	log        *zap.Logger
	countdown  int           // seconds a session accepts check-ins
	visibility time.Duration // how long a session stays listed/resumable
	now        func() time.Time
	rng        *rand.Rand

	mu      sync.Mutex
	actives map[string]*Active
}

// NewManager builds a manager with the configured countdown (seconds) and
// visibility window.
func NewManager(store Store, countdown int, visibility time.Duration, log *zap.Logger) *Manager {
	return &Manager{
		store:      store,
		log:        log,
		countdown:  countdown,
		visibility: visibility,
		now:        time.Now,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
		actives:    make(map[string]*Active),
	}
}

// Start opens a new session for a workshop: opaque id, 4-digit display code,
// persisted immediately, ACTIVE with a full countdown. Several sessions may
// run concurrently for the same workshop.
func (m *Manager) Start(ctx context.Context, workshopID string) (*Active, error) {
	m.mu.Lock()
	code := strconv.Itoa(1000 + m.rng.Intn(9000))
	m.mu.Unlock()

	sess := recordstore.CheckinSession{
		ID:             uuid.NewString(),
		TallerID:       workshopID,
		CodigoPantalla: code,
		Inicio:         m.now().UTC(),
	}
	persisted, err := m.store.Create(ctx, sess)
	if err != nil {
		return nil, fmt.Errorf("start session: %w", err)
	}

	a := m.track(persisted, m.countdown)
	metrics.SessionsStarted.Inc()
	m.log.Info("session started",
		zap.String("session_id", persisted.ID),
		zap.String("workshop_id", workshopID),
		zap.String("display_code", code))
	return a, nil
}

// Resume re-activates a previously created session. The countdown is
// recomputed from the original start; a session past its countdown comes back
// already EXPIRED.
func (m *Manager) Resume(sess recordstore.CheckinSession) *Active {
	elapsed := int(m.now().Sub(sess.Inicio).Seconds())
	remaining := m.countdown - elapsed
	if remaining < 0 {
		remaining = 0
	}
	a := m.track(sess, remaining)
	m.log.Info("session resumed",
		zap.String("session_id", sess.ID),
		zap.Int("remaining_seconds", remaining),
		zap.String("state", a.State().String()))
	return a
}

// ActiveSessions lists a workshop's stored sessions still inside the
// visibility window. This is advisory for resume/close, independent of each
// session's own countdown.
func (m *Manager) ActiveSessions(ctx context.Context, workshopID string) ([]recordstore.CheckinSession, error) {
	all, err := m.store.List(ctx, recordstore.Filter{"taller_id": workshopID})
	if err != nil {
		return nil, err
	}
	now := m.now()
	var out []recordstore.CheckinSession
	for _, s := range all {
		if now.Sub(s.Inicio) < m.visibility {
			out = append(out, s)
		}
	}
	return out, nil
}

// Lookup resolves a stored session by id, for the public check-in entry URL.
func (m *Manager) Lookup(ctx context.Context, id string) (recordstore.CheckinSession, error) {
	return m.store.Get(ctx, id)
}

// Close deletes the stored session unconditionally and stops any local
// tracking. Existing attendance records are untouched and outlive the session.
func (m *Manager) Close(ctx context.Context, id string) error {
	if err := m.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("close session %s: %w", id, err)
	}

	m.mu.Lock()
	a := m.actives[id]
	delete(m.actives, id)
	m.mu.Unlock()
	if a != nil {
		a.close()
	}

	metrics.SessionsClosed.Inc()
	m.log.Info("session closed", zap.String("session_id", id))
	return nil
}

// Tracked returns the in-process handle for a session id, if any.
func (m *Manager) Tracked(id string) (*Active, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.actives[id]
	return a, ok
}

func (m *Manager) track(sess recordstore.CheckinSession, remaining int) *Active {
	a := &Active{
		sess:      sess,
		remaining: remaining,
		state:     StateActive,
		quit:      make(chan struct{}),
	}
	if remaining <= 0 {
		a.remaining = 0
		a.state = StateExpired
	}
	m.mu.Lock()
	// A session resumed while still tracked supersedes its old handle; the
	// previous run loop must stop, not keep ticking unreachable.
	if prev, ok := m.actives[sess.ID]; ok {
		prev.close()
	}
	m.actives[sess.ID] = a
	m.mu.Unlock()
	return a
}
