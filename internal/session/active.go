package session

import (
	"context"
	"sync"
	"time"

	"asistencia/internal/recordstore"
)

// Active is the in-process handle for one running session: its countdown and
// lifecycle state. All mutation happens through Tick, Run and close, guarded
// by one mutex.
type Active struct {
	mu        sync.Mutex
	sess      recordstore.CheckinSession
	remaining int
	state     State
	quit      chan struct{}
	quitOnce  sync.Once
}

// Session returns the persisted session data.
func (a *Active) Session() recordstore.CheckinSession {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sess
}

// Remaining returns the countdown in seconds.
func (a *Active) Remaining() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.remaining
}

// State returns the current lifecycle state.
func (a *Active) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Accepting reports whether the session still takes new automatic commits.
func (a *Active) Accepting() bool {
	return a.State() == StateActive
}

// Tick advances the countdown by one second. At zero the session expires and
// the monitor display must stop accepting new attendance; persisted records
// remain valid.
func (a *Active) Tick() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state != StateActive {
		return
	}
	a.remaining--
	if a.remaining <= 0 {
		a.remaining = 0
		a.state = StateExpired
	}
}

// Run drives the session on a periodic clock: one Tick per interval plus an
// optional read-only poll (the monitor's attendance refresh). It returns when
// the session leaves ACTIVE, is closed, or ctx is cancelled — no dangling
// timers.
func (a *Active) Run(ctx context.Context, interval time.Duration, poll func(context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-a.quit:
			return
		case <-ticker.C:
			a.Tick()
			if poll != nil {
				poll(ctx)
			}
			if a.State() != StateActive {
				return
			}
		}
	}
}

// close marks the session CLOSED and releases its run loop.
func (a *Active) close() {
	a.mu.Lock()
	a.state = StateClosed
	a.mu.Unlock()
	a.quitOnce.Do(func() { close(a.quit) })
}
