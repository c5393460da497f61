package session

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"asistencia/internal/recordstore"
)

// mockStore is an in-memory session store.
type mockStore struct {
	mu       sync.Mutex
	sessions map[string]recordstore.CheckinSession
	failNext error
}

func newMockStore() *mockStore {
	return &mockStore{sessions: make(map[string]recordstore.CheckinSession)}
}

func (m *mockStore) Create(_ context.Context, s recordstore.CheckinSession) (recordstore.CheckinSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failNext != nil {
		err := m.failNext
		m.failNext = nil
		return recordstore.CheckinSession{}, err
	}
	m.sessions[s.ID] = s
	return s, nil
}

func (m *mockStore) List(_ context.Context, f recordstore.Filter) ([]recordstore.CheckinSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []recordstore.CheckinSession
	for _, s := range m.sessions {
		if w, ok := f["taller_id"]; ok && s.TallerID != w {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

func (m *mockStore) Get(_ context.Context, id string) (recordstore.CheckinSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return recordstore.CheckinSession{}, recordstore.ErrNotFound
	}
	return s, nil
}

func (m *mockStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; !ok {
		return recordstore.ErrNotFound
	}
	delete(m.sessions, id)
	return nil
}

func testManager(store Store) *Manager {
	return NewManager(store, 600, 15*time.Minute, zap.NewNop())
}

func TestStartGeneratesCodeAndPersists(t *testing.T) {
	store := newMockStore()
	m := testManager(store)

	a, err := m.Start(context.Background(), "t1")
	if err != nil {
		t.Fatal(err)
	}
	sess := a.Session()
	if sess.ID == "" {
		t.Error("session id must be assigned")
	}
	code, err := strconv.Atoi(sess.CodigoPantalla)
	if err != nil || code < 1000 || code > 9999 {
		t.Errorf("display code %q outside 1000-9999", sess.CodigoPantalla)
	}
	if a.State() != StateActive || a.Remaining() != 600 {
		t.Errorf("state=%v remaining=%d, want ACTIVE/600", a.State(), a.Remaining())
	}
	if _, ok := store.sessions[sess.ID]; !ok {
		t.Error("session not persisted")
	}
}

func TestConcurrentSessionsSameWorkshop(t *testing.T) {
	store := newMockStore()
	m := testManager(store)

	a1, _ := m.Start(context.Background(), "t1")
	a2, _ := m.Start(context.Background(), "t1")
	if a1.Session().ID == a2.Session().ID {
		t.Fatal("sessions must be independently tracked by id")
	}
	list, err := m.ActiveSessions(context.Background(), "t1")
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 {
		t.Errorf("expected 2 active sessions, got %d", len(list))
	}
}

func TestResumeRecomputesCountdown(t *testing.T) {
	m := testManager(newMockStore())
	base := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)

	cases := []struct {
		elapsed   time.Duration
		remaining int
		state     State
	}{
		{300 * time.Second, 300, StateActive},
		{601 * time.Second, 0, StateExpired},
		{0, 600, StateActive},
	}
	for _, c := range cases {
		m.now = func() time.Time { return base.Add(c.elapsed) }
		a := m.Resume(recordstore.CheckinSession{ID: "s", TallerID: "t1", Inicio: base})
		if a.Remaining() != c.remaining || a.State() != c.state {
			t.Errorf("elapsed %v: remaining=%d state=%v, want %d/%v",
				c.elapsed, a.Remaining(), a.State(), c.remaining, c.state)
		}
	}
}

func TestTickToExpiry(t *testing.T) {
	m := testManager(newMockStore())
	m.countdown = 3
	a, err := m.Start(context.Background(), "t1")
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 2; i++ {
		a.Tick()
	}
	if a.State() != StateActive || a.Remaining() != 1 {
		t.Fatalf("after 2 ticks: state=%v remaining=%d", a.State(), a.Remaining())
	}
	a.Tick()
	if a.State() != StateExpired || a.Remaining() != 0 {
		t.Fatalf("after expiry: state=%v remaining=%d", a.State(), a.Remaining())
	}
	if a.Accepting() {
		t.Error("expired session must not accept new attendance")
	}
	// Ticking past zero stays expired.
	a.Tick()
	if a.Remaining() != 0 {
		t.Error("countdown must not go negative")
	}
}

func TestActiveSessionsVisibilityWindow(t *testing.T) {
	store := newMockStore()
	m := testManager(store)
	base := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return base }

	store.sessions["recent"] = recordstore.CheckinSession{ID: "recent", TallerID: "t1", Inicio: base.Add(-14 * time.Minute)}
	store.sessions["stale"] = recordstore.CheckinSession{ID: "stale", TallerID: "t1", Inicio: base.Add(-16 * time.Minute)}
	store.sessions["other"] = recordstore.CheckinSession{ID: "other", TallerID: "t2", Inicio: base}

	list, err := m.ActiveSessions(context.Background(), "t1")
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].ID != "recent" {
		t.Errorf("visibility filter returned %+v, want only 'recent'", list)
	}
}

func TestCloseDeletesAndStopsTracking(t *testing.T) {
	store := newMockStore()
	m := testManager(store)

	a, _ := m.Start(context.Background(), "t1")
	id := a.Session().ID

	if err := m.Close(context.Background(), id); err != nil {
		t.Fatal(err)
	}
	if a.State() != StateClosed {
		t.Errorf("state after close = %v", a.State())
	}
	if _, ok := store.sessions[id]; ok {
		t.Error("session must be deleted from the store")
	}
	if _, ok := m.Tracked(id); ok {
		t.Error("closed session must leave the active listing")
	}
	if _, err := m.Lookup(context.Background(), id); !errors.Is(err, recordstore.ErrNotFound) {
		t.Errorf("lookup after close = %v, want ErrNotFound", err)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	m := testManager(newMockStore())
	a, _ := m.Start(context.Background(), "t1")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		a.Run(ctx, time.Millisecond, nil)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop on context cancel")
	}
}

func TestResumeSupersedesTrackedHandle(t *testing.T) {
	store := newMockStore()
	m := testManager(store)
	a1, _ := m.Start(context.Background(), "t1")
	sess := a1.Session()

	done := make(chan struct{})
	go func() {
		a1.Run(context.Background(), time.Millisecond, nil)
		close(done)
	}()

	// Resuming the same session must stop the first loop, not leave it
	// ticking behind the replacement.
	a2 := m.Resume(sess)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("superseded Run loop did not stop")
	}
	if a1.State() != StateClosed {
		t.Errorf("old handle state = %v, want CLOSED", a1.State())
	}
	if tracked, ok := m.Tracked(sess.ID); !ok || tracked != a2 {
		t.Error("manager must track the resumed handle")
	}

	if err := m.Close(context.Background(), sess.ID); err != nil {
		t.Fatal(err)
	}
	if a2.State() != StateClosed {
		t.Errorf("resumed handle state = %v, want CLOSED after Close", a2.State())
	}
}

func TestRunStopsOnExpiryAndPolls(t *testing.T) {
	m := testManager(newMockStore())
	m.countdown = 2
	a, _ := m.Start(context.Background(), "t1")

	var polls int
	done := make(chan struct{})
	go func() {
		a.Run(context.Background(), time.Millisecond, func(context.Context) { polls++ })
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop at expiry")
	}
	if a.State() != StateExpired {
		t.Errorf("state = %v, want EXPIRED", a.State())
	}
	if polls != 2 {
		t.Errorf("poll ran %d times, want 2", polls)
	}
}
