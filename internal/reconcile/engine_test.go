package reconcile

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"asistencia/internal/recordstore"
)

// mockStore is an in-memory attendance collection.
type mockStore struct {
	mu      sync.Mutex
	nextID  int
	records map[string]recordstore.Attendance
}

func newMockStore() *mockStore {
	return &mockStore{records: make(map[string]recordstore.Attendance)}
}

func (m *mockStore) List(_ context.Context, f recordstore.Filter) ([]recordstore.Attendance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []recordstore.Attendance
	for _, r := range m.records {
		if v, ok := f["sesion_id"]; ok && r.SesionID != v {
			continue
		}
		if v, ok := f["alumno_id"]; ok && r.AlumnoID != v {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (m *mockStore) Create(_ context.Context, a recordstore.Attendance) (recordstore.Attendance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	a.ID = fmt.Sprintf("a%d", m.nextID)
	m.records[a.ID] = a
	return a, nil
}

func (m *mockStore) Update(_ context.Context, id string, patch map[string]any) (recordstore.Attendance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok {
		return recordstore.Attendance{}, recordstore.ErrNotFound
	}
	if v, ok := patch["estado"].(string); ok {
		r.Estado = v
	}
	if v, ok := patch["comentario"].(string); ok {
		r.Comentario = v
	}
	if v, ok := patch["modificado_por"].(string); ok {
		r.ModificadoPor = v
	}
	if v, ok := patch["timestamp_modificacion"].(time.Time); ok {
		r.Modificado = &v
	}
	if v, ok := patch["timestamp"].(time.Time); ok {
		r.Timestamp = v
	}
	m.records[id] = r
	return r, nil
}

func testEngine(store Store, at time.Time) *Engine {
	e := NewEngine(store, zap.NewNop())
	e.now = func() time.Time { return at }
	return e
}

var sessionStart = time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)

func testSession() recordstore.CheckinSession {
	return recordstore.CheckinSession{ID: "s1", TallerID: "t1", CodigoPantalla: "4321", Inicio: sessionStart}
}

func TestAutomaticCommitThresholds(t *testing.T) {
	cases := []struct {
		delta  time.Duration
		estado string
		err    error
	}{
		{0, recordstore.EstadoPresente, nil},
		{3 * time.Minute, recordstore.EstadoPresente, nil},
		{5 * time.Minute, recordstore.EstadoPresente, nil},
		{7 * time.Minute, recordstore.EstadoAtraso, nil},
		{10 * time.Minute, recordstore.EstadoAtraso, nil},
		{11 * time.Minute, "", ErrWindowExpired},
	}
	for _, c := range cases {
		store := newMockStore()
		e := testEngine(store, sessionStart.Add(c.delta))

		rec, err := e.CommitAutomatic(context.Background(), testSession(), "st1")
		if c.err != nil {
			if !errors.Is(err, c.err) {
				t.Errorf("delta %v: err = %v, want %v", c.delta, err, c.err)
			}
			if len(store.records) != 0 {
				t.Errorf("delta %v: rejected commit must create no record", c.delta)
			}
			records, _ := e.Records(context.Background(), "s1")
			if StatusOf(records, "st1") != recordstore.EstadoAusente {
				t.Errorf("delta %v: status must stay implicit Ausente", c.delta)
			}
			continue
		}
		if err != nil {
			t.Errorf("delta %v: %v", c.delta, err)
			continue
		}
		if rec.Estado != c.estado {
			t.Errorf("delta %v: estado = %q, want %q", c.delta, rec.Estado, c.estado)
		}
		if rec.Manual {
			t.Errorf("delta %v: automatic commit must have manual=false", c.delta)
		}
	}
}

func TestSecondSubmissionUpdatesNotDuplicates(t *testing.T) {
	store := newMockStore()
	ctx := context.Background()

	e := testEngine(store, sessionStart.Add(2*time.Minute))
	first, err := e.CommitAutomatic(ctx, testSession(), "st1")
	if err != nil {
		t.Fatal(err)
	}

	e.now = func() time.Time { return sessionStart.Add(8 * time.Minute) }
	second, err := e.CommitAutomatic(ctx, testSession(), "st1")
	if err != nil {
		t.Fatal(err)
	}
	if second.ID != first.ID {
		t.Errorf("second commit created new record %s, want update of %s", second.ID, first.ID)
	}
	if second.Estado != recordstore.EstadoAtraso {
		t.Errorf("estado = %q, want Con Atraso", second.Estado)
	}
	if len(store.records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(store.records))
	}
}

func TestManualCommitRequiresComment(t *testing.T) {
	store := newMockStore()
	e := testEngine(store, sessionStart)
	ctx := context.Background()

	for _, comment := range []string{"", "   ", "\t\n"} {
		_, err := e.CommitManual(ctx, "s1", "st1", recordstore.EstadoPresente, comment, "Monitor")
		if !errors.Is(err, ErrCommentRequired) {
			t.Errorf("comment %q: err = %v, want ErrCommentRequired", comment, err)
		}
	}
	if len(store.records) != 0 {
		t.Error("rejected manual commit must leave state unchanged")
	}
}

func TestManualCommitRejectedLeavesPriorStateUnchanged(t *testing.T) {
	store := newMockStore()
	ctx := context.Background()
	e := testEngine(store, sessionStart.Add(time.Minute))

	if _, err := e.CommitAutomatic(ctx, testSession(), "st1"); err != nil {
		t.Fatal(err)
	}
	if _, err := e.CommitManual(ctx, "s1", "st1", recordstore.EstadoAusente, "", "Monitor"); !errors.Is(err, ErrCommentRequired) {
		t.Fatalf("err = %v", err)
	}
	records, _ := e.Records(ctx, "s1")
	if StatusOf(records, "st1") != recordstore.EstadoPresente {
		t.Error("prior state must survive a rejected edit")
	}
}

func TestManualCommitCreatesWithManualFlag(t *testing.T) {
	store := newMockStore()
	e := testEngine(store, sessionStart.Add(20*time.Minute))
	ctx := context.Background()

	rec, err := e.CommitManual(ctx, "s1", "st1", recordstore.EstadoPresente, "llegó sin teléfono", "Monitor")
	if err != nil {
		t.Fatal(err)
	}
	if !rec.Manual {
		t.Error("created override must carry manual=true")
	}
	if rec.Comentario == "" {
		t.Error("comment must be stored")
	}
}

func TestManualCommitUpdatesPreservingCreation(t *testing.T) {
	store := newMockStore()
	ctx := context.Background()
	e := testEngine(store, sessionStart.Add(time.Minute))

	orig, err := e.CommitAutomatic(ctx, testSession(), "st1")
	if err != nil {
		t.Fatal(err)
	}

	editTime := sessionStart.Add(30 * time.Minute)
	e.now = func() time.Time { return editTime }
	edited, err := e.CommitManual(ctx, "s1", "st1", recordstore.EstadoAusente, "se retiró antes", "Monitor")
	if err != nil {
		t.Fatal(err)
	}
	if edited.ID != orig.ID {
		t.Error("edit must update in place")
	}
	if !edited.Timestamp.Equal(orig.Timestamp) {
		t.Error("creation timestamp must be preserved on edit")
	}
	if edited.Modificado == nil || !edited.Modificado.Equal(editTime) {
		t.Error("modification timestamp must be recorded")
	}
	if edited.ModificadoPor != "Monitor" {
		t.Errorf("modifier = %q", edited.ModificadoPor)
	}
	if edited.Estado != recordstore.EstadoAusente {
		t.Errorf("estado = %q", edited.Estado)
	}
}

func TestInvalidStateRejected(t *testing.T) {
	e := testEngine(newMockStore(), sessionStart)
	_, err := e.CommitManual(context.Background(), "s1", "st1", "Tarde", "comentario", "Monitor")
	if !errors.Is(err, ErrInvalidState) {
		t.Fatalf("err = %v, want ErrInvalidState", err)
	}
}

func TestOneRecordPerPairUnderInterleavings(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	students := []string{"st1", "st2", "st3"}
	states := []string{recordstore.EstadoPresente, recordstore.EstadoAtraso, recordstore.EstadoAusente}

	for run := 0; run < 50; run++ {
		store := newMockStore()
		e := testEngine(store, sessionStart)
		ctx := context.Background()

		for op := 0; op < 30; op++ {
			student := students[rng.Intn(len(students))]
			e.now = func() time.Time {
				return sessionStart.Add(time.Duration(rng.Intn(12)) * time.Minute)
			}
			if rng.Intn(2) == 0 {
				_, _ = e.CommitAutomatic(ctx, testSession(), student)
			} else {
				_, _ = e.CommitManual(ctx, "s1", student, states[rng.Intn(len(states))], "ajuste", "Monitor")
			}
		}

		records, _ := e.Records(ctx, "s1")
		seen := make(map[string]int)
		for _, r := range records {
			seen[r.SesionID+"/"+r.AlumnoID]++
		}
		for pair, n := range seen {
			if n > 1 {
				t.Fatalf("run %d: pair %s has %d records", run, pair, n)
			}
		}
	}
}

func TestSummarize(t *testing.T) {
	records := []recordstore.Attendance{
		{AlumnoID: "st1", Estado: recordstore.EstadoPresente},
		{AlumnoID: "st2", Estado: recordstore.EstadoPresente},
		{AlumnoID: "st3", Estado: recordstore.EstadoAtraso},
	}
	c := Summarize(records, 10)
	if c.Present != 2 || c.Late != 1 || c.Absent != 7 {
		t.Errorf("counts = %+v", c)
	}
	if got := StatusOf(records, "st3"); got != recordstore.EstadoAtraso {
		t.Errorf("StatusOf(st3) = %q", got)
	}
	if got := StatusOf(records, "st9"); got != recordstore.EstadoAusente {
		t.Errorf("StatusOf(st9) = %q, want implicit Ausente", got)
	}
}
