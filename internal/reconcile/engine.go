// Package reconcile computes and persists authoritative attendance state,
// merging automatic time-derived commits with manual monitor overrides under
// an audit trail.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"asistencia/internal/metrics"
	"asistencia/internal/recordstore"
)

var (
	// ErrWindowExpired rejects automatic check-ins past the 10-minute mark.
	// No record is created; the student's state stays implicitly Ausente.
	ErrWindowExpired = errors.New("check-in window expired")

	// ErrCommentRequired rejects manual overrides without a justification.
	ErrCommentRequired = errors.New("manual change requires a justification comment")

	// ErrInvalidState rejects states outside the known set.
	ErrInvalidState = errors.New("invalid attendance state")
)

// Thresholds for the automatic status derivation, relative to session start.
const (
	PresentWindow = 5 * time.Minute
	LateWindow    = 10 * time.Minute
)

// Store is the attendance slice of the record store.
type Store interface {
	List(ctx context.Context, f recordstore.Filter) ([]recordstore.Attendance, error)
	Create(ctx context.Context, a recordstore.Attendance) (recordstore.Attendance, error)
	Update(ctx context.Context, id string, patch map[string]any) (recordstore.Attendance, error)
}

// Engine reconciles attendance for (session, student) pairs. It guarantees at
// most one record per pair: a second commit updates in place.
type Engine struct {
	store Store
	log   *zap.Logger
	now   func() time.Time
}

func NewEngine(store Store, log *zap.Logger) *Engine {
	return &Engine{store: store, log: log, now: time.Now}
}

// CommitAutomatic records a successful self-check-in. Status derives from the
// elapsed time since session start: Presente within 5 minutes, Con Atraso
// within 10, rejected afterwards.
func (e *Engine) CommitAutomatic(ctx context.Context, sess recordstore.CheckinSession, studentID string) (recordstore.Attendance, error) {
	now := e.now()
	delta := now.Sub(sess.Inicio)

	var estado string
	switch {
	case delta <= PresentWindow:
		estado = recordstore.EstadoPresente
	case delta <= LateWindow:
		estado = recordstore.EstadoAtraso
	default:
		metrics.CheckinsRejected.Inc()
		return recordstore.Attendance{}, ErrWindowExpired
	}

	existing, err := e.find(ctx, sess.ID, studentID)
	if err != nil {
		return recordstore.Attendance{}, err
	}

	var rec recordstore.Attendance
	if existing != nil {
		// Second submission for the same pair updates, never duplicates.
		rec, err = e.store.Update(ctx, existing.ID, map[string]any{
			"estado":    estado,
			"timestamp": now.UTC(),
		})
	} else {
		rec, err = e.store.Create(ctx, recordstore.Attendance{
			SesionID:  sess.ID,
			AlumnoID:  studentID,
			Estado:    estado,
			Manual:    false,
			Timestamp: now.UTC(),
		})
	}
	if err != nil {
		return recordstore.Attendance{}, fmt.Errorf("commit attendance: %w", err)
	}

	metrics.Checkins.WithLabelValues(estado, "false").Inc()
	e.log.Info("automatic check-in committed",
		zap.String("session_id", sess.ID),
		zap.String("student_id", studentID),
		zap.String("estado", estado),
		zap.Duration("delta", delta))
	return rec, nil
}

// CommitManual applies a monitor override. The justification comment is
// mandatory; an existing record is edited in place keeping its creation
// timestamp, otherwise a new manual record is created.
func (e *Engine) CommitManual(ctx context.Context, sessionID, studentID, estado, comment, modifier string) (recordstore.Attendance, error) {
	if strings.TrimSpace(comment) == "" {
		return recordstore.Attendance{}, ErrCommentRequired
	}
	switch estado {
	case recordstore.EstadoPresente, recordstore.EstadoAtraso, recordstore.EstadoAusente:
	default:
		return recordstore.Attendance{}, fmt.Errorf("%w: %q", ErrInvalidState, estado)
	}

	existing, err := e.find(ctx, sessionID, studentID)
	if err != nil {
		return recordstore.Attendance{}, err
	}

	now := e.now().UTC()
	var rec recordstore.Attendance
	if existing != nil {
		rec, err = e.store.Update(ctx, existing.ID, map[string]any{
			"estado":                 estado,
			"comentario":             comment,
			"modificado_por":         modifier,
			"timestamp_modificacion": now,
		})
	} else {
		rec, err = e.store.Create(ctx, recordstore.Attendance{
			SesionID:   sessionID,
			AlumnoID:   studentID,
			Estado:     estado,
			Manual:     true,
			Comentario: comment,
			Timestamp:  now,
		})
	}
	if err != nil {
		return recordstore.Attendance{}, fmt.Errorf("manual override: %w", err)
	}

	metrics.Checkins.WithLabelValues(estado, "true").Inc()
	e.log.Info("manual override committed",
		zap.String("session_id", sessionID),
		zap.String("student_id", studentID),
		zap.String("estado", estado),
		zap.String("modifier", modifier))
	return rec, nil
}

// Records fetches the session's attendance, uncached. Re-evaluated on every
// poll of the monitor view.
func (e *Engine) Records(ctx context.Context, sessionID string) ([]recordstore.Attendance, error) {
	return e.store.List(ctx, recordstore.Filter{"sesion_id": sessionID})
}

// StatusOf returns the stored state for a student or the implicit Ausente.
func StatusOf(records []recordstore.Attendance, studentID string) string {
	for _, r := range records {
		if r.AlumnoID == studentID {
			return r.Estado
		}
	}
	return recordstore.EstadoAusente
}

// Counts are derived aggregates, never stored.
type Counts struct {
	Present int `json:"presentes"`
	Late    int `json:"con_atraso"`
	Absent  int `json:"ausentes"`
}

// Summarize tallies present/late and infers absences from the roster size.
func Summarize(records []recordstore.Attendance, totalStudents int) Counts {
	c := Counts{Absent: totalStudents - len(records)}
	for _, r := range records {
		switch r.Estado {
		case recordstore.EstadoPresente:
			c.Present++
		case recordstore.EstadoAtraso:
			c.Late++
		}
	}
	if c.Absent < 0 {
		c.Absent = 0
	}
	return c
}

func (e *Engine) find(ctx context.Context, sessionID, studentID string) (*recordstore.Attendance, error) {
	records, err := e.store.List(ctx, recordstore.Filter{"sesion_id": sessionID, "alumno_id": studentID})
	if err != nil {
		return nil, fmt.Errorf("lookup attendance: %w", err)
	}
	if len(records) == 0 {
		return nil, nil
	}
	return &records[0], nil
}
