// Package checkin implements the two-step identity + one-time-code challenge
// that gates a student's attendance submission.
package checkin

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"asistencia/internal/recordstore"
	"asistencia/internal/reconcile"
	"asistencia/internal/rut"
)

var (
	ErrInvalidRUT         = errors.New("invalid RUT")
	ErrScreenCodeMismatch = errors.New("screen code mismatch")
	ErrStudentNotFound    = errors.New("RUT not found in the system")
	ErrOtpMismatch        = errors.New("OTP mismatch")
	ErrWrongStep          = errors.New("submission does not match the current step")
)

// Step of the challenge. Failures keep the flow on its current step.
type Step int

const (
	StepIdentity Step = iota + 1
	StepOTP
	StepDone
)

// StudentStore is the student lookup slice of the record store.
type StudentStore interface {
	List(ctx context.Context, f recordstore.Filter) ([]recordstore.Student, error)
}

// SessionStore resolves a session by id; a closed session is gone from the
// store, so lookup doubles as the liveness check.
type SessionStore interface {
	Get(ctx context.Context, id string) (recordstore.CheckinSession, error)
}

// Committer persists the attendance outcome of a completed flow.
type Committer interface {
	CommitAutomatic(ctx context.Context, sess recordstore.CheckinSession, studentID string) (recordstore.Attendance, error)
}

// GenerateOTP returns a 6-digit one-time code.
func GenerateOTP() string {
	return strconv.Itoa(100000 + rand.Intn(900000))
}

// Flow is one student's check-in attempt against a session. The OTP is
// generated and compared in-process and exposed only through DisplayOTP, the
// verifier-facing display channel.
type Flow struct {
	mu       sync.Mutex
	sess     recordstore.CheckinSession
	sessions SessionStore
	students StudentStore
	engine   Committer
	log      *zap.Logger

	step    Step
	student recordstore.Student
	otp     string
}

func NewFlow(sess recordstore.CheckinSession, sessions SessionStore, students StudentStore, engine Committer, log *zap.Logger) *Flow {
	return &Flow{
		sess:     sess,
		sessions: sessions,
		students: students,
		engine:   engine,
		log:      log,
		step:     StepIdentity,
	}
}

// Step returns the flow's current step.
func (f *Flow) Step() Step {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.step
}

// Session returns the session this flow runs against.
func (f *Flow) Session() recordstore.CheckinSession {
	return f.sess
}

// Student returns the verified student once step 1 has passed.
func (f *Flow) Student() (recordstore.Student, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.student, f.step > StepIdentity
}

// DisplayOTP is the only channel the generated code leaves the flow through.
func (f *Flow) DisplayOTP() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.otp
}

// SubmitIdentity runs step 1: RUT check digit, exact screen code match, then
// student lookup by canonical RUT over all students, so "12345678-5" finds a
// roster entry stored as "12.345.678-5". On success a 6-digit OTP is generated
// and the flow advances to step 2.
func (f *Flow) SubmitIdentity(ctx context.Context, rutStr, screenCode string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.step != StepIdentity {
		return ErrWrongStep
	}

	if !rut.Validate(rutStr) {
		return ErrInvalidRUT
	}
	if screenCode != f.sess.CodigoPantalla {
		return ErrScreenCodeMismatch
	}

	students, err := f.students.List(ctx, nil)
	if err != nil {
		return fmt.Errorf("student lookup: %w", err)
	}
	canonical := rut.Format(rutStr)
	for _, s := range students {
		if strings.EqualFold(rut.Format(s.RUT), canonical) {
			f.student = s
			f.otp = GenerateOTP()
			f.step = StepOTP
			f.log.Info("identity verified, OTP issued",
				zap.String("session_id", f.sess.ID),
				zap.String("student_id", s.ID))
			return nil
		}
	}
	return ErrStudentNotFound
}

// SubmitOTP runs step 2: exact string equality with the issued code. On
// success the attendance commit runs and the flow completes; a mismatch keeps
// the flow on step 2 with no record created.
func (f *Flow) SubmitOTP(ctx context.Context, code string) (recordstore.Attendance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.step != StepOTP {
		return recordstore.Attendance{}, ErrWrongStep
	}
	if code != f.otp {
		return recordstore.Attendance{}, ErrOtpMismatch
	}

	// The monitor may have closed the session while this flow was in flight;
	// a deleted session must not receive a new record.
	if _, err := f.sessions.Get(ctx, f.sess.ID); err != nil {
		if errors.Is(err, recordstore.ErrNotFound) {
			f.step = StepDone
			return recordstore.Attendance{}, ErrFlowExpired
		}
		return recordstore.Attendance{}, fmt.Errorf("session lookup: %w", err)
	}

	rec, err := f.engine.CommitAutomatic(ctx, f.sess, f.student.ID)
	if err != nil {
		if errors.Is(err, reconcile.ErrWindowExpired) {
			// Terminal for this attempt; the student needs a new session.
			f.step = StepDone
		}
		return recordstore.Attendance{}, err
	}

	f.step = StepDone
	return rec, nil
}
