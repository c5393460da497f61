// Package metrics registers the process-wide Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SessionsStarted counts check-in sessions opened by monitors.
	SessionsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "asistencia_sessions_started_total",
		Help: "Check-in sessions started.",
	})

	// SessionsClosed counts sessions closed explicitly by monitors.
	SessionsClosed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "asistencia_sessions_closed_total",
		Help: "Check-in sessions closed by a monitor.",
	})

	// Checkins counts committed attendance records by resulting state.
	Checkins = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "asistencia_checkins_total",
		Help: "Attendance commits by resulting state.",
	}, []string{"estado", "manual"})

	// CheckinsRejected counts automatic commits refused outside the window.
	CheckinsRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "asistencia_checkins_rejected_total",
		Help: "Automatic check-ins rejected after the 10-minute deadline.",
	})

	// StoreRetries counts record store requests retried after 5xx/transport errors.
	StoreRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "asistencia_record_store_retries_total",
		Help: "Record store request retries.",
	})
)
