// Package metrics exposes Prometheus instrumentation for SMTP client
// connections.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Connection metrics
var (
	ConnectAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smtpconn_connect_attempts_total",
			Help: "Total number of connect attempts",
		},
		[]string{"security", "result"},
	)

	ConnectDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "smtpconn_connect_duration_seconds",
			Help:    "Time from dial to greeting in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"security"},
	)

	ConnectionsCurrent = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "smtpconn_connections_current",
			Help: "Current number of open SMTP connections",
		},
	)

	DisconnectsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smtpconn_disconnects_total",
			Help: "Total number of connection teardowns by reason",
		},
		[]string{"reason"},
	)

	TLSUpgradesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smtpconn_starttls_total",
			Help: "Total number of STARTTLS upgrades",
		},
		[]string{"result"},
	)
)

// Command metrics
var (
	CommandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smtpconn_commands_total",
			Help: "Total number of commands sent, by reply class",
		},
		[]string{"command", "status"},
	)

	CommandDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "smtpconn_command_duration_seconds",
			Help:    "Time from writing a command to its reply in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		},
		[]string{"command"},
	)
)

// Disconnect reasons.
const (
	ReasonClosed    = "closed"
	ReasonLost      = "lost"
	ReasonTimeout   = "timeout"
	ReasonCanceled  = "canceled"
	ReasonMalformed = "malformed"
	ReasonCourtesy  = "courtesy"
)

// Command statuses other than a reply class.
const (
	StatusError = "error"
)

// ReplyStatus maps an SMTP reply code to its status label ("2xx".."5xx").
func ReplyStatus(code int) string {
	switch code / 100 {
	case 2:
		return "2xx"
	case 3:
		return "3xx"
	case 4:
		return "4xx"
	case 5:
		return "5xx"
	default:
		return "other"
	}
}
