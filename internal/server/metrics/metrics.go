// Package metrics exposes relay counters to Prometheus. No label ever
// carries an address, a short code or message content.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Auth results.
const (
	AuthSuccess          = "success"
	AuthInvalidSignature = "invalid_signature"
	AuthSuspended        = "suspended"
	AuthTimeout          = "timeout"
	AuthDirectoryError   = "directory_error"
)

// Delivery paths.
const (
	PathStored = "stored"
	PathLive   = "live"
)

// Storage operations.
const (
	OpStore     = "store"
	OpHistory   = "history"
	OpReport    = "report"
	OpDirectory = "directory"
	OpReap      = "reap"
)

// Metrics holds the relay collectors.
type Metrics struct {
	ConnectionsActive prometheus.Gauge
	Auth              *prometheus.CounterVec
	Messages          *prometheus.CounterVec
	StorageFaults     *prometheus.CounterVec
	AbuseReports      prometheus.Counter
	Enforcements      prometheus.Counter
	ReaperDeleted     prometheus.Counter
}

// New creates the collectors and registers them with reg. A nil reg leaves
// them unregistered.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "relay_connections_active",
				Help: "Number of open WebSocket connections",
			},
		),
		Auth: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_auth_total",
				Help: "Number of handshake outcomes",
			},
			[]string{"result"},
		),
		Messages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_messages_total",
				Help: "Number of relayed messages by delivery path",
			},
			[]string{"path"},
		),
		StorageFaults: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_storage_faults_total",
				Help: "Number of failed storage operations",
			},
			[]string{"op"},
		),
		AbuseReports: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "relay_abuse_reports_total",
				Help: "Number of accepted abuse reports",
			},
		),
		Enforcements: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "relay_enforcements_total",
				Help: "Number of connections closed for suspension",
			},
		),
		ReaperDeleted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "relay_reaper_deleted_total",
				Help: "Number of expired messages deleted",
			},
		),
	}

	if reg != nil {
		reg.MustRegister(
			m.ConnectionsActive,
			m.Auth,
			m.Messages,
			m.StorageFaults,
			m.AbuseReports,
			m.Enforcements,
			m.ReaperDeleted,
		)
	}
	return m
}
