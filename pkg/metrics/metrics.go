// Package metrics holds the moderation counters shared by the engine,
// the gate, the sweeper and the admin API.
package metrics

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"
)

// Metrics tracks runtime statistics.
// All counters use atomic operations for lock-free concurrent access.
type Metrics struct {
	startTime time.Time

	// Engine counters
	BansIssued   atomic.Int64 // bans recorded
	MutesIssued  atomic.Int64 // mutes recorded
	KicksIssued  atomic.Int64 // kicks recorded
	Unbans       atomic.Int64 // unban calls that cleared at least one ban
	Unmutes      atomic.Int64 // unmute calls that cleared at least one mute
	EngineErrors atomic.Int64 // engine operations that failed on storage

	// Gate counters
	LoginsChecked atomic.Int64 // login attempts evaluated
	LoginsDenied  atomic.Int64 // logins refused (banned or unverifiable)
	ChatBlocked   atomic.Int64 // chat messages suppressed
	SwitchNotices atomic.Int64 // mute reminders sent on server switch
	GateFailures  atomic.Int64 // gate checks that hit a storage error

	// Sweeper counters
	SweepRuns          atomic.Int64 // sweep passes started
	SweepFailures      atomic.Int64 // sweep passes that failed
	PunishmentsExpired atomic.Int64 // records deactivated by the sweeper

	// Event counters
	EventsPublished atomic.Int64 // events handed to external sinks
	EventsFailed    atomic.Int64 // events an external sink rejected

	// Sessions
	ActiveSessions atomic.Int64 // connections currently registered
}

// New creates a new Metrics instance with the start time set to now.
func New() *Metrics {
	return &Metrics{
		startTime: time.Now(),
	}
}

// Snapshot is a point-in-time view of all metrics as a serializable struct.
type Snapshot struct {
	Uptime        string `json:"uptime"`
	UptimeSeconds int64  `json:"uptime_seconds"`

	BansIssued   int64 `json:"bans_issued"`
	MutesIssued  int64 `json:"mutes_issued"`
	KicksIssued  int64 `json:"kicks_issued"`
	Unbans       int64 `json:"unbans"`
	Unmutes      int64 `json:"unmutes"`
	EngineErrors int64 `json:"engine_errors"`

	LoginsChecked int64 `json:"logins_checked"`
	LoginsDenied  int64 `json:"logins_denied"`
	ChatBlocked   int64 `json:"chat_blocked"`
	SwitchNotices int64 `json:"switch_notices"`
	GateFailures  int64 `json:"gate_failures"`

	SweepRuns          int64 `json:"sweep_runs"`
	SweepFailures      int64 `json:"sweep_failures"`
	PunishmentsExpired int64 `json:"punishments_expired"`

	EventsPublished int64 `json:"events_published"`
	EventsFailed    int64 `json:"events_failed"`

	ActiveSessions int64 `json:"active_sessions"`
}

// Snapshot returns a read-consistent snapshot of all metrics.
func (m *Metrics) Snapshot() Snapshot {
	uptime := time.Since(m.startTime)
	return Snapshot{
		Uptime:             uptime.Truncate(time.Second).String(),
		UptimeSeconds:      int64(uptime.Seconds()),
		BansIssued:         m.BansIssued.Load(),
		MutesIssued:        m.MutesIssued.Load(),
		KicksIssued:        m.KicksIssued.Load(),
		Unbans:             m.Unbans.Load(),
		Unmutes:            m.Unmutes.Load(),
		EngineErrors:       m.EngineErrors.Load(),
		LoginsChecked:      m.LoginsChecked.Load(),
		LoginsDenied:       m.LoginsDenied.Load(),
		ChatBlocked:        m.ChatBlocked.Load(),
		SwitchNotices:      m.SwitchNotices.Load(),
		GateFailures:       m.GateFailures.Load(),
		SweepRuns:          m.SweepRuns.Load(),
		SweepFailures:      m.SweepFailures.Load(),
		PunishmentsExpired: m.PunishmentsExpired.Load(),
		EventsPublished:    m.EventsPublished.Load(),
		EventsFailed:       m.EventsFailed.Load(),
		ActiveSessions:     m.ActiveSessions.Load(),
	}
}

// JSON returns the metrics snapshot as a JSON string.
func (m *Metrics) JSON() string {
	data, err := json.MarshalIndent(m.Snapshot(), "", "  ")
	if err != nil {
		return "{}"
	}
	return string(data)
}

// LogSummary writes a periodic metrics summary to log.
func (m *Metrics) LogSummary(log *slog.Logger) {
	s := m.Snapshot()
	log.Info("metrics",
		"uptime", s.Uptime,
		"sessions", s.ActiveSessions,
		"bans", s.BansIssued,
		"mutes", s.MutesIssued,
		"kicks", s.KicksIssued,
		"logins_denied", s.LoginsDenied,
		"expired", s.PunishmentsExpired,
		"gate_failures", s.GateFailures,
	)
}

// StartPeriodicLog starts a goroutine that logs metrics every interval.
// It stops when the done channel is closed.
func (m *Metrics) StartPeriodicLog(log *slog.Logger, interval time.Duration, done <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				m.LogSummary(log)
			}
		}
	}()
}

// ContentType is the Prometheus text exposition content type.
const ContentType = "text/plain; version=0.0.4; charset=utf-8"

// WritePrometheus writes all metrics in Prometheus text exposition format.
func (m *Metrics) WritePrometheus(w io.Writer) {
	uptime := time.Since(m.startTime).Seconds()

	// Write errors are non-actionable; suppress errcheck.
	write := func(name, help, mtype string, value int64) {
		_, _ = fmt.Fprintf(w, "# HELP %s %s\n", name, help)
		_, _ = fmt.Fprintf(w, "# TYPE %s %s\n", name, mtype)
		_, _ = fmt.Fprintf(w, "%s %d\n", name, value)
	}
	writeFloat := func(name, help, mtype string, value float64) {
		_, _ = fmt.Fprintf(w, "# HELP %s %s\n", name, help)
		_, _ = fmt.Fprintf(w, "# TYPE %s %s\n", name, mtype)
		_, _ = fmt.Fprintf(w, "%s %f\n", name, value)
	}

	writeFloat("warden_uptime_seconds", "Process uptime in seconds.", "gauge", uptime)

	write("warden_bans_issued_total", "Bans recorded.", "counter", m.BansIssued.Load())
	write("warden_mutes_issued_total", "Mutes recorded.", "counter", m.MutesIssued.Load())
	write("warden_kicks_issued_total", "Kicks recorded.", "counter", m.KicksIssued.Load())
	write("warden_unbans_total", "Unban calls that cleared a ban.", "counter", m.Unbans.Load())
	write("warden_unmutes_total", "Unmute calls that cleared a mute.", "counter", m.Unmutes.Load())
	write("warden_engine_errors_total", "Engine operations failed on storage.", "counter", m.EngineErrors.Load())

	write("warden_logins_checked_total", "Login attempts evaluated.", "counter", m.LoginsChecked.Load())
	write("warden_logins_denied_total", "Logins refused.", "counter", m.LoginsDenied.Load())
	write("warden_chat_blocked_total", "Chat messages suppressed.", "counter", m.ChatBlocked.Load())
	write("warden_switch_notices_total", "Mute reminders sent on server switch.", "counter", m.SwitchNotices.Load())
	write("warden_gate_failures_total", "Gate checks that hit a storage error.", "counter", m.GateFailures.Load())

	write("warden_sweep_runs_total", "Sweep passes started.", "counter", m.SweepRuns.Load())
	write("warden_sweep_failures_total", "Sweep passes that failed.", "counter", m.SweepFailures.Load())
	write("warden_punishments_expired_total", "Records deactivated by the sweeper.", "counter", m.PunishmentsExpired.Load())

	write("warden_events_published_total", "Events handed to external sinks.", "counter", m.EventsPublished.Load())
	write("warden_events_failed_total", "Events rejected by an external sink.", "counter", m.EventsFailed.Load())

	write("warden_sessions_active", "Connections currently registered.", "gauge", m.ActiveSessions.Load())
}
