package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Sync metrics
	SyncCycles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracksync_sync_cycles_total",
			Help: "Sync cycles by outcome (clean, partial, skipped)",
		},
		[]string{"outcome"},
	)

	SyncRecords = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracksync_sync_records_total",
			Help: "Records processed by the sync scheduler by kind and result",
		},
		[]string{"kind", "result"},
	)

	SyncConsecutiveFailures = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tracksync_sync_consecutive_failures",
			Help: "Number of consecutive sync cycles with at least one failed record",
		},
	)

	SyncCycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tracksync_sync_cycle_duration_seconds",
			Help:    "Duration of a sync cycle",
			Buckets: prometheus.DefBuckets,
		},
	)

	SyncPending = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tracksync_sync_pending",
			Help: "Unsynced records left after the last cycle",
		},
		[]string{"kind"},
	)

	// Network metrics
	NetworkEstablished = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tracksync_network_established",
			Help: "Whether the remote API is reachable (1 = reachable, 0 = offline)",
		},
	)

	// Recorder metrics
	RecorderState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tracksync_recorder_state",
			Help: "Recorder state (0 = stopped, 1 = recording, 2 = paused)",
		},
	)

	IntervalsRecorded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tracksync_intervals_recorded_total",
			Help: "Intervals flushed to the local store",
		},
	)

	// Plugin metrics
	PluginInstalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracksync_plugin_installs_total",
			Help: "Plugin install attempts by result",
		},
		[]string{"result"},
	)

	// IPC metrics
	IPCDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tracksync_ipc_dropped_total",
			Help: "UI messages dropped because the bus was full",
		},
	)
)

// Recorder state values
const (
	StateStopped   = 0
	StateRecording = 1
	StatePaused    = 2
)

func init() {
	prometheus.MustRegister(SyncCycles)
	prometheus.MustRegister(SyncRecords)
	prometheus.MustRegister(SyncConsecutiveFailures)
	prometheus.MustRegister(SyncCycleDuration)
	prometheus.MustRegister(SyncPending)
	prometheus.MustRegister(NetworkEstablished)
	prometheus.MustRegister(RecorderState)
	prometheus.MustRegister(IntervalsRecorded)
	prometheus.MustRegister(PluginInstalls)
	prometheus.MustRegister(IPCDropped)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// SetBool sets g to 1 or 0
func SetBool(g prometheus.Gauge, v bool) {
	if v {
		g.Set(1)
		return
	}
	g.Set(0)
}

// Timer measures an operation for a histogram
type Timer struct {
	start time.Time
}

func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDuration records the elapsed seconds into h
func (t *Timer) ObserveDuration(h prometheus.Observer) {
	h.Observe(t.Duration().Seconds())
}
