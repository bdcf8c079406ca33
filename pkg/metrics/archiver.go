package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	BytesCaptured = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "archiver_bytes_captured_total",
		Help: "Total raw stream bytes written to segment files",
	})

	CaptureSessionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "archiver_capture_sessions_active",
		Help: "Number of capture sessions currently archiving",
	})

	CaptureFaults = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "archiver_capture_faults_total",
		Help: "Total capture faults that forced a session to close",
	})

	ProgressNotifications = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "archiver_progress_notifications_total",
		Help: "Total progress notifications sent to the control plane",
	})

	FragmentsReplayed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "archiver_fragments_replayed_total",
		Help: "Total non-padding fragments delivered during replay",
	})

	WindowRotations = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "archiver_window_rotations_total",
		Help: "Total term window rotations across capture and replay",
	})
)
