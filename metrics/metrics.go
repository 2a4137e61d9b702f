// Package metrics defines the prometheus metric types for the PD and MD
// engines, and is the Go-idiomatic mirror of the session statistics block
// (see session.Stats): the counters and gauges here are updated by the
// session work loop from the PD send and receive paths (spec.md §4.2,
// §4.3), the MD state machine (spec.md §4.4), the socket pool, and the
// duration of each Process call.
//
// When defining new operations or metrics, these are helpful values to
// track:
//   - things coming into or going out of the system: frames sent, frames
//     received, sessions opened.
//   - the success or error status of any of the above.
//   - the distribution of processing latency.
package metrics

import (
	"log"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PDSendTotal counts PD frames transmitted, labelled by comId.
	PDSendTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trdp_pd_send_total",
			Help: "Number of PD frames transmitted.",
		}, []string{"comid"})

	// PDReceiveTotal counts PD frames accepted and delivered to a subscription.
	PDReceiveTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trdp_pd_receive_total",
			Help: "Number of PD frames accepted and delivered.",
		}, []string{"comid"})

	// PDMissedTotal counts the sequence-counter gap detected on duplicate
	// or dropped PD frames (numMissed in spec.md §4.3).
	PDMissedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trdp_pd_missed_total",
			Help: "Sum of sequence counter gaps observed on duplicate/dropped PD frames.",
		}, []string{"comid"})

	// PDTimeoutTotal counts subscription receive-timeout expirations.
	PDTimeoutTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trdp_pd_timeout_total",
			Help: "Number of subscription receive-timeout expirations.",
		}, []string{"comid"})

	// ErrorTotal counts wire/protocol errors encountered while decoding
	// inbound frames, labelled by the errcodes.Code name.
	//
	// Example usage:
	//   metrics.ErrorTotal.With(prometheus.Labels{"type": "CRC_ERR"}).Inc()
	ErrorTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trdp_error_total",
			Help: "The total number of wire/protocol errors encountered, by error code.",
		}, []string{"type"})

	// MDSessionsOpenGauge tracks the number of in-flight MD sessions
	// (caller + replier side) at any instant.
	MDSessionsOpenGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "trdp_md_sessions_open",
			Help: "Number of MD sessions currently in flight.",
		})

	// MDCompletionTotal counts MD session completions, labelled by final
	// result code (NO_ERR, REPLYTO_ERR, CONFIRMTO_ERR, ...).
	MDCompletionTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trdp_md_completion_total",
			Help: "MD session completions, by final result code.",
		}, []string{"result"})

	// WorkLoopTickHistogram tracks the wall-clock duration of each
	// session.Process() call, the Go analogue of the teacher's polling
	// interval histogram.
	WorkLoopTickHistogram = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "trdp_work_loop_tick_seconds",
			Help:    "Wall-clock duration of each work loop Process() call.",
			Buckets: prometheus.ExponentialBuckets(0.00005, 2, 16),
		})

	// SocketSlotsGauge tracks the number of open socket pool slots.
	SocketSlotsGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "trdp_socket_slots_open",
			Help: "Number of open socket pool slots.",
		})
)

func init() {
	log.Println("Prometheus metrics in trdpgo.metrics are registered.")
}
