// Package metrics exposes the bot's prometheus metrics. A nil *Recorder is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Recorder struct {
	registry *prometheus.Registry

	transitions      *prometheus.CounterVec
	dispatches       *prometheus.CounterVec
	dispatchAttempts *prometheus.HistogramVec
	cycleDuration    prometheus.Histogram
	externalErrors   *prometheus.CounterVec
	commands         *prometheus.CounterVec
	replyFailures    prometheus.Counter
	inflightJobs     prometheus.Gauge
}

func New(namespace string) *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,
		transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "order_transitions_total",
			Help:      "Committed order status transitions.",
		}, []string{"from", "to"}),
		dispatches: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_results_total",
			Help:      "Finished settlement jobs by kind and outcome.",
		}, []string{"kind", "outcome"}),
		dispatchAttempts: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_attempts",
			Help:      "Attempts used by finished settlement jobs.",
			Buckets:   []float64{1, 2, 3, 4, 5},
		}, []string{"kind"}),
		cycleDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "loop_cycle_seconds",
			Help:      "Duration of one control loop cycle.",
			Buckets:   prometheus.DefBuckets,
		}),
		externalErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "external_errors_total",
			Help:      "Errors returned by the rail, the venue and the command channel.",
		}, []string{"service", "op"}),
		commands: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Inbound commands by kind and result.",
		}, []string{"kind", "result"}),
		replyFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reply_failures_total",
			Help:      "Replies the command channel could not publish.",
		}),
		inflightJobs: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "dispatch_inflight",
			Help:      "Settlement jobs not yet delivered to the loop.",
		}),
	}
}

func (r *Recorder) Transition(from, to string) {
	if r == nil {
		return
	}
	if from == "" {
		from = "none"
	}
	r.transitions.WithLabelValues(from, to).Inc()
}

func (r *Recorder) Dispatch(kind string, ok bool, attempts int) {
	if r == nil {
		return
	}
	outcome := "failed"
	if ok {
		outcome = "ok"
	}
	r.dispatches.WithLabelValues(kind, outcome).Inc()
	r.dispatchAttempts.WithLabelValues(kind).Observe(float64(attempts))
}

func (r *Recorder) Cycle(d time.Duration) {
	if r == nil {
		return
	}
	r.cycleDuration.Observe(d.Seconds())
}

func (r *Recorder) ExternalError(service, op string) {
	if r == nil {
		return
	}
	r.externalErrors.WithLabelValues(service, op).Inc()
}

func (r *Recorder) Command(kind, result string) {
	if r == nil {
		return
	}
	r.commands.WithLabelValues(kind, result).Inc()
}

func (r *Recorder) ReplyFailed() {
	if r == nil {
		return
	}
	r.replyFailures.Inc()
}

func (r *Recorder) Inflight(n int) {
	if r == nil {
		return
	}
	r.inflightJobs.Set(float64(n))
}

// Handler serves the registry in the prometheus text format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}
