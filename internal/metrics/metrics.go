// Package metrics exposes Prometheus instruments for prompt processing and
// the recurring job registry. A nil *Recorder is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

type Recorder struct {
	runs          *prometheus.CounterVec
	batches       prometheus.Counter
	fires         *prometheus.CounterVec
	entries       prometheus.Gauge
	reconcileRuns prometheus.Counter
}

func NewRecorder(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rooster",
			Name:      "prompt_runs_total",
			Help:      "Prompt processor invocations by result and failing stage.",
		}, []string{"result", "stage"}),
		batches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rooster",
			Name:      "batch_runs_total",
			Help:      "Batch evaluations of the full prompt set.",
		}),
		fires: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rooster",
			Name:      "registry_fires_total",
			Help:      "Recurring entry wakeups by outcome.",
		}, []string{"outcome"}),
		entries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "rooster",
			Name:      "registry_entries",
			Help:      "Recurring entries currently registered.",
		}),
		reconcileRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rooster",
			Name:      "registry_reconcile_total",
			Help:      "Registry reconcile passes.",
		}),
	}
	if reg != nil {
		reg.MustRegister(r.runs, r.batches, r.fires, r.entries, r.reconcileRuns)
	}
	return r
}

// ObserveRun counts one processor outcome. stage is empty on success.
func (r *Recorder) ObserveRun(success bool, stage string) {
	if r == nil {
		return
	}
	result := "success"
	if !success {
		result = "failure"
	}
	r.runs.WithLabelValues(result, stage).Inc()
}

func (r *Recorder) ObserveBatch() {
	if r == nil {
		return
	}
	r.batches.Inc()
}

// ObserveFire counts a registry wakeup: processed, failed, skipped, error or panic.
func (r *Recorder) ObserveFire(outcome string) {
	if r == nil {
		return
	}
	r.fires.WithLabelValues(outcome).Inc()
}

func (r *Recorder) SetEntries(n int) {
	if r == nil {
		return
	}
	r.entries.Set(float64(n))
}

func (r *Recorder) ObserveReconcile() {
	if r == nil {
		return
	}
	r.reconcileRuns.Inc()
}
