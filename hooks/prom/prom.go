// Package prom exports tierkv hook events as Prometheus metrics.
//
// Cardinality note: storage keys are deliberately NOT used as label values;
// only handle names and operations label the series.
package prom

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/unkn0wn-root/tierkv"
)

type Hooks struct {
	casAttempts       *prometheus.CounterVec
	casConflicts      prometheus.Counter
	retriesExhausted  prometheus.Counter
	backfills         prometheus.Counter
	secondaryFailures *prometheus.CounterVec
	selfHeals         *prometheus.CounterVec
	regionClearSkips  *prometheus.CounterVec
}

var _ tierkv.Hooks = (*Hooks)(nil)

// New registers the tierkv metric set with reg and returns the hook.
// Pass prometheus.DefaultRegisterer unless you run your own registry.
func New(reg prometheus.Registerer) *Hooks {
	h := &Hooks{
		casAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tierkv_cas_attempts_total",
			Help: "CAS calls against the authoritative handle, by result.",
		}, []string{"result"}),
		casConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tierkv_cas_conflicts_total",
			Help: "CAS attempts lost to a concurrent writer.",
		}),
		retriesExhausted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tierkv_update_retries_exhausted_total",
			Help: "Update calls that gave up after exhausting their retry budget.",
		}),
		backfills: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tierkv_backfills_total",
			Help: "Read hits copied from a slower tier into faster ones.",
		}),
		secondaryFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tierkv_secondary_failures_total",
			Help: "Non-fatal handle failures during fan-out.",
		}, []string{"handle", "op"}),
		selfHeals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tierkv_self_heals_total",
			Help: "Undecodable entries deleted on read.",
		}, []string{"handle"}),
		regionClearSkips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tierkv_region_clear_skipped_total",
			Help: "ClearRegion calls skipped on handles without key enumeration.",
		}, []string{"handle"}),
	}
	reg.MustRegister(
		h.casAttempts, h.casConflicts, h.retriesExhausted, h.backfills,
		h.secondaryFailures, h.selfHeals, h.regionClearSkips,
	)
	return h
}

func (h *Hooks) CASAttempt(_ string, success bool) {
	result := "conflict"
	if success {
		result = "success"
	}
	h.casAttempts.WithLabelValues(result).Inc()
}

func (h *Hooks) CASConflict(string, int)      { h.casConflicts.Inc() }
func (h *Hooks) RetriesExhausted(string, int) { h.retriesExhausted.Inc() }
func (h *Hooks) Backfill(string, int)         { h.backfills.Inc() }

func (h *Hooks) SecondaryFailure(handleName, op string, _ error) {
	h.secondaryFailures.WithLabelValues(handleName, op).Inc()
}

func (h *Hooks) SelfHeal(handleName, _ string) {
	h.selfHeals.WithLabelValues(handleName).Inc()
}

func (h *Hooks) RegionClearSkipped(handleName string) {
	h.regionClearSkips.WithLabelValues(handleName).Inc()
}
