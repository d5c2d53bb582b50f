package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics usa un registry propio (no el global) para poder crear varios
// routers en tests sin "duplicate metrics collector registration".
type Metrics struct {
	reg *prometheus.Registry

	guardDenials   *prometheus.CounterVec
	lifecycleOps   *prometheus.CounterVec
	cascadedRows   *prometheus.CounterVec
	activityErrors prometheus.Counter
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		reg: reg,
		guardDenials: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vet",
			Name:      "guard_denials_total",
			Help:      "Requests rejected by the authorization pipeline, by stage and code.",
		}, []string{"stage", "code"}),
		lifecycleOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vet",
			Name:      "record_operations_total",
			Help:      "Record lifecycle operations, by entity, operation and outcome.",
		}, []string{"entity", "operation", "outcome"}),
		cascadedRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vet",
			Name:      "cascade_deleted_rows_total",
			Help:      "Descendant rows soft-deleted by cascade, by entity.",
		}, []string{"entity"}),
		activityErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "vet",
			Name:      "activity_sink_errors_total",
			Help:      "Activity events dropped because the sink failed.",
		}),
	}
	reg.MustRegister(m.guardDenials, m.lifecycleOps, m.cascadedRows, m.activityErrors)
	return m
}

// Los métodos aceptan receiver nil: en tests de dominio no hace falta métricas.

func (m *Metrics) GuardDenied(stage, code string) {
	if m == nil {
		return
	}
	m.guardDenials.WithLabelValues(stage, code).Inc()
}

// GuardDeniedCounter expone el contador (para testutil.ToFloat64).
func (m *Metrics) GuardDeniedCounter(stage, code string) prometheus.Counter {
	return m.guardDenials.WithLabelValues(stage, code)
}

func (m *Metrics) RecordOp(entity, op string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.lifecycleOps.WithLabelValues(entity, op, outcome).Inc()
}

func (m *Metrics) Cascaded(entity string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.cascadedRows.WithLabelValues(entity).Add(float64(n))
}

func (m *Metrics) ActivityDropped() {
	if m == nil {
		return
	}
	m.activityErrors.Inc()
}

func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}
