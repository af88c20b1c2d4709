package reconciler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/uma-arai/sbcntr-inventory-batch/internal/model"
)

// Metrics はスイープの Prometheus メトリクスです
// nil の *Metrics は何も記録しません
type Metrics struct {
	items           *prometheus.CounterVec
	cycles          prometheus.Counter
	cycleErrors     prometheus.Counter
	duration        prometheus.Histogram
	listingsExpired prometheus.Counter
}

// NewMetrics はメトリクスを作成して reg に登録します
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		items: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "inventory_sweep_items_total",
			Help: "Number of expired reservations processed by the sweep, by outcome.",
		}, []string{"outcome"}),
		cycles: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "inventory_sweep_cycles_total",
			Help: "Number of cleanup cycles run.",
		}),
		cycleErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "inventory_sweep_cycle_errors_total",
			Help: "Number of cleanup cycles that recorded at least one error.",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "inventory_sweep_duration_seconds",
			Help:    "Duration of cleanup cycles.",
			Buckets: prometheus.DefBuckets,
		}),
		listingsExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "inventory_listings_expired_total",
			Help: "Number of listings flagged as expired.",
		}),
	}
	reg.MustRegister(m.items, m.cycles, m.cycleErrors, m.duration, m.listingsExpired)
	return m
}

func (m *Metrics) observeItem(o outcome) {
	if m == nil {
		return
	}
	m.items.WithLabelValues(string(o)).Inc()
}

func (m *Metrics) observeCycle(s model.CycleSummary) {
	if m == nil {
		return
	}
	m.cycles.Inc()
	if s.HasErrors() {
		m.cycleErrors.Inc()
	}
	m.duration.Observe(s.Duration.Seconds())
	m.listingsExpired.Add(float64(s.ExpiredListings))
}
