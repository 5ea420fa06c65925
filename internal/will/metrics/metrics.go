package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels for OperationsTotal.
const (
	OutcomeSuccess = "success"
	OutcomeRefused = "refused"
	OutcomeError   = "error"
)

// Metrics provides observability for the will module.
type Metrics struct {
	WillsCreated      prometheus.Counter
	OperationsTotal   *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
	DistributedValue  prometheus.Counter
	KeysReleased      prometheus.Counter
}

// New registers the will metrics on reg. Pass prometheus.DefaultRegisterer
// in production and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		WillsCreated: f.NewCounter(prometheus.CounterOpts{
			Name: "willvault_wills_created_total",
			Help: "Total number of wills created",
		}),
		OperationsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "willvault_will_operations_total",
			Help: "Will operations by name and outcome (success, refused by a domain rule, internal error)",
		}, []string{"operation", "outcome"}),
		OperationDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "willvault_will_operation_duration_seconds",
			Help:    "Duration of will operations including the per-will lock wait",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"operation"}),
		DistributedValue: f.NewCounter(prometheus.CounterOpts{
			Name: "willvault_distributed_value_total",
			Help: "Total custodial value paid out to beneficiaries",
		}),
		KeysReleased: f.NewCounter(prometheus.CounterOpts{
			Name: "willvault_keys_released_total",
			Help: "Encrypted keys returned to beneficiaries",
		}),
	}
}

func (m *Metrics) IncrementWillCreated() {
	m.WillsCreated.Inc()
}

// ObserveOperation records one operation. Call with time.Now() taken at
// the start of the operation.
func (m *Metrics) ObserveOperation(operation, outcome string, start time.Time) {
	m.OperationsTotal.WithLabelValues(operation, outcome).Inc()
	m.OperationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

func (m *Metrics) AddDistributed(amount uint64) {
	m.DistributedValue.Add(float64(amount))
}

func (m *Metrics) IncrementKeyReleased() {
	m.KeysReleased.Inc()
}
