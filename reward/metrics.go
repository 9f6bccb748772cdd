package reward

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes the engine's emission and rejection counters. All methods
// are nil-safe so wiring metrics stays optional.
type Metrics struct {
	rewardsGranted   *prometheus.CounterVec
	mindEmitted      prometheus.Counter
	rejections       *prometheus.CounterVec
	transferFailures prometheus.Counter
	coefficient      prometheus.Gauge
}

var (
	metricsOnce     sync.Once
	metricsRegistry *Metrics
)

// EngineMetrics returns the process-wide metrics set, registering it on
// first use.
func EngineMetrics() *Metrics {
	metricsOnce.Do(func() {
		metricsRegistry = &Metrics{
			rewardsGranted: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "reward_granted_total",
				Help: "Count of granted rewards by action.",
			}, []string{"action"}),
			mindEmitted: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "reward_mind_emitted_total",
				Help: "Total MIND emitted through the reward engine.",
			}),
			rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "reward_rejected_total",
				Help: "Count of withheld rewards by reason.",
			}, []string{"reason"}),
			transferFailures: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "reward_transfer_failures_total",
				Help: "Number of failed token transfer sink calls.",
			}),
			coefficient: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "reward_rebalance_coefficient",
				Help: "Current global rebalance coefficient.",
			}),
		}
		prometheus.MustRegister(
			metricsRegistry.rewardsGranted,
			metricsRegistry.mindEmitted,
			metricsRegistry.rejections,
			metricsRegistry.transferFailures,
			metricsRegistry.coefficient,
		)
	})
	return metricsRegistry
}

func (m *Metrics) ObserveGranted(action ActionID, amount float64) {
	if m == nil {
		return
	}
	m.rewardsGranted.WithLabelValues(string(action)).Inc()
	m.mindEmitted.Add(amount)
}

func (m *Metrics) ObserveRejection(reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "unknown"
	}
	m.rejections.WithLabelValues(reason).Inc()
}

func (m *Metrics) IncTransferFailure() {
	if m == nil {
		return
	}
	m.transferFailures.Inc()
}

func (m *Metrics) SetCoefficient(c float64) {
	if m == nil {
		return
	}
	m.coefficient.Set(c)
}
