package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "walletdash"

// Metrics groups the Prometheus collectors for wallet activity. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	Operations    *prometheus.CounterVec
	ProviderCalls *prometheus.HistogramVec
	Connected     prometheus.Gauge
	CacheLookups  *prometheus.CounterVec
	Reconnects    prometheus.Counter
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "wallet_operations_total",
			Help:      "Wallet manager operations by name and result.",
		}, []string{"operation", "result"}),
		ProviderCalls: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_call_duration_seconds",
			Help:      "Latency of wallet provider requests.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "result"}),
		Connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "wallet_connected",
			Help:      "1 while a wallet session is connected.",
		}),
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Cache lookups by result (hit or miss).",
		}, []string{"result"}),
		Reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "realtime_reconnects_total",
			Help:      "Reconnect attempts made by the realtime client.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Operations, m.ProviderCalls, m.Connected, m.CacheLookups, m.Reconnects)
	}
	return m
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func (m *Metrics) ObserveOperation(op string, err error) {
	if m == nil {
		return
	}
	m.Operations.WithLabelValues(op, result(err)).Inc()
}

func (m *Metrics) ObserveCall(method string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.ProviderCalls.WithLabelValues(method, result(err)).Observe(d.Seconds())
}

func (m *Metrics) SetConnected(connected bool) {
	if m == nil {
		return
	}
	if connected {
		m.Connected.Set(1)
	} else {
		m.Connected.Set(0)
	}
}

func (m *Metrics) ObserveCacheLookup(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.CacheLookups.WithLabelValues("hit").Inc()
	} else {
		m.CacheLookups.WithLabelValues("miss").Inc()
	}
}

func (m *Metrics) IncReconnects() {
	if m == nil {
		return
	}
	m.Reconnects.Inc()
}
