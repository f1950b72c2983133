package service

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
)

type Metrics struct {
	OperationsTotal   *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
	ActiveListings    prometheus.Gauge
	SettledVolume     *prometheus.CounterVec
	// PendingSettlements counts payments found in flight at startup.
	PendingSettlements prometheus.Gauge
}

func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		OperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "exchange_operations_total",
				Help: "Total exchange operations by outcome.",
			},
			[]string{"operation", "status"},
		),
		OperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "exchange_operation_duration_seconds",
				Help:    "Exchange operation duration in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		ActiveListings: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "exchange_active_listings",
				Help: "Listings currently Active.",
			},
		),
		SettledVolume: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "exchange_settled_volume_total",
				Help: "Raw units moved by settled trades.",
			},
			[]string{"asset"},
		),
		PendingSettlements: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "exchange_pending_settlements",
				Help: "Payments recorded before a restart whose trade was never journaled.",
			},
		),
	}

	registry.MustRegister(
		m.OperationsTotal,
		m.OperationDuration,
		m.ActiveListings,
		m.SettledVolume,
		m.PendingSettlements,
	)
	return m
}

func (m *Metrics) ObserveOperation(operation, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.OperationsTotal.WithLabelValues(operation, status).Inc()
	m.OperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

func (m *Metrics) SetActiveListings(n int) {
	if m == nil {
		return
	}
	m.ActiveListings.Set(float64(n))
}

func (m *Metrics) AddSettled(asset string, amount decimal.Decimal) {
	if m == nil {
		return
	}
	m.SettledVolume.WithLabelValues(asset).Add(amount.InexactFloat64())
}

func (m *Metrics) SetPendingSettlements(n int) {
	if m == nil {
		return
	}
	m.PendingSettlements.Set(float64(n))
}
