// Package metrics exposes Prometheus counters and gauges updated by the
// averaging engine, served at /metrics by the web server.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	reconcileCycles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "averaging_reconcile_cycles_total",
			Help: "Reconcile cycles executed, per symbol",
		},
		[]string{"symbol"},
	)

	reconcileSkipped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "averaging_reconcile_skipped_total",
			Help: "Reconcile cycles skipped because the bot was busy",
		},
		[]string{"symbol"},
	)

	ordersPlaced = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "averaging_orders_placed_total",
			Help: "Orders placed by the engine, per symbol and side",
		},
		[]string{"symbol", "side"},
	)

	ordersCanceled = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "averaging_orders_canceled_total",
			Help: "Bot-owned orders canceled, per symbol",
		},
		[]string{"symbol"},
	)

	fillsDetected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "averaging_fills_detected_total",
			Help: "Fills detected from position deltas (kind: reentry|take_profit)",
		},
		[]string{"symbol", "kind"},
	)

	realizedProfit = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "averaging_realized_profit",
			Help: "Running realized profit per symbol",
		},
		[]string{"symbol"},
	)

	wsReconnects = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "averaging_ws_reconnects_total",
			Help: "Price stream reconnect attempts",
		},
	)
)

func init() {
	prometheus.MustRegister(reconcileCycles, reconcileSkipped)
	prometheus.MustRegister(ordersPlaced, ordersCanceled, fillsDetected)
	prometheus.MustRegister(realizedProfit, wsReconnects)
}

func IncReconcile(symbol string)        { reconcileCycles.WithLabelValues(symbol).Inc() }
func IncReconcileSkipped(symbol string) { reconcileSkipped.WithLabelValues(symbol).Inc() }

func IncOrderPlaced(symbol, side string) { ordersPlaced.WithLabelValues(symbol, side).Inc() }
func IncOrderCanceled(symbol string)     { ordersCanceled.WithLabelValues(symbol).Inc() }

func IncFill(symbol, kind string) { fillsDetected.WithLabelValues(symbol, kind).Inc() }

func SetRealizedProfit(symbol string, v float64) { realizedProfit.WithLabelValues(symbol).Set(v) }

func IncWSReconnect() { wsReconnects.Inc() }
