package monitoring

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Signal metrics
	signalsValidated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signal_bot_signals_validated_total",
			Help: "Validator outcomes by result",
		},
		[]string{"outcome"},
	)

	signalsIntegrated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signal_bot_signals_integrated_total",
			Help: "Integrated signals by combination method",
		},
		[]string{"method", "direction"},
	)

	signalConfidence = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "signal_bot_signal_confidence",
			Help: "Last integrated confidence per symbol",
		},
		[]string{"symbol"},
	)

	// Risk metrics
	riskDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signal_bot_risk_decisions_total",
			Help: "Trade gate decisions by check",
		},
		[]string{"result", "check"},
	)

	openPositions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "signal_bot_open_positions",
			Help: "Positions currently tracked by the risk ledger",
		},
	)

	accountBalance = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "signal_bot_account_balance",
			Help: "Ledger balance after realized P&L",
		},
	)

	dailyPnL = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "signal_bot_daily_pnl",
			Help: "Realized P&L for the current day",
		},
	)

	// Order metrics
	ordersPlaced = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signal_bot_orders_placed_total",
			Help: "Entry orders accepted by the exchange",
		},
		[]string{"symbol", "side"},
	)

	orderAmount = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "signal_bot_order_amount",
			Help:    "Distribution of entry order amounts",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 12),
		},
		[]string{"symbol"},
	)

	orderFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signal_bot_order_failures_total",
			Help: "Exchange call failures by leg or operation",
		},
		[]string{"stage"},
	)

	activeOrders = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "signal_bot_active_orders",
			Help: "Active managed orders by protection state",
		},
		[]string{"protection"},
	)

	ordersCompleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signal_bot_orders_completed_total",
			Help: "Managed orders moved to history by final status",
		},
		[]string{"status"},
	)

	// Error metrics
	errorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signal_bot_errors_total",
			Help: "Total number of errors by category",
		},
		[]string{"category"},
	)
)

func init() {
	prometheus.MustRegister(signalsValidated)
	prometheus.MustRegister(signalsIntegrated)
	prometheus.MustRegister(signalConfidence)
	prometheus.MustRegister(riskDecisions)
	prometheus.MustRegister(openPositions)
	prometheus.MustRegister(accountBalance)
	prometheus.MustRegister(dailyPnL)
	prometheus.MustRegister(ordersPlaced)
	prometheus.MustRegister(orderAmount)
	prometheus.MustRegister(orderFailures)
	prometheus.MustRegister(activeOrders)
	prometheus.MustRegister(ordersCompleted)
	prometheus.MustRegister(errorsTotal)
}

// MetricsHandler serves the Prometheus metrics endpoint
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// RecordValidation records a validator outcome (accepted, hold, contradiction, duplicate)
func RecordValidation(outcome string) {
	signalsValidated.WithLabelValues(outcome).Inc()
}

// RecordIntegration records an integrated decision
func RecordIntegration(symbol, method, direction string, confidence float64) {
	signalsIntegrated.WithLabelValues(method, direction).Inc()
	signalConfidence.WithLabelValues(symbol).Set(confidence)
}

// RecordRiskDecision records a trade gate outcome. check is empty for accepted trades.
func RecordRiskDecision(accepted bool, check string) {
	result := "accepted"
	if !accepted {
		result = "rejected"
	}
	if check == "" {
		check = "none"
	}
	riskDecisions.WithLabelValues(result, check).Inc()
}

// UpdateLedger publishes the risk ledger gauges
func UpdateLedger(positions int, balance, pnl float64) {
	openPositions.Set(float64(positions))
	accountBalance.Set(balance)
	dailyPnL.Set(pnl)
}

// RecordOrderPlaced records an accepted entry order
func RecordOrderPlaced(symbol, side string, amount float64) {
	ordersPlaced.WithLabelValues(symbol, side).Inc()
	orderAmount.WithLabelValues(symbol).Observe(amount)
}

// RecordOrderFailure records a failed exchange call (entry, stop_loss, take_profit, cancel, poll)
func RecordOrderFailure(stage string) {
	orderFailures.WithLabelValues(stage).Inc()
}

// SetActiveOrders replaces the active order gauge with counts per protection state
func SetActiveOrders(byProtection map[string]int) {
	activeOrders.Reset()
	for state, n := range byProtection {
		activeOrders.WithLabelValues(state).Set(float64(n))
	}
}

// RecordOrderCompleted records a managed order leaving the active set
func RecordOrderCompleted(status string) {
	ordersCompleted.WithLabelValues(status).Inc()
}

// RecordError records an error metric
func RecordError(category string) {
	errorsTotal.WithLabelValues(category).Inc()
}
