package monitoring

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

var startTime = time.Now()

// HealthChecker aggregates liveness signals from the running bot
type HealthChecker struct {
	mu             sync.RWMutex
	lastEvaluation time.Time
	lastPoll       time.Time
	exchangeOK     bool
	staleAfter     time.Duration
	errors         []string
	maxErrors      int
}

type HealthStatus struct {
	Status         string    `json:"status"`
	Timestamp      time.Time `json:"timestamp"`
	LastEvaluation time.Time `json:"last_evaluation"`
	LastPoll       time.Time `json:"last_poll"`
	ExchangeOK     bool      `json:"exchange_ok"`
	Uptime         string    `json:"uptime"`
	Errors         []string  `json:"errors,omitempty"`
}

// NewHealthChecker reports degraded when the monitor loop has not polled within staleAfter
func NewHealthChecker(staleAfter time.Duration) *HealthChecker {
	return &HealthChecker{
		exchangeOK: true,
		staleAfter: staleAfter,
		errors:     make([]string, 0),
		maxErrors:  20,
	}
}

func (h *HealthChecker) MarkEvaluation(t time.Time) {
	h.mu.Lock()
	h.lastEvaluation = t
	h.mu.Unlock()
}

func (h *HealthChecker) MarkPoll(t time.Time, exchangeOK bool) {
	h.mu.Lock()
	h.lastPoll = t
	h.exchangeOK = exchangeOK
	h.mu.Unlock()
}

func (h *HealthChecker) RecordError(msg string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.errors = append(h.errors, msg)
	if len(h.errors) > h.maxErrors {
		h.errors = h.errors[len(h.errors)-h.maxErrors:]
	}
}

// Status computes the current health snapshot
func (h *HealthChecker) Status(now time.Time) HealthStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()

	status := "healthy"
	if !h.exchangeOK || (!h.lastPoll.IsZero() && now.Sub(h.lastPoll) > h.staleAfter) {
		status = "degraded"
	}

	errs := make([]string, len(h.errors))
	copy(errs, h.errors)

	return HealthStatus{
		Status:         status,
		Timestamp:      now,
		LastEvaluation: h.lastEvaluation,
		LastPoll:       h.lastPoll,
		ExchangeOK:     h.exchangeOK,
		Uptime:         now.Sub(startTime).Round(time.Second).String(),
		Errors:         errs,
	}
}

func (h *HealthChecker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	health := h.Status(time.Now())

	w.Header().Set("Content-Type", "application/json")
	if health.Status != "healthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(health)
}
