package signals

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	boterrors "github.com/ducminhle1904/crypto-signal-bot/internal/errors"
	"github.com/ducminhle1904/crypto-signal-bot/internal/logger"
	"github.com/ducminhle1904/crypto-signal-bot/internal/monitoring"
	"github.com/ducminhle1904/crypto-signal-bot/pkg/types"
)

// Config holds validator tunables. Point values are on the 0..100 confidence scale.
type Config struct {
	DuplicateWindowMinutes int     `json:"duplicate_window_minutes" toml:"duplicate_window_minutes"`
	HistorySize            int     `json:"history_size" toml:"history_size"`
	DuplicateGap           float64 `json:"duplicate_gap" toml:"duplicate_gap"`
	ConfidenceFloor        float64 `json:"confidence_floor" toml:"confidence_floor"`
	ContradictionPenalty   float64 `json:"contradiction_penalty" toml:"contradiction_penalty"`
}

func DefaultConfig() Config {
	return Config{
		DuplicateWindowMinutes: 15,
		HistorySize:            10,
		DuplicateGap:           10,
		ConfidenceFloor:        40,
		ContradictionPenalty:   15,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.DuplicateWindowMinutes <= 0 {
		c.DuplicateWindowMinutes = d.DuplicateWindowMinutes
	}
	if c.HistorySize <= 0 {
		c.HistorySize = d.HistorySize
	}
	if c.DuplicateGap <= 0 {
		c.DuplicateGap = d.DuplicateGap
	}
	if c.ConfidenceFloor <= 0 {
		c.ConfidenceFloor = d.ConfidenceFloor
	}
	if c.ContradictionPenalty <= 0 {
		c.ContradictionPenalty = d.ContradictionPenalty
	}
	return c
}

// ValidationResult is the outcome of gating one signal.
// Signal is DirectionNone when the signal was rejected; Confidence is then 0.
type ValidationResult struct {
	Symbol          string          `json:"symbol"`
	Signal          types.Direction `json:"signal"`
	Confidence      float64         `json:"confidence"`
	IsValid         bool            `json:"is_valid"`
	Issues          []string        `json:"issues,omitempty"`
	Contradictions  []string        `json:"contradictions,omitempty"`
	WasDuplicate    bool            `json:"was_duplicate"`
	StatsAdjustment float64         `json:"stats_adjustment"` // points
}

// Rejected reports whether the signal was thrown out rather than downgraded.
func (r *ValidationResult) Rejected() bool {
	return r.Signal == types.DirectionNone
}

// Stats are the validator's running counters.
type Stats struct {
	TotalValidated         int `json:"total_validated"`
	RejectedContradictions int `json:"rejected_contradictions"`
	RejectedDuplicates     int `json:"rejected_duplicates"`
	AdjustedConfidence     int `json:"adjusted_confidence"`
	TrackedSymbols         int `json:"tracked_symbols"`
	DuplicateWindowMinutes int `json:"duplicate_window_minutes"`
}

type Option func(*Validator)

// WithClock replaces time.Now, mainly for tests that walk the dedup window.
func WithClock(now func() time.Time) Option {
	return func(v *Validator) { v.now = now }
}

// WithRules replaces the contradiction table.
func WithRules(rules []Rule) Option {
	return func(v *Validator) { v.rules = rules }
}

// Validator gates individual signals. It is safe for concurrent use.
type Validator struct {
	cfg   Config
	rules []Rule
	now   func() time.Time
	log   zerolog.Logger

	mu      sync.Mutex
	history *history
	stats   Stats
}

func NewValidator(cfg Config, opts ...Option) *Validator {
	cfg = cfg.withDefaults()
	v := &Validator{
		cfg:   cfg,
		rules: DefaultRules(),
		now:   time.Now,
		log:   logger.Component("validator"),
	}
	for _, opt := range opts {
		opt(v)
	}
	v.history = newHistory(time.Duration(cfg.DuplicateWindowMinutes)*time.Minute, cfg.HistorySize)
	return v
}

// Validate gates a signal against the symbol's own dedup history.
func (v *Validator) Validate(symbol string, dir types.Direction, confidence float64, m *types.Metrics) (*ValidationResult, error) {
	return v.validate(symbol, symbol, dir, confidence, m)
}

// ValidateFrom gates a signal from a named source. Its dedup history is kept
// apart from the symbol's, so a source and the combined decision built from
// it do not suppress each other.
func (v *Validator) ValidateFrom(scope, symbol string, dir types.Direction, confidence float64, m *types.Metrics) (*ValidationResult, error) {
	key := symbol
	if scope != "" {
		key = symbol + "@" + scope
	}
	return v.validate(key, symbol, dir, confidence, m)
}

func (v *Validator) validate(key, symbol string, dir types.Direction, confidence float64, m *types.Metrics) (*ValidationResult, error) {
	if !dir.Valid() {
		return nil, boterrors.NewInvalidInputError("validator", "validate", fmt.Sprintf("unknown direction %q", dir)).
			WithContext("symbol", symbol)
	}
	if math.IsNaN(confidence) || confidence < 0 || confidence > 1 {
		return nil, boterrors.NewInvalidInputError("validator", "validate", fmt.Sprintf("confidence %v outside [0,1]", confidence)).
			WithContext("symbol", symbol)
	}

	if dir == types.DirectionHold {
		return &ValidationResult{Symbol: symbol, Signal: types.DirectionHold, Confidence: confidence, IsValid: true}, nil
	}

	res := &ValidationResult{Symbol: symbol, Signal: dir}
	points := confidence * 100

	if m != nil {
		scan := scanContradictions(v.rules, dir, *m)
		res.Contradictions = scan.matched
		if scan.critical {
			v.mu.Lock()
			v.stats.RejectedContradictions++
			v.mu.Unlock()

			res.Signal = types.DirectionNone
			v.log.Info().Str("symbol", symbol).Str("direction", string(dir)).
				Strs("contradictions", scan.matched).Msg("signal rejected: critical contradiction")
			monitoring.RecordValidation("contradiction")
			return res, nil
		}
		if scan.minor > 0 {
			points = math.Max(0, points-float64(scan.minor)*v.cfg.ContradictionPenalty)
		}

		adj, issues := statsAdjustment(dir, *m, points)
		if adj != 0 {
			points = math.Max(0, math.Min(100, points+adj))
			res.StatsAdjustment = adj
			res.Issues = issues
		}
	}

	v.mu.Lock()
	now := v.now()
	if prev, dup := v.history.duplicateOf(key, dir, points, v.cfg.DuplicateGap, now); dup {
		v.stats.RejectedDuplicates++
		v.mu.Unlock()

		res.Signal = types.DirectionNone
		res.WasDuplicate = true
		v.log.Info().Str("symbol", symbol).Str("direction", string(dir)).
			Float64("confidence", points/100).Float64("previous", prev.confidence/100).
			Dur("age", now.Sub(prev.at)).Msg("signal rejected: duplicate")
		monitoring.RecordValidation("duplicate")
		return res, nil
	}
	v.history.register(key, entry{direction: dir, at: now, confidence: points})

	v.stats.TotalValidated++
	if res.StatsAdjustment != 0 {
		v.stats.AdjustedConfidence++
	}
	v.mu.Unlock()

	if points < v.cfg.ConfidenceFloor {
		res.Signal = types.DirectionHold
		res.Confidence = v.cfg.ConfidenceFloor / 100
		res.IsValid = false
		v.log.Info().Str("symbol", symbol).Str("direction", string(dir)).
			Float64("confidence", points/100).Msg("signal below floor, downgraded to HOLD")
		monitoring.RecordValidation("floor")
		return res, nil
	}

	res.Confidence = points / 100
	res.IsValid = true
	v.log.Debug().Str("symbol", symbol).Str("direction", string(dir)).
		Float64("confidence", res.Confidence).Int("contradictions", len(res.Contradictions)).
		Msg("signal validated")
	monitoring.RecordValidation("accepted")
	return res, nil
}

// Stats returns a snapshot of the counters.
func (v *Validator) Stats() Stats {
	v.mu.Lock()
	defer v.mu.Unlock()
	s := v.stats
	s.TrackedSymbols = v.history.keys()
	s.DuplicateWindowMinutes = v.cfg.DuplicateWindowMinutes
	return s
}

// ResetStats clears the counters. Dedup history is kept.
func (v *Validator) ResetStats() {
	v.mu.Lock()
	v.stats = Stats{}
	v.mu.Unlock()
}

