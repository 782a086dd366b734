package integrator

import (
	"fmt"
	"math"

	"github.com/ducminhle1904/crypto-signal-bot/pkg/types"
)

type QualityCategory string

const (
	QualityHigh    QualityCategory = "HIGH"
	QualityMedium  QualityCategory = "MEDIUM"
	QualityLow     QualityCategory = "LOW"
	QualityVeryLow QualityCategory = "VERY_LOW"
)

// Quality is an operator-facing grade of an integrated signal.
type Quality struct {
	Score     float64         `json:"score"` // 0..100
	Category  QualityCategory `json:"category"`
	Method    Method          `json:"method"`
	Consensus bool            `json:"consensus"`
	Direction types.Direction `json:"direction"`
	Summary   string          `json:"summary"`
}

var methodMultipliers = map[Method]float64{
	MethodConsensus: 1.0,
	MethodPriorityA: 0.85,
	MethodPriorityB: 0.80,
	MethodUncertain: 0.5,
}

// SummarizeQuality grades a signal by confidence, discounted by how it was reached.
func SummarizeQuality(s *IntegratedSignal) Quality {
	mult, ok := methodMultipliers[s.Method]
	if !ok {
		mult = 0.75
	}
	score := s.Confidence * 100 * mult
	if s.Consensus {
		score = math.Min(100, score+5)
	}
	score = math.Round(score*10) / 10

	var cat QualityCategory
	switch {
	case score >= 75:
		cat = QualityHigh
	case score >= 60:
		cat = QualityMedium
	case score >= 45:
		cat = QualityLow
	default:
		cat = QualityVeryLow
	}

	return Quality{
		Score:     score,
		Category:  cat,
		Method:    s.Method,
		Consensus: s.Consensus,
		Direction: s.Direction,
		Summary:   fmt.Sprintf("%s quality (%.1f/100) - %s", cat, score, s.Direction),
	}
}
