package types

import "fmt"

// Direction is a directional opinion on a symbol.
type Direction string

const (
	DirectionBuy  Direction = "BUY"
	DirectionSell Direction = "SELL"
	DirectionHold Direction = "HOLD"

	// DirectionNone marks a rejected signal.
	DirectionNone Direction = ""
)

func (d Direction) Valid() bool {
	switch d {
	case DirectionBuy, DirectionSell, DirectionHold:
		return true
	}
	return false
}

// Actionable reports whether the direction can open a position.
func (d Direction) Actionable() bool {
	return d == DirectionBuy || d == DirectionSell
}

// Side maps BUY/SELL to an order side. HOLD has no side.
func (d Direction) Side() (Side, error) {
	switch d {
	case DirectionBuy:
		return SideBuy, nil
	case DirectionSell:
		return SideSell, nil
	}
	return "", fmt.Errorf("direction %q has no order side", d)
}

// Metrics are the indicator readings that accompany a rule-based signal.
type Metrics struct {
	RSI            float64 `json:"rsi"`
	MACDLine       float64 `json:"macd_line"`
	MACDSignal     float64 `json:"macd_signal"`
	MACDHistogram  float64 `json:"macd_histogram"`
	PriceChange24h float64 `json:"price_change_24h"` // percent
	VolumeRatio    float64 `json:"volume_ratio"`
}

// RawSignal is one source's opinion for one evaluation cycle.
// Metrics is nil for sources that only report direction and confidence.
type RawSignal struct {
	Symbol     string    `json:"symbol"`
	Direction  Direction `json:"direction"`
	Confidence float64   `json:"confidence"` // [0,1]
	Metrics    *Metrics  `json:"metrics,omitempty"`
	Reasons    []string  `json:"reasons,omitempty"`
}

type SourceKind string

const (
	SourceRuleBased SourceKind = "rule_based"
	SourceModel     SourceKind = "model"
)

func (k SourceKind) Valid() bool {
	return k == SourceRuleBased || k == SourceModel
}

// SourceSignal is a raw signal tagged with the source that produced it.
// A zero Weight means the configured weight for Kind is used.
type SourceSignal struct {
	Kind   SourceKind `json:"kind"`
	Weight float64    `json:"weight,omitempty"`
	Signal RawSignal  `json:"signal"`
}
