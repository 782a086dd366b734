package integrator

import (
	"fmt"
	"math"

	"github.com/rs/zerolog"

	boterrors "github.com/ducminhle1904/crypto-signal-bot/internal/errors"
	"github.com/ducminhle1904/crypto-signal-bot/internal/logger"
	"github.com/ducminhle1904/crypto-signal-bot/internal/monitoring"
	"github.com/ducminhle1904/crypto-signal-bot/internal/signals"
	"github.com/ducminhle1904/crypto-signal-bot/pkg/types"
)

// Method records how the combined direction was decided.
type Method string

const (
	MethodConsensus Method = "consensus"
	MethodPriorityA Method = "priority_a" // rule-based source won a disagreement
	MethodPriorityB Method = "priority_b" // model source won a disagreement
	MethodUncertain Method = "uncertain"
)

// Config holds the combination constants. They are empirical and should be
// calibrated against outcome history.
type Config struct {
	RuleWeight          float64 `json:"rule_weight" toml:"rule_weight"`
	ModelWeight         float64 `json:"model_weight" toml:"model_weight"`
	ConsensusBonus      float64 `json:"consensus_bonus" toml:"consensus_bonus"`
	RuleThreshold       float64 `json:"rule_threshold" toml:"rule_threshold"`
	ModelThreshold      float64 `json:"model_threshold" toml:"model_threshold"`
	RuleDiscount        float64 `json:"rule_discount" toml:"rule_discount"`
	ModelDiscount       float64 `json:"model_discount" toml:"model_discount"`
	UncertainConfidence float64 `json:"uncertain_confidence" toml:"uncertain_confidence"`
}

func DefaultConfig() Config {
	return Config{
		RuleWeight:          0.60,
		ModelWeight:         0.40,
		ConsensusBonus:      0.15,
		RuleThreshold:       0.60,
		ModelThreshold:      0.75,
		RuleDiscount:        0.90,
		ModelDiscount:       0.85,
		UncertainConfidence: 0.5,
	}
}

// normalized rescales the source weights when they do not sum to one.
func (c Config) normalized() Config {
	sum := c.RuleWeight + c.ModelWeight
	if sum > 0 && math.Abs(sum-1) > 0.01 {
		c.RuleWeight /= sum
		c.ModelWeight /= sum
	}
	return c
}

// Contribution is one source's part in an integration.
type Contribution struct {
	Kind          types.SourceKind          `json:"kind"`
	Direction     types.Direction           `json:"direction"`
	RawConfidence float64                   `json:"raw_confidence"`
	Weight        float64                   `json:"weight"`
	Validation    *signals.ValidationResult `json:"validation"`
	Dropped       bool                      `json:"dropped"`
	Metrics       *types.Metrics            `json:"-"`
}

// IntegratedSignal is the single decision handed to risk sizing.
type IntegratedSignal struct {
	Symbol     string          `json:"symbol"`
	Direction  types.Direction `json:"direction"`
	Confidence float64         `json:"confidence"`
	Method     Method          `json:"method"`
	Consensus  bool            `json:"consensus"`

	// OriginalDirection is set when re-validation downgraded the decision to HOLD.
	OriginalDirection types.Direction `json:"original_direction,omitempty"`

	Contributions []Contribution            `json:"contributions"`
	Validation    *signals.ValidationResult `json:"validation,omitempty"`
	Metrics       *types.Metrics            `json:"metrics,omitempty"`
	Reasons       []string                  `json:"reasons,omitempty"`
}

// Actionable reports whether the decision may proceed to risk sizing.
func (s *IntegratedSignal) Actionable() bool {
	return s.Direction.Actionable()
}

// Integrator combines per-source signals into one validated decision.
type Integrator struct {
	cfg       Config
	validator *signals.Validator
	log       zerolog.Logger
}

func New(cfg Config, v *signals.Validator) *Integrator {
	normalized := cfg.normalized()
	log := logger.Component("integrator")
	if normalized != cfg {
		log.Warn().Float64("rule_weight", normalized.RuleWeight).Float64("model_weight", normalized.ModelWeight).
			Msg("source weights do not sum to 1, normalized")
	}
	return &Integrator{cfg: normalized, validator: v, log: log}
}

func (i *Integrator) weightFor(src types.SourceSignal) float64 {
	if src.Weight > 0 {
		return src.Weight
	}
	if src.Kind == types.SourceModel {
		return i.cfg.ModelWeight
	}
	return i.cfg.RuleWeight
}

func (i *Integrator) checkInputs(symbol string, sources []types.SourceSignal) error {
	if symbol == "" {
		return boterrors.NewInvalidInputError("integrator", "integrate", "empty symbol")
	}
	if len(sources) == 0 {
		return boterrors.NewInvalidInputError("integrator", "integrate", "no signal sources").
			WithContext("symbol", symbol)
	}
	seen := make(map[types.SourceKind]bool, len(sources))
	for _, src := range sources {
		if !src.Kind.Valid() {
			return boterrors.NewInvalidInputError("integrator", "integrate", fmt.Sprintf("unknown source kind %q", src.Kind)).
				WithContext("symbol", symbol)
		}
		if seen[src.Kind] {
			return boterrors.NewInvalidInputError("integrator", "integrate", fmt.Sprintf("duplicate source %q", src.Kind)).
				WithContext("symbol", symbol)
		}
		seen[src.Kind] = true

		sig := src.Signal
		if sig.Symbol != "" && sig.Symbol != symbol {
			return boterrors.NewInvalidInputError("integrator", "integrate",
				fmt.Sprintf("source %s reports symbol %s", src.Kind, sig.Symbol)).WithContext("symbol", symbol)
		}
		if !sig.Direction.Valid() {
			return boterrors.NewInvalidInputError("integrator", "integrate",
				fmt.Sprintf("source %s has unknown direction %q", src.Kind, sig.Direction)).WithContext("symbol", symbol)
		}
		if math.IsNaN(sig.Confidence) || sig.Confidence < 0 || sig.Confidence > 1 {
			return boterrors.NewInvalidInputError("integrator", "integrate",
				fmt.Sprintf("source %s confidence %v outside [0,1]", src.Kind, sig.Confidence)).WithContext("symbol", symbol)
		}
		if src.Weight < 0 {
			return boterrors.NewInvalidInputError("integrator", "integrate",
				fmt.Sprintf("source %s has negative weight", src.Kind)).WithContext("symbol", symbol)
		}
	}
	return nil
}

// Integrate validates each source, combines the survivors and re-validates the result.
// Inputs are checked up front so a malformed source never touches dedup state.
func (i *Integrator) Integrate(symbol string, sources []types.SourceSignal) (*IntegratedSignal, error) {
	if err := i.checkInputs(symbol, sources); err != nil {
		return nil, err
	}

	out := &IntegratedSignal{Symbol: symbol}
	var survivors []Contribution
	for _, src := range sources {
		sig := src.Signal
		res, err := i.validator.ValidateFrom(string(src.Kind), symbol, sig.Direction, sig.Confidence, sig.Metrics)
		if err != nil {
			return nil, err
		}
		c := Contribution{
			Kind:          src.Kind,
			Direction:     sig.Direction,
			RawConfidence: sig.Confidence,
			Weight:        i.weightFor(src),
			Validation:    res,
			Dropped:       !res.IsValid,
			Metrics:       sig.Metrics,
		}
		out.Contributions = append(out.Contributions, c)
		out.Reasons = append(out.Reasons, sig.Reasons...)
		// HOLD inputs validate as valid, so only failed sources are dropped here
		if c.Dropped {
			i.log.Info().Str("symbol", symbol).Str("source", string(src.Kind)).
				Bool("duplicate", res.WasDuplicate).Bool("contradiction", res.Rejected()).
				Float64("confidence", res.Confidence).Msg("source dropped by validation")
			continue
		}
		survivors = append(survivors, c)
	}

	winner := i.combine(out, survivors)
	if winner != nil {
		out.Metrics = winner.Metrics
	}

	if out.Direction.Actionable() {
		i.revalidate(out)
	}

	monitoring.RecordIntegration(symbol, string(out.Method), string(out.Direction), out.Confidence)
	i.log.Info().Str("symbol", symbol).Str("direction", string(out.Direction)).
		Float64("confidence", out.Confidence).Str("method", string(out.Method)).
		Int("survivors", len(survivors)).Msg("signals integrated")
	return out, nil
}

// combine sets direction, confidence and method on out and returns the
// contribution whose metrics back the decision.
func (i *Integrator) combine(out *IntegratedSignal, survivors []Contribution) *Contribution {
	switch len(survivors) {
	case 0:
		i.uncertain(out, "all sources dropped by validation")
		return nil
	case 1:
		// nothing to agree with, so no agreement bonus
		only := survivors[0]
		out.Direction = only.Validation.Signal
		out.Confidence = only.Validation.Confidence
		out.Method = MethodConsensus
		return &only
	}

	if agree(survivors) {
		var weighted, total float64
		for _, c := range survivors {
			weighted += c.Validation.Confidence * c.Weight
			total += c.Weight
		}
		conf := 0.0
		if total > 0 {
			conf = weighted / total
		}
		out.Direction = survivors[0].Validation.Signal
		out.Confidence = math.Min(1, conf*(1+i.cfg.ConsensusBonus))
		out.Method = MethodConsensus
		out.Consensus = true
		return metricsSource(survivors)
	}

	rule, model := byKind(survivors, types.SourceRuleBased), byKind(survivors, types.SourceModel)
	switch {
	case rule != nil && rule.RawConfidence >= i.cfg.RuleThreshold:
		out.Direction = rule.Validation.Signal
		out.Confidence = rule.Validation.Confidence * i.cfg.RuleDiscount
		out.Method = MethodPriorityA
		out.Reasons = append(out.Reasons, fmt.Sprintf("rule-based %s (%.0f%%) overrides disagreeing model", rule.Direction, rule.RawConfidence*100))
		return rule
	case model != nil && model.RawConfidence >= i.cfg.ModelThreshold:
		out.Direction = model.Validation.Signal
		out.Confidence = model.Validation.Confidence * i.cfg.ModelDiscount
		out.Method = MethodPriorityB
		out.Reasons = append(out.Reasons, fmt.Sprintf("model %s (%.0f%%) overrides disagreeing rules", model.Direction, model.RawConfidence*100))
		return model
	}
	i.uncertain(out, "sources disagree below priority thresholds")
	return nil
}

func (i *Integrator) uncertain(out *IntegratedSignal, reason string) {
	out.Direction = types.DirectionHold
	out.Confidence = i.cfg.UncertainConfidence
	out.Method = MethodUncertain
	out.Reasons = append(out.Reasons, reason)
}

// revalidate gates the combined decision against the symbol's own history.
// A failed gate downgrades to HOLD and keeps the direction that was proposed.
func (i *Integrator) revalidate(out *IntegratedSignal) {
	res, err := i.validator.Validate(out.Symbol, out.Direction, out.Confidence, out.Metrics)
	if err != nil {
		// combined confidence is capped at 1, so this is a programming error
		i.log.Error().Err(err).Str("symbol", out.Symbol).Msg("re-validation failed")
		out.OriginalDirection = out.Direction
		out.Direction = types.DirectionHold
		return
	}
	out.Validation = res
	if res.IsValid {
		out.Confidence = res.Confidence
		return
	}
	out.OriginalDirection = out.Direction
	out.Direction = types.DirectionHold
	out.Confidence = res.Confidence
	switch {
	case res.WasDuplicate:
		out.Reasons = append(out.Reasons, "blocked: duplicate of a recent decision")
	case res.Rejected():
		out.Reasons = append(out.Reasons, "blocked: contradicts indicators")
	default:
		out.Reasons = append(out.Reasons, "blocked: combined confidence below floor")
	}
	i.log.Info().Str("symbol", out.Symbol).Str("original_direction", string(out.OriginalDirection)).
		Bool("duplicate", res.WasDuplicate).Msg("combined signal downgraded to HOLD")
}

func agree(cs []Contribution) bool {
	for _, c := range cs[1:] {
		if c.Validation.Signal != cs[0].Validation.Signal {
			return false
		}
	}
	return true
}

func byKind(cs []Contribution, kind types.SourceKind) *Contribution {
	for idx := range cs {
		if cs[idx].Kind == kind {
			return &cs[idx]
		}
	}
	return nil
}

// metricsSource prefers the rule-based source, which is the one that carries indicators.
func metricsSource(cs []Contribution) *Contribution {
	if c := byKind(cs, types.SourceRuleBased); c != nil && c.Metrics != nil {
		return c
	}
	for idx := range cs {
		if cs[idx].Metrics != nil {
			return &cs[idx]
		}
	}
	return &cs[0]
}
