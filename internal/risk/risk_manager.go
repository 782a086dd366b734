package risk

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	boterrors "github.com/ducminhle1904/crypto-signal-bot/internal/errors"
	"github.com/ducminhle1904/crypto-signal-bot/internal/logger"
	"github.com/ducminhle1904/crypto-signal-bot/internal/monitoring"
	"github.com/ducminhle1904/crypto-signal-bot/pkg/types"
)

type Option func(*Manager)

// WithClock replaces time.Now for day rollover and position timestamps.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// Manager owns the account ledger. Every read and write goes through mu, so
// a validation and the position it admits commit as one step.
type Manager struct {
	cfg Config
	now func() time.Time
	log zerolog.Logger

	mu            sync.Mutex
	balance       float64
	window        *DailyWindow
	positions     map[string]*Position
	totalTrades   int
	winningTrades int
}

func NewManager(cfg Config, balance float64, opts ...Option) *Manager {
	m := &Manager{
		cfg:       cfg,
		now:       time.Now,
		log:       logger.Component("risk"),
		balance:   balance,
		positions: make(map[string]*Position),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.window = NewDailyWindow(m.now())

	m.log.Info().Float64("balance", balance).
		Float64("max_risk_per_trade", cfg.MaxRiskPerTrade).
		Float64("daily_loss_limit", cfg.DailyLossLimit).
		Int("max_positions", cfg.MaxPositions).
		Msg("risk manager initialized")
	return m
}

func (m *Manager) Config() Config {
	return m.cfg
}

// ValidateTrade runs the portfolio gates in order and stops at the first failure.
func (m *Manager) ValidateTrade(req TradeRequest) Decision {
	m.mu.Lock()
	defer m.mu.Unlock()

	d := m.validateLocked(req)
	monitoring.RecordRiskDecision(d.Accepted, string(d.Check))
	return d
}

func (m *Manager) validateLocked(req TradeRequest) Decision {
	if m.window.RolloverIfNeeded(m.now()) {
		m.log.Info().Time("day", m.window.Day()).Msg("daily P&L reset")
	}

	if req.Symbol == "" || !req.Side.Valid() || req.Amount <= 0 || req.Entry <= 0 || req.StopLoss < 0 {
		return reject(CheckInput, fmt.Sprintf("malformed trade request %+v", req))
	}

	if loss, limit := m.window.Loss(), m.balance*m.cfg.DailyLossLimit; loss >= limit {
		m.log.Warn().Float64("daily_loss", loss).Float64("limit", limit).Msg("daily loss limit reached")
		return reject(CheckDailyLoss, fmt.Sprintf("daily loss limit reached (%.2f >= %.2f), trading halted", loss, limit))
	}

	if len(m.positions) >= m.cfg.MaxPositions {
		return reject(CheckMaxPositions, fmt.Sprintf("maximum positions limit reached (%d)", m.cfg.MaxPositions))
	}

	if req.StopLoss > 0 {
		tradeRisk := abs(req.Entry-req.StopLoss) * req.Amount
		if total, limit := m.totalRiskLocked()+tradeRisk, m.balance*m.cfg.MaxPortfolioRisk; total > limit {
			return reject(CheckPortfolioRisk, fmt.Sprintf("portfolio risk %.2f would exceed limit %.2f (%.1f%%)",
				total, limit, m.cfg.MaxPortfolioRisk*100))
		}
	}

	// exact base-asset match: BTC/USDT and BTC/EUR group, BTC and BTCDOM do not
	base := types.BaseAsset(req.Symbol)
	var correlated float64
	for _, p := range m.positions {
		if types.BaseAsset(p.Symbol) == base {
			correlated += p.Notional()
		}
	}
	if limit := m.balance * m.cfg.MaxCorrelatedExposure; correlated >= limit {
		m.log.Warn().Str("base", base).Float64("exposure", correlated).Float64("limit", limit).
			Msg("correlated exposure limit reached")
		return reject(CheckCorrelatedExposure, fmt.Sprintf("correlated exposure to %s %.2f reached limit %.2f", base, correlated, limit))
	}

	notional := req.Notional()
	if notional > m.balance*m.cfg.MaxNotional {
		return reject(CheckPositionSize, fmt.Sprintf("position size exceeds %.0f%% of balance", m.cfg.MaxNotional*100))
	}
	if notional < m.balance*m.cfg.MinNotional {
		return reject(CheckPositionSize, fmt.Sprintf("position size below %.1f%% of balance", m.cfg.MinNotional*100))
	}

	return accept()
}

func (m *Manager) totalRiskLocked() float64 {
	var total float64
	for _, p := range m.positions {
		total += p.Risk()
	}
	return total
}

// TryOpen validates the trade and records the position under one lock.
// A rejection is returned both as the decision and as a RiskRejected error.
func (m *Manager) TryOpen(req TradeRequest, takeProfit float64) (Decision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, open := m.positions[req.Symbol]; open {
		d := reject(CheckOpenPosition, fmt.Sprintf("position already open for %s", req.Symbol))
		monitoring.RecordRiskDecision(false, string(d.Check))
		return d, d.Err()
	}

	d := m.validateLocked(req)
	monitoring.RecordRiskDecision(d.Accepted, string(d.Check))
	if !d.Accepted {
		m.log.Info().Str("symbol", req.Symbol).Str("check", string(d.Check)).Str("reason", d.Reason).Msg("trade rejected")
		return d, d.Err()
	}

	err := m.addLocked(Position{
		Symbol:     req.Symbol,
		Side:       req.Side,
		EntryPrice: req.Entry,
		Amount:     req.Amount,
		StopLoss:   req.StopLoss,
		TakeProfit: takeProfit,
	})
	return d, err
}

// AddPosition records a position without validating it.
func (m *Manager) AddPosition(p Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.addLocked(p)
}

func (m *Manager) addLocked(p Position) error {
	if p.Amount <= 0 {
		return boterrors.NewInvalidInputError("risk", "add_position", fmt.Sprintf("amount must be positive, got %v", p.Amount)).
			WithContext("symbol", p.Symbol)
	}
	if _, open := m.positions[p.Symbol]; open {
		return boterrors.NewInvalidInputError("risk", "add_position", "position already open").
			WithContext("symbol", p.Symbol)
	}
	if p.OpenedAt.IsZero() {
		p.OpenedAt = m.now()
	}
	m.positions[p.Symbol] = &p
	m.totalTrades++

	m.log.Info().Str("symbol", p.Symbol).Str("side", string(p.Side)).
		Float64("amount", p.Amount).Float64("entry", p.EntryPrice).
		Float64("stop_loss", p.StopLoss).Float64("take_profit", p.TakeProfit).
		Msg("position added")
	m.publishLocked()
	return nil
}

// ClosePosition realizes P&L at exitPrice and removes the position.
// This is the only path that moves the win statistics Kelly sizing reads.
func (m *Manager) ClosePosition(symbol string, exitPrice float64) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.positions[symbol]
	if !ok {
		return 0, boterrors.NewInvalidInputError("risk", "close_position", "no open position").
			WithContext("symbol", symbol)
	}
	if exitPrice <= 0 {
		return 0, boterrors.NewInvalidInputError("risk", "close_position", fmt.Sprintf("exit price must be positive, got %v", exitPrice)).
			WithContext("symbol", symbol)
	}
	delete(m.positions, symbol)

	m.window.RolloverIfNeeded(m.now())
	pnl := p.pnlAt(exitPrice)
	m.window.Add(pnl)
	m.balance += pnl
	if pnl > 0 {
		m.winningTrades++
	}

	logger.Trade().Str("symbol", symbol).Str("side", string(p.Side)).
		Float64("entry", p.EntryPrice).Float64("exit", exitPrice).Float64("pnl", pnl).
		Float64("daily_pnl", m.window.PnL()).Float64("balance", m.balance).
		Msg("position closed")
	m.publishLocked()
	return pnl, nil
}

// DiscardPosition drops a position without realizing P&L. It is used when
// the entry order never reached the exchange or was cancelled unfilled, so
// the trade it counted is taken back out of the win-rate base.
func (m *Manager) DiscardPosition(symbol string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.positions[symbol]; !ok {
		return false
	}
	delete(m.positions, symbol)
	if m.totalTrades > 0 {
		m.totalTrades--
	}
	m.log.Info().Str("symbol", symbol).Int("total_trades", m.totalTrades).Msg("position discarded")
	m.publishLocked()
	return true
}

// UpdatePositionPnL marks a position to price and returns its unrealized P&L.
func (m *Manager) UpdatePositionPnL(symbol string, price float64) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.positions[symbol]
	if !ok {
		return 0, boterrors.NewInvalidInputError("risk", "update_pnl", "no open position").
			WithContext("symbol", symbol)
	}
	p.UnrealizedPnL = p.pnlAt(price)
	return p.UnrealizedPnL, nil
}

// Position returns a copy of the open position for symbol.
func (m *Manager) Position(symbol string) (Position, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.positions[symbol]
	if !ok {
		return Position{}, false
	}
	return *p, true
}

// Positions returns copies of all open positions, oldest first.
func (m *Manager) Positions() []Position {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Position, 0, len(m.positions))
	for _, p := range m.positions {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].OpenedAt.Equal(out[j].OpenedAt) {
			return out[i].Symbol < out[j].Symbol
		}
		return out[i].OpenedAt.Before(out[j].OpenedAt)
	})
	return out
}

func (m *Manager) PortfolioStats() PortfolioStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.window.RolloverIfNeeded(m.now())

	s := PortfolioStats{
		Balance:        m.balance,
		DailyPnL:       m.window.PnL(),
		OpenPositions:  len(m.positions),
		TotalRisk:      m.totalRiskLocked(),
		TotalTrades:    m.totalTrades,
		WinningTrades:  m.winningTrades,
		MaxPositions:   m.cfg.MaxPositions,
		DailyLossLimit: m.balance * m.cfg.DailyLossLimit,
	}
	for _, p := range m.positions {
		s.TotalNotional += p.Notional()
		s.TotalUnrealizedPnL += p.UnrealizedPnL
	}
	if m.balance > 0 {
		s.DailyPnLPct = s.DailyPnL / m.balance * 100
		s.RiskPct = s.TotalRisk / m.balance * 100
	}
	if m.totalTrades > 0 {
		s.WinRate = float64(m.winningTrades) / float64(m.totalTrades) * 100
	}
	s.TradingHalted = m.window.Loss() >= s.DailyLossLimit
	return s
}

func (m *Manager) publishLocked() {
	monitoring.UpdateLedger(len(m.positions), m.balance, m.window.PnL())
}
