// Package paper is an in-memory exchange for dry runs and tests. Orders
// match against reference prices set with SetPrice.
package paper

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ducminhle1904/crypto-signal-bot/internal/exchange"
	"github.com/ducminhle1904/crypto-signal-bot/internal/logger"
	"github.com/ducminhle1904/crypto-signal-bot/pkg/types"
)

type order struct {
	req       exchange.OrderRequest
	id        string
	status    types.OrderStatus
	triggered bool
	filled    float64
	fillPrice float64
	updatedAt time.Time
}

func (o *order) state() *exchange.OrderState {
	return &exchange.OrderState{
		ID:           o.id,
		Symbol:       o.req.Symbol,
		Status:       o.status,
		FilledAmount: o.filled,
		FillPrice:    o.fillPrice,
		UpdatedAt:    o.updatedAt,
	}
}

// Option configures an Exchange
type Option func(*Exchange)

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(e *Exchange) { e.now = now }
}

// Exchange is a mutex-guarded simulated venue implementing exchange.Gateway
type Exchange struct {
	mu         sync.Mutex
	balances   map[string]float64
	prices     map[string]float64
	orders     map[string]*order
	fillMarket bool
	failCreate []error
	seq        int
	now        func() time.Time
	log        zerolog.Logger
}

var _ exchange.Gateway = (*Exchange)(nil)

// New creates a paper exchange seeded from cfg
func New(cfg exchange.PaperConfig, opts ...Option) *Exchange {
	e := &Exchange{
		balances:   make(map[string]float64),
		prices:     make(map[string]float64),
		orders:     make(map[string]*order),
		fillMarket: cfg.FillMarket,
		now:        time.Now,
		log:        logger.Component("paper"),
	}
	for k, v := range cfg.Balances {
		e.balances[strings.ToUpper(k)] = v
	}
	for k, v := range cfg.Prices {
		e.prices[k] = v
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Exchange) Name() string { return "paper" }

// FetchBalance returns the free balance of currency
func (e *Exchange) FetchBalance(ctx context.Context, currency string) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.balances[strings.ToUpper(currency)], nil
}

// FailNextCreate makes the next CreateOrder calls return errs, one per call.
// A nil entry lets that call through.
func (e *Exchange) FailNextCreate(errs ...error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failCreate = append(e.failCreate, errs...)
}

// CreateOrder rests the order on the simulated book, matching it at once
// when the reference price already crosses
func (e *Exchange) CreateOrder(ctx context.Context, req exchange.OrderRequest) (*exchange.OrderAck, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.failCreate) > 0 {
		err := e.failCreate[0]
		e.failCreate = e.failCreate[1:]
		if err != nil {
			return nil, err
		}
	}
	if err := e.checkRequest(req); err != nil {
		return nil, err
	}

	e.seq++
	o := &order{
		req:       req,
		id:        fmt.Sprintf("paper-%d", e.seq),
		status:    types.OrderStatusOpen,
		updatedAt: e.now(),
	}
	e.orders[o.id] = o
	if price, ok := e.prices[req.Symbol]; ok {
		e.match(o, price)
	}

	e.log.Debug().
		Str("order_id", o.id).
		Str("symbol", req.Symbol).
		Str("side", string(req.Side)).
		Str("type", string(req.Type)).
		Float64("amount", req.Amount).
		Str("status", string(o.status)).
		Msg("paper order accepted")

	return &exchange.OrderAck{ID: o.id, ClientID: req.ClientID, Status: o.status}, nil
}

func (e *Exchange) checkRequest(req exchange.OrderRequest) error {
	_, quote, ok := types.SplitSymbol(req.Symbol)
	if !ok {
		return exchange.ErrInvalidSymbol.WithDetails(req.Symbol)
	}
	if req.Amount <= 0 || !req.Side.Valid() {
		return exchange.ErrInvalidOrder.WithDetails(fmt.Sprintf("amount %v side %q", req.Amount, req.Side))
	}
	switch req.Type {
	case types.OrderTypeMarket:
	case types.OrderTypeLimit:
		if req.Price <= 0 {
			return exchange.ErrInvalidOrder.WithDetails("limit order needs a price")
		}
	case types.OrderTypeStopLimit:
		if req.Price <= 0 || req.StopPrice <= 0 {
			return exchange.ErrInvalidOrder.WithDetails("stop-limit order needs price and stop price")
		}
	default:
		return exchange.ErrInvalidOrder.WithDetails(fmt.Sprintf("unsupported order type %q", req.Type))
	}

	// only opening buys are funded; protective sells reference the same inventory
	if req.Side == types.SideBuy && !req.ReduceOnly {
		price := req.Price
		if req.Type == types.OrderTypeMarket {
			price = e.prices[req.Symbol]
		}
		if need := req.Amount * price; need > e.balances[quote] {
			return exchange.ErrInsufficientBalance.WithDetails(
				fmt.Sprintf("need %.8f %s, have %.8f", need, quote, e.balances[quote]))
		}
	}
	return nil
}

// match fills o against price when it crosses. Caller holds e.mu.
func (e *Exchange) match(o *order, price float64) {
	if o.status.IsTerminal() {
		return
	}
	req := o.req
	switch req.Type {
	case types.OrderTypeMarket:
		if e.fillMarket {
			e.fill(o, price)
		}
	case types.OrderTypeLimit:
		if crossesLimit(req.Side, req.Price, price) {
			e.fill(o, req.Price)
		}
	case types.OrderTypeStopLimit:
		if !o.triggered {
			o.triggered = (req.Side == types.SideSell && price <= req.StopPrice) ||
				(req.Side == types.SideBuy && price >= req.StopPrice)
		}
		if o.triggered && crossesLimit(req.Side, req.Price, price) {
			e.fill(o, price)
		}
	}
}

func crossesLimit(side types.Side, limit, price float64) bool {
	if side == types.SideBuy {
		return price <= limit
	}
	return price >= limit
}

func (e *Exchange) fill(o *order, price float64) {
	base, quote, _ := types.SplitSymbol(o.req.Symbol)
	notional := o.req.Amount * price
	if o.req.Side == types.SideBuy {
		e.balances[quote] -= notional
		e.balances[base] += o.req.Amount
	} else {
		e.balances[quote] += notional
		e.balances[base] -= o.req.Amount
	}
	o.filled = o.req.Amount
	o.fillPrice = price
	o.status = types.OrderStatusFilled
	o.updatedAt = e.now()
}

// SetPrice updates the reference price and matches resting orders in creation order
func (e *Exchange) SetPrice(symbol string, price float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.prices[symbol] = price

	resting := make([]*order, 0, len(e.orders))
	for _, o := range e.orders {
		if o.req.Symbol == symbol && !o.status.IsTerminal() {
			resting = append(resting, o)
		}
	}
	sort.Slice(resting, func(i, j int) bool { return seqOf(resting[i].id) < seqOf(resting[j].id) })
	for _, o := range resting {
		e.match(o, price)
	}
}

func seqOf(id string) int {
	var n int
	fmt.Sscanf(id, "paper-%d", &n)
	return n
}

// Fill forces an order to fill at price regardless of its limits
func (e *Exchange) Fill(orderID string, price float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	o, ok := e.orders[orderID]
	if !ok {
		return exchange.ErrOrderNotFound.WithDetails(orderID)
	}
	if o.status.IsTerminal() {
		return exchange.ErrInvalidOrder.WithDetails("order " + orderID + " is " + string(o.status))
	}
	e.fill(o, price)
	return nil
}

// Expire ends an unfilled order as expired
func (e *Exchange) Expire(orderID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	o, ok := e.orders[orderID]
	if !ok {
		return exchange.ErrOrderNotFound.WithDetails(orderID)
	}
	o.status = types.OrderStatusExpired
	o.updatedAt = e.now()
	return nil
}

// CancelOrder cancels a working order
func (e *Exchange) CancelOrder(ctx context.Context, symbol, orderID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	o, ok := e.orders[orderID]
	if !ok || o.req.Symbol != symbol {
		return exchange.ErrOrderNotFound.WithDetails(orderID)
	}
	if o.status.IsTerminal() {
		return exchange.ErrInvalidOrder.WithDetails("order " + orderID + " is " + string(o.status))
	}
	o.status = types.OrderStatusCancelled
	o.updatedAt = e.now()
	return nil
}

// FetchOrder returns the order's current state
func (e *Exchange) FetchOrder(ctx context.Context, symbol, orderID string) (*exchange.OrderState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	o, ok := e.orders[orderID]
	if !ok || o.req.Symbol != symbol {
		return nil, exchange.ErrOrderNotFound.WithDetails(orderID)
	}
	return o.state(), nil
}

// Open returns the ids of working orders for symbol
func (e *Exchange) Open(symbol string) []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	var ids []string
	for id, o := range e.orders {
		if o.req.Symbol == symbol && !o.status.IsTerminal() {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return seqOf(ids[i]) < seqOf(ids[j]) })
	return ids
}

// Request returns what was submitted for orderID
func (e *Exchange) Request(orderID string) (exchange.OrderRequest, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	o, ok := e.orders[orderID]
	if !ok {
		return exchange.OrderRequest{}, false
	}
	return o.req, true
}
