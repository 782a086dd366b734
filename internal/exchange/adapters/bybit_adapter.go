package adapters

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/ducminhle1904/crypto-signal-bot/internal/exchange"
	"github.com/ducminhle1904/crypto-signal-bot/internal/exchange/bybit"
	"github.com/ducminhle1904/crypto-signal-bot/pkg/types"
)

// bybitAPI is the part of the Bybit client the adapter drives
type bybitAPI interface {
	PlaceOrder(ctx context.Context, params bybit.PlaceOrderParams) (*bybit.Order, error)
	CancelOrder(ctx context.Context, category, symbol, orderID string) error
	GetOrder(ctx context.Context, category, symbol, orderID string) (*bybit.Order, error)
	GetTradableBalance(ctx context.Context, accountType bybit.AccountType, coin string) (float64, error)
}

type instrumentLookup interface {
	GetInstrumentInfo(ctx context.Context, category, symbol string) (*bybit.InstrumentInfo, error)
}

// BybitAdapter implements exchange.Gateway for Bybit
type BybitAdapter struct {
	client      bybitAPI
	instruments instrumentLookup
	category    string
	accountType bybit.AccountType
	environment string
}

var _ exchange.Gateway = (*BybitAdapter)(nil)

// NewBybitAdapter creates a new Bybit adapter instance
func NewBybitAdapter(config *exchange.BybitConfig) (*BybitAdapter, error) {
	if config == nil {
		return nil, &exchange.ExchangeError{
			Code:    "MISSING_CONFIG",
			Message: "Bybit configuration is required",
		}
	}

	client := bybit.NewClient(bybit.Config{
		APIKey:    config.APIKey,
		APISecret: config.APISecret,
		Testnet:   config.Testnet,
		Demo:      config.Demo,
	})

	a := newBybitAdapter(client, client.Instruments(), config.Category, config.AccountType)
	a.environment = client.GetEnvironment()
	return a, nil
}

func newBybitAdapter(client bybitAPI, instruments instrumentLookup, category, accountType string) *BybitAdapter {
	if category == "" {
		category = "spot"
	}
	if accountType == "" {
		accountType = string(bybit.AccountTypeUnified)
	}
	return &BybitAdapter{
		client:      client,
		instruments: instruments,
		category:    category,
		accountType: bybit.AccountType(accountType),
	}
}

// Name returns the exchange name
func (b *BybitAdapter) Name() string {
	if b.environment == "" {
		return "bybit"
	}
	return "bybit-" + b.environment
}

// FetchBalance returns the tradable amount of currency
func (b *BybitAdapter) FetchBalance(ctx context.Context, currency string) (float64, error) {
	balance, err := b.client.GetTradableBalance(ctx, b.accountType, strings.ToUpper(currency))
	if err != nil {
		return 0, convertError(err)
	}
	return balance, nil
}

// CreateOrder places one order. Quantity is floored to the lot step and
// prices snap to the tick size. Placement is never retried.
func (b *BybitAdapter) CreateOrder(ctx context.Context, req exchange.OrderRequest) (*exchange.OrderAck, error) {
	symbol := toBybitSymbol(req.Symbol)
	info, err := b.instruments.GetInstrumentInfo(ctx, b.category, symbol)
	if err != nil {
		return nil, convertError(err)
	}

	qty := info.RoundQty(decimal.NewFromFloat(req.Amount))
	if err := info.ValidateQty(qty); err != nil {
		return nil, exchange.ErrOrderSizeTooSmall.WithDetails(err.Error())
	}

	params := bybit.PlaceOrderParams{
		Category:    b.category,
		Symbol:      symbol,
		Side:        toBybitSide(req.Side),
		Qty:         qty.String(),
		OrderLinkID: req.ClientID,
		ReduceOnly:  req.ReduceOnly && b.category != "spot",
	}

	switch req.Type {
	case types.OrderTypeMarket:
		params.OrderType = bybit.OrderTypeMarket
		if b.category == "spot" {
			params.MarketUnit = "baseCoin"
		}
	case types.OrderTypeLimit:
		if req.Price <= 0 {
			return nil, exchange.ErrInvalidOrder.WithDetails("limit order needs a price")
		}
		params.OrderType = bybit.OrderTypeLimit
		params.Price = info.RoundPrice(decimal.NewFromFloat(req.Price)).String()
	case types.OrderTypeStopLimit:
		if req.Price <= 0 || req.StopPrice <= 0 {
			return nil, exchange.ErrInvalidOrder.WithDetails("stop-limit order needs price and stop price")
		}
		params.OrderType = bybit.OrderTypeLimit
		params.Price = info.RoundPrice(decimal.NewFromFloat(req.Price)).String()
		params.TriggerPrice = info.RoundPrice(decimal.NewFromFloat(req.StopPrice)).String()
		if b.category == "spot" {
			params.OrderFilter = "StopOrder"
		} else {
			params.TriggerDirection = triggerDirection(req.Side)
		}
	default:
		return nil, exchange.ErrInvalidOrder.WithDetails(fmt.Sprintf("unsupported order type %q", req.Type))
	}

	order, err := b.client.PlaceOrder(ctx, params)
	if err != nil {
		return nil, convertError(err)
	}

	status := types.OrderStatusOpen
	if order.OrderStatus != "" {
		status = mapStatus(order.OrderStatus)
	}
	return &exchange.OrderAck{
		ID:       order.OrderID,
		ClientID: order.OrderLinkID,
		Status:   status,
	}, nil
}

// CancelOrder cancels an open order
func (b *BybitAdapter) CancelOrder(ctx context.Context, symbol, orderID string) error {
	return convertError(b.client.CancelOrder(ctx, b.category, toBybitSymbol(symbol), orderID))
}

// FetchOrder returns the order's status and fill
func (b *BybitAdapter) FetchOrder(ctx context.Context, symbol, orderID string) (*exchange.OrderState, error) {
	order, err := b.client.GetOrder(ctx, b.category, toBybitSymbol(symbol), orderID)
	if err != nil {
		return nil, convertError(err)
	}

	filled := decimalOrZero(order.CumExecQty)
	fillPrice := decimalOrZero(order.AvgPrice)
	if fillPrice.IsZero() && filled.IsPositive() {
		fillPrice = decimalOrZero(order.CumExecValue).Div(filled)
	}

	return &exchange.OrderState{
		ID:           order.OrderID,
		Symbol:       symbol,
		Status:       mapStatus(order.OrderStatus),
		FilledAmount: filled.InexactFloat64(),
		FillPrice:    fillPrice.InexactFloat64(),
		UpdatedAt:    order.UpdatedTime,
	}, nil
}

// toBybitSymbol maps "BTC/USDT" to "BTCUSDT"
func toBybitSymbol(symbol string) string {
	return strings.ToUpper(strings.ReplaceAll(symbol, "/", ""))
}

func toBybitSide(side types.Side) bybit.OrderSide {
	if side == types.SideSell {
		return bybit.OrderSideSell
	}
	return bybit.OrderSideBuy
}

// triggerDirection: a sell stop protects a long and fires on a fall
func triggerDirection(side types.Side) bybit.TriggerDirection {
	if side == types.SideSell {
		return bybit.TriggerFall
	}
	return bybit.TriggerRise
}

func mapStatus(status bybit.OrderStatus) types.OrderStatus {
	switch status {
	case bybit.OrderStatusCreated, bybit.OrderStatusNew, bybit.OrderStatusUntriggered, bybit.OrderStatusTriggered:
		return types.OrderStatusOpen
	case bybit.OrderStatusPartiallyFilled:
		return types.OrderStatusPartiallyFilled
	case bybit.OrderStatusFilled:
		return types.OrderStatusFilled
	case bybit.OrderStatusCancelled, bybit.OrderStatusPartiallyFilledCanceled, bybit.OrderStatusDeactivated:
		return types.OrderStatusCancelled
	case bybit.OrderStatusRejected:
		return types.OrderStatusRejected
	default:
		return types.OrderStatusPending
	}
}

func decimalOrZero(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// convertError converts Bybit-specific errors to our standard error format
func convertError(err error) error {
	if err == nil {
		return nil
	}

	switch {
	case bybit.IsAuthenticationError(err):
		return exchange.ErrAuthenticationFailed.WithDetails(err.Error())
	case bybit.IsRateLimitError(err):
		return exchange.ErrRateLimitExceeded.WithDetails(err.Error())
	case bybit.IsInsufficientBalanceError(err):
		return exchange.ErrInsufficientBalance.WithDetails(err.Error())
	case bybit.IsOrderNotFoundError(err):
		return exchange.ErrOrderNotFound.WithDetails(err.Error())
	case bybit.IsRetryableError(err):
		return exchange.ErrConnectionFailed.WithDetails(err.Error())
	}

	var exErr *exchange.ExchangeError
	if errors.As(err, &exErr) {
		return err
	}
	var apiErr *bybit.BybitError
	if errors.As(err, &apiErr) {
		return exchange.ErrInvalidOrder.WithDetails(err.Error())
	}
	// transport failures and timeouts never produced a Bybit envelope
	return exchange.ErrConnectionFailed.WithDetails(err.Error())
}
