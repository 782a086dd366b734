package bybit

import (
	"context"
	"fmt"
	"time"
)

// OrderSide represents the side of an order
type OrderSide string

const (
	OrderSideBuy  OrderSide = "Buy"
	OrderSideSell OrderSide = "Sell"
)

// OrderType represents the type of an order
type OrderType string

const (
	OrderTypeMarket OrderType = "Market"
	OrderTypeLimit  OrderType = "Limit"
)

// TimeInForce represents how long an order remains active
type TimeInForce string

const (
	TimeInForceGTC TimeInForce = "GTC" // Good Till Cancelled
	TimeInForceIOC TimeInForce = "IOC" // Immediate Or Cancel
	TimeInForceFOK TimeInForce = "FOK" // Fill Or Kill
)

// OrderStatus is Bybit's order state
type OrderStatus string

const (
	OrderStatusCreated                 OrderStatus = "Created"
	OrderStatusNew                     OrderStatus = "New"
	OrderStatusPartiallyFilled         OrderStatus = "PartiallyFilled"
	OrderStatusFilled                  OrderStatus = "Filled"
	OrderStatusCancelled               OrderStatus = "Cancelled"
	OrderStatusPartiallyFilledCanceled OrderStatus = "PartiallyFilledCanceled"
	OrderStatusRejected                OrderStatus = "Rejected"
	OrderStatusUntriggered             OrderStatus = "Untriggered"
	OrderStatusTriggered               OrderStatus = "Triggered"
	OrderStatusDeactivated             OrderStatus = "Deactivated"
)

// TriggerDirection tells a conditional order which way price must cross
type TriggerDirection int

const (
	TriggerRise TriggerDirection = 1
	TriggerFall TriggerDirection = 2
)

// Order represents a trading order
type Order struct {
	OrderID       string      `json:"orderId"`
	OrderLinkID   string      `json:"orderLinkId"`
	Symbol        string      `json:"symbol"`
	Side          OrderSide   `json:"side"`
	OrderType     OrderType   `json:"orderType"`
	Qty           string      `json:"qty"`
	Price         string      `json:"price"`
	TimeInForce   TimeInForce `json:"timeInForce"`
	OrderStatus   OrderStatus `json:"orderStatus"`
	CreatedTime   time.Time   `json:"createdTime"`
	UpdatedTime   time.Time   `json:"updatedTime"`
	CumExecQty    string      `json:"cumExecQty"`
	CumExecValue  string      `json:"cumExecValue"`
	AvgPrice      string      `json:"avgPrice"`
	StopOrderType string      `json:"stopOrderType"`
	TriggerPrice  string      `json:"triggerPrice"`
}

// wireOrder is the order shape in both placement and list responses
type wireOrder struct {
	OrderID       string `json:"orderId"`
	OrderLinkID   string `json:"orderLinkId"`
	Symbol        string `json:"symbol"`
	Price         string `json:"price"`
	Qty           string `json:"qty"`
	Side          string `json:"side"`
	OrderStatus   string `json:"orderStatus"`
	AvgPrice      string `json:"avgPrice"`
	CumExecQty    string `json:"cumExecQty"`
	CumExecValue  string `json:"cumExecValue"`
	TimeInForce   string `json:"timeInForce"`
	OrderType     string `json:"orderType"`
	StopOrderType string `json:"stopOrderType"`
	TriggerPrice  string `json:"triggerPrice"`
	CreatedTime   string `json:"createdTime"`
	UpdatedTime   string `json:"updatedTime"`
}

func (w wireOrder) toOrder() Order {
	return Order{
		OrderID:       w.OrderID,
		OrderLinkID:   w.OrderLinkID,
		Symbol:        w.Symbol,
		Side:          OrderSide(w.Side),
		OrderType:     OrderType(w.OrderType),
		Qty:           w.Qty,
		Price:         w.Price,
		TimeInForce:   TimeInForce(w.TimeInForce),
		OrderStatus:   OrderStatus(w.OrderStatus),
		CreatedTime:   parseTimestamp(w.CreatedTime),
		UpdatedTime:   parseTimestamp(w.UpdatedTime),
		CumExecQty:    w.CumExecQty,
		CumExecValue:  w.CumExecValue,
		AvgPrice:      w.AvgPrice,
		StopOrderType: w.StopOrderType,
		TriggerPrice:  w.TriggerPrice,
	}
}

// PlaceOrderParams holds parameters for placing an order
type PlaceOrderParams struct {
	Category         string           `json:"category"`
	Symbol           string           `json:"symbol"`
	Side             OrderSide        `json:"side"`
	OrderType        OrderType        `json:"orderType"`
	Qty              string           `json:"qty"`
	Price            string           `json:"price,omitempty"`
	TimeInForce      TimeInForce      `json:"timeInForce,omitempty"`
	OrderLinkID      string           `json:"orderLinkId,omitempty"`
	TriggerPrice     string           `json:"triggerPrice,omitempty"`
	TriggerDirection TriggerDirection `json:"triggerDirection,omitempty"`
	OrderFilter      string           `json:"orderFilter,omitempty"` // spot: Order, tpslOrder, StopOrder
	ReduceOnly       bool             `json:"reduceOnly,omitempty"`
	MarketUnit       string           `json:"marketUnit,omitempty"` // baseCoin, quoteCoin (spot market orders)
}

func (p PlaceOrderParams) validate() error {
	switch {
	case p.Symbol == "":
		return fmt.Errorf("symbol is required")
	case p.Side == "":
		return fmt.Errorf("side is required")
	case p.OrderType == "":
		return fmt.Errorf("orderType is required")
	case p.Qty == "":
		return fmt.Errorf("qty is required")
	case p.OrderType == OrderTypeLimit && p.Price == "":
		return fmt.Errorf("price is required for limit orders")
	case p.TriggerPrice != "" && p.TriggerDirection == 0 && p.Category != "spot":
		return fmt.Errorf("triggerDirection is required for conditional derivatives orders")
	}
	return nil
}

// PlaceOrder places a new order. It is never retried here.
func (c *Client) PlaceOrder(ctx context.Context, params PlaceOrderParams) (*Order, error) {
	if params.Category == "" {
		params.Category = "spot"
	}
	if params.OrderType == OrderTypeLimit && params.TimeInForce == "" {
		params.TimeInForce = TimeInForceGTC
	}
	if err := params.validate(); err != nil {
		return nil, err
	}

	apiParams := map[string]interface{}{
		"category":  params.Category,
		"symbol":    params.Symbol,
		"side":      string(params.Side),
		"orderType": string(params.OrderType),
		"qty":       params.Qty,
	}
	if params.Price != "" {
		apiParams["price"] = params.Price
	}
	if params.TimeInForce != "" {
		apiParams["timeInForce"] = string(params.TimeInForce)
	}
	if params.OrderLinkID != "" {
		apiParams["orderLinkId"] = params.OrderLinkID
	}
	if params.TriggerPrice != "" {
		apiParams["triggerPrice"] = params.TriggerPrice
		if params.TriggerDirection != 0 {
			apiParams["triggerDirection"] = int(params.TriggerDirection)
		}
	}
	if params.OrderFilter != "" {
		apiParams["orderFilter"] = params.OrderFilter
	}
	if params.ReduceOnly {
		apiParams["reduceOnly"] = true
	}
	if params.MarketUnit != "" {
		apiParams["marketUnit"] = params.MarketUnit
	}

	result, err := c.httpClient.NewUtaBybitServiceWithParams(apiParams).PlaceOrder(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to place order: %w", err)
	}

	var placed wireOrder
	if err := decodeResult(result, &placed); err != nil {
		return nil, WrapAPIError("place order", err)
	}
	order := placed.toOrder()
	if order.Symbol == "" {
		order.Symbol = params.Symbol
	}
	return &order, nil
}

// CancelOrder cancels an existing order
func (c *Client) CancelOrder(ctx context.Context, category, symbol, orderID string) error {
	params := map[string]interface{}{
		"category": category,
		"symbol":   symbol,
		"orderId":  orderID,
	}

	result, err := c.httpClient.NewUtaBybitServiceWithParams(params).CancelOrder(ctx)
	if err != nil {
		return fmt.Errorf("failed to cancel order: %w", err)
	}
	var ack struct {
		OrderID string `json:"orderId"`
	}
	return WrapAPIError("cancel order", decodeResult(result, &ack))
}

// GetOpenOrders retrieves open orders, optionally for a single order id
func (c *Client) GetOpenOrders(ctx context.Context, category, symbol, orderID string) ([]Order, error) {
	params := map[string]interface{}{
		"category": category,
	}
	if symbol != "" {
		params["symbol"] = symbol
	}
	if orderID != "" {
		params["orderId"] = orderID
	}

	var orders []Order
	err := c.Retry(ctx, func() error {
		result, err := c.httpClient.NewUtaBybitServiceWithParams(params).GetOpenOrders(ctx)
		if err != nil {
			return fmt.Errorf("failed to get open orders: %w", err)
		}
		orders, err = parseOrderList(result)
		return err
	})
	return orders, WrapAPIError("get open orders", err)
}

// GetOrderHistory retrieves closed orders, optionally for a single order id
func (c *Client) GetOrderHistory(ctx context.Context, category, symbol, orderID string, limit int) ([]Order, error) {
	params := map[string]interface{}{
		"category": category,
	}
	if symbol != "" {
		params["symbol"] = symbol
	}
	if orderID != "" {
		params["orderId"] = orderID
	}
	if limit > 0 {
		params["limit"] = limit
	}

	var orders []Order
	err := c.Retry(ctx, func() error {
		result, err := c.httpClient.NewUtaBybitServiceWithParams(params).GetOrderHistory(ctx)
		if err != nil {
			return fmt.Errorf("failed to get order history: %w", err)
		}
		orders, err = parseOrderList(result)
		return err
	})
	return orders, WrapAPIError("get order history", err)
}

// GetOrder looks an order up among open orders first and falls back to history
func (c *Client) GetOrder(ctx context.Context, category, symbol, orderID string) (*Order, error) {
	open, err := c.GetOpenOrders(ctx, category, symbol, orderID)
	if err != nil {
		return nil, err
	}
	if o := findOrder(open, orderID); o != nil {
		return o, nil
	}

	closed, err := c.GetOrderHistory(ctx, category, symbol, orderID, 1)
	if err != nil {
		return nil, err
	}
	if o := findOrder(closed, orderID); o != nil {
		return o, nil
	}
	return nil, NewBybitError(ErrCodeOrderNotFound, "Order not found", orderID)
}

func findOrder(orders []Order, orderID string) *Order {
	for i := range orders {
		if orders[i].OrderID == orderID {
			return &orders[i]
		}
	}
	return nil
}

func parseOrderList(response interface{}) ([]Order, error) {
	var list struct {
		List           []wireOrder `json:"list"`
		NextPageCursor string      `json:"nextPageCursor"`
		Category       string      `json:"category"`
	}
	if err := decodeResult(response, &list); err != nil {
		return nil, err
	}
	orders := make([]Order, 0, len(list.List))
	for _, w := range list.List {
		orders = append(orders, w.toOrder())
	}
	return orders, nil
}
