package execution

import (
	"time"

	"github.com/ducminhle1904/crypto-signal-bot/pkg/types"
)

// Protection tells which protective legs of an entry are live on the exchange
type Protection string

const (
	EntryOnly       Protection = "entry_only"
	EntryWithStop   Protection = "entry_with_stop"
	EntryWithTarget Protection = "entry_with_target"
	FullyProtected  Protection = "fully_protected"
)

func protectionOf(stopLossID, takeProfitID string) Protection {
	switch {
	case stopLossID != "" && takeProfitID != "":
		return FullyProtected
	case stopLossID != "":
		return EntryWithStop
	case takeProfitID != "":
		return EntryWithTarget
	default:
		return EntryOnly
	}
}

// Naked reports whether the entry has no stop-loss on the book
func (p Protection) Naked() bool {
	return p == EntryOnly || p == EntryWithTarget
}

// Leg names used in logs, metrics and errors
const (
	LegEntry      = "entry"
	LegStopLoss   = "stop_loss"
	LegTakeProfit = "take_profit"
)

// PlaceRequest is one trade unit: an entry plus optional protective legs.
// Price is the limit for limit entries. ReferencePrice sizes the balance
// check for market entries.
type PlaceRequest struct {
	Symbol          string          `json:"symbol"`
	Side            types.Side      `json:"side"`
	Type            types.OrderType `json:"type"`
	Amount          float64         `json:"amount"`
	Price           float64         `json:"price,omitempty"`
	ReferencePrice  float64         `json:"reference_price,omitempty"`
	StopLoss        float64         `json:"stop_loss,omitempty"`
	TakeProfit      float64         `json:"take_profit,omitempty"`
	ValidateBalance bool            `json:"validate_balance,omitempty"`
}

func (r PlaceRequest) entryPrice() float64 {
	if r.Type == types.OrderTypeLimit || r.ReferencePrice <= 0 {
		return r.Price
	}
	return r.ReferencePrice
}

// ManagedOrder tracks an entry order and its stop-loss and take-profit legs
// as one unit. Leg ids are empty when the leg was not requested or failed to
// place. Values handed out by the executor are snapshots.
type ManagedOrder struct {
	ID           string            `json:"id"`
	Symbol       string            `json:"symbol"`
	Side         types.Side        `json:"side"`
	Type         types.OrderType   `json:"type"`
	Amount       float64           `json:"amount"`
	Price        float64           `json:"price,omitempty"`
	EntryID      string            `json:"entry_id"`
	Status       types.OrderStatus `json:"status"`
	StopLoss     float64           `json:"stop_loss,omitempty"`
	TakeProfit   float64           `json:"take_profit,omitempty"`
	StopLossID   string            `json:"stop_loss_id,omitempty"`
	TakeProfitID string            `json:"take_profit_id,omitempty"`
	Protection   Protection        `json:"protection"`
	FilledAmount float64           `json:"filled_amount"`
	FillPrice    float64           `json:"fill_price,omitempty"`
	LegErrors    map[string]string `json:"leg_errors,omitempty"`
	LegRetries   int               `json:"leg_retries,omitempty"`
	ExitLeg      string            `json:"exit_leg,omitempty"`
	ExitPrice    float64           `json:"exit_price,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
	CompletedAt  time.Time         `json:"completed_at,omitempty"`

	// retryLegs is set when the last leg failure is worth another attempt
	retryLegs bool
}

// MissingLegs lists requested protective legs that are not on the book
func (o *ManagedOrder) MissingLegs() []string {
	var legs []string
	if o.StopLoss > 0 && o.StopLossID == "" {
		legs = append(legs, LegStopLoss)
	}
	if o.TakeProfit > 0 && o.TakeProfitID == "" {
		legs = append(legs, LegTakeProfit)
	}
	return legs
}

// Entered reports an entry that executed at least in part
func (o *ManagedOrder) Entered() bool {
	return o.Status == types.OrderStatusFilled || o.FilledAmount > 0
}

// Unfilled reports an order that ended without any execution
func (o *ManagedOrder) Unfilled() bool {
	return o.Status.IsTerminal() && o.Status != types.OrderStatusFilled && o.FilledAmount == 0
}

func (o *ManagedOrder) refreshProtection() {
	o.Protection = protectionOf(o.StopLossID, o.TakeProfitID)
}

func (o *ManagedOrder) setLegError(leg string, err error) {
	if err == nil {
		delete(o.LegErrors, leg)
		return
	}
	if o.LegErrors == nil {
		o.LegErrors = make(map[string]string)
	}
	o.LegErrors[leg] = err.Error()
}

func (o *ManagedOrder) snapshot() ManagedOrder {
	cp := *o
	if o.LegErrors != nil {
		cp.LegErrors = make(map[string]string, len(o.LegErrors))
		for k, v := range o.LegErrors {
			cp.LegErrors[k] = v
		}
	}
	return cp
}
