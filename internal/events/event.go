package events

import (
	"encoding/json"
	"time"
)

// Event types published for the order lifecycle
const (
	TypeOrderPlaced     = "order.placed"
	TypeOrderFailed     = "order.failed"
	TypeLegFailed       = "order.leg_failed"
	TypeOrderCompleted  = "order.completed"
	TypePositionClosed  = "position.closed"
	TypeDecisionSkipped = "decision.skipped"
)

// Event is one lifecycle message. Data carries the order, position or
// decision snapshot the event refers to.
type Event struct {
	Type      string `json:"type"`
	Symbol    string `json:"symbol"`
	OrderID   string `json:"order_id,omitempty"`
	Message   string `json:"message,omitempty"`
	Data      any    `json:"data,omitempty"`
	Timestamp int64  `json:"timestamp"` // unix millis
}

func New(eventType, symbol string, data any) Event {
	return Event{Type: eventType, Symbol: symbol, Data: data, Timestamp: time.Now().UnixMilli()}
}

func (e Event) Marshal() ([]byte, error) {
	return json.Marshal(e)
}
