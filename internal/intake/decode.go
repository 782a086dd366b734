// Package intake turns signal messages from Kafka or a JSON-lines file into
// pipeline requests.
package intake

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	boterrors "github.com/ducminhle1904/crypto-signal-bot/internal/errors"
	"github.com/ducminhle1904/crypto-signal-bot/internal/pipeline"
	"github.com/ducminhle1904/crypto-signal-bot/pkg/types"
)

// Handler receives each decoded request
type Handler func(ctx context.Context, req pipeline.Request) error

// Decode parses one signal message. Directions are case-insensitive and a
// source without metrics is trusted on its confidence alone.
func Decode(data []byte, receivedAt time.Time) (pipeline.Request, error) {
	invalid := func(format string, args ...any) (pipeline.Request, error) {
		return pipeline.Request{}, boterrors.NewInvalidInputError("intake", "decode", fmt.Sprintf(format, args...))
	}
	if !gjson.ValidBytes(data) {
		return invalid("message is not valid JSON")
	}
	msg := gjson.ParseBytes(data)

	req := pipeline.Request{
		Symbol:     strings.ToUpper(strings.TrimSpace(msg.Get("symbol").String())),
		EntryPrice: msg.Get("entry_price").Float(),
		StopLoss:   msg.Get("stop_loss").Float(),
		TakeProfit: msg.Get("take_profit").Float(),
		OrderType:  types.OrderType(strings.ToLower(msg.Get("order_type").String())),
		ReceivedAt: receivedAt,
	}
	if req.Symbol == "" {
		return invalid("symbol is required")
	}
	if !strings.Contains(req.Symbol, "/") {
		return invalid("symbol %q is not a BASE/QUOTE pair", req.Symbol)
	}

	sources := msg.Get("sources")
	if !sources.IsArray() || len(sources.Array()) == 0 {
		return invalid("sources must be a non-empty array")
	}
	for i, src := range sources.Array() {
		s, err := decodeSource(req.Symbol, src)
		if err != nil {
			return invalid("source %d: %v", i, err)
		}
		req.Sources = append(req.Sources, s)
	}
	return req, nil
}

func decodeSource(symbol string, src gjson.Result) (types.SourceSignal, error) {
	kind := types.SourceKind(strings.ToLower(src.Get("kind").String()))
	if !kind.Valid() {
		return types.SourceSignal{}, fmt.Errorf("unknown kind %q", kind)
	}
	conf := src.Get("confidence")
	if conf.Type != gjson.Number {
		return types.SourceSignal{}, fmt.Errorf("confidence must be a number")
	}

	sig := types.RawSignal{
		Symbol:     symbol,
		Direction:  types.Direction(strings.ToUpper(src.Get("direction").String())),
		Confidence: conf.Float(),
	}
	if m := src.Get("metrics"); m.IsObject() {
		sig.Metrics = &types.Metrics{
			RSI:            m.Get("rsi").Float(),
			MACDLine:       m.Get("macd_line").Float(),
			MACDSignal:     m.Get("macd_signal").Float(),
			MACDHistogram:  m.Get("macd_histogram").Float(),
			PriceChange24h: m.Get("price_change_24h").Float(),
			VolumeRatio:    m.Get("volume_ratio").Float(),
		}
	}
	for _, r := range src.Get("reasons").Array() {
		sig.Reasons = append(sig.Reasons, r.String())
	}
	return types.SourceSignal{Kind: kind, Weight: src.Get("weight").Float(), Signal: sig}, nil
}
