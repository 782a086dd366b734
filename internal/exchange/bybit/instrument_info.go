package bybit

import (
	"context"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/shopspring/decimal"
)

const instrumentTTL = time.Hour

// InstrumentInfo holds the trading rules of one symbol
type InstrumentInfo struct {
	Symbol    string `json:"symbol"`
	Status    string `json:"status"`
	BaseCoin  string `json:"baseCoin"`
	QuoteCoin string `json:"quoteCoin"`

	PriceFilter struct {
		MinPrice string `json:"minPrice"`
		MaxPrice string `json:"maxPrice"`
		TickSize string `json:"tickSize"`
	} `json:"priceFilter"`
	LotSizeFilter struct {
		BasePrecision  string `json:"basePrecision"`
		MinOrderQty    string `json:"minOrderQty"`
		MaxOrderQty    string `json:"maxOrderQty"`
		MinOrderAmt    string `json:"minOrderAmt"`
		QtyStep        string `json:"qtyStep"`
		MinNotionalVal string `json:"minNotionalValue"`
	} `json:"lotSizeFilter"`
}

// QtyStep is the lot step; spot symbols publish it as basePrecision
func (ii *InstrumentInfo) QtyStep() decimal.Decimal {
	if step := decimalOrZero(ii.LotSizeFilter.QtyStep); step.IsPositive() {
		return step
	}
	return decimalOrZero(ii.LotSizeFilter.BasePrecision)
}

func (ii *InstrumentInfo) TickSize() decimal.Decimal {
	return decimalOrZero(ii.PriceFilter.TickSize)
}

func (ii *InstrumentInfo) MinQty() decimal.Decimal {
	return decimalOrZero(ii.LotSizeFilter.MinOrderQty)
}

// RoundQty floors qty to the lot step. The result is never larger than requested.
func (ii *InstrumentInfo) RoundQty(qty decimal.Decimal) decimal.Decimal {
	return floorToStep(qty, ii.QtyStep())
}

// RoundPrice rounds price to the nearest tick
func (ii *InstrumentInfo) RoundPrice(price decimal.Decimal) decimal.Decimal {
	tick := ii.TickSize()
	if !tick.IsPositive() {
		return price
	}
	return price.Div(tick).Round(0).Mul(tick)
}

// ValidateQty rejects quantities below the instrument minimum or off the lot step
func (ii *InstrumentInfo) ValidateQty(qty decimal.Decimal) error {
	if min := ii.MinQty(); qty.LessThan(min) {
		return fmt.Errorf("quantity %s is below minimum %s for %s", qty, min, ii.Symbol)
	}
	if max := decimalOrZero(ii.LotSizeFilter.MaxOrderQty); max.IsPositive() && qty.GreaterThan(max) {
		return fmt.Errorf("quantity %s is above maximum %s for %s", qty, max, ii.Symbol)
	}
	if step := ii.QtyStep(); step.IsPositive() && !qty.Mod(step).IsZero() {
		return fmt.Errorf("quantity %s is not aligned with step size %s", qty, step)
	}
	return nil
}

func floorToStep(v, step decimal.Decimal) decimal.Decimal {
	if !step.IsPositive() {
		return v
	}
	return v.Div(step).Floor().Mul(step)
}

func decimalOrZero(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// InstrumentManager caches instrument rules per category and symbol
type InstrumentManager struct {
	client *Client
	cache  *cache.Cache
}

// NewInstrumentManager creates a new instrument manager
func NewInstrumentManager(client *Client) *InstrumentManager {
	return &InstrumentManager{
		client: client,
		cache:  cache.New(instrumentTTL, 2*instrumentTTL),
	}
}

func instrumentKey(category, symbol string) string {
	return category + ":" + symbol
}

// GetInstrumentInfo returns cached rules, fetching them on a miss
func (im *InstrumentManager) GetInstrumentInfo(ctx context.Context, category, symbol string) (*InstrumentInfo, error) {
	key := instrumentKey(category, symbol)
	if cached, ok := im.cache.Get(key); ok {
		return cached.(*InstrumentInfo), nil
	}

	info, err := im.fetch(ctx, category, symbol)
	if err != nil {
		return nil, err
	}
	im.cache.SetDefault(key, info)
	return info, nil
}

// Put seeds the cache, mainly for tests and warm starts
func (im *InstrumentManager) Put(category string, info *InstrumentInfo) {
	im.cache.SetDefault(instrumentKey(category, info.Symbol), info)
}

// Refresh drops every cached instrument
func (im *InstrumentManager) Refresh() {
	im.cache.Flush()
}

func (im *InstrumentManager) fetch(ctx context.Context, category, symbol string) (*InstrumentInfo, error) {
	params := map[string]interface{}{
		"category": category,
		"symbol":   symbol,
	}

	var info *InstrumentInfo
	err := im.client.Retry(ctx, func() error {
		result, err := im.client.httpClient.NewUtaBybitServiceWithParams(params).GetInstrumentInfo(ctx)
		if err != nil {
			return fmt.Errorf("failed to fetch instrument info: %w", err)
		}
		var list struct {
			Category string           `json:"category"`
			List     []InstrumentInfo `json:"list"`
		}
		if err := decodeResult(result, &list); err != nil {
			return err
		}
		for i := range list.List {
			if list.List[i].Symbol == symbol {
				info = &list.List[i]
				return nil
			}
		}
		return NewBybitError(ErrCodeSymbolNotFound, "Symbol not found", symbol)
	})
	if err != nil {
		return nil, WrapAPIError("get instrument info", err)
	}
	return info, nil
}
