package bybit

import (
	"encoding/json"
	"fmt"
	"time"

	bybit_api "github.com/bybit-exchange/bybit.go.api"
	"github.com/spf13/cast"
)

// decodeResult checks the envelope of an API response and decodes its result into out
func decodeResult(response interface{}, out interface{}) error {
	serverResp, ok := response.(*bybit_api.ServerResponse)
	if !ok {
		return fmt.Errorf("invalid response type %T", response)
	}
	if err := ParseAPIError(serverResp.RetCode, serverResp.RetMsg); err != nil {
		return err
	}

	resultBytes, err := json.Marshal(serverResp.Result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	if err := json.Unmarshal(resultBytes, out); err != nil {
		return fmt.Errorf("failed to unmarshal result: %w", err)
	}
	return nil
}

func parseTimestamp(ts string) time.Time {
	msec := cast.ToInt64(ts)
	if msec == 0 {
		return time.Time{}
	}
	return time.UnixMilli(msec)
}

// parseFloat64 reads Bybit's string-encoded numbers; empty and malformed values are zero
func parseFloat64(s string) float64 {
	return cast.ToFloat64(s)
}
