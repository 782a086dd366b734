package bybit

import (
	"context"
	"fmt"
	"strings"
)

// AccountType represents different account types in Bybit
type AccountType string

const (
	AccountTypeUnified  AccountType = "UNIFIED"
	AccountTypeSpot     AccountType = "SPOT"
	AccountTypeContract AccountType = "CONTRACT"
	AccountTypeFund     AccountType = "FUND"
)

// Balance represents a coin balance in the account
type Balance struct {
	Coin                string  `json:"coin"`
	WalletBalance       float64 `json:"walletBalance"`
	AvailableToTrade    float64 `json:"availableToTrade"`
	AvailableToWithdraw float64 `json:"availableToWithdraw"`
	Locked              float64 `json:"locked"`
}

// AccountInfo represents account information
type AccountInfo struct {
	AccountType           string    `json:"accountType"`
	TotalEquity           float64   `json:"totalEquity"`
	TotalAvailableBalance float64   `json:"totalAvailableBalance"`
	TotalWalletBalance    float64   `json:"totalWalletBalance"`
	Coin                  []Balance `json:"coin"`
}

// GetAccountBalance retrieves wallet balances
func (c *Client) GetAccountBalance(ctx context.Context, accountType AccountType, coins ...string) (*AccountInfo, error) {
	params := map[string]interface{}{
		"accountType": string(accountType),
	}
	if len(coins) > 0 {
		params["coin"] = strings.Join(coins, ",")
	}

	var info *AccountInfo
	err := c.Retry(ctx, func() error {
		result, err := c.httpClient.NewUtaBybitServiceWithParams(params).GetAccountWallet(ctx)
		if err != nil {
			return fmt.Errorf("failed to get account balance: %w", err)
		}
		info, err = parseAccountBalance(result)
		return err
	})
	if err != nil {
		return nil, WrapAPIError("get account balance", err)
	}
	return info, nil
}

// GetTradableBalance returns the amount of coin available for new orders.
// A coin the account has never held has a balance of zero.
func (c *Client) GetTradableBalance(ctx context.Context, accountType AccountType, coin string) (float64, error) {
	info, err := c.GetAccountBalance(ctx, accountType, coin)
	if err != nil {
		return 0, err
	}
	for _, b := range info.Coin {
		if b.Coin == coin {
			if b.AvailableToTrade > 0 {
				return b.AvailableToTrade, nil
			}
			// unified accounts report availability per coin as wallet minus locked
			return b.WalletBalance - b.Locked, nil
		}
	}
	return 0, nil
}

func parseAccountBalance(response interface{}) (*AccountInfo, error) {
	var wallet struct {
		List []struct {
			AccountType           string `json:"accountType"`
			TotalEquity           string `json:"totalEquity"`
			TotalAvailableBalance string `json:"totalAvailableBalance"`
			TotalWalletBalance    string `json:"totalWalletBalance"`
			Coin                  []struct {
				Coin                string `json:"coin"`
				WalletBalance       string `json:"walletBalance"`
				AvailableToTrade    string `json:"availableToTrade"`
				AvailableToWithdraw string `json:"availableToWithdraw"`
				Locked              string `json:"locked"`
				TotalOrderIM        string `json:"totalOrderIM"`
				TotalPositionIM     string `json:"totalPositionIM"`
			} `json:"coin"`
		} `json:"list"`
	}
	if err := decodeResult(response, &wallet); err != nil {
		return nil, err
	}
	if len(wallet.List) == 0 {
		return nil, fmt.Errorf("no account data found")
	}

	account := wallet.List[0]
	info := &AccountInfo{
		AccountType:           account.AccountType,
		TotalEquity:           parseFloat64(account.TotalEquity),
		TotalAvailableBalance: parseFloat64(account.TotalAvailableBalance),
		TotalWalletBalance:    parseFloat64(account.TotalWalletBalance),
		Coin:                  make([]Balance, len(account.Coin)),
	}
	for i, coin := range account.Coin {
		info.Coin[i] = Balance{
			Coin:                coin.Coin,
			WalletBalance:       parseFloat64(coin.WalletBalance),
			AvailableToTrade:    parseFloat64(coin.AvailableToTrade),
			AvailableToWithdraw: parseFloat64(coin.AvailableToWithdraw),
			Locked:              parseFloat64(coin.Locked) + parseFloat64(coin.TotalOrderIM) + parseFloat64(coin.TotalPositionIM),
		}
	}
	return info, nil
}
