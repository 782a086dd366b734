package types

import (
	"strings"
)

// SplitSymbol splits a "BASE/QUOTE" pair. ok is false when the symbol has no separator.
func SplitSymbol(symbol string) (base, quote string, ok bool) {
	base, quote, ok = strings.Cut(symbol, "/")
	if !ok || base == "" || quote == "" {
		return symbol, "", false
	}
	return base, quote, true
}

// BaseAsset returns the base currency of a pair, or the symbol itself when it is not a pair.
func BaseAsset(symbol string) string {
	base, _, _ := SplitSymbol(symbol)
	return base
}
