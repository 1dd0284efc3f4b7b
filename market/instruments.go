package market

import (
	"sort"
	"strings"
)

type InstrumentMeta struct {
	Symbol        string
	BaseCurrency  string
	QuoteCurrency string
	PriceDecimals int32
}

// Instruments holds the symbols the engine knows price precision for.
var Instruments = map[string]InstrumentMeta{
	"EURUSD": {Symbol: "EURUSD", BaseCurrency: "EUR", QuoteCurrency: "USD", PriceDecimals: 5},
	"GBPUSD": {Symbol: "GBPUSD", BaseCurrency: "GBP", QuoteCurrency: "USD", PriceDecimals: 5},
	"USDJPY": {Symbol: "USDJPY", BaseCurrency: "USD", QuoteCurrency: "JPY", PriceDecimals: 3},
	"XAUUSD": {Symbol: "XAUUSD", BaseCurrency: "XAU", QuoteCurrency: "USD", PriceDecimals: 2},
}

// NormalizeSymbol upper-cases and strips separators so EUR_USD and eurusd
// name the same instrument.
func NormalizeSymbol(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	return strings.NewReplacer("_", "", "/", "", "-", "").Replace(s)
}

// Currencies splits a six letter FX symbol into base and quote. Shorter
// symbols return the whole symbol as base and an empty quote.
func Currencies(symbol string) (base, quote string) {
	s := NormalizeSymbol(symbol)
	if len(s) < 6 {
		return s, ""
	}
	return s[:3], s[len(s)-3:]
}

// PriceDecimals returns the configured precision for symbol, or fallback.
func PriceDecimals(symbol string, fallback int32) int32 {
	if meta, ok := Instruments[NormalizeSymbol(symbol)]; ok {
		return meta.PriceDecimals
	}
	return fallback
}

// SortInstruments returns a copy of symbols in ordinal order with duplicates removed.
func SortInstruments(symbols []string) []string {
	seen := make(map[string]struct{}, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
