package currency

import (
	"fmt"
	"maps"
	"strings"
)

// Reference is the currency every amount is normalized to.
const Reference = "USD"

// DefaultRates are approximate units of USD per unit of currency.
var DefaultRates = map[string]float64{
	"USD": 1.0,
	"EUR": 1.08,
	"GBP": 1.27,
	"JPY": 0.0067,
	"SGD": 0.74,
	"AUD": 0.65,
	"CAD": 0.72,
	"INR": 0.012,
	"CNY": 0.14,
	"HKD": 0.13,
	"NZD": 0.60,
	"CHF": 1.13,
	"SEK": 0.096,
	"NOK": 0.093,
	"DKK": 0.145,
	"BRL": 0.20,
	"MXN": 0.058,
	"ZAR": 0.055,
	"KRW": 0.00075,
	"TWD": 0.031,
}

// Table is an immutable rate table.
type Table struct {
	rates map[string]float64
}

func NewTable(rates map[string]float64) (Table, error) {
	if len(rates) == 0 {
		return Table{}, fmt.Errorf("currency: empty rate table")
	}
	normalized := make(map[string]float64, len(rates))
	for code, rate := range rates {
		if rate <= 0 {
			return Table{}, fmt.Errorf("currency: rate for %s must be positive, got %v", code, rate)
		}
		normalized[strings.ToUpper(strings.TrimSpace(code))] = rate
	}
	normalized[Reference] = 1.0
	return Table{rates: normalized}, nil
}

func Default() Table {
	return Table{rates: maps.Clone(DefaultRates)}
}

// Rate returns the USD rate of code. Empty codes are treated as USD.
func (t Table) Rate(code string) (float64, bool) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return 1.0, true
	}
	rate, ok := t.rates[code]
	return rate, ok
}

// ToUSD converts amount. Unknown currencies convert at 1.0 and report known=false.
func (t Table) ToUSD(amount float64, code string) (usd float64, known bool) {
	rate, ok := t.Rate(code)
	if !ok {
		return amount, false
	}
	return amount * rate, true
}

func (t Table) Len() int { return len(t.rates) }

// Rates returns a copy of the rate map.
func (t Table) Rates() map[string]float64 { return maps.Clone(t.rates) }
