package pricing

import (
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// FormatMoney renders an amount with its currency symbol at display
// precision, e.g. "USD 1,234.50". Unknown currency codes fall back to the
// engine's base currency.
func (e *Engine) FormatMoney(amount float64, code string) string {
	if code == "" {
		code = e.baseCurrency
	}
	unit, err := currency.ParseISO(code)
	if err != nil {
		unit, err = currency.ParseISO(e.baseCurrency)
		if err != nil {
			unit = currency.USD
		}
	}
	p := message.NewPrinter(language.English)
	return p.Sprintf("%v %.2f", unit, Round2(amount))
}
