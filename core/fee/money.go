package fee

import (
	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var (
	moneyPrinter    = message.NewPrinter(language.English)
	currencySymbols = map[string]string{"PHP": "₱", "USD": "$", "EUR": "€"}
)

// FormatMoney formats amount with thousands separators, e.g. "PHP 25,000.50".
func FormatMoney(currency string, amount decimal.Decimal) string {
	f, _ := amount.Round(2).Float64()
	if amount.Equal(amount.Truncate(0)) {
		return moneyPrinter.Sprintf("%s %.0f", currency, f)
	}
	return moneyPrinter.Sprintf("%s %.2f", currency, f)
}

// FormatMoneySymbol is FormatMoney using the currency sign when known, e.g. "₱25,000".
func FormatMoneySymbol(currency string, amount decimal.Decimal) string {
	sym, ok := currencySymbols[currency]
	if !ok {
		return FormatMoney(currency, amount)
	}
	f, _ := amount.Round(2).Float64()
	if amount.Equal(amount.Truncate(0)) {
		return moneyPrinter.Sprintf("%s%.0f", sym, f)
	}
	return moneyPrinter.Sprintf("%s%.2f", sym, f)
}
