package money

import (
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

// Formatter renders amounts for printed documents.
type Formatter struct {
	printer  *message.Printer
	currency string
}

// NewFormatter builds a formatter for a BCP 47 locale and an ISO currency code.
// Unknown locales fall back to English.
func NewFormatter(locale, currency string) Formatter {
	tag, err := language.Parse(locale)
	if err != nil {
		tag = language.English
	}
	return Formatter{printer: message.NewPrinter(tag), currency: strings.ToUpper(strings.TrimSpace(currency))}
}

// Amount formats d with grouping and two decimals, followed by the currency code.
func (f Formatter) Amount(d decimal.Decimal) string {
	out := f.Number(d)
	if f.currency == "" {
		return out
	}
	return out + " " + f.currency
}

// Number formats d with grouping and two decimals.
func (f Formatter) Number(d decimal.Decimal) string {
	printer := f.printer
	if printer == nil {
		printer = message.NewPrinter(language.English)
	}
	v, _ := Round(d).Float64()
	return printer.Sprint(number.Decimal(v, number.Scale(Scale)))
}

// Percent formats a rate such as 20 as "20.00 %".
func (f Formatter) Percent(rate decimal.Decimal) string {
	return f.Number(rate) + " %"
}

// Currency returns the configured currency code.
func (f Formatter) Currency() string {
	return f.currency
}
