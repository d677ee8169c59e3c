package utils

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// FormatAmount formats an amount with thousands separators and a fixed number of decimals.
func FormatAmount(amount float64, decimals int) string {
	s := strconv.FormatFloat(math.Abs(amount), 'f', decimals, 64)

	intPart, fracPart := s, ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		intPart, fracPart = s[:i], s[i:]
	}

	var b strings.Builder
	if amount < 0 && s != strconv.FormatFloat(0, 'f', decimals, 64) {
		b.WriteByte('-')
	}
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	b.WriteString(fracPart)
	return b.String()
}

// FormatQuote formats a stable-asset value with two decimals and its asset symbol.
func FormatQuote(amount float64, asset string) string {
	if asset == "" {
		return FormatAmount(amount, 2)
	}
	return FormatAmount(amount, 2) + " " + asset
}

// FormatQuantity formats a token quantity, trimming trailing zeros after up to 8 decimals.
func FormatQuantity(qty float64) string {
	s := FormatAmount(qty, 8)
	if strings.Contains(s, ".") {
		s = strings.TrimRight(strings.TrimRight(s, "0"), ".")
	}
	return s
}

// FormatPrice formats a price with enough precision for sub-cent tokens.
func FormatPrice(price float64) string {
	switch {
	case price == 0:
		return "0"
	case math.Abs(price) < 1:
		return strconv.FormatFloat(price, 'f', 6, 64)
	default:
		return FormatAmount(price, 4)
	}
}

// FormatPercent formats a percentage with sign.
func FormatPercent(value float64) string {
	sign := ""
	if value > 0 {
		sign = "+"
	}
	return fmt.Sprintf("%s%.2f%%", sign, value)
}

// FormatPnL formats a profit or loss with an explicit sign.
func FormatPnL(pnl float64, asset string) string {
	formatted := FormatQuote(pnl, asset)
	if pnl > 0 {
		return "+" + formatted
	}
	return formatted
}
