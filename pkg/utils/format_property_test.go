package utils

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// For any amount, FormatAmount groups thousands with commas, keeps the requested
// decimals and parses back to the rounded value.
func TestProperty_AmountFormatting(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	grouping := regexp.MustCompile(`^-?\d{1,3}(,\d{3})*(\.\d+)?$`)

	properties.Property("FormatAmount groups thousands and round-trips", prop.ForAll(
		func(amount float64, decimals int) bool {
			formatted := FormatAmount(amount, decimals)
			if !grouping.MatchString(formatted) {
				t.Logf("bad grouping for %f: %s", amount, formatted)
				return false
			}

			frac := ""
			if i := strings.IndexByte(formatted, '.'); i >= 0 {
				frac = formatted[i+1:]
			}
			if len(frac) != decimals {
				t.Logf("expected %d decimals for %f, got %s", decimals, amount, formatted)
				return false
			}

			parsed, err := strconv.ParseFloat(strings.ReplaceAll(formatted, ",", ""), 64)
			if err != nil {
				t.Logf("unparseable %s: %v", formatted, err)
				return false
			}
			return math.Abs(parsed-amount) <= 0.5*math.Pow(10, -float64(decimals))+1e-9*math.Abs(amount)
		},
		gen.Float64Range(-1e12, 1e12),
		gen.IntRange(0, 6),
	))

	properties.Property("FormatPnL signs positive values", prop.ForAll(
		func(pnl float64) bool {
			formatted := FormatPnL(pnl, "USDT")
			if !strings.HasSuffix(formatted, " USDT") {
				return false
			}
			switch {
			case pnl >= 0.005:
				return strings.HasPrefix(formatted, "+")
			case pnl <= -0.005:
				return strings.HasPrefix(formatted, "-")
			default:
				return true
			}
		},
		gen.Float64Range(-1e6, 1e6),
	))

	properties.TestingRun(t)
}

func TestFormatExamples(t *testing.T) {
	tests := []struct {
		got, want string
	}{
		{FormatAmount(1234567.891, 2), "1,234,567.89"},
		{FormatAmount(-999.5, 0), "-1,000"},
		{FormatAmount(-0.001, 2), "0.00"},
		{FormatQuote(15, "USDT"), "15.00 USDT"},
		{FormatQuote(15, ""), "15.00"},
		{FormatQuantity(1500.25), "1,500.25"},
		{FormatQuantity(12), "12"},
		{FormatPrice(0.0823), "0.082300"},
		{FormatPrice(27150.5), "27,150.5000"},
		{FormatPercent(-2.5), "-2.50%"},
		{FormatPercent(3), "+3.00%"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("got %q, want %q", tt.got, tt.want)
		}
	}
}
