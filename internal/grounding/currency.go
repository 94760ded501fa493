package grounding

import (
	"math"
	"strconv"
	"strings"
)

// countryCurrency maps catalog markets to the currency amounts are quoted in.
var countryCurrency = map[string]string{
	"CL": "CLP",
	"AR": "ARS",
	"MX": "MXN",
	"ES": "EUR",
	"US": "USD",
}

// Currency returns the ISO 4217 code for country, or "" when unknown.
func Currency(country string) string {
	return countryCurrency[strings.ToUpper(strings.TrimSpace(country))]
}

// FormatAmount renders a promotion amount in the market's currency with "."
// between thousands and "," before decimals: 100000 in CL is "100.000 CLP".
// Strings that are not numbers are kept as written. Other types yield "".
func FormatAmount(v any, country string) string {
	var s string
	switch t := v.(type) {
	case float64:
		s = formatNumber(t)
	case int:
		s = formatNumber(float64(t))
	case int64:
		s = formatNumber(float64(t))
	case string:
		t = strings.TrimSpace(t)
		if t == "" {
			return ""
		}
		if f, err := strconv.ParseFloat(strings.ReplaceAll(strings.ReplaceAll(t, ".", ""), ",", "."), 64); err == nil {
			s = formatNumber(f)
		} else {
			s = t
		}
	default:
		return ""
	}
	return strings.TrimSpace(s + " " + Currency(country))
}

func formatNumber(v float64) string {
	sign := ""
	if v < 0 {
		sign, v = "-", -v
	}
	whole := math.Round(v)
	if math.Abs(v-whole) < 0.001 {
		return sign + groupThousands(strconv.FormatFloat(whole, 'f', 0, 64))
	}
	fixed := strconv.FormatFloat(v, 'f', 2, 64)
	intPart, frac, _ := strings.Cut(fixed, ".")
	return sign + groupThousands(intPart) + "," + frac
}

// groupThousands inserts "." every three digits from the right.
func groupThousands(digits string) string {
	if len(digits) <= 3 {
		return digits
	}
	var b strings.Builder
	lead := len(digits) % 3
	if lead > 0 {
		b.WriteString(digits[:lead])
	}
	for i := lead; i < len(digits); i += 3 {
		if b.Len() > 0 {
			b.WriteByte('.')
		}
		b.WriteString(digits[i : i+3])
	}
	return b.String()
}
