package exposition

import (
	"math"
	"strconv"
	"strings"
	"time"
)

const (
	fallbackMetricName  = "generic_metric"
	genericGaugePrefix  = "generic_gauge"
	genericCounterStem  = "generic_counter"
	counterSuffix       = "_total"
	secondsSuffix       = "_seconds"
	bytesSuffix         = "_bytes"
	maxRoundableAge     = time.Duration(math.MaxInt64) - halfMillisecond
	halfMillisecond     = 500 * time.Microsecond
	millisecondsPerUnit = 1000
)

var labelValueEscaper = strings.NewReplacer(
	`\`, `\\`,
	"\n", `\n`,
	"\r", `\r`,
	"\t", `\t`,
	`"`, `\"`,
)

// EscapeLabelValue escapes s for use inside a double-quoted label value.
// Backslash, newline, carriage return, tab and double quote are replaced by
// their two-character escapes. The replacement is a single pass, so escapes
// introduced for one character are never escaped again.
func EscapeLabelValue(s string) string {
	return labelValueEscaper.Replace(s)
}

// SanitizeMetricName maps name onto the metric-name grammar
// [A-Za-z_:][A-Za-z0-9_:]*. Every rune that is not allowed at its position is
// replaced by an underscore. An empty name becomes "generic_metric".
func SanitizeMetricName(name string) string {
	if name == "" {
		return fallbackMetricName
	}

	var b strings.Builder
	b.Grow(len(name))
	first := true
	for _, r := range name {
		switch {
		case isNameStart(r):
			b.WriteRune(r)
		case !first && isDigit(r):
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
		first = false
	}
	return b.String()
}

// IsValidMetricName reports whether name already satisfies the metric-name
// grammar.
func IsValidMetricName(name string) bool {
	if name == "" {
		return false
	}
	for i, r := range name {
		if isNameStart(r) || (i > 0 && isDigit(r)) {
			continue
		}
		return false
	}
	return true
}

func isNameStart(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || r == '_' || r == ':'
}

func isDigit(r rune) bool {
	return r >= '0' && r <= '9'
}

// NormalizeGaugeName applies the gauge naming rule: names that already end in
// a base unit ("_seconds" or "_bytes") are kept, anything else is namespaced
// under "generic_gauge_". An empty name becomes "generic_gauge".
func NormalizeGaugeName(name string) string {
	if name == "" {
		return genericGaugePrefix
	}
	if strings.HasSuffix(name, secondsSuffix) || strings.HasSuffix(name, bytesSuffix) {
		return name
	}
	return genericGaugePrefix + "_" + name
}

// NormalizeCounterName applies the counter naming rule: names ending in
// "_total" are kept, anything else becomes "generic_counter_<name>_total".
// An empty name becomes "generic_counter_total".
func NormalizeCounterName(name string) string {
	if name == "" {
		return genericCounterStem + counterSuffix
	}
	if strings.HasSuffix(name, counterSuffix) {
		return name
	}
	return genericCounterStem + "_" + name + counterSuffix
}

// GaugeMetricName is the name a gauge entry is exposed under.
func GaugeMetricName(name string) string {
	return SanitizeMetricName(NormalizeGaugeName(name))
}

// CounterMetricName is the name a counter entry is exposed under.
func CounterMetricName(name string) string {
	return SanitizeMetricName(NormalizeCounterName(name))
}

// Magnitudes outside [minPlainValue, maxPlainValue) are written in exponent
// form, everything else as plain decimal.
const (
	minPlainValue = 1e-6
	maxPlainValue = 1e21
)

// FormatValue formats a sample value independently of locale, using the
// shortest digits that round-trip. Values are written as plain decimals
// unless they are very large or very small. Non-finite values use the
// spellings of the exposition format.
func FormatValue(v float64) string {
	switch {
	case math.IsNaN(v):
		return "NaN"
	case math.IsInf(v, +1):
		return "+Inf"
	case math.IsInf(v, -1):
		return "-Inf"
	}
	if abs := math.Abs(v); abs == 0 || (abs >= minPlainValue && abs < maxPlainValue) {
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// FormatCount formats a counter sample as a base-10 integer.
func FormatCount(v int64) string {
	return strconv.FormatInt(v, 10)
}

// FormatAge formats d in seconds with at most three fractional digits and no
// trailing zeros. Rounding is half away from zero at the millisecond.
// Negative durations are clamped to zero.
func FormatAge(d time.Duration) string {
	if d <= 0 {
		return "0"
	}
	if d > maxRoundableAge {
		d = maxRoundableAge
	}

	ms := int64((d + halfMillisecond) / time.Millisecond)
	whole := ms / millisecondsPerUnit
	frac := ms % millisecondsPerUnit

	out := strconv.FormatInt(whole, 10)
	if frac == 0 {
		return out
	}

	digits := strconv.FormatInt(frac+millisecondsPerUnit, 10)[1:]
	return out + "." + strings.TrimRight(digits, "0")
}
