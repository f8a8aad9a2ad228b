package contracts

import (
	"regexp"
	"strings"
)

// TickerPattern is the accepted ticker charset and length
const TickerPattern = `^[A-Z0-9]{1,10}$`

var tickerRe = regexp.MustCompile(TickerPattern)

// NormalizeTicker trims whitespace and uppercases a ticker
func NormalizeTicker(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// IsValidTicker reports whether s (already normalized) matches TickerPattern
func IsValidTicker(s string) bool {
	return tickerRe.MatchString(s)
}
