// Package ingest converts raw upstream ticks into validated, sport-aware
// price updates and feeds them to the batching queues.
package ingest

import (
	"regexp"
	"strings"

	"github.com/callmedraxx/mevu-sub004/internal/domain"
)

// Series prefixes whose markets are single binary outcomes. These are always
// treated as moneyline no matter what the suffix looks like, unless the
// ticker carries a spread or total marker.
var moneylinePrefixes = []string{
	"KXUFC",
	"KXBOXING",
	"KXMMA",
}

// Markers that identify derived markets. A ticker containing one of these is
// never moneyline regardless of any other rule.
var derivedMarkers = []string{
	"SPREAD",
	"TOTAL",
}

// Sports where each competitor gets its own independent ticker rather than
// one ticker with an implicit complement. Their game entries are merged side
// by side as ticks arrive, and their name-derived competitor codes can
// collide, which forces the arrival-order side fallback.
var twoTickerSports = map[string]bool{
	"tennis":       true,
	"table-tennis": true,
	"mma":          true,
	"boxing":       true,
}

// Feed-specific abbreviation variants normalized to the form the mapping
// pipeline stores.
var abbrAliases = map[string]string{
	"WSH": "WAS",
	"JAX": "JAC",
	"CHO": "CHA",
	"PHX": "PHO",
	"NOP": "NO",
	"GSW": "GS",
	"SAS": "SA",
}

// bareTeamCode matches a trailing 2-4 letter competitor code with no digits.
var bareTeamCode = regexp.MustCompile(`^[A-Z]{2,4}$`)

// IsTwoTickerSport reports whether the sport publishes one ticker per
// competitor.
func IsTwoTickerSport(sport string) bool {
	return twoTickerSports[strings.ToLower(sport)]
}

// IsMoneyline classifies a ticker as a moneyline market from its string form
// alone. Priority order: derived markers always lose, binary-series prefixes
// always win, and otherwise a bare trailing team code decides. A code
// followed by digits is a line market, and DRAW/TIE suffixes are their own
// outcome, not a side.
func IsMoneyline(ticker string) bool {
	upper := strings.ToUpper(ticker)

	for _, marker := range derivedMarkers {
		if strings.Contains(upper, marker) {
			return false
		}
	}
	for _, prefix := range moneylinePrefixes {
		if strings.HasPrefix(upper, prefix) {
			return true
		}
	}

	seg := lastSegment(upper)
	if seg == "" || seg == "DRAW" || seg == "TIE" {
		return false
	}
	return bareTeamCode.MatchString(seg)
}

// TrailingCode extracts the trailing competitor code from a ticker, or ""
// when the last segment is not a bare team code.
func TrailingCode(ticker string) string {
	seg := lastSegment(strings.ToUpper(ticker))
	if seg == "DRAW" || seg == "TIE" {
		return ""
	}
	if bareTeamCode.MatchString(seg) {
		return seg
	}
	return ""
}

func lastSegment(ticker string) string {
	idx := strings.LastIndex(ticker, "-")
	if idx < 0 || idx == len(ticker)-1 {
		return ""
	}
	return ticker[idx+1:]
}

// NormalizeAbbr uppercases a competitor code and folds known feed-specific
// variants onto the canonical form.
func NormalizeAbbr(code string) string {
	up := strings.ToUpper(strings.TrimSpace(code))
	if canonical, ok := abbrAliases[up]; ok {
		return canonical
	}
	return up
}

// ResolveSide matches a trailing competitor code against the game's home and
// away abbreviations. ok is false when the code matches neither side or
// matches both, which happens for double-entrant sports whose competitor
// codes collide; callers then fall back to arrival order.
func ResolveSide(m *domain.TickerMapping, code string) (isAway, isHome, ok bool) {
	if code == "" {
		return false, false, false
	}

	c := NormalizeAbbr(code)
	away := c == NormalizeAbbr(m.AwayAbbr)
	home := c == NormalizeAbbr(m.HomeAbbr)

	if away == home {
		return false, false, false
	}
	return away, home, true
}
