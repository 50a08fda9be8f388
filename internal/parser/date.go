package parser

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

var months = map[string]time.Month{
	"jan": time.January, "feb": time.February, "mar": time.March,
	"apr": time.April, "may": time.May, "jun": time.June,
	"jul": time.July, "aug": time.August, "sep": time.September,
	"oct": time.October, "nov": time.November, "dec": time.December,
}

const monthPattern = `(jan|feb|mar|apr|may|jun|jul|aug|sep|oct|nov|dec)[a-z]*\.?`

type dateFormat struct {
	re *regexp.Regexp
	// extract returns year, month, day from the submatches
	extract func(m []string) (int, int, int, bool)
}

// dateFormats are tried in order against each line; the first valid match
// wins.
var dateFormats = []dateFormat{
	{ // 2024-01-15, 2024/01/15
		re: regexp.MustCompile(`\b(\d{4})[-/](\d{1,2})[-/](\d{1,2})\b`),
		extract: func(m []string) (int, int, int, bool) {
			return atoi(m[1]), atoi(m[2]), atoi(m[3]), true
		},
	},
	{ // 01/15/2024, 1/15/24, 01-15-2024
		re: regexp.MustCompile(`\b(\d{1,2})[/-](\d{1,2})[/-](\d{4}|\d{2})\b`),
		extract: func(m []string) (int, int, int, bool) {
			month, day := atoi(m[1]), atoi(m[2])
			// 15/01/2024 can only be day-first
			if month > 12 && day <= 12 {
				month, day = day, month
			}
			return year(m[3]), month, day, true
		},
	},
	{ // 15.01.2024, 15.01.24
		re: regexp.MustCompile(`\b(\d{1,2})\.(\d{1,2})\.(\d{4}|\d{2})\b`),
		extract: func(m []string) (int, int, int, bool) {
			return year(m[3]), atoi(m[2]), atoi(m[1]), true
		},
	},
	{ // Jan 15, 2024
		re: regexp.MustCompile(`(?i)\b` + monthPattern + `\s+(\d{1,2}),?\s+(\d{4})\b`),
		extract: func(m []string) (int, int, int, bool) {
			month, ok := months[strings.ToLower(m[1])]
			return atoi(m[3]), int(month), atoi(m[2]), ok
		},
	},
	{ // 15 Jan 2024
		re: regexp.MustCompile(`(?i)\b(\d{1,2})\s+` + monthPattern + `,?\s+(\d{4})\b`),
		extract: func(m []string) (int, int, int, bool) {
			month, ok := months[strings.ToLower(m[2])]
			return atoi(m[3]), int(month), atoi(m[1]), ok
		},
	},
}

// ParseDate returns the first recognizable date in text
func ParseDate(text string) (time.Time, bool) {
	for _, f := range dateFormats {
		for _, m := range f.re.FindAllStringSubmatch(text, -1) {
			y, mo, d, ok := f.extract(m)
			if !ok {
				continue
			}
			if t, ok := validDate(y, mo, d); ok {
				return t, true
			}
		}
	}
	return time.Time{}, false
}

func validDate(y, m, d int) (time.Time, bool) {
	if y < 1970 || m < 1 || m > 12 || d < 1 || d > 31 {
		return time.Time{}, false
	}
	t := time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC)
	// time.Date normalizes Feb 30 into March
	if t.Day() != d || int(t.Month()) != m {
		return time.Time{}, false
	}
	return t, true
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

// year expands two-digit years into the 2000s
func year(s string) int {
	y := atoi(s)
	if len(s) == 2 {
		y += 2000
	}
	return y
}
