package parser

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// MaxPriceCents is the exclusive upper bound for a plausible price
const MaxPriceCents = 100_000 * 100

// ocrDigits maps characters OCR engines commonly read in place of digits
var ocrDigits = strings.NewReplacer(
	"O", "0", "o", "0", "D", "0", "Q", "0",
	"I", "1", "l", "1", "|", "1", "i", "1",
	"S", "5", "s", "5",
	"B", "8",
	"Z", "2",
)

// priceChars is a digit or anything ocrDigits can turn into one
const priceChars = `[0-9OoDQIl|iSsBZ]`

// pricePattern matches one price token: optional sign and currency symbol,
// an integer part with optional thousands separators, and exactly two
// decimals after a dot or comma.
const pricePattern = `-?[$€£]?` + priceChars + `+(?:,` + priceChars + `{3})*[.,]` + priceChars + `{2}`

var (
	priceTokenRE = regexp.MustCompile(`^` + pricePattern + `$`)
	cleanPriceRE = regexp.MustCompile(`^-?\d+(?:\.\d{1,2})?$`)
)

// isPriceToken reports whether tok looks like a price. At least one real
// digit is required so words such as "BOSS.IS" are not taken as prices.
func isPriceToken(tok string) bool {
	return priceTokenRE.MatchString(tok) && strings.ContainsAny(tok, "0123456789")
}

// NormalizePrice converts a price token to cents. OCR confusions are
// repaired first (O/o/D/Q→0, I/l/|/i→1, S/s→5, B→8, Z→2, decimal comma→dot).
// ok is false when the token is not numeric or falls outside
// 0 < price < 100,000; a failed token never becomes zero.
func NormalizePrice(token string) (cents int, ok bool) {
	s := strings.TrimSpace(token)
	s = strings.TrimLeft(s, "$€£")
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = strings.TrimLeft(s[1:], "$€£")
	}
	s = ocrDigits.Replace(s)

	switch {
	case strings.Contains(s, ",") && strings.Contains(s, "."):
		s = strings.ReplaceAll(s, ",", "")
	case strings.Count(s, ",") == 1:
		s = strings.Replace(s, ",", ".", 1)
	}

	if !cleanPriceRE.MatchString(s) {
		return 0, false
	}

	whole, frac, _ := strings.Cut(s, ".")
	for len(frac) < 2 {
		frac += "0"
	}
	w, err := strconv.Atoi(whole)
	if err != nil {
		return 0, false
	}
	f, err := strconv.Atoi(frac)
	if err != nil {
		return 0, false
	}
	cents = w*100 + f
	if neg || cents <= 0 || cents >= MaxPriceCents {
		return 0, false
	}
	return cents, true
}

// FormatCents renders cents as a decimal amount, e.g. 299 → "2.99"
func FormatCents(cents int) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}
