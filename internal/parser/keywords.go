package parser

import (
	"strings"
	"unicode"

	"github.com/arbovm/levenshtein"
)

// totalKeyword tolerates one OCR edit ("T0TAL", "TOTL")
const totalKeyword = "TOTAL"

// summaryWords make up receipt summary and tender lines. A line is a
// summary only when every word on it is one of these, so items such as
// "CHANGE PURSE" or "VISA GIFT CARD" survive.
var summaryWords = map[string]bool{
	"SUBTOTAL": true, "SUB-TOTAL": true, "SUB": true, "TOTAL": true,
	"TAX": true, "SALES": true, "HST": true, "GST": true, "PST": true,
	"VAT": true, "CHANGE": true, "CASH": true, "BALANCE": true, "BAL": true,
	"VISA": true, "MASTERCARD": true, "MC": true, "AMEX": true,
	"DISCOVER": true, "DEBIT": true, "CREDIT": true, "CARD": true,
	"COUPON": true, "MFR": true, "DISCOUNT": true, "SAVINGS": true,
	"SAVED": true, "YOU": true, "PAYMENT": true, "PAID": true, "TEND": true,
	"TENDER": true, "TENDERED": true, "ROUNDING": true, "DUE": true,
	"AMOUNT": true, "AMT": true, "ITEMS": true, "SOLD": true, "NUMBER": true,
	"OF": true, "ACCOUNT": true, "ACCT": true, "AUTH": true,
	"APPROVED": true, "REMAINING": true,
}

// words splits text into upper-cased words with surrounding punctuation and
// digits trimmed ("TAX1" → "TAX").
func words(text string) []string {
	fields := strings.Fields(strings.ToUpper(text))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		w := strings.TrimFunc(f, func(r rune) bool { return !unicode.IsLetter(r) })
		if w != "" {
			out = append(out, w)
		}
	}
	return out
}

func isTotalWord(w string) bool {
	if len(w) < len(totalKeyword)-1 {
		return false
	}
	return levenshtein.Distance(w, totalKeyword) <= 1
}

// isSummary reports whether a line is a receipt summary (totals, tax,
// tender) rather than a purchased item. Single letters are tax flags and
// don't count.
func isSummary(text string) bool {
	found := false
	for _, w := range words(text) {
		switch {
		case len(w) == 1:
		case summaryWords[w] || isTotalWord(w) || strings.HasSuffix(w, "TOTAL"):
			found = true
		default:
			return false
		}
	}
	return found
}

// isTotalLine reports whether text names the receipt's grand total. Lines
// that only total a part of the receipt (subtotal, tax, savings) do not.
func isTotalLine(text string) bool {
	ws := words(text)
	found := false
	for i, w := range ws {
		switch {
		case w == "SUBTOTAL" || w == "SUB-TOTAL" || w == "TAX" || w == "SAVINGS" ||
			w == "SAVED" || w == "DISCOUNT" || w == "ITEMS":
			return false
		case isTotalWord(w):
			if i > 0 && ws[i-1] == "SUB" {
				return false
			}
			found = true
		case w == "DUE" && i > 0 && (ws[i-1] == "AMOUNT" || ws[i-1] == "BALANCE"):
			found = true
		}
	}
	return found
}
