// Package parser turns ordered OCR lines into a structured receipt: merchant,
// date, total and candidate line items.
package parser

import (
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/zombor/home-inventory/internal/ocr"
)

// Candidate is a line item found on a receipt. Prices are in cents; a nil
// price means none was found or the token failed validation.
type Candidate struct {
	// LineIndex is the first source line of the item
	LineIndex        int
	Name             string
	Quantity         int
	QuantityDetected bool
	UnitPrice        *int
	TotalPrice       *int
	PriceDetected    bool
	InItemRegion     bool
	RawText          string
	Box              ocr.Box
	// Source is the OCR line the item came from. Items continued over two
	// lines get both lines merged.
	Source ocr.Line
}

// Region is the half-open line range [Start, End) between the header and
// the total line.
type Region struct {
	Start int
	End   int
}

// Contains reports whether line index i is inside the region
func (r Region) Contains(i int) bool {
	return i >= r.Start && i < r.End
}

// Receipt is the parser's output. Zero items is a valid result.
type Receipt struct {
	MerchantName *string
	ReceiptDate  *time.Time
	TotalAmount  *int
	Items        []Candidate
	ItemRegion   Region
}

const (
	qtyPattern = `(\d{1,3})`
	timesSign  = `\s*[xX×*]\s+`
	pricePart  = `(` + pricePattern + `)`
)

// itemPattern extracts a candidate from one line of text
type itemPattern struct {
	name string
	re   *regexp.Regexp
	// build fills name, quantity and price tokens from the submatches
	build func(m []string) match
}

type match struct {
	name       string
	qty        string
	unitToken  string
	totalToken string
}

// itemPatterns are tried in order; the first match wins.
var itemPatterns = []itemPattern{
	{
		name: "qty x name @ unit = total",
		re:   regexp.MustCompile(`^` + qtyPattern + timesSign + `(.+?)\s*@\s*` + pricePart + `\s*=?\s*` + pricePart + `$`),
		build: func(m []string) match {
			return match{qty: m[1], name: m[2], unitToken: m[3], totalToken: m[4]}
		},
	},
	{
		name: "qty x name @ unit",
		re:   regexp.MustCompile(`^` + qtyPattern + timesSign + `(.+?)\s*@\s*` + pricePart + `$`),
		build: func(m []string) match {
			return match{qty: m[1], name: m[2], unitToken: m[3]}
		},
	},
	{
		name: "name qty @ unit total",
		re:   regexp.MustCompile(`^(.+?)\s+` + qtyPattern + `\s*@\s*` + pricePart + `\s+` + pricePart + `$`),
		build: func(m []string) match {
			return match{name: m[1], qty: m[2], unitToken: m[3], totalToken: m[4]}
		},
	},
	{
		name: "name qty @ unit",
		re:   regexp.MustCompile(`^(.+?)\s+` + qtyPattern + `\s*@\s*` + pricePart + `$`),
		build: func(m []string) match {
			return match{name: m[1], qty: m[2], unitToken: m[3]}
		},
	},
	{
		name: "qty x name price",
		re:   regexp.MustCompile(`^` + qtyPattern + timesSign + `(.+?)\s+` + pricePart + `$`),
		build: func(m []string) match {
			return match{qty: m[1], name: m[2], totalToken: m[3]}
		},
	},
	{
		name: "name price",
		re:   regexp.MustCompile(`^(.+?)\s+` + pricePart + `$`),
		build: func(m []string) match {
			return match{name: m[1], totalToken: m[2]}
		},
	},
}

// continuationPatterns match a line that carries only the prices of an item
// whose name is on the line above.
var continuationPatterns = []itemPattern{
	{
		name: "qty @ unit total",
		re:   regexp.MustCompile(`^` + qtyPattern + `\s*@\s*` + pricePart + `(?:\s+` + pricePart + `)?$`),
		build: func(m []string) match {
			return match{qty: m[1], unitToken: m[2], totalToken: m[3]}
		},
	},
	{
		name: "price",
		re:   regexp.MustCompile(`^` + pricePart + `$`),
		build: func(m []string) match {
			return match{totalToken: m[1]}
		},
	},
}

var (
	// trailing tax/status flags: "2.99 N", "2.99A", "2.99 *"
	flagSuffixRE = regexp.MustCompile(`(` + priceChars + `[.,]\d{2})\s*(?:[A-Z]{1,2}|\*)$`)
	skuRE        = regexp.MustCompile(`^\d{5,}$`)
)

// Parse extracts receipt metadata and candidate items from lines ordered
// top-to-bottom.
func Parse(lines []ocr.Line) *Receipt {
	r := &Receipt{Items: []Candidate{}}
	if len(lines) == 0 {
		return r
	}

	texts := make([]string, len(lines))
	for i, l := range lines {
		texts[i] = normalizeLine(l.Text)
	}

	firstPrice := -1
	for i, t := range texts {
		if hasPriceToken(t) {
			firstPrice = i
			break
		}
	}

	merchantIdx := -1
	headerEnd := len(texts)
	if firstPrice >= 0 {
		headerEnd = firstPrice
	}
	for i := 0; i < headerEnd; i++ {
		if looksLikeName(texts[i]) {
			if _, isDate := ParseDate(texts[i]); !isDate {
				merchantIdx = i
				name := strings.Join(strings.Fields(lines[i].Text), " ")
				r.MerchantName = &name
				break
			}
		}
	}

	for _, t := range texts {
		if d, ok := ParseDate(t); ok {
			r.ReceiptDate = &d
			break
		}
	}

	totalIdx := -1
	for i := len(texts) - 1; i >= 0; i-- {
		if !isTotalLine(texts[i]) {
			continue
		}
		if cents, ok := lastPrice(texts[i]); ok {
			r.TotalAmount = &cents
			totalIdx = i
			break
		}
	}

	r.ItemRegion = Region{Start: merchantIdx + 1, End: len(texts)}
	if firstPrice > r.ItemRegion.Start {
		r.ItemRegion.Start = firstPrice
		// an item name may sit just above its first price line
		if firstPrice-1 > merchantIdx && isContinuation(texts[firstPrice]) {
			r.ItemRegion.Start = firstPrice - 1
		}
	}
	if totalIdx >= 0 {
		r.ItemRegion.End = totalIdx
	}

	pending := -1
	for i, t := range texts {
		if i == merchantIdx || i == totalIdx || t == "" || isSummary(t) {
			pending = -1
			continue
		}

		if pending >= 0 {
			if c, ok := parseContinuation(lines, texts, pending, i); ok {
				c.InItemRegion = r.ItemRegion.Contains(pending)
				r.Items = append(r.Items, c)
				pending = -1
				continue
			}
		}

		if c, ok := parseItem(lines[i], t, i); ok {
			c.InItemRegion = r.ItemRegion.Contains(i)
			r.Items = append(r.Items, c)
			pending = -1
			continue
		}

		pending = -1
		if i > merchantIdx && !hasPriceToken(t) && looksLikeName(t) {
			if _, isDate := ParseDate(t); !isDate {
				pending = i
			}
		}
	}

	return r
}

// normalizeLine collapses whitespace and strips trailing tax flags
func normalizeLine(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	return flagSuffixRE.ReplaceAllString(text, "$1")
}

func hasPriceToken(text string) bool {
	for _, f := range strings.Fields(text) {
		if isPriceToken(f) {
			return true
		}
	}
	return false
}

// lastPrice returns the right-most valid price on a line
func lastPrice(text string) (int, bool) {
	fields := strings.Fields(text)
	for i := len(fields) - 1; i >= 0; i-- {
		if !isPriceToken(fields[i]) {
			continue
		}
		return NormalizePrice(fields[i])
	}
	return 0, false
}

// looksLikeName requires at least two letters
func looksLikeName(text string) bool {
	n := 0
	for _, r := range text {
		if unicode.IsLetter(r) {
			n++
			if n >= 2 {
				return true
			}
		}
	}
	return false
}

func isContinuation(text string) bool {
	for _, p := range continuationPatterns {
		if p.re.MatchString(text) {
			return true
		}
	}
	return false
}

func parseItem(line ocr.Line, text string, idx int) (Candidate, bool) {
	for _, p := range itemPatterns {
		m := p.re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		fields := p.build(m)
		if !validTokens(fields) {
			continue
		}
		name := cleanName(fields.name)
		if name == "" {
			continue
		}
		fields.name = name
		c := candidate(fields)
		c.LineIndex = idx
		c.RawText = line.Text
		c.Box = line.Box
		c.Source = line
		return c, true
	}
	return Candidate{}, false
}

func parseContinuation(lines []ocr.Line, texts []string, nameIdx, priceIdx int) (Candidate, bool) {
	for _, p := range continuationPatterns {
		m := p.re.FindStringSubmatch(texts[priceIdx])
		if m == nil {
			continue
		}
		fields := p.build(m)
		if !validTokens(fields) {
			continue
		}
		fields.name = cleanName(texts[nameIdx])
		if fields.name == "" {
			return Candidate{}, false
		}
		c := candidate(fields)
		c.LineIndex = nameIdx
		c.RawText = lines[nameIdx].Text + "\n" + lines[priceIdx].Text
		c.Source = joinLines(lines[nameIdx], lines[priceIdx])
		c.Box = c.Source.Box
		return c, true
	}
	return Candidate{}, false
}

// validTokens rejects matches whose price groups hold no real digit
func validTokens(m match) bool {
	if m.unitToken != "" && !isPriceToken(m.unitToken) {
		return false
	}
	if m.totalToken != "" && !isPriceToken(m.totalToken) {
		return false
	}
	return m.unitToken != "" || m.totalToken != ""
}

func candidate(m match) Candidate {
	c := Candidate{Name: m.name, Quantity: 1}
	if m.qty != "" {
		if q := atoi(m.qty); q > 0 {
			c.Quantity = q
			c.QuantityDetected = true
		}
	}
	if m.unitToken != "" {
		if cents, ok := NormalizePrice(m.unitToken); ok {
			c.UnitPrice = &cents
		}
	}
	if m.totalToken != "" {
		if cents, ok := NormalizePrice(m.totalToken); ok {
			c.TotalPrice = &cents
		}
	}

	switch {
	case c.TotalPrice == nil && c.UnitPrice != nil && m.totalToken == "":
		total := *c.UnitPrice * c.Quantity
		if total < MaxPriceCents {
			c.TotalPrice = &total
		}
	case c.UnitPrice == nil && c.TotalPrice != nil && m.unitToken == "":
		if !c.QuantityDetected {
			unit := *c.TotalPrice
			c.UnitPrice = &unit
		} else if *c.TotalPrice%c.Quantity == 0 {
			unit := *c.TotalPrice / c.Quantity
			c.UnitPrice = &unit
		}
	}

	c.PriceDetected = c.TotalPrice != nil
	return c
}

// cleanName trims operator punctuation and SKU numbers around an item name
func cleanName(name string) string {
	fields := strings.Fields(name)
	for len(fields) > 0 && skuRE.MatchString(fields[len(fields)-1]) {
		fields = fields[:len(fields)-1]
	}
	for len(fields) > 0 && skuRE.MatchString(fields[0]) {
		fields = fields[1:]
	}
	name = strings.Join(fields, " ")
	name = strings.TrimRight(name, " @=:-*$#")
	name = strings.TrimLeft(name, " @=:-*#")
	if !looksLikeName(name) {
		return ""
	}
	return name
}

func joinLines(a, b ocr.Line) ocr.Line {
	words := make([]ocr.Word, 0, len(a.Words)+len(b.Words))
	words = append(words, a.Words...)
	words = append(words, b.Words...)
	return ocr.Line{
		Text:       a.Text + " " + b.Text,
		Confidence: ocr.OverallConfidence([]ocr.Line{a, b}),
		Box:        a.Box.Union(b.Box),
		Words:      words,
	}
}
