package ocr

import (
	"math"
	"sort"
	"strings"
	"unicode/utf8"
)

// Flatten turns an engine's raw output into ordered lines: top-to-bottom,
// then left-to-right. Fragments sharing a (block, paragraph, line) become
// one line. Lines from different blocks that sit on the same visual row are
// joined, since engines often split a receipt's name and price columns.
func Flatten(raw *Raw) []Line {
	if raw == nil {
		return nil
	}

	lines := groupFragments(raw.Fragments, raw.ConfidenceScale)
	for _, l := range raw.Lines {
		if l, ok := cleanLine(l, raw.ConfidenceScale); ok {
			lines = append(lines, l)
		}
	}
	if len(lines) == 0 {
		return []Line{}
	}

	// Without geometry there is nothing to order by; trust the engine
	for _, l := range lines {
		if l.Box.Height <= 0 {
			return lines
		}
	}

	sort.SliceStable(lines, func(i, j int) bool {
		if lines[i].Box.Y != lines[j].Box.Y {
			return lines[i].Box.Y < lines[j].Box.Y
		}
		return lines[i].Box.X < lines[j].Box.X
	})

	var rows [][]Line
	for _, l := range lines {
		placed := false
		for i := range rows {
			if fitsRow(rows[i], l) {
				rows[i] = append(rows[i], l)
				placed = true
				break
			}
		}
		if !placed {
			rows = append(rows, []Line{l})
		}
	}

	out := make([]Line, 0, len(rows))
	for _, row := range rows {
		out = append(out, mergeRow(row))
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Box.Y != out[j].Box.Y {
			return out[i].Box.Y < out[j].Box.Y
		}
		return out[i].Box.X < out[j].Box.X
	})
	return out
}

type layoutKey struct {
	block, paragraph, line int
}

func groupFragments(fragments []Fragment, scale float64) []Line {
	var (
		order  []layoutKey
		groups = make(map[layoutKey][]Fragment)
	)
	for _, f := range fragments {
		f.Text = strings.TrimSpace(f.Text)
		if f.Text == "" {
			continue
		}
		k := layoutKey{f.Block, f.Paragraph, f.Line}
		if _, ok := groups[k]; !ok {
			order = append(order, k)
		}
		groups[k] = append(groups[k], f)
	}

	lines := make([]Line, 0, len(order))
	for _, k := range order {
		frags := groups[k]
		sort.SliceStable(frags, func(i, j int) bool { return frags[i].Box.X < frags[j].Box.X })

		var (
			line  Line
			texts = make([]string, 0, len(frags))
		)
		for _, f := range frags {
			w := Word{Text: f.Text, Confidence: NormalizeConfidence(f.Confidence, scale)}
			line.Words = append(line.Words, w)
			line.Box = line.Box.Union(f.Box)
			texts = append(texts, f.Text)
		}
		line.Text = strings.Join(texts, " ")
		line.Confidence = wordConfidence(line.Words)
		lines = append(lines, line)
	}
	return lines
}

func cleanLine(l Line, scale float64) (Line, bool) {
	l.Text = strings.Join(strings.Fields(l.Text), " ")
	if l.Text == "" {
		return Line{}, false
	}
	words := make([]Word, 0, len(l.Words))
	for _, w := range l.Words {
		w.Text = strings.TrimSpace(w.Text)
		if w.Text == "" {
			continue
		}
		w.Confidence = NormalizeConfidence(w.Confidence, scale)
		words = append(words, w)
	}
	l.Words = words
	l.Confidence = NormalizeConfidence(l.Confidence, scale)
	if l.Confidence == 0 && len(words) > 0 {
		l.Confidence = wordConfidence(words)
	}
	return l, true
}

// fitsRow reports whether l shares a visual row with every member of row
// without overlapping any of them horizontally.
func fitsRow(row []Line, l Line) bool {
	for _, m := range row {
		if !sameRow(m.Box, l.Box) {
			return false
		}
		if l.Box.X < m.Box.Right() && m.Box.X < l.Box.Right() {
			return false
		}
	}
	return true
}

func sameRow(a, b Box) bool {
	ca := float64(a.Y) + float64(a.Height)/2
	cb := float64(b.Y) + float64(b.Height)/2
	return math.Abs(ca-cb) <= float64(min(a.Height, b.Height))/2
}

func mergeRow(row []Line) Line {
	if len(row) == 1 {
		return row[0]
	}
	sort.SliceStable(row, func(i, j int) bool { return row[i].Box.X < row[j].Box.X })

	var (
		merged Line
		texts  = make([]string, 0, len(row))
		sum    float64
		chars  int
	)
	for _, l := range row {
		texts = append(texts, l.Text)
		merged.Words = append(merged.Words, l.Words...)
		merged.Box = merged.Box.Union(l.Box)
		n := utf8.RuneCountInString(l.Text)
		sum += l.Confidence * float64(n)
		chars += n
	}
	merged.Text = strings.Join(texts, " ")
	if chars > 0 {
		merged.Confidence = sum / float64(chars)
	}
	return merged
}

// wordConfidence is the character-weighted mean of word confidences
func wordConfidence(words []Word) float64 {
	var (
		sum   float64
		chars int
	)
	for _, w := range words {
		n := utf8.RuneCountInString(w.Text)
		sum += w.Confidence * float64(n)
		chars += n
	}
	if chars == 0 {
		return 0
	}
	return sum / float64(chars)
}

// NormalizeConfidence maps a confidence on [0,scale] onto [0,1]. A
// non-positive scale means 1. Negatives and NaN become 0.
func NormalizeConfidence(c, scale float64) float64 {
	if math.IsNaN(c) || c <= 0 {
		return 0
	}
	if scale > 0 {
		c /= scale
	}
	return math.Min(c, 1)
}

// OverallConfidence is the character-weighted mean of line confidences
func OverallConfidence(lines []Line) float64 {
	var (
		sum   float64
		chars int
	)
	for _, l := range lines {
		n := utf8.RuneCountInString(l.Text)
		sum += l.Confidence * float64(n)
		chars += n
	}
	if chars == 0 {
		return 0
	}
	return sum / float64(chars)
}
