package eval

import (
	"strings"
	"unicode/utf8"

	"github.com/arbovm/levenshtein"
	"github.com/codycollier/wer"
)

// normalize lowercases and collapses whitespace so layout differences
// between OCR output and a transcription don't count as errors
func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// WordErrorRate is the word-level edit distance between truth and
// hypothesis over the number of truth words
func WordErrorRate(truth, hypothesis string) float64 {
	ref := strings.Fields(normalize(truth))
	hyp := strings.Fields(normalize(hypothesis))
	if len(ref) == 0 {
		if len(hyp) == 0 {
			return 0
		}
		return 1
	}
	rate, _ := wer.WER(ref, hyp)
	return rate
}

// CharErrorRate is the character edit distance between truth and
// hypothesis over the number of truth characters
func CharErrorRate(truth, hypothesis string) float64 {
	ref, hyp := normalize(truth), normalize(hypothesis)
	n := utf8.RuneCountInString(ref)
	if n == 0 {
		if hyp == "" {
			return 0
		}
		return 1
	}
	return float64(levenshtein.Distance(ref, hyp)) / float64(n)
}
