// Package scoring assigns each extracted item a composite confidence from
// OCR certainty and structural signals.
package scoring

import (
	"math"

	"github.com/zombor/home-inventory/internal/ocr"
	"github.com/zombor/home-inventory/internal/parser"
)

// Bonuses added to the OCR base confidence
const (
	PriceBonus    = 0.15
	QuantityBonus = 0.10
	RegionBonus   = 0.10
)

// Bucket thresholds: Low < LowThreshold <= Medium < HighThreshold <= High
const (
	LowThreshold  = 0.5
	HighThreshold = 0.8
)

// Bucket triages an item for review
type Bucket string

const (
	BucketLow    Bucket = "low"
	BucketMedium Bucket = "medium"
	BucketHigh   Bucket = "high"
)

// Score returns the confidence in [0,1] for candidate c read from line. The
// base is the mean word confidence of the line (the line's own confidence
// when it has no words), plus a bonus for each structural signal present.
func Score(c parser.Candidate, line ocr.Line) float64 {
	score := base(line)
	if c.PriceDetected {
		score += PriceBonus
	}
	if c.QuantityDetected {
		score += QuantityBonus
	}
	if c.InItemRegion {
		score += RegionBonus
	}
	return clamp(score)
}

func base(line ocr.Line) float64 {
	if len(line.Words) == 0 {
		return clamp(line.Confidence)
	}
	var sum float64
	for _, w := range line.Words {
		sum += clamp(w.Confidence)
	}
	return sum / float64(len(line.Words))
}

func clamp(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}

// BucketFor maps a confidence to its review bucket
func BucketFor(confidence float64) Bucket {
	switch {
	case confidence >= HighThreshold:
		return BucketHigh
	case confidence >= LowThreshold:
		return BucketMedium
	}
	return BucketLow
}

// Overall is the receipt-level confidence: the mean item score, or the OCR
// overall confidence when no items were found.
func Overall(scores []float64, ocrOverall float64) float64 {
	if len(scores) == 0 {
		return clamp(ocrOverall)
	}
	var sum float64
	for _, s := range scores {
		sum += s
	}
	return clamp(sum / float64(len(scores)))
}
