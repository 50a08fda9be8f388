package preprocess

import (
	"image"
	"math"

	"github.com/disintegration/imaging"
)

const (
	maxSkewAngle   = 10.0
	skewStep       = 0.5
	skewSampleSize = 800
	darkThreshold  = 128
)

// EstimateSkew returns the text baseline angle in degrees. Rotating the image
// counter-clockwise by the returned angle levels the text. Each candidate
// angle projects the dark pixels onto rows along that angle; the angle whose
// projection is most concentrated wins.
func EstimateSkew(src *image.Gray) float64 {
	sample := src
	if src.Bounds().Dx() > skewSampleSize {
		sample = toGray(imaging.Resize(src, skewSampleSize, 0, imaging.Box))
	}

	b := sample.Bounds()
	w, h := b.Dx(), b.Dy()

	var xs, ys []float64
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if sample.GrayAt(b.Min.X+x, b.Min.Y+y).Y < darkThreshold {
				xs = append(xs, float64(x))
				ys = append(ys, float64(y))
			}
		}
	}
	if len(xs) == 0 {
		return 0
	}

	bins := make([]int, h+2*w+1)
	best, bestScore := 0.0, -1.0
	for a := -maxSkewAngle; a <= maxSkewAngle+1e-9; a += skewStep {
		rad := a * math.Pi / 180
		sin, cos := math.Sin(rad), math.Cos(rad)
		for i := range bins {
			bins[i] = 0
		}
		for i := range xs {
			r := int(math.Round(ys[i]*cos-xs[i]*sin)) + w
			if r >= 0 && r < len(bins) {
				bins[r]++
			}
		}
		score := 0.0
		for _, c := range bins {
			score += float64(c) * float64(c)
		}
		if score > bestScore || (score == bestScore && math.Abs(a) < math.Abs(best)) {
			best, bestScore = a, score
		}
	}
	// snap -0 and float drift
	return math.Round(best/skewStep) * skewStep
}
