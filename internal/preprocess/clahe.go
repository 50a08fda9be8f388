package preprocess

import (
	"image"
	"math"
)

const (
	// DefaultTiles is the number of tiles per axis for local equalization
	DefaultTiles = 8
	// DefaultClipLimit caps each histogram bin at this multiple of the mean
	DefaultClipLimit = 2.0
)

// EqualizeLocal applies contrast-limited adaptive histogram equalization.
// Each tile gets its own clipped equalization map and pixels blend the maps
// of the four nearest tile centres bilinearly, so tile borders don't show.
func EqualizeLocal(src *image.Gray, tiles int, clipLimit float64) *image.Gray {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return src
	}
	if tiles < 1 {
		tiles = 1
	}
	tx, ty := min(tiles, w), min(tiles, h)
	tw := (w + tx - 1) / tx
	th := (h + ty - 1) / ty

	maps := make([][256]uint8, tx*ty)
	for j := 0; j < ty; j++ {
		for i := 0; i < tx; i++ {
			maps[j*tx+i] = tileMap(src, b.Min.X+i*tw, b.Min.Y+j*th, tw, th, clipLimit)
		}
	}

	dst := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		fy := (float64(y)+0.5)/float64(th) - 0.5
		y0 := clampInt(int(math.Floor(fy)), 0, ty-1)
		y1 := clampInt(y0+1, 0, ty-1)
		wy := clampFloat(fy-float64(y0), 0, 1)

		for x := 0; x < w; x++ {
			fx := (float64(x)+0.5)/float64(tw) - 0.5
			x0 := clampInt(int(math.Floor(fx)), 0, tx-1)
			x1 := clampInt(x0+1, 0, tx-1)
			wx := clampFloat(fx-float64(x0), 0, 1)

			v := src.GrayAt(b.Min.X+x, b.Min.Y+y).Y
			top := (1-wx)*float64(maps[y0*tx+x0][v]) + wx*float64(maps[y0*tx+x1][v])
			bottom := (1-wx)*float64(maps[y1*tx+x0][v]) + wx*float64(maps[y1*tx+x1][v])
			dst.Pix[y*dst.Stride+x] = uint8(math.Round((1-wy)*top + wy*bottom))
		}
	}
	return dst
}

// tileMap builds the clipped equalization lookup table for one tile
func tileMap(src *image.Gray, x0, y0, tw, th int, clipLimit float64) [256]uint8 {
	var hist [256]int
	b := src.Bounds()
	x1, y1 := min(x0+tw, b.Max.X), min(y0+th, b.Max.Y)
	total := 0
	for y := y0; y < y1; y++ {
		for x := x0; x < x1; x++ {
			hist[src.GrayAt(x, y).Y]++
			total++
		}
	}

	var lut [256]uint8
	if total == 0 {
		for i := range lut {
			lut[i] = uint8(i)
		}
		return lut
	}

	if clipLimit > 0 {
		limit := int(math.Max(1, clipLimit*float64(total)/256))
		excess := 0
		for i, c := range hist {
			if c > limit {
				excess += c - limit
				hist[i] = limit
			}
		}
		share, rest := excess/256, excess%256
		for i := range hist {
			hist[i] += share
			if i < rest {
				hist[i]++
			}
		}
	}

	cdf := 0
	for i, c := range hist {
		cdf += c
		lut[i] = uint8(math.Round(float64(cdf) * 255 / float64(total)))
	}
	return lut
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampFloat(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
