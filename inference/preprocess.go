package inference

import (
	"image"
	"math"

	"golang.org/x/image/draw"
)

// Channel statistics of the scoring network's training set.
var (
	Mean = [3]float32{0.311, 0.321, 0.342}
	Std  = [3]float32{0.076, 0.079, 0.096}
)

// toCHW resizes img to size x size and writes it into dst as normalised
// float32 planes, red first. dst must hold 3*size*size values.
func toCHW(img image.Image, size int, dst []float32) {
	rgba, ok := img.(*image.RGBA)
	if !ok || rgba.Bounds().Dx() != size || rgba.Bounds().Dy() != size || rgba.Bounds().Min != (image.Point{}) {
		scaled := image.NewRGBA(image.Rect(0, 0, size, size))
		draw.ApproxBiLinear.Scale(scaled, scaled.Bounds(), img, img.Bounds(), draw.Src, nil)
		rgba = scaled
	}

	plane := size * size
	for y := 0; y < size; y++ {
		row := rgba.Pix[y*rgba.Stride:]
		for x := 0; x < size; x++ {
			i := y*size + x
			for c := 0; c < 3; c++ {
				v := float32(row[x*4+c]) / 255
				dst[c*plane+i] = (v - Mean[c]) / Std[c]
			}
		}
	}
}

// positiveProb returns softmax(logits)[class].
func positiveProb(logits []float32, class int) float64 {
	maxV := logits[0]
	for _, l := range logits[1:] {
		if l > maxV {
			maxV = l
		}
	}
	sum := 0.0
	for _, l := range logits {
		sum += math.Exp(float64(l - maxV))
	}
	return math.Exp(float64(logits[class]-maxV)) / sum
}
