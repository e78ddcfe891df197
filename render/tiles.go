package render

import (
	"errors"
	"fmt"
	"image"
)

// TilesPerSide is the tile grid the server packs renders into: each part
// of a render response carries up to 6x6 images.
const TilesPerSide = 6

// ErrMalformedRender is returned when a response part does not have the
// size of a full tile sheet, or holds fewer images than requested.
var ErrMalformedRender = errors.New("render: malformed render response")

// sheetSize is the byte length of one tile sheet of RGB pixels.
func sheetSize(textureSize int) int {
	side := textureSize * TilesPerSide
	return side * side * 3
}

// cutSheet decodes one RGB tile sheet stored bottom row first and appends
// at most want tiles to dst in row-major order.
func cutSheet(dst []image.Image, sheet []byte, textureSize, want int) ([]image.Image, error) {
	if len(sheet) != sheetSize(textureSize) {
		return dst, fmt.Errorf("%w: part is %d bytes, want %d", ErrMalformedRender, len(sheet), sheetSize(textureSize))
	}
	side := textureSize * TilesPerSide
	stride := side * 3

	for ty := 0; ty < TilesPerSide; ty++ {
		for tx := 0; tx < TilesPerSide; tx++ {
			if want <= 0 {
				return dst, nil
			}
			img := image.NewRGBA(image.Rect(0, 0, textureSize, textureSize))
			for py := 0; py < textureSize; py++ {
				// Flip vertically while copying.
				row := side - 1 - (ty*textureSize + py)
				src := sheet[row*stride+tx*textureSize*3:]
				out := img.Pix[py*img.Stride:]
				for px := 0; px < textureSize; px++ {
					out[px*4+0] = src[px*3+0]
					out[px*4+1] = src[px*3+1]
					out[px*4+2] = src[px*3+2]
					out[px*4+3] = 0xff
				}
			}
			dst = append(dst, img)
			want--
		}
	}
	return dst, nil
}
