package imagery

import (
	"fmt"
	"image"
	"path/filepath"
	"strings"
)

// Rotate re-encodes the raster at path rotated clockwise by the given
// number of degrees (must be a multiple of 90). PNG stays PNG; everything
// else is written as JPEG. Returns the new dimensions.
func Rotate(path string, degrees int) (width, height int, err error) {
	turns := ((degrees % 360) + 360) % 360
	if turns%90 != 0 {
		return 0, 0, fmt.Errorf("imagery: rotation must be a multiple of 90, got %d", degrees)
	}

	img, err := decodeFile(path)
	if err != nil {
		return 0, 0, err
	}
	for i := 0; i < turns/90; i++ {
		img = rotate90(img)
	}

	b := img.Bounds()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		_, err = writePNG(path, img)
	default:
		_, err = writeJPEG(path, img, 92)
	}
	if err != nil {
		return 0, 0, err
	}
	return b.Dx(), b.Dy(), nil
}

// rotate90 rotates img a quarter turn clockwise.
func rotate90(img image.Image) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	dst := image.NewRGBA(image.Rect(0, 0, h, w))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			dst.Set(h-1-y, x, img.At(b.Min.X+x, b.Min.Y+y))
		}
	}
	return dst
}
