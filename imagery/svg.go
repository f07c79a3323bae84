package imagery

import (
	"fmt"
	"image"

	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"
)

// maxSVGDim caps rasterization size for pathological viewboxes.
const maxSVGDim = 8192

// rasterizeSVG renders an SVG file at its intrinsic size.
func rasterizeSVG(path string) (image.Image, error) {
	icon, err := oksvg.ReadIcon(path, oksvg.WarnErrorMode)
	if err != nil {
		return nil, fmt.Errorf("svg parse: %w", err)
	}

	w := int(icon.ViewBox.W)
	h := int(icon.ViewBox.H)
	if w <= 0 || h <= 0 {
		w, h = 512, 512
	}
	if w > maxSVGDim || h > maxSVGDim {
		return nil, fmt.Errorf("svg viewbox %dx%d exceeds %d", w, h, maxSVGDim)
	}

	icon.SetTarget(0, 0, float64(w), float64(h))
	rgba := image.NewRGBA(image.Rect(0, 0, w, h))
	scanner := rasterx.NewScannerGV(w, h, rgba, rgba.Bounds())
	icon.Draw(rasterx.NewDasher(w, h, scanner), 1.0)
	return rgba, nil
}
