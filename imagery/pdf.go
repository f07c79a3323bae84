package imagery

import (
	"fmt"
	"image"
	"os"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// pdfPageCount returns the number of pages in a PDF (or PDF-compatible
// vector-program) file.
func pdfPageCount(path string) (int, error) {
	n, err := api.PageCountFile(path)
	if err != nil {
		return 0, fmt.Errorf("pdf page count: %w", err)
	}
	return n, nil
}

// pdfPreviewImage extracts the dominant image stream of the first page
// that carries one and decodes it. Scanned conservation documents embed
// the page scan as a single image XObject, so this recovers the page
// raster without a renderer.
func pdfPreviewImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	conf := model.NewDefaultConfiguration()
	ctx, err := api.ReadValidateAndOptimize(f, conf)
	if err != nil {
		return nil, fmt.Errorf("pdfcpu read: %w", err)
	}

	var lastErr error
	for pageNr := 1; pageNr <= ctx.PageCount; pageNr++ {
		images, err := pdfcpu.ExtractPageImages(ctx, pageNr, false)
		if err != nil {
			lastErr = err
			continue
		}
		var best image.Image
		bestArea := 0
		for _, pageImg := range images {
			img, _, err := image.Decode(pageImg)
			if err != nil {
				lastErr = err
				continue
			}
			b := img.Bounds()
			if area := b.Dx() * b.Dy(); area > bestArea {
				best, bestArea = img, area
			}
		}
		if best != nil {
			return best, nil
		}
	}
	if lastErr != nil {
		return nil, fmt.Errorf("pdf preview: no decodable image stream: %w", lastErr)
	}
	return nil, fmt.Errorf("pdf preview: document carries no image streams")
}
