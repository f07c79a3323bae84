package imagery

import (
	"fmt"
	"image"
	"os"

	"github.com/oov/psd"
)

// Photoshop documents are read with oov/psd: the layer tree through
// psd.Decode, the flattened composite through the image format the package
// registers. Only the pieces the pipeline needs are surfaced — layer names
// and visibility for the manifest, the merged image for preview synthesis.

type psdLayer struct {
	Name    string
	Visible bool
}

// parsePSDLayers returns the paintable layers of a document in file order
// (bottom-to-top z-order), descending into groups. Group pseudo-layers
// themselves are excluded: only layers a conservator can draw on reach the
// manifest.
func parsePSDLayers(path string) ([]psdLayer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	doc, _, err := psd.Decode(f, &psd.DecodeOptions{SkipLayerImage: true, SkipMergedImage: true})
	if err != nil {
		return nil, fmt.Errorf("psd: decode %s: %w", path, err)
	}
	var layers []psdLayer
	flattenPSDLayers(doc.Layer, &layers)
	return layers, nil
}

func flattenPSDLayers(src []psd.Layer, out *[]psdLayer) {
	for i := range src {
		l := &src[i]
		if l.Folder() {
			flattenPSDLayers(l.Layer, out)
			continue
		}
		*out = append(*out, psdLayer{Name: l.Name, Visible: l.Visible()})
	}
}

// decodePSDComposite decodes the flattened composite image of a document.
func decodePSDComposite(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("psd: composite decode %s: %w", path, err)
	}
	return img, nil
}
