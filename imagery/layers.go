package imagery

import (
	"encoding/json"
	"fmt"
	"log/slog"
)

// ManifestVersion is the annotation schema generation written for freshly
// extracted layer manifests.
const ManifestVersion = "2.0"

// Layer is one structural unit of a source file (a design-document layer
// or a synthetic per-page layer), ready to receive user-drawn overlays in
// Objects.
type Layer struct {
	ID      string            `json:"id"`
	Name    string            `json:"name"`
	Visible bool              `json:"visible"`
	Objects []json.RawMessage `json:"objects"`
}

// LayerManifest is the versioned layer document stored as the primary
// original's annotation payload.
type LayerManifest struct {
	Version       string  `json:"version"`
	Layers        []Layer `json:"layers"`
	ImageRotation int     `json:"imageRotation"`
}

// ExtractLayers builds a layer manifest for formats carrying internal
// structure. Returns nil for categories without structure and on parse
// failure — ingestion proceeds without layer metadata either way.
func ExtractLayers(path string, category Category, logger *slog.Logger) *LayerManifest {
	if logger == nil {
		logger = slog.Default()
	}

	switch category {
	case CategoryDesignDocument:
		parsed, err := parsePSDLayers(path)
		if err != nil {
			logger.Warn("design-document layer parse failed", "path", path, "error", err)
			return nil
		}
		layers := make([]Layer, len(parsed))
		for i, l := range parsed {
			name := l.Name
			if name == "" {
				name = fmt.Sprintf("Layer %d", i+1)
			}
			layers[i] = Layer{
				ID:      fmt.Sprintf("layer-%d", i+1),
				Name:    name,
				Visible: l.Visible,
				Objects: []json.RawMessage{},
			}
		}
		if len(layers) == 0 {
			return nil
		}
		return wrapManifest(layers)

	case CategoryLayeredRaster:
		pages, err := tiffPageCount(path)
		if err != nil || pages < 1 {
			if err != nil {
				logger.Debug("page count failed, defaulting to one page", "path", path, "error", err)
			}
			pages = 1
		}
		layers := make([]Layer, pages)
		for i := 0; i < pages; i++ {
			layers[i] = Layer{
				ID:      fmt.Sprintf("layer-%d", i+1),
				Name:    fmt.Sprintf("Page %d", i+1),
				Visible: true,
				Objects: []json.RawMessage{},
			}
		}
		return wrapManifest(layers)
	}
	return nil
}

func wrapManifest(layers []Layer) *LayerManifest {
	return &LayerManifest{Version: ManifestVersion, Layers: layers, ImageRotation: 0}
}
