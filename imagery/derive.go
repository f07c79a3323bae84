// Package imagery is the artifact image pipeline: signature verification,
// format classification, derivative synthesis (preview + thumbnail), layer
// manifest extraction, and rotation.
//
// Supported upload formats:
//
//	.jpg .png .gif .webp — plain raster
//	.tif .tiff .xcf      — layered raster (one layer per page)
//	.svg                 — vector markup (rasterized at intrinsic size)
//	.pdf                 — page description (first-page image stream)
//	.psd                 — layered design document (composite + layer tree)
//	.ai                  — vector program (PDF-compatible stream)
package imagery

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Pipeline synthesizes derivative assets from accepted originals.
type Pipeline struct {
	cfg    Config
	pool   *Pool
	logger *slog.Logger
}

// NewPipeline creates a Pipeline with the given configuration.
func NewPipeline(cfg Config) *Pipeline {
	cfg.defaults()
	return &Pipeline{
		cfg:    cfg,
		pool:   NewPool(cfg.Workers),
		logger: cfg.Logger,
	}
}

// NeedsPreview reports whether an original gets a synthesized preview:
// any non-plain-raster category, or a raster exceeding the dimension or
// byte-size triggers.
func (p *Pipeline) NeedsPreview(path string, sizeBytes int64, category Category) bool {
	if category != CategoryRaster {
		return true
	}
	if sizeBytes > p.cfg.PreviewTriggerBytes {
		return true
	}
	cfg, err := decodeConfigFile(path)
	if err != nil {
		// Undecodable raster: leave it alone; the thumbnail attempt will
		// record the failure.
		return false
	}
	return cfg.Width > p.cfg.PreviewTriggerDim || cfg.Height > p.cfg.PreviewTriggerDim
}

// Synthesize produces the derivative set for one original. The preview is
// produced per category rules; its failure is surfaced except for
// vector-program originals, which degrade to a verbatim byte copy. The
// thumbnail is always attempted and its failure is recorded on the Result
// rather than returned: the ingestion flow continues past it.
//
// The original file is never modified or removed here; on any failure the
// caller keeps the already-registered original.
func (p *Pipeline) Synthesize(ctx context.Context, originalPath, mediaType string, category Category) (*Result, error) {
	res := &Result{}
	err := p.pool.Do(ctx, func() error {
		var previewImg image.Image

		if p.NeedsPreview(originalPath, fileSize(originalPath), category) {
			img, derived, err := p.preview(originalPath, mediaType, category)
			if err != nil {
				return err
			}
			previewImg = img
			res.Preview = derived
		}

		thumb, err := p.thumbnail(originalPath, previewImg)
		if err != nil {
			p.logger.Warn("thumbnail generation failed", "path", originalPath, "error", err)
			res.ThumbnailErr = err
			return nil
		}
		res.Thumbnail = thumb
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// preview synthesizes the preview asset. It returns the decoded image when
// one was produced in memory (so the thumbnail can reuse it) alongside the
// written Derived record.
func (p *Pipeline) preview(originalPath, mediaType string, category Category) (image.Image, *Derived, error) {
	var img image.Image
	var err error

	switch category {
	case CategoryPageDescription:
		img, err = pdfPreviewImage(originalPath)
		if err != nil {
			return nil, nil, fmt.Errorf("page-description preview: %w", err)
		}

	case CategoryDesignDocument:
		img, err = decodePSDComposite(originalPath)
		if err != nil {
			p.logger.Debug("psd composite decode failed, recompressing original", "path", originalPath, "error", err)
			img, err = decodeFile(originalPath)
			if err != nil {
				return nil, nil, fmt.Errorf("design-document preview: %w", err)
			}
		}
		img = scaleToFit(img, p.cfg.MaxPreviewDim)

	case CategoryVectorMarkup:
		img, err = rasterizeSVG(originalPath)
		if err != nil {
			return nil, nil, fmt.Errorf("vector-markup preview: %w", err)
		}

	case CategoryVectorProgram:
		img, err = pdfPreviewImage(originalPath)
		if err != nil {
			// Best-effort degradation: ship the original bytes as the
			// preview rather than failing the upload.
			p.logger.Warn("vector-program rasterization failed, copying original", "path", originalPath, "error", err)
			derived, copyErr := p.copyPreview(originalPath, mediaType)
			return nil, derived, copyErr
		}

	default: // raster, layered-raster
		img, err = decodeFile(originalPath)
		if err != nil {
			return nil, nil, fmt.Errorf("preview decode: %w", err)
		}
		img = scaleToFit(img, p.cfg.MaxPreviewDim)
	}

	path := derivativePath(originalPath, "_preview", ".png")
	size, err := writePNG(path, img)
	if err != nil {
		return nil, nil, err
	}
	return img, &Derived{
		Path:      path,
		FileName:  filepath.Base(path),
		SizeBytes: size,
		MediaType: "image/png",
	}, nil
}

func (p *Pipeline) copyPreview(originalPath, mediaType string) (*Derived, error) {
	ext := filepath.Ext(originalPath)
	path := derivativePath(originalPath, "_preview", ext)
	size, err := copyFileSync(originalPath, path)
	if err != nil {
		return nil, err
	}
	if mediaType == "" {
		mediaType = "application/octet-stream"
	}
	return &Derived{
		Path:      path,
		FileName:  filepath.Base(path),
		SizeBytes: size,
		MediaType: mediaType,
	}, nil
}

// thumbnail writes the fixed-size cover-cropped thumbnail. When the
// original itself is not decodable (design documents, page descriptions),
// the in-memory preview image is used as the source.
func (p *Pipeline) thumbnail(originalPath string, previewImg image.Image) (*Derived, error) {
	src := previewImg
	if src == nil {
		img, err := decodeFile(originalPath)
		if err != nil {
			return nil, err
		}
		src = img
	}
	thumb := coverCrop(src, p.cfg.ThumbnailSize)
	path := derivativePath(originalPath, "_thumb", ".jpg")
	size, err := writeJPEG(path, thumb, p.cfg.ThumbnailQuality)
	if err != nil {
		return nil, err
	}
	return &Derived{
		Path:      path,
		FileName:  filepath.Base(path),
		SizeBytes: size,
		MediaType: "image/jpeg",
	}, nil
}

func derivativePath(originalPath, suffix, ext string) string {
	base := strings.TrimSuffix(originalPath, filepath.Ext(originalPath))
	return base + suffix + ext
}

func fileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}
