package imagery

import (
	"path/filepath"
	"strings"
)

// Classify derives the processing category from file extension and declared
// media type. Extension wins; the media type breaks ties for extensionless
// names. Classification is total: every upload that passed the extension
// filter maps to exactly one category, defaulting to plain raster.
func Classify(fileName, mediaType string) Category {
	switch strings.TrimPrefix(strings.ToLower(filepath.Ext(fileName)), ".") {
	case "jpg", "jpeg", "png", "gif", "webp":
		return CategoryRaster
	case "tif", "tiff", "xcf":
		return CategoryLayeredRaster
	case "svg":
		return CategoryVectorMarkup
	case "pdf":
		return CategoryPageDescription
	case "psd":
		return CategoryDesignDocument
	case "ai":
		return CategoryVectorProgram
	}

	switch strings.ToLower(mediaType) {
	case "image/tiff", "image/tif":
		return CategoryLayeredRaster
	case "image/svg+xml":
		return CategoryVectorMarkup
	case "application/pdf":
		return CategoryPageDescription
	case "image/vnd.adobe.photoshop", "application/x-photoshop":
		return CategoryDesignDocument
	case "application/postscript", "application/illustrator":
		return CategoryVectorProgram
	}
	return CategoryRaster
}
