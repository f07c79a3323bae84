package imagery

import "log/slog"

// Category is the processing category of an accepted upload.
type Category string

const (
	CategoryRaster          Category = "raster"
	CategoryLayeredRaster   Category = "layered-raster"
	CategoryVectorMarkup    Category = "vector-markup"
	CategoryPageDescription Category = "page-description"
	CategoryDesignDocument  Category = "design-document"
	CategoryVectorProgram   Category = "vector-program"
)

// Config configures the derivative pipeline.
type Config struct {
	// MaxPreviewDim caps the larger dimension of resized previews (default 3000).
	MaxPreviewDim int `json:"max_preview_dim" yaml:"max_preview_dim"`

	// PreviewTriggerDim is the pixel dimension above which a raster original
	// gets a preview (default 4000).
	PreviewTriggerDim int `json:"preview_trigger_dim" yaml:"preview_trigger_dim"`

	// PreviewTriggerBytes is the byte size above which a raster original
	// gets a preview (default 20 MiB).
	PreviewTriggerBytes int64 `json:"preview_trigger_bytes" yaml:"preview_trigger_bytes"`

	// ThumbnailSize is the square thumbnail edge (default 512).
	ThumbnailSize int `json:"thumbnail_size" yaml:"thumbnail_size"`

	// ThumbnailQuality is the JPEG quality for thumbnails (default 85).
	ThumbnailQuality int `json:"thumbnail_quality" yaml:"thumbnail_quality"`

	// Workers bounds concurrent transcodes across requests (default 4).
	Workers int `json:"workers" yaml:"workers"`

	// Logger for debug/warn messages.
	Logger *slog.Logger `json:"-" yaml:"-"`
}

func (c *Config) defaults() {
	if c.MaxPreviewDim <= 0 {
		c.MaxPreviewDim = 3000
	}
	if c.PreviewTriggerDim <= 0 {
		c.PreviewTriggerDim = 4000
	}
	if c.PreviewTriggerBytes <= 0 {
		c.PreviewTriggerBytes = 20 << 20
	}
	if c.ThumbnailSize <= 0 {
		c.ThumbnailSize = 512
	}
	if c.ThumbnailQuality <= 0 {
		c.ThumbnailQuality = 85
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Derived describes one synthesized secondary asset on disk.
type Derived struct {
	Path      string // absolute path
	FileName  string
	SizeBytes int64
	MediaType string
}

// Result is the outcome of derivative synthesis for one original.
// Thumbnail generation is best-effort: when it fails, Thumbnail is nil and
// ThumbnailErr records why; the ingestion flow continues past it.
type Result struct {
	Preview      *Derived
	Thumbnail    *Derived
	ThumbnailErr error
}
