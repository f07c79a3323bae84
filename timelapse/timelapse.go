// Package timelapse captures ordered frame snapshots of treatment
// progress. Each frame is a raster image tied to a logical timeline,
// stored as a non-primary asset whose annotation payload carries the
// timeline id, step index, and the caller's annotation sidecar.
package timelapse

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"atelier/catalog"
	"atelier/imagery"
)

var (
	// ErrBadDataURL is returned for frame data that is not a well-formed
	// base64 data URL.
	ErrBadDataURL = errors.New("timelapse: malformed frame data URL")

	// ErrUnsupportedEncoding rejects frame encodings other than PNG and JPEG.
	ErrUnsupportedEncoding = errors.New("timelapse: only png and jpeg frames are accepted")

	// ErrMissingTimeline is returned when no timeline id is supplied.
	ErrMissingTimeline = errors.New("timelapse: timeline id is required")
)

// payload is the annotation document stored on every frame asset.
type payload struct {
	TimelineID  string          `json:"timeline_id"`
	StepIndex   int64           `json:"step_index"`
	Annotations json.RawMessage `json:"annotations,omitempty"`
}

// Frame is one ordered snapshot returned by ListFrames.
type Frame struct {
	FilePath    string          `json:"file_path"`
	FileName    string          `json:"file_name"`
	TimelineID  string          `json:"timeline_id"`
	StepIndex   int64           `json:"step_index"`
	Annotations json.RawMessage `json:"annotations,omitempty"`
	CreatedAt   string          `json:"created_at"`
}

// Recorder persists and lists timelapse frames under a fixed upload root.
type Recorder struct {
	catalog *catalog.Store
	root    string
}

// NewRecorder creates a Recorder writing frame files under root.
func NewRecorder(cat *catalog.Store, root string) *Recorder {
	return &Recorder{catalog: cat, root: root}
}

// RecordFrame decodes a data-URL raster frame and persists it for the
// given timeline. When stepIndex is nil a time-based fallback is used —
// not a true sequence number; callers needing reliable ordering supply
// explicit indices.
func (r *Recorder) RecordFrame(ctx context.Context, artifactID int64, timelineID string, stepIndex *int64, frameDataURL string, annotations json.RawMessage) (*catalog.Asset, error) {
	if timelineID == "" {
		return nil, ErrMissingTimeline
	}
	artifact, err := r.catalog.GetArtifact(ctx, artifactID)
	if err != nil {
		return nil, fmt.Errorf("timelapse: load artifact: %w", err)
	}
	if artifact == nil {
		return nil, catalog.ErrArtifactNotFound
	}
	raw, ext, mediaType, err := decodeDataURL(frameDataURL)
	if err != nil {
		return nil, err
	}

	index := time.Now().UnixMilli()
	if stepIndex != nil {
		index = *stepIndex
	}
	doc, err := json.Marshal(payload{TimelineID: timelineID, StepIndex: index, Annotations: annotations})
	if err != nil {
		return nil, fmt.Errorf("timelapse: marshal payload: %w", err)
	}

	path := filepath.Join(r.root, "frame_"+uuid.NewString()+ext)
	if err := writeFileSync(path, raw); err != nil {
		return nil, err
	}
	asset := &catalog.Asset{
		ArtifactID: artifactID,
		FilePath:   path,
		FileName:   filepath.Base(path),
		SizeBytes:  int64(len(raw)),
		MediaType:  mediaType,
		Annotation: string(doc),
	}
	if err := r.catalog.InsertAsset(ctx, asset); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("timelapse: record asset: %w", err)
	}
	return asset, nil
}

// ListFrames returns the frames of one timeline sorted ascending by step
// index (missing index is 0), stable on ties. Assets whose payload does
// not parse or belongs to another timeline are skipped.
func (r *Recorder) ListFrames(ctx context.Context, artifactID int64, timelineID string) ([]Frame, error) {
	if timelineID == "" {
		return nil, ErrMissingTimeline
	}
	assets, err := r.catalog.ListAnnotatedAssets(ctx, artifactID)
	if err != nil {
		return nil, fmt.Errorf("timelapse: list assets: %w", err)
	}

	frames := []Frame{}
	for _, a := range assets {
		var p payload
		if err := json.Unmarshal([]byte(a.Annotation), &p); err != nil {
			continue
		}
		if p.TimelineID != timelineID {
			continue
		}
		frames = append(frames, Frame{
			FilePath:    a.FilePath,
			FileName:    a.FileName,
			TimelineID:  p.TimelineID,
			StepIndex:   p.StepIndex,
			Annotations: p.Annotations,
			CreatedAt:   a.CreatedAt,
		})
	}
	sort.SliceStable(frames, func(i, j int) bool { return frames[i].StepIndex < frames[j].StepIndex })
	return frames, nil
}

// decodeDataURL extracts the raw bytes of a base64 data URL, accepting
// only PNG and JPEG frames and verifying the magic bytes match the
// declared encoding.
func decodeDataURL(dataURL string) (raw []byte, ext, mediaType string, err error) {
	rest, ok := strings.CutPrefix(dataURL, "data:")
	if !ok {
		return nil, "", "", ErrBadDataURL
	}
	mediaType, encoded, ok := strings.Cut(rest, ";base64,")
	if !ok {
		return nil, "", "", ErrBadDataURL
	}
	switch mediaType {
	case "image/png":
		ext = ".png"
	case "image/jpeg", "image/jpg":
		ext = ".jpg"
	default:
		return nil, "", "", ErrUnsupportedEncoding
	}
	raw, decErr := base64.StdEncoding.DecodeString(encoded)
	if decErr != nil {
		return nil, "", "", ErrBadDataURL
	}
	if err := imagery.VerifySignature(raw, mediaType); err != nil {
		return nil, "", "", err
	}
	return raw, ext, mediaType, nil
}

func writeFileSync(path string, data []byte) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("timelapse: create %s: %w", path, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(path)
		return fmt.Errorf("timelapse: write %s: %w", path, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(path)
		return fmt.Errorf("timelapse: sync %s: %w", path, err)
	}
	return f.Close()
}
