// Package ingest orchestrates the upload flow: store the raw file,
// verify its signature, classify it, register the original asset, then
// synthesize derivatives and extract layer metadata.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"atelier/catalog"
	"atelier/imagery"
	"atelier/safepath"
)

// UploadResult is the ingestion outcome: the canonical asset the client
// should display (the preview when one was synthesized, otherwise the
// original).
type UploadResult struct {
	FilePath string `json:"file_path"`
	FileName string `json:"file_name"`
}

// Service runs the ingestion flow for one upload root.
type Service struct {
	catalog  *catalog.Store
	pipeline *imagery.Pipeline
	root     string
	logger   *slog.Logger
}

// New creates an ingestion Service storing files under root.
func New(cat *catalog.Store, pipeline *imagery.Pipeline, root string, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{catalog: cat, pipeline: pipeline, root: root, logger: logger}
}

// Root returns the upload root directory.
func (s *Service) Root() string { return s.root }

// Upload ingests one file for an artifact. On signature mismatch the
// stored file is deleted and no record is created. Once the original is
// registered, derivative failures do not roll it back: partial success
// (original present, derivatives absent) is a terminal state. A failed
// primary preview for a non-raster category is still surfaced.
func (s *Service) Upload(ctx context.Context, artifactID int64, fileName, mediaType string, body io.Reader) (*UploadResult, error) {
	artifact, err := s.catalog.GetArtifact(ctx, artifactID)
	if err != nil {
		return nil, fmt.Errorf("ingest: load artifact: %w", err)
	}
	if artifact == nil {
		return nil, catalog.ErrArtifactNotFound
	}

	storedPath, size, err := s.store(fileName, body)
	if err != nil {
		return nil, err
	}

	header := make([]byte, imagery.HeaderLen)
	n, err := readHeader(storedPath, header)
	if err != nil {
		os.Remove(storedPath)
		return nil, fmt.Errorf("ingest: read header: %w", err)
	}
	if err := imagery.VerifySignature(header[:n], mediaType); err != nil {
		os.Remove(storedPath)
		return nil, err
	}

	category := imagery.Classify(fileName, mediaType)

	original := &catalog.Asset{
		ArtifactID: artifactID,
		FilePath:   storedPath,
		FileName:   fileName,
		SizeBytes:  size,
		MediaType:  mediaType,
		IsPrimary:  true,
	}
	if err := s.catalog.InsertAsset(ctx, original); err != nil {
		os.Remove(storedPath)
		return nil, fmt.Errorf("ingest: record original: %w", err)
	}

	// Layer metadata is best-effort and independent of derivative
	// synthesis; a parse failure just means no manifest.
	if manifest := imagery.ExtractLayers(storedPath, category, s.logger); manifest != nil {
		if doc, err := json.Marshal(manifest); err == nil {
			if err := s.catalog.SetAssetAnnotation(ctx, artifactID, storedPath, string(doc)); err != nil {
				s.logger.Warn("layer manifest write failed", "path", storedPath, "error", err)
			}
		}
	}

	result := &UploadResult{FilePath: storedPath, FileName: fileName}
	derived, synthErr := s.pipeline.Synthesize(ctx, storedPath, mediaType, category)
	if synthErr == nil {
		s.recordDerivatives(ctx, artifactID, derived, result)
	}

	if err := s.catalog.TouchArtifact(ctx, artifactID); err != nil {
		s.logger.Warn("artifact touch failed", "artifact_id", artifactID, "error", err)
	}

	if synthErr != nil {
		// The original stays registered; the failure is surfaced.
		return nil, fmt.Errorf("ingest: derivative synthesis: %w", synthErr)
	}
	return result, nil
}

// DeleteImage removes one asset and, when it is an original, its
// synthesized derivatives (rows and files). imagePath is confined to the
// upload root before any I/O.
func (s *Service) DeleteImage(ctx context.Context, artifactID int64, imagePath string) error {
	confined, err := safepath.Confine(s.root, strings.TrimPrefix(imagePath, s.root))
	if err != nil {
		return err
	}
	asset, err := s.catalog.GetAsset(ctx, artifactID, confined)
	if err != nil {
		return fmt.Errorf("ingest: load asset: %w", err)
	}
	if asset == nil {
		return catalog.ErrAssetNotFound
	}

	paths := []string{confined}
	if asset.IsPrimary {
		base := strings.TrimSuffix(confined, filepath.Ext(confined))
		paths = append(paths, base+"_preview.png", base+"_thumb.jpg")
	}
	for _, p := range paths {
		if err := s.catalog.DeleteAsset(ctx, artifactID, p); err != nil {
			return fmt.Errorf("ingest: delete asset row: %w", err)
		}
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("asset file removal failed", "path", p, "error", err)
		}
	}
	return s.catalog.TouchArtifact(ctx, artifactID)
}

// store writes the upload stream under a fresh name inside the root and
// fsyncs it before returning.
func (s *Service) store(fileName string, body io.Reader) (string, int64, error) {
	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return "", 0, fmt.Errorf("ingest: mkdir: %w", err)
	}
	ext := strings.ToLower(filepath.Ext(fileName))
	path := filepath.Join(s.root, uuid.NewString()+ext)

	f, err := os.Create(path)
	if err != nil {
		return "", 0, fmt.Errorf("ingest: create: %w", err)
	}
	size, err := io.Copy(f, body)
	if err != nil {
		f.Close()
		os.Remove(path)
		return "", 0, fmt.Errorf("ingest: write: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(path)
		return "", 0, fmt.Errorf("ingest: sync: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", 0, err
	}
	return path, size, nil
}

// recordDerivatives registers the synthesized derivative rows. The preview
// becomes the canonical result only when its row lands; either insert
// failure is logged and the original stays canonical.
func (s *Service) recordDerivatives(ctx context.Context, artifactID int64, derived *imagery.Result, result *UploadResult) {
	if derived.Preview != nil {
		if err := s.record(ctx, artifactID, derived.Preview); err != nil {
			s.logger.Warn("preview record failed", "path", derived.Preview.Path, "error", err)
		} else {
			result.FilePath = derived.Preview.Path
			result.FileName = derived.Preview.FileName
		}
	}
	if derived.Thumbnail != nil {
		if err := s.record(ctx, artifactID, derived.Thumbnail); err != nil {
			s.logger.Warn("thumbnail record failed", "path", derived.Thumbnail.Path, "error", err)
		}
	}
}

func (s *Service) record(ctx context.Context, artifactID int64, d *imagery.Derived) error {
	return s.catalog.InsertAsset(ctx, &catalog.Asset{
		ArtifactID: artifactID,
		FilePath:   d.Path,
		FileName:   d.FileName,
		SizeBytes:  d.SizeBytes,
		MediaType:  d.MediaType,
	})
}

func readHeader(path string, buf []byte) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	n, err := io.ReadFull(f, buf)
	if err == io.ErrUnexpectedEOF || err == io.EOF {
		err = nil
	}
	return n, err
}
