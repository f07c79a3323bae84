// Package annotation reads and writes per-image annotation payloads.
//
// The stored payload is opaque and shape-discriminated on read: legacy
// flat annotation arrays, versioned layer canvases, and encrypted
// envelopes all live in the same column. Writes store the payload as
// given, encrypting at rest when a process-wide key is configured.
package annotation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"

	"atelier/catalog"
	"atelier/envelope"
)

// ErrNoKey is returned when an encrypted payload is found but no
// process-wide key is configured to open it.
var ErrNoKey = errors.New("annotation: encrypted payload but no key configured")

// Document is the read-side result. Exactly one of Annotations and Canvas
// is populated; both empty means nothing is stored. Annotations is always
// a JSON array, Canvas a JSON object.
type Document struct {
	Annotations json.RawMessage `json:"annotations"`
	Canvas      json.RawMessage `json:"canvas"`
}

func emptyDocument() *Document {
	return &Document{Annotations: json.RawMessage("[]"), Canvas: nil}
}

// Store persists annotation payloads on catalog assets.
type Store struct {
	catalog *catalog.Store
	crypto  *envelope.Service
	encrypt bool
}

// NewStore creates a Store. Payloads are encrypted at rest when the
// envelope service carries a process-wide key; the choice is fixed at
// construction so a restart with a different configuration never mixes
// modes mid-request.
func NewStore(cat *catalog.Store, crypto *envelope.Service) *Store {
	return &Store{catalog: cat, crypto: crypto, encrypt: crypto.Keyed()}
}

// Get loads the annotation payload stored for (artifactID, imagePath) and
// classifies its shape. A missing asset or empty payload yields an empty
// document, never an error; a payload that decrypts but matches no known
// shape also yields an empty document. Decryption failure is surfaced.
func (s *Store) Get(ctx context.Context, artifactID int64, imagePath string) (*Document, error) {
	asset, err := s.catalog.GetAsset(ctx, artifactID, imagePath)
	if err != nil {
		return nil, fmt.Errorf("annotation: load asset: %w", err)
	}
	if asset == nil || asset.Annotation == "" {
		return emptyDocument(), nil
	}

	payload := []byte(asset.Annotation)
	if env := parseEnvelope(payload); env != nil {
		if !s.crypto.Keyed() {
			return nil, ErrNoKey
		}
		payload, err = s.crypto.Decrypt(env)
		if err != nil {
			return nil, err
		}
	}
	return classify(payload), nil
}

// Put stores payload as the annotation of (artifactID, imagePath),
// creating the asset row when the image has no catalog entry yet.
// Last write wins. Returns the asset key the payload is stored under.
func (s *Store) Put(ctx context.Context, artifactID int64, imagePath string, payload json.RawMessage) (string, error) {
	stored := string(payload)
	if s.encrypt {
		env, err := s.crypto.Encrypt(payload)
		if err != nil {
			return "", fmt.Errorf("annotation: encrypt: %w", err)
		}
		raw, err := json.Marshal(env)
		if err != nil {
			return "", fmt.Errorf("annotation: marshal envelope: %w", err)
		}
		stored = string(raw)
	}

	asset, err := s.catalog.GetAsset(ctx, artifactID, imagePath)
	if err != nil {
		return "", fmt.Errorf("annotation: load asset: %w", err)
	}
	if asset == nil {
		if err := s.catalog.InsertAsset(ctx, &catalog.Asset{
			ArtifactID: artifactID,
			FilePath:   imagePath,
			FileName:   path.Base(imagePath),
			Annotation: stored,
		}); err != nil {
			return "", err
		}
		return imagePath, nil
	}
	if err := s.catalog.SetAssetAnnotation(ctx, artifactID, imagePath, stored); err != nil {
		return "", err
	}
	return asset.FilePath, nil
}

// parseEnvelope reports whether payload is an encrypted envelope, by the
// presence of the algorithm marker and the mandatory cipher fields.
func parseEnvelope(payload []byte) *envelope.Envelope {
	if !bytes.HasPrefix(bytes.TrimLeft(payload, " \t\r\n"), []byte("{")) {
		return nil
	}
	var env envelope.Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil
	}
	if env.Alg != envelope.Algorithm || env.IV == "" || env.Tag == "" || env.Data == "" {
		return nil
	}
	return &env
}

// classify discriminates a plaintext payload into a Document. The order
// matters: versioned layer canvases first, then object canvases, then
// legacy arrays. Unknown shapes classify as empty.
func classify(payload []byte) *Document {
	trimmed := bytes.TrimLeft(payload, " \t\r\n")
	switch {
	case bytes.HasPrefix(trimmed, []byte("[")):
		var arr []json.RawMessage
		if err := json.Unmarshal(payload, &arr); err != nil {
			return emptyDocument()
		}
		return &Document{Annotations: json.RawMessage(payload)}

	case bytes.HasPrefix(trimmed, []byte("{")):
		var probe struct {
			Version string          `json:"version"`
			Layers  json.RawMessage `json:"layers"`
			Objects json.RawMessage `json:"objects"`
		}
		if err := json.Unmarshal(payload, &probe); err != nil {
			return emptyDocument()
		}
		if (probe.Version == "1.0" || probe.Version == "2.0") && probe.Layers != nil {
			return &Document{Annotations: json.RawMessage("[]"), Canvas: json.RawMessage(payload)}
		}
		if probe.Objects != nil {
			return &Document{Annotations: json.RawMessage("[]"), Canvas: json.RawMessage(payload)}
		}
		return emptyDocument()
	}
	return emptyDocument()
}
