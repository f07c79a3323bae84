// Package vault implements protected export and import of artifact files:
// an original is wrapped in a password-encrypted envelope with integrity
// metadata, stored as a sidecar asset, and can be restored later with the
// same password.
package vault

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"atelier/catalog"
	"atelier/envelope"
	"atelier/safepath"
)

// MinPasswordLen is enforced before any cryptography runs.
const MinPasswordLen = 8

const wrapperSuffix = ".protected.json"

var (
	// ErrWeakPassword rejects passwords shorter than MinPasswordLen.
	ErrWeakPassword = fmt.Errorf("vault: password must be at least %d characters", MinPasswordLen)

	// ErrMalformedWrapper is returned when a wrapper file is not a valid
	// protected-export document.
	ErrMalformedWrapper = errors.New("vault: malformed wrapper file")

	// ErrIntegrity is returned when restored content does not match the
	// recorded content hash.
	ErrIntegrity = errors.New("vault: content hash mismatch after decryption")
)

// Meta is the integrity metadata recorded alongside the encrypted payload.
type Meta struct {
	OriginalExt string `json:"original_ext"`
	ContentHash string `json:"content_hash"`
	CreatedAt   string `json:"created_at"`
}

// Wrapper is the on-disk protected-export document. The layout is a
// stable contract: wrappers written by one deployment must open in any
// later one.
type Wrapper struct {
	Meta    Meta               `json:"meta"`
	Payload *envelope.Envelope `json:"payload"`
}

// Vault performs protect/unprotect operations under a fixed upload root.
type Vault struct {
	catalog *catalog.Store
	crypto  *envelope.Service
	root    string
}

// New creates a Vault confined to root.
func New(cat *catalog.Store, crypto *envelope.Service, root string) *Vault {
	return &Vault{catalog: cat, crypto: crypto, root: root}
}

// Protect reads the named file, encrypts it with password mode, and
// writes the wrapper as a new non-primary asset of the artifact. filePath
// is resolved relative to the upload root and must stay inside it.
// Returns the wrapper path.
func (v *Vault) Protect(ctx context.Context, artifactID int64, filePath, password string) (string, error) {
	if len(password) < MinPasswordLen {
		return "", ErrWeakPassword
	}
	src, err := safepath.Confine(v.root, filePath)
	if err != nil {
		return "", err
	}
	if err := v.checkArtifact(ctx, artifactID); err != nil {
		return "", err
	}
	raw, err := os.ReadFile(src)
	if err != nil {
		return "", fmt.Errorf("vault: read original: %w", err)
	}

	encoded := base64.StdEncoding.EncodeToString(raw)
	env, err := v.crypto.EncryptWithPassword([]byte(encoded), password)
	if err != nil {
		return "", fmt.Errorf("vault: encrypt: %w", err)
	}

	sum := sha256.Sum256(raw)
	wrapper := Wrapper{
		Meta: Meta{
			OriginalExt: filepath.Ext(src),
			ContentHash: hex.EncodeToString(sum[:]),
			CreatedAt:   time.Now().UTC().Format(time.RFC3339),
		},
		Payload: env,
	}
	doc, err := json.Marshal(wrapper)
	if err != nil {
		return "", fmt.Errorf("vault: marshal wrapper: %w", err)
	}

	dst := strings.TrimSuffix(src, filepath.Ext(src)) + wrapperSuffix
	if err := writeFileSync(dst, doc); err != nil {
		return "", err
	}
	if err := v.catalog.InsertAsset(ctx, &catalog.Asset{
		ArtifactID: artifactID,
		FilePath:   dst,
		FileName:   filepath.Base(dst),
		SizeBytes:  int64(len(doc)),
		MediaType:  "application/json",
	}); err != nil {
		os.Remove(dst)
		return "", fmt.Errorf("vault: record asset: %w", err)
	}
	return dst, nil
}

// Unprotect opens a wrapper written by Protect, restores the original
// bytes to a new file carrying the recorded extension, and records it as
// a non-primary asset. A wrong password surfaces as a decryption failure.
// Returns the restored path.
func (v *Vault) Unprotect(ctx context.Context, artifactID int64, protectedPath, password string) (string, error) {
	if len(password) < MinPasswordLen {
		return "", ErrWeakPassword
	}
	src, err := safepath.Confine(v.root, protectedPath)
	if err != nil {
		return "", err
	}
	if err := v.checkArtifact(ctx, artifactID); err != nil {
		return "", err
	}
	doc, err := os.ReadFile(src)
	if err != nil {
		return "", fmt.Errorf("vault: read wrapper: %w", err)
	}

	var wrapper Wrapper
	if err := json.Unmarshal(doc, &wrapper); err != nil {
		return "", ErrMalformedWrapper
	}
	if wrapper.Payload == nil || wrapper.Meta.ContentHash == "" {
		return "", ErrMalformedWrapper
	}

	encoded, err := v.crypto.DecryptWithPassword(wrapper.Payload, password)
	if err != nil {
		return "", err
	}
	raw, err := base64.StdEncoding.DecodeString(string(encoded))
	if err != nil {
		return "", ErrMalformedWrapper
	}
	sum := sha256.Sum256(raw)
	if hex.EncodeToString(sum[:]) != wrapper.Meta.ContentHash {
		return "", ErrIntegrity
	}

	ext := wrapper.Meta.OriginalExt
	dst := strings.TrimSuffix(src, wrapperSuffix) + "_restored" + ext
	if err := writeFileSync(dst, raw); err != nil {
		return "", err
	}
	if err := v.catalog.InsertAsset(ctx, &catalog.Asset{
		ArtifactID: artifactID,
		FilePath:   dst,
		FileName:   filepath.Base(dst),
		SizeBytes:  int64(len(raw)),
		MediaType:  mime.TypeByExtension(ext),
	}); err != nil {
		os.Remove(dst)
		return "", fmt.Errorf("vault: record asset: %w", err)
	}
	return dst, nil
}

// checkArtifact verifies the target artifact exists before any file is
// written on its behalf.
func (v *Vault) checkArtifact(ctx context.Context, artifactID int64) error {
	artifact, err := v.catalog.GetArtifact(ctx, artifactID)
	if err != nil {
		return fmt.Errorf("vault: load artifact: %w", err)
	}
	if artifact == nil {
		return catalog.ErrArtifactNotFound
	}
	return nil
}

// writeFileSync writes data and fsyncs before returning, so the catalog
// row referencing the file is only inserted after the bytes are durable.
func writeFileSync(path string, data []byte) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("vault: create %s: %w", path, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(path)
		return fmt.Errorf("vault: write %s: %w", path, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(path)
		return fmt.Errorf("vault: sync %s: %w", path, err)
	}
	return f.Close()
}
