// Package envelope provides symmetric authenticated encryption for
// annotation-at-rest, stored integration tokens, and protected exports.
//
// One cipher, two key-derivation modes:
//
//   - keyed: a process-wide 256-bit key derived once from a configured
//     secret string (hex, base64, or raw UTF-8 input).
//   - password: a per-call key derived from a caller-supplied password via
//     PBKDF2-HMAC-SHA256 with a fresh random salt.
//
// Envelopes are immutable once created; decryption either fully succeeds
// (GCM tag verified) or fails atomically. No plaintext is ever returned on
// failure.
package envelope

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

// Algorithm is the only cipher the service speaks. It is recorded in every
// envelope and checked on decryption.
const Algorithm = "aes-256-gcm"

const (
	keySize   = 32
	ivSize    = 12
	tagSize   = 16
	saltSize  = 16
	// Iterations is the PBKDF2 round count for password mode.
	Iterations = 120000
)

// ErrDecryption is returned when the authentication tag does not verify.
// It never reveals whether the cause was a wrong key or corrupted data.
var ErrDecryption = errors.New("envelope: decryption failed")

// ErrMalformed is returned when an envelope is missing required fields or
// carries an unknown algorithm. This is an input-shape failure, reported
// before any cryptography runs.
var ErrMalformed = errors.New("envelope: malformed envelope")

// Envelope is the authenticated-encryption output. Salt and Iter are only
// present in password mode. The JSON field names are a stable on-disk
// contract shared with protected-export wrapper files.
type Envelope struct {
	Alg  string `json:"enc"`
	IV   string `json:"iv"`
	Tag  string `json:"tag"`
	Data string `json:"data"`
	Salt string `json:"salt,omitempty"`
	Iter int    `json:"iter,omitempty"`
}

// Service encrypts and decrypts envelopes. The keyed-mode key is derived
// once at construction; password mode is stateless.
type Service struct {
	key []byte // nil when no process-wide secret is configured
}

// New creates a Service. secret may be empty, in which case only password
// mode is available and Keyed() reports false.
func New(secret string) *Service {
	if secret == "" {
		return &Service{}
	}
	return &Service{key: normalizeKey(secret)}
}

// Keyed reports whether a process-wide key is configured.
func (s *Service) Keyed() bool { return s.key != nil }

// normalizeKey accepts hex, base64, or raw UTF-8 secret material and
// returns exactly 32 bytes (zero-padded or truncated).
func normalizeKey(secret string) []byte {
	var raw []byte
	if b, err := hex.DecodeString(secret); err == nil && len(secret) == keySize*2 {
		raw = b
	} else if b, err := base64.StdEncoding.DecodeString(secret); err == nil && len(b) >= keySize {
		raw = b
	} else {
		raw = []byte(secret)
	}
	key := make([]byte, keySize)
	copy(key, raw)
	return key
}

// Encrypt seals plaintext with the process-wide key.
func (s *Service) Encrypt(plaintext []byte) (*Envelope, error) {
	if s.key == nil {
		return nil, errors.New("envelope: no process-wide key configured")
	}
	return seal(plaintext, s.key, nil, 0)
}

// Decrypt opens an envelope sealed with the process-wide key.
func (s *Service) Decrypt(env *Envelope) ([]byte, error) {
	if s.key == nil {
		return nil, errors.New("envelope: no process-wide key configured")
	}
	iv, tag, data, err := decodeFields(env)
	if err != nil {
		return nil, err
	}
	return open(s.key, iv, tag, data)
}

// EncryptWithPassword seals plaintext with a key derived from password.
// The envelope carries the salt and iteration count needed to re-derive it.
func (s *Service) EncryptWithPassword(plaintext []byte, password string) (*Envelope, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("envelope: salt: %w", err)
	}
	key := pbkdf2.Key([]byte(password), salt, Iterations, keySize, sha256.New)
	return seal(plaintext, key, salt, Iterations)
}

// DecryptWithPassword opens a password-mode envelope. Envelopes without
// salt or iterations are rejected as malformed before key derivation.
func (s *Service) DecryptWithPassword(env *Envelope, password string) ([]byte, error) {
	if env == nil || env.Salt == "" || env.Iter <= 0 {
		return nil, ErrMalformed
	}
	iv, tag, data, err := decodeFields(env)
	if err != nil {
		return nil, err
	}
	salt, err := base64.StdEncoding.DecodeString(env.Salt)
	if err != nil {
		return nil, ErrMalformed
	}
	key := pbkdf2.Key([]byte(password), salt, env.Iter, keySize, sha256.New)
	return open(key, iv, tag, data)
}

func seal(plaintext, key, salt []byte, iter int) (*Envelope, error) {
	iv := make([]byte, ivSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, fmt.Errorf("envelope: iv: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("envelope: cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("envelope: gcm: %w", err)
	}

	// Seal appends the tag to the ciphertext; the envelope stores them
	// separately so data length equals plaintext length.
	sealed := aead.Seal(nil, iv, plaintext, nil)
	data, tag := sealed[:len(sealed)-tagSize], sealed[len(sealed)-tagSize:]

	env := &Envelope{
		Alg:  Algorithm,
		IV:   base64.StdEncoding.EncodeToString(iv),
		Tag:  base64.StdEncoding.EncodeToString(tag),
		Data: base64.StdEncoding.EncodeToString(data),
	}
	if salt != nil {
		env.Salt = base64.StdEncoding.EncodeToString(salt)
		env.Iter = iter
	}
	return env, nil
}

func open(key, iv, tag, data []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("envelope: cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("envelope: gcm: %w", err)
	}
	plaintext, err := aead.Open(nil, iv, append(data, tag...), nil)
	if err != nil {
		return nil, ErrDecryption
	}
	return plaintext, nil
}

func decodeFields(env *Envelope) (iv, tag, data []byte, err error) {
	if env == nil || env.Alg != Algorithm || env.IV == "" || env.Tag == "" || env.Data == "" {
		return nil, nil, nil, ErrMalformed
	}
	if iv, err = base64.StdEncoding.DecodeString(env.IV); err != nil || len(iv) != ivSize {
		return nil, nil, nil, ErrMalformed
	}
	if tag, err = base64.StdEncoding.DecodeString(env.Tag); err != nil || len(tag) != tagSize {
		return nil, nil, nil, ErrMalformed
	}
	if data, err = base64.StdEncoding.DecodeString(env.Data); err != nil {
		return nil, nil, nil, ErrMalformed
	}
	return iv, tag, data, nil
}
