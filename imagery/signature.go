package imagery

import (
	"bytes"
	"errors"
	"strings"
)

// ErrSignatureMismatch is returned when the magic bytes of an uploaded file
// do not match its declared media type, or when the declared type is not
// one the pipeline accepts. The caller must delete the stored file and
// abort ingestion before any catalog write.
var ErrSignatureMismatch = errors.New("imagery: file signature does not match declared media type")

// HeaderLen is how many leading bytes VerifySignature inspects.
const HeaderLen = 16

// VerifySignature checks the magic bytes of a file header against the
// claimed media type. WebP is accepted on the claim alone: its RIFF
// container header varies and the upload filter already restricts
// extensions, so the check is intentionally skipped.
func VerifySignature(header []byte, mediaType string) error {
	switch strings.ToLower(mediaType) {
	case "image/png":
		if hasPrefix(header, 0x89, 'P', 'N', 'G') {
			return nil
		}
	case "image/jpeg", "image/jpg":
		if hasPrefix(header, 0xFF, 0xD8) {
			return nil
		}
	case "image/gif":
		if bytes.HasPrefix(header, []byte("GIF")) {
			return nil
		}
	case "image/tiff", "image/tif":
		// Little-endian II*\0 or big-endian MM\0*.
		if hasPrefix(header, 'I', 'I', 0x2A, 0x00) || hasPrefix(header, 'M', 'M', 0x00, 0x2A) {
			return nil
		}
	case "application/pdf":
		if bytes.HasPrefix(header, []byte("%PDF")) {
			return nil
		}
	case "image/webp":
		return nil
	}
	return ErrSignatureMismatch
}

func hasPrefix(b []byte, magic ...byte) bool {
	if len(b) < len(magic) {
		return false
	}
	return bytes.Equal(b[:len(magic)], magic)
}
