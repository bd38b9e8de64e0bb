// Package digest computes content digests used for change and stability
// detection. A path whose digest is unchanged across the stability delay is
// considered settled.
package digest

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
)

// File returns the sha256 hex digest of the file's bytes.
// Callers that need deleted-file handling should check os.IsNotExist on the
// returned error.
func File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Bytes returns the sha256 hex digest of a byte slice.
func Bytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
