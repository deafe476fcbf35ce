package backup

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"
)

// CalculateChecksum calculates a SHA-256 checksum for the given data
func CalculateChecksum(data []byte) string {
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}

// VerifyChecksum verifies that the data matches the expected checksum
func VerifyChecksum(data []byte, expectedChecksum string) bool {
	return ChecksumsEqual(CalculateChecksum(data), expectedChecksum)
}

// FileChecksum streams the file at path through SHA-256
func FileChecksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	return ReaderChecksum(f)
}

// ReaderChecksum streams r through SHA-256
func ReaderChecksum(r io.Reader) (string, error) {
	hash := sha256.New()
	if _, err := io.Copy(hash, r); err != nil {
		return "", fmt.Errorf("failed to hash content: %w", err)
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}

// ChecksumsEqual compares two hex digests, ignoring case
func ChecksumsEqual(a, b string) bool {
	return a != "" && strings.EqualFold(a, b)
}
