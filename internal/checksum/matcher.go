package checksum

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

var ErrChecksumNotSet = errors.New("expected checksum is not set")

// Sum returns the lowercase hex sha256 of data; it is the registry's content key.
func Sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// ChecksumMatcher verifies an uploaded payload against a client-supplied digest.
type ChecksumMatcher struct {
	expectedChecksum string
}

func NewChecksumMatcher(expectedChecksum string) *ChecksumMatcher {
	return &ChecksumMatcher{expectedChecksum: strings.ToLower(strings.TrimSpace(expectedChecksum))}
}

// Match checks if the provided data's checksum matches the expected checksum.
func (cm *ChecksumMatcher) Match(data []byte) (bool, error) {
	if cm.expectedChecksum == "" {
		return false, ErrChecksumNotSet
	}
	return Sum(data) == cm.expectedChecksum, nil
}
