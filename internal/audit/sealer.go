package audit

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"

	"github.com/Harshith2412/zta-finance/pkg/errors"
)

// HMACSealer seals events with a local HMAC-SHA256 key. Production
// deployments use the Vault transit sealer instead so the key never
// lives in process memory.
type HMACSealer struct {
	key []byte
}

// NewHMACSealer creates a local HMAC sealer.
func NewHMACSealer(key []byte) (*HMACSealer, error) {
	if len(key) == 0 {
		return nil, fmt.Errorf("audit: sealer key is required: %w", errors.ErrInvalidInput)
	}
	return &HMACSealer{key: key}, nil
}

// Seal returns the hex HMAC-SHA256 tag for the payload.
func (s *HMACSealer) Seal(_ context.Context, payload []byte) (string, error) {
	mac := hmac.New(sha256.New, s.key)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// Verify checks a tag against the payload in constant time.
func (s *HMACSealer) Verify(ctx context.Context, payload []byte, tag string) (bool, error) {
	expected, err := s.Seal(ctx, payload)
	if err != nil {
		return false, err
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(tag)) == 1, nil
}
