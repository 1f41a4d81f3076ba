package vault

import (
	"context"
	"fmt"
)

// Sealer computes audit integrity tags through the transit engine, so
// the tag key never leaves Vault.
type Sealer struct {
	transit *TransitClient
	keyName string
}

// NewSealer returns a Sealer bound to a transit HMAC key.
func NewSealer(transit *TransitClient, keyName string) (*Sealer, error) {
	if transit == nil {
		return nil, fmt.Errorf("vault: transit client is required")
	}
	if keyName == "" {
		return nil, fmt.Errorf("vault: key name is required")
	}
	return &Sealer{transit: transit, keyName: keyName}, nil
}

// EnsureKey creates the HMAC key if it does not exist yet.
func (s *Sealer) EnsureKey(ctx context.Context) error {
	return s.transit.CreateKey(ctx, s.keyName, &KeyConfig{Type: KeyTypeHMAC, KeySize: 32})
}

// Seal returns the integrity tag for a serialized event.
func (s *Sealer) Seal(ctx context.Context, payload []byte) (string, error) {
	return s.transit.HMAC(ctx, s.keyName, payload)
}

// Verify checks a tag against a serialized event.
func (s *Sealer) Verify(ctx context.Context, payload []byte, tag string) (bool, error) {
	return s.transit.VerifyHMAC(ctx, s.keyName, payload, tag)
}
