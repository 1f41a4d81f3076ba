package trust

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/Harshith2412/zta-finance/pkg/models"
)

// Fingerprint derives the stable device key from client-supplied
// attributes: a SHA-256 over their canonical JSON serialization.
func Fingerprint(attrs models.DeviceAttributes) string {
	// Struct field order is fixed, so the serialization is canonical.
	data, _ := json.Marshal(attrs)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
