package policy

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/Harshith2412/zta-finance/pkg/errors"
	"github.com/Harshith2412/zta-finance/pkg/models"
)

// LoadSnapshotFile reads and validates a policy snapshot from a YAML
// file. The result is either a complete valid snapshot or a
// PolicyLoadError; it is never partially applied.
func LoadSnapshotFile(path string) (*models.PolicySnapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewPolicyLoadError("", fmt.Sprintf("read %s", path), err)
	}
	return ParseSnapshot(data)
}

// ParseSnapshot parses and validates a YAML policy snapshot.
func ParseSnapshot(data []byte) (*models.PolicySnapshot, error) {
	var snapshot models.PolicySnapshot
	if err := yaml.Unmarshal(data, &snapshot); err != nil {
		return nil, errors.NewPolicyLoadError("", "invalid yaml", err)
	}
	if err := Validate(&snapshot); err != nil {
		return nil, err
	}
	return &snapshot, nil
}
