package vault

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	t.Run("nil config", func(t *testing.T) {
		_, err := New(nil, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "config is required")
	})

	t.Run("missing address", func(t *testing.T) {
		_, err := New(&Config{}, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "address is required")
	})

	t.Run("valid config", func(t *testing.T) {
		client, err := New(&Config{Address: "http://127.0.0.1:8200", Token: "root"}, nil)
		require.NoError(t, err)
		assert.NotNil(t, client.Raw())
	})
}

func TestAppRoleConfig_Defaults(t *testing.T) {
	t.Parallel()

	cfg := &AppRoleConfig{
		Name:            "decision-service",
		BindSecretID:    true,
		SecretIDNumUses: 1,
		SecretIDTTL:     "10m",
		TokenPolicies:   []string{"decision-service-policy"},
		TokenTTL:        "15m",
		TokenMaxTTL:     "1h",
	}

	assert.Equal(t, "decision-service", cfg.Name)
	assert.True(t, cfg.BindSecretID)
	assert.Equal(t, 1, cfg.SecretIDNumUses)
}

func TestClient_CreateAppRole_NilConfig(t *testing.T) {
	t.Parallel()

	client := &Client{}

	err := client.CreateAppRole(context.Background(), "approle", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AppRole role config with name is required")

	err = client.CreateAppRole(context.Background(), "approle", &AppRoleConfig{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AppRole role config with name is required")
}

func TestSealer_Validation(t *testing.T) {
	t.Parallel()

	t.Run("nil transit", func(t *testing.T) {
		_, err := NewSealer(nil, "audit-tag")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "transit client is required")
	})

	t.Run("missing key name", func(t *testing.T) {
		client, err := New(&Config{Address: "http://127.0.0.1:8200"}, nil)
		require.NoError(t, err)

		_, err = NewSealer(client.Transit("transit"), "")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "key name is required")
	})

	t.Run("valid", func(t *testing.T) {
		client, err := New(&Config{Address: "http://127.0.0.1:8200"}, nil)
		require.NoError(t, err)

		sealer, err := NewSealer(client.Transit(""), "audit-tag")
		require.NoError(t, err)
		assert.NotNil(t, sealer)
	})
}

func TestTransit_DefaultMountPath(t *testing.T) {
	t.Parallel()

	client, err := New(&Config{Address: "http://127.0.0.1:8200"}, nil)
	require.NoError(t, err)

	transit := client.Transit("")
	assert.Equal(t, "transit", transit.mountPath)

	transit = client.Transit("zta-transit")
	assert.Equal(t, "zta-transit", transit.mountPath)
}
