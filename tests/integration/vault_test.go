package integration

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Harshith2412/zta-finance/internal/audit"
	"github.com/Harshith2412/zta-finance/pkg/models"
	"github.com/Harshith2412/zta-finance/pkg/vault"
	"github.com/Harshith2412/zta-finance/tests/testutil/inmemory"
)

func testVaultClient(t *testing.T, vc *VaultContainer) *vault.Client {
	t.Helper()
	client, err := vault.New(&vault.Config{
		Address: vc.Address,
		Token:   vc.Token,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return client
}

// TestVaultTransit tests the transit operations the core depends on
// against a real Vault instance.
func TestVaultTransit(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	WithVault(t, func(t *testing.T, vc *VaultContainer) {
		ctx := context.Background()
		client := testVaultClient(t, vc)
		enableTransit(t, vc)
		transit := client.Transit("transit")

		t.Run("health", func(t *testing.T) {
			status, err := client.Health(ctx)
			require.NoError(t, err)
			assert.True(t, status.Initialized)
			assert.False(t, status.Sealed)

			sealed, err := client.IsSealed(ctx)
			require.NoError(t, err)
			assert.False(t, sealed)
		})

		t.Run("hmac_sign_and_verify", func(t *testing.T) {
			keyName := "integrity-key"
			err := transit.CreateKey(ctx, keyName, &vault.KeyConfig{Type: vault.KeyTypeHMAC, KeySize: 32})
			require.NoError(t, err)

			payload := []byte(`{"action":"decision.evaluate","outcome":"success"}`)
			tag, err := transit.HMAC(ctx, keyName, payload)
			require.NoError(t, err)
			assert.NotEmpty(t, tag)

			valid, err := transit.VerifyHMAC(ctx, keyName, payload, tag)
			require.NoError(t, err)
			assert.True(t, valid)

			valid, err = transit.VerifyHMAC(ctx, keyName, []byte("altered payload"), tag)
			require.NoError(t, err)
			assert.False(t, valid)
		})

		t.Run("hmac_survives_key_rotation", func(t *testing.T) {
			keyName := "rotating-key"
			err := transit.CreateKey(ctx, keyName, &vault.KeyConfig{Type: vault.KeyTypeHMAC, KeySize: 32})
			require.NoError(t, err)

			payload := []byte("sealed before rotation")
			tag, err := transit.HMAC(ctx, keyName, payload)
			require.NoError(t, err)

			require.NoError(t, transit.RotateKey(ctx, keyName))

			// Tags from older key versions still verify.
			valid, err := transit.VerifyHMAC(ctx, keyName, payload, tag)
			require.NoError(t, err)
			assert.True(t, valid)
		})

		t.Run("encrypt_decrypt", func(t *testing.T) {
			keyName := "detail-key"
			err := transit.CreateKey(ctx, keyName, &vault.KeyConfig{Type: vault.KeyTypeAES256GCM96})
			require.NoError(t, err)

			plaintext := []byte("account holder PII")
			ciphertext, err := transit.Encrypt(ctx, keyName, plaintext)
			require.NoError(t, err)
			assert.NotEqual(t, string(plaintext), ciphertext)

			decrypted, err := transit.Decrypt(ctx, keyName, ciphertext)
			require.NoError(t, err)
			assert.Equal(t, plaintext, decrypted)
		})

		t.Run("export_signing_key", func(t *testing.T) {
			keyName := "jwt-signing-key"
			err := transit.CreateKey(ctx, keyName, &vault.KeyConfig{
				Type:       vault.KeyTypeHMAC,
				Exportable: true,
				KeySize:    32,
			})
			require.NoError(t, err)

			material, err := transit.ExportKey(ctx, keyName)
			require.NoError(t, err)
			assert.Len(t, material, 32)
		})
	})
}

// TestVaultSealedAuditPipeline drives the audit pipeline with the
// transit sealer, so integrity tags are computed inside Vault.
func TestVaultSealedAuditPipeline(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	WithVault(t, func(t *testing.T, vc *VaultContainer) {
		ctx := context.Background()
		client := testVaultClient(t, vc)
		enableTransit(t, vc)

		sealer, err := vault.NewSealer(client.Transit("transit"), "audit-integrity")
		require.NoError(t, err)
		require.NoError(t, sealer.EnsureKey(ctx))

		repo := inmemory.NewAuditRepository()
		pipeline, err := audit.NewPipeline(repo, sealer, 64)
		require.NoError(t, err)

		for i := 0; i < 3; i++ {
			require.NoError(t, pipeline.Enqueue(ctx, &models.AuditEvent{
				Category:   models.AuditCategoryAuthorization,
				Severity:   models.AuditSeverityInfo,
				IdentityID: "id-1",
				Action:     "decision.evaluate",
				Resource:   "transfers/tx-1",
				Outcome:    models.AuditOutcomeSuccess,
			}))
		}
		pipeline.Close()

		verifier, err := audit.NewPipeline(repo, sealer, 1)
		require.NoError(t, err)
		defer verifier.Close()

		ok, err := verifier.VerifyChain(ctx, time.Time{}, time.Time{})
		require.NoError(t, err)
		assert.True(t, ok)

		events, err := verifier.Query(ctx, audit.QueryParams{IdentityID: "id-1"})
		require.NoError(t, err)
		require.Len(t, events, 3)

		tampered := repo.Tamper(events[1].ID, func(e *models.AuditEvent) {
			e.Outcome = models.AuditOutcomeDenied
		})
		require.True(t, tampered)

		ok, err = verifier.VerifyChain(ctx, time.Time{}, time.Time{})
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

// TestVaultAppRoleLogin exercises the machine-auth flow the decision
// service uses to obtain its Vault token.
func TestVaultAppRoleLogin(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	WithVault(t, func(t *testing.T, vc *VaultContainer) {
		ctx := context.Background()
		client := testVaultClient(t, vc)
		enableAppRole(t, vc)

		err := client.CreateAppRole(ctx, "approle", &vault.AppRoleConfig{
			Name:          "decision-service",
			BindSecretID:  true,
			TokenPolicies: []string{"default"},
			TokenTTL:      "1h",
		})
		require.NoError(t, err)

		roleID, err := client.GetAppRoleRoleID(ctx, "approle", "decision-service")
		require.NoError(t, err)
		assert.NotEmpty(t, roleID)

		secretID, accessor, err := client.GenerateAppRoleSecretID(ctx, "approle", "decision-service", nil)
		require.NoError(t, err)
		assert.NotEmpty(t, secretID)
		assert.NotEmpty(t, accessor)

		token, err := client.LoginWithAppRole(ctx, "approle", roleID, secretID)
		require.NoError(t, err)
		assert.NotEmpty(t, token)

		client.SetToken(token)
		status, err := client.Health(ctx)
		require.NoError(t, err)
		assert.True(t, status.Initialized)
	})
}

// enableAppRole mounts the approle auth method.
func enableAppRole(t *testing.T, vc *VaultContainer) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, vc.Address+"/v1/sys/auth/approle",
		bytes.NewBufferString(`{"type": "approle"}`))
	if err != nil {
		t.Fatalf("failed to build approle mount request: %v", err)
	}
	req.Header.Set("X-Vault-Token", vc.Token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Logf("warning: failed to enable approle: %v", err)
	}
	if resp != nil {
		resp.Body.Close()
	}
}
