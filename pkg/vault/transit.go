package vault

import (
	"context"
	"encoding/base64"
	"fmt"
)

// TransitClient provides the Transit secrets engine operations the
// decision core relies on: HMAC for audit integrity tags, symmetric
// encryption for sensitive audit detail, and key export for JWT
// signing.
type TransitClient struct {
	*Client
	mountPath string
}

// KeyType represents the type of transit key.
type KeyType string

const (
	KeyTypeAES256GCM96 KeyType = "aes256-gcm96"
	KeyTypeHMAC        KeyType = "hmac"
)

// KeyConfig holds configuration for creating a transit key.
type KeyConfig struct {
	Type             KeyType
	Exportable       bool
	AutoRotatePeriod string
	// KeySize applies to hmac keys, in bytes.
	KeySize int
}

// Transit returns a TransitClient for the given mount path.
func (c *Client) Transit(mountPath string) *TransitClient {
	if mountPath == "" {
		mountPath = "transit"
	}
	return &TransitClient{
		Client:    c,
		mountPath: mountPath,
	}
}

// CreateKey creates a transit key. Creating an existing key is a
// no-op on the Vault side, so this is safe to call at startup.
func (t *TransitClient) CreateKey(ctx context.Context, name string, config *KeyConfig) error {
	path := fmt.Sprintf("%s/keys/%s", t.mountPath, name)

	data := map[string]interface{}{}
	if config != nil {
		if config.Type != "" {
			data["type"] = string(config.Type)
		}
		data["exportable"] = config.Exportable
		if config.AutoRotatePeriod != "" {
			data["auto_rotate_period"] = config.AutoRotatePeriod
		}
		if config.KeySize > 0 {
			data["key_size"] = config.KeySize
		}
	}

	_, err := t.client.Logical().WriteWithContext(ctx, path, data)
	if err != nil {
		t.logger.ErrorContext(ctx, "failed to create transit key", "name", name, "error", err)
		return fmt.Errorf("vault: failed to create transit key %s: %w", name, err)
	}

	t.logger.InfoContext(ctx, "transit key created", "name", name, "path", t.mountPath)
	return nil
}

// RotateKey rotates the transit key, creating a new version.
func (t *TransitClient) RotateKey(ctx context.Context, name string) error {
	path := fmt.Sprintf("%s/keys/%s/rotate", t.mountPath, name)

	_, err := t.client.Logical().WriteWithContext(ctx, path, nil)
	if err != nil {
		t.logger.ErrorContext(ctx, "failed to rotate transit key", "name", name, "error", err)
		return fmt.Errorf("vault: failed to rotate transit key %s: %w", name, err)
	}

	t.logger.InfoContext(ctx, "transit key rotated", "name", name)
	return nil
}

// HMAC computes an HMAC-SHA2-256 digest of input with the named key.
func (t *TransitClient) HMAC(ctx context.Context, keyName string, input []byte) (string, error) {
	path := fmt.Sprintf("%s/hmac/%s/sha2-256", t.mountPath, keyName)

	data := map[string]interface{}{
		"input": base64.StdEncoding.EncodeToString(input),
	}

	secret, err := t.client.Logical().WriteWithContext(ctx, path, data)
	if err != nil {
		t.logger.ErrorContext(ctx, "failed to compute hmac", "key", keyName, "error", err)
		return "", fmt.Errorf("vault: failed to hmac with key %s: %w", keyName, err)
	}

	if secret == nil || secret.Data == nil {
		return "", fmt.Errorf("vault: no response from hmac operation")
	}

	hmac, ok := secret.Data["hmac"].(string)
	if !ok {
		return "", fmt.Errorf("vault: invalid hmac in response")
	}

	return hmac, nil
}

// VerifyHMAC checks an HMAC digest against input with the named key.
func (t *TransitClient) VerifyHMAC(ctx context.Context, keyName string, input []byte, hmac string) (bool, error) {
	path := fmt.Sprintf("%s/verify/%s/sha2-256", t.mountPath, keyName)

	data := map[string]interface{}{
		"input": base64.StdEncoding.EncodeToString(input),
		"hmac":  hmac,
	}

	secret, err := t.client.Logical().WriteWithContext(ctx, path, data)
	if err != nil {
		t.logger.ErrorContext(ctx, "failed to verify hmac", "key", keyName, "error", err)
		return false, fmt.Errorf("vault: failed to verify with key %s: %w", keyName, err)
	}

	if secret == nil || secret.Data == nil {
		return false, fmt.Errorf("vault: no response from verify operation")
	}

	valid, ok := secret.Data["valid"].(bool)
	if !ok {
		return false, fmt.Errorf("vault: invalid response from verify operation")
	}

	return valid, nil
}

// Encrypt encrypts plaintext using the specified key.
func (t *TransitClient) Encrypt(ctx context.Context, keyName string, plaintext []byte) (string, error) {
	path := fmt.Sprintf("%s/encrypt/%s", t.mountPath, keyName)

	data := map[string]interface{}{
		"plaintext": base64.StdEncoding.EncodeToString(plaintext),
	}

	secret, err := t.client.Logical().WriteWithContext(ctx, path, data)
	if err != nil {
		t.logger.ErrorContext(ctx, "failed to encrypt data", "key", keyName, "error", err)
		return "", fmt.Errorf("vault: failed to encrypt with key %s: %w", keyName, err)
	}

	if secret == nil || secret.Data == nil {
		return "", fmt.Errorf("vault: no response from encrypt operation")
	}

	ciphertext, ok := secret.Data["ciphertext"].(string)
	if !ok {
		return "", fmt.Errorf("vault: invalid ciphertext in response")
	}

	return ciphertext, nil
}

// Decrypt decrypts ciphertext using the specified key.
func (t *TransitClient) Decrypt(ctx context.Context, keyName, ciphertext string) ([]byte, error) {
	path := fmt.Sprintf("%s/decrypt/%s", t.mountPath, keyName)

	data := map[string]interface{}{
		"ciphertext": ciphertext,
	}

	secret, err := t.client.Logical().WriteWithContext(ctx, path, data)
	if err != nil {
		t.logger.ErrorContext(ctx, "failed to decrypt data", "key", keyName, "error", err)
		return nil, fmt.Errorf("vault: failed to decrypt with key %s: %w", keyName, err)
	}

	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("vault: no response from decrypt operation")
	}

	plaintextB64, ok := secret.Data["plaintext"].(string)
	if !ok {
		return nil, fmt.Errorf("vault: invalid plaintext in response")
	}

	plaintext, err := base64.StdEncoding.DecodeString(plaintextB64)
	if err != nil {
		return nil, fmt.Errorf("vault: failed to decode plaintext: %w", err)
	}

	return plaintext, nil
}

// ExportKey exports the latest version of an exportable key. Used to
// fetch the HMAC signing key backing JWT issuance.
func (t *TransitClient) ExportKey(ctx context.Context, keyName string) ([]byte, error) {
	path := fmt.Sprintf("%s/export/hmac-key/%s/latest", t.mountPath, keyName)

	secret, err := t.client.Logical().ReadWithContext(ctx, path)
	if err != nil {
		t.logger.ErrorContext(ctx, "failed to export transit key", "key", keyName, "error", err)
		return nil, fmt.Errorf("vault: failed to export key %s: %w", keyName, err)
	}

	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("vault: transit key %s not found", keyName)
	}

	keys, ok := secret.Data["keys"].(map[string]interface{})
	if !ok || len(keys) == 0 {
		return nil, fmt.Errorf("vault: no key material in export response for %s", keyName)
	}

	var material string
	for _, v := range keys {
		if s, ok := v.(string); ok {
			material = s
		}
	}
	if material == "" {
		return nil, fmt.Errorf("vault: empty key material for %s", keyName)
	}

	raw, err := base64.StdEncoding.DecodeString(material)
	if err != nil {
		return nil, fmt.Errorf("vault: failed to decode key material: %w", err)
	}

	return raw, nil
}
