package vault

import (
	"context"
	"encoding/json"
	"fmt"
)

// AppRoleConfig holds configuration for an AppRole role used by the
// decision service.
type AppRoleConfig struct {
	// Name is the role name.
	Name string
	// BindSecretID requires a secret ID for login.
	BindSecretID bool
	// SecretIDNumUses limits how many times a secret ID can be used.
	SecretIDNumUses int
	// SecretIDTTL is the TTL of the secret ID.
	SecretIDTTL string
	// TokenPolicies are the policies to attach to the token.
	TokenPolicies []string
	// TokenTTL is the TTL of the token.
	TokenTTL string
	// TokenMaxTTL is the maximum TTL of the token.
	TokenMaxTTL string
}

// CreateAppRole creates an AppRole for authentication.
func (c *Client) CreateAppRole(ctx context.Context, authPath string, cfg *AppRoleConfig) error {
	if cfg == nil || cfg.Name == "" {
		return fmt.Errorf("vault: AppRole role config with name is required")
	}
	if authPath == "" {
		authPath = "approle"
	}

	rolePath := fmt.Sprintf("auth/%s/role/%s", authPath, cfg.Name)
	roleData := map[string]interface{}{
		"bind_secret_id": cfg.BindSecretID,
	}

	if cfg.SecretIDNumUses > 0 {
		roleData["secret_id_num_uses"] = cfg.SecretIDNumUses
	}
	if cfg.SecretIDTTL != "" {
		roleData["secret_id_ttl"] = cfg.SecretIDTTL
	}
	if len(cfg.TokenPolicies) > 0 {
		roleData["token_policies"] = cfg.TokenPolicies
	}
	if cfg.TokenTTL != "" {
		roleData["token_ttl"] = cfg.TokenTTL
	}
	if cfg.TokenMaxTTL != "" {
		roleData["token_max_ttl"] = cfg.TokenMaxTTL
	}

	_, err := c.client.Logical().WriteWithContext(ctx, rolePath, roleData)
	if err != nil {
		c.logger.ErrorContext(ctx, "failed to create AppRole",
			"path", authPath,
			"role", cfg.Name,
			"error", err,
		)
		return fmt.Errorf("vault: failed to create AppRole %s: %w", cfg.Name, err)
	}

	c.logger.InfoContext(ctx, "AppRole created", "path", authPath, "role", cfg.Name)
	return nil
}

// GetAppRoleRoleID retrieves the role ID for an AppRole.
func (c *Client) GetAppRoleRoleID(ctx context.Context, authPath, roleName string) (string, error) {
	if authPath == "" {
		authPath = "approle"
	}

	path := fmt.Sprintf("auth/%s/role/%s/role-id", authPath, roleName)
	secret, err := c.client.Logical().ReadWithContext(ctx, path)
	if err != nil {
		return "", fmt.Errorf("vault: failed to get role ID for %s: %w", roleName, err)
	}

	if secret == nil || secret.Data == nil {
		return "", fmt.Errorf("vault: role %s not found", roleName)
	}

	roleID, ok := secret.Data["role_id"].(string)
	if !ok {
		return "", fmt.Errorf("vault: invalid role_id format for role %s", roleName)
	}

	return roleID, nil
}

// GenerateAppRoleSecretID generates a secret ID for an AppRole.
func (c *Client) GenerateAppRoleSecretID(ctx context.Context, authPath, roleName string, metadata map[string]string) (string, string, error) {
	if authPath == "" {
		authPath = "approle"
	}

	path := fmt.Sprintf("auth/%s/role/%s/secret-id", authPath, roleName)
	data := map[string]interface{}{}
	if len(metadata) > 0 {
		// Vault expects metadata as a JSON string, not a map
		metadataJSON, err := json.Marshal(metadata)
		if err != nil {
			return "", "", fmt.Errorf("vault: failed to marshal metadata: %w", err)
		}
		data["metadata"] = string(metadataJSON)
	}

	secret, err := c.client.Logical().WriteWithContext(ctx, path, data)
	if err != nil {
		return "", "", fmt.Errorf("vault: failed to generate secret ID for %s: %w", roleName, err)
	}

	if secret == nil || secret.Data == nil {
		return "", "", fmt.Errorf("vault: failed to generate secret ID for role %s", roleName)
	}

	secretID, ok := secret.Data["secret_id"].(string)
	if !ok {
		return "", "", fmt.Errorf("vault: invalid secret_id format for role %s", roleName)
	}

	secretIDAccessor, _ := secret.Data["secret_id_accessor"].(string)

	return secretID, secretIDAccessor, nil
}

// LoginWithAppRole authenticates using AppRole and returns a token.
func (c *Client) LoginWithAppRole(ctx context.Context, authPath, roleID, secretID string) (string, error) {
	if authPath == "" {
		authPath = "approle"
	}

	path := fmt.Sprintf("auth/%s/login", authPath)
	data := map[string]interface{}{
		"role_id":   roleID,
		"secret_id": secretID,
	}

	secret, err := c.client.Logical().WriteWithContext(ctx, path, data)
	if err != nil {
		return "", fmt.Errorf("vault: AppRole login failed: %w", err)
	}

	if secret == nil || secret.Auth == nil {
		return "", fmt.Errorf("vault: AppRole login returned no auth info")
	}

	return secret.Auth.ClientToken, nil
}
