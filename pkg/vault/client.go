// Package vault provides the HashiCorp Vault client used for audit
// sealing and token signing key material.
package vault

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hashicorp/vault/api"
)

// Client wraps the HashiCorp Vault API client.
type Client struct {
	client *api.Client
	logger *slog.Logger
}

// Config holds configuration for the Vault client.
type Config struct {
	Address   string
	Token     string
	Namespace string
	TLSConfig *TLSConfig
	Timeout   time.Duration
}

// TLSConfig holds TLS configuration for the Vault connection.
type TLSConfig struct {
	CACert        string
	CAPath        string
	ClientCert    string
	ClientKey     string
	TLSServerName string
	Insecure      bool
}

// HealthStatus represents the health status of Vault.
type HealthStatus struct {
	Initialized bool
	Sealed      bool
	Standby     bool
	Version     string
	ClusterName string
	ClusterID   string
}

// New creates a new Vault client with the given configuration.
func New(cfg *Config, logger *slog.Logger) (*Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("vault: config is required")
	}
	if cfg.Address == "" {
		return nil, fmt.Errorf("vault: address is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	vaultCfg := api.DefaultConfig()
	vaultCfg.Address = cfg.Address

	if cfg.Timeout > 0 {
		vaultCfg.Timeout = cfg.Timeout
	}

	if cfg.TLSConfig != nil {
		tlsCfg := &api.TLSConfig{
			CACert:        cfg.TLSConfig.CACert,
			CAPath:        cfg.TLSConfig.CAPath,
			ClientCert:    cfg.TLSConfig.ClientCert,
			ClientKey:     cfg.TLSConfig.ClientKey,
			TLSServerName: cfg.TLSConfig.TLSServerName,
			Insecure:      cfg.TLSConfig.Insecure,
		}
		if err := vaultCfg.ConfigureTLS(tlsCfg); err != nil {
			return nil, fmt.Errorf("vault: failed to configure TLS: %w", err)
		}
	}

	client, err := api.NewClient(vaultCfg)
	if err != nil {
		return nil, fmt.Errorf("vault: failed to create client: %w", err)
	}

	if cfg.Token != "" {
		client.SetToken(cfg.Token)
	}

	if cfg.Namespace != "" {
		client.SetNamespace(cfg.Namespace)
	}

	logger.InfoContext(context.Background(), "vault client created", "address", cfg.Address)

	return &Client{
		client: client,
		logger: logger,
	}, nil
}

// SetToken sets the authentication token for the client.
func (c *Client) SetToken(token string) {
	c.client.SetToken(token)
}

// Health checks the health status of the Vault server.
func (c *Client) Health(ctx context.Context) (*HealthStatus, error) {
	health, err := c.client.Sys().HealthWithContext(ctx)
	if err != nil {
		c.logger.ErrorContext(ctx, "failed to get vault health", "error", err)
		return nil, fmt.Errorf("vault: health check failed: %w", err)
	}

	status := &HealthStatus{
		Initialized: health.Initialized,
		Sealed:      health.Sealed,
		Standby:     health.Standby,
		Version:     health.Version,
		ClusterName: health.ClusterName,
		ClusterID:   health.ClusterID,
	}

	c.logger.DebugContext(ctx, "vault health check",
		"initialized", status.Initialized,
		"sealed", status.Sealed,
		"version", status.Version,
	)

	return status, nil
}

// IsSealed returns true if the Vault is sealed.
func (c *Client) IsSealed(ctx context.Context) (bool, error) {
	status, err := c.Health(ctx)
	if err != nil {
		return true, err
	}
	return status.Sealed, nil
}

// Raw returns the underlying Vault API client for advanced operations.
func (c *Client) Raw() *api.Client {
	return c.client
}
