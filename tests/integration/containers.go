// Package integration contains integration tests with real infrastructure.
package integration

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// =============================================================================
// Postgres Container
// =============================================================================

// PostgresContainer wraps a Postgres testcontainer.
type PostgresContainer struct {
	Container testcontainers.Container
	Host      string
	Port      string
	User      string
	Password  string
	Database  string
}

// ConnectionString returns the Postgres connection string.
func (p *PostgresContainer) ConnectionString() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		p.User, p.Password, p.Host, p.Port, p.Database)
}

// WithPostgres runs a test with a Postgres container.
func WithPostgres(t *testing.T, fn func(t *testing.T, pg *PostgresContainer)) {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("zta_test"),
		postgres.WithUsername("zta"),
		postgres.WithPassword("zta_test_password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}

	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate postgres container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("failed to get postgres host: %v", err)
	}

	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("failed to get postgres port: %v", err)
	}

	pg := &PostgresContainer{
		Container: container,
		Host:      host,
		Port:      port.Port(),
		User:      "zta",
		Password:  "zta_test_password",
		Database:  "zta_test",
	}

	fn(t, pg)
}

// WithPostgresDB runs a test with an open database connection.
func WithPostgresDB(t *testing.T, fn func(t *testing.T, db *sql.DB)) {
	t.Helper()
	WithPostgres(t, func(t *testing.T, pg *PostgresContainer) {
		db, err := sql.Open("postgres", pg.ConnectionString())
		if err != nil {
			t.Fatalf("failed to open database: %v", err)
		}
		defer db.Close()

		if err := db.Ping(); err != nil {
			t.Fatalf("failed to ping database: %v", err)
		}

		fn(t, db)
	})
}

// =============================================================================
// Vault Container
// =============================================================================

// VaultContainer wraps a Vault testcontainer.
type VaultContainer struct {
	Container testcontainers.Container
	Address   string
	Token     string
}

// WithVault runs a test with a Vault container in dev mode.
func WithVault(t *testing.T, fn func(t *testing.T, vc *VaultContainer)) {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "hashicorp/vault:1.15",
		ExposedPorts: []string{"8200/tcp"},
		Env: map[string]string{
			"VAULT_DEV_ROOT_TOKEN_ID":  "root-token",
			"VAULT_DEV_LISTEN_ADDRESS": "0.0.0.0:8200",
		},
		Cmd: []string{"server", "-dev"},
		WaitingFor: wait.ForHTTP("/v1/sys/health").
			WithPort("8200/tcp").
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("failed to start vault container: %v", err)
	}

	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate vault container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("failed to get vault host: %v", err)
	}

	port, err := container.MappedPort(ctx, "8200")
	if err != nil {
		t.Fatalf("failed to get vault port: %v", err)
	}

	vc := &VaultContainer{
		Container: container,
		Address:   fmt.Sprintf("http://%s:%s", host, port.Port()),
		Token:     "root-token",
	}

	if err := waitForVault(vc.Address, 30*time.Second); err != nil {
		t.Fatalf("vault not ready: %v", err)
	}

	fn(t, vc)
}

func waitForVault(address string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		resp, err := http.Get(address + "/v1/sys/health")
		if err == nil && resp.StatusCode == 200 {
			resp.Body.Close()
			return nil
		}
		if resp != nil {
			resp.Body.Close()
		}
		time.Sleep(500 * time.Millisecond)
	}
	return fmt.Errorf("vault not ready after %v", timeout)
}

// enableTransit mounts the transit secrets engine. Dev-mode Vault does
// not have it enabled by default. Re-mounting returns 400, which is
// fine for tests that share a container.
func enableTransit(t *testing.T, vc *VaultContainer) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, vc.Address+"/v1/sys/mounts/transit",
		bytes.NewBufferString(`{"type": "transit"}`))
	if err != nil {
		t.Fatalf("failed to build transit mount request: %v", err)
	}
	req.Header.Set("X-Vault-Token", vc.Token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Logf("warning: failed to enable transit: %v", err)
	}
	if resp != nil {
		resp.Body.Close()
	}
}
