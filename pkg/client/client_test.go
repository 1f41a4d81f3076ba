package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Harshith2412/zta-finance/pkg/models"
)

func TestEvaluate(t *testing.T) {
	var gotAuth, gotContentType string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotContentType = r.Header.Get("Content-Type")
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/decisions", r.URL.Path)

		var req DecisionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "accounts/acc-1", req.Resource)

		_ = json.NewEncoder(w).Encode(models.Decision{
			Effect:    models.EffectAllow,
			PolicyID:  "accounts-read",
			RiskLevel: "low",
		})
	}))
	defer server.Close()

	c := New(Config{BaseURL: server.URL, Token: "tok-1"})

	decision, err := c.Evaluate(context.Background(), DecisionRequest{
		AccessToken: "jwt",
		Resource:    "accounts/acc-1",
		Action:      "read",
	})
	require.NoError(t, err)
	assert.Equal(t, models.EffectAllow, decision.Effect)
	assert.Equal(t, "accounts-read", decision.PolicyID)
	assert.Equal(t, "Bearer tok-1", gotAuth)
	assert.Equal(t, "application/json", gotContentType)
}

func TestErrorEnvelope(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"code":"NOT_FOUND","message":"identity not found"}}`))
	}))
	defer server.Close()

	c := New(Config{BaseURL: server.URL})

	_, err := c.IssueTokens(context.Background(), IssueRequest{Username: "nobody"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "NOT_FOUND")
	assert.Contains(t, err.Error(), "identity not found")
}

func TestQueryAudit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/audit/events", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "id-1", q.Get("identity_id"))
		assert.Equal(t, "authorization", q.Get("category"))
		assert.Equal(t, "25", q.Get("limit"))

		_, _ = w.Write([]byte(`{"events":[{"id":"01J0","action":"decision.evaluate"}]}`))
	}))
	defer server.Close()

	c := New(Config{BaseURL: server.URL})

	events, err := c.QueryAudit(context.Background(), AuditQueryParams{
		IdentityID: "id-1",
		Category:   "authorization",
		Limit:      25,
	})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "decision.evaluate", events[0].Action)
}

func TestHealth(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		assert.Empty(t, r.Header.Get("Authorization"), "no token configured")
		_, _ = w.Write([]byte(`{"status":"ok","version":"dev"}`))
	}))
	defer server.Close()

	c := New(Config{BaseURL: server.URL})

	health, err := c.Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ok", health.Status)
}
