// Package client provides an HTTP client for the decision service API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/Harshith2412/zta-finance/pkg/models"
)

// Client is the decision service API client.
type Client struct {
	baseURL    string
	httpClient *http.Client
	token      string
}

// Config holds client configuration.
type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// New creates a new API client.
func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: cfg.BaseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		token: cfg.Token,
	}
}

// SetToken sets the bearer token sent with every request.
func (c *Client) SetToken(token string) {
	c.token = token
}

// request makes an HTTP request to the API.
func (c *Client) request(ctx context.Context, method, path string, body, result any) error {
	u, err := url.JoinPath(c.baseURL, path)
	if err != nil {
		return fmt.Errorf("build URL: %w", err)
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var errResp errorResponse
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error.Message != "" {
			return fmt.Errorf("API error (%d): %s: %s", resp.StatusCode, errResp.Error.Code, errResp.Error.Message)
		}
		return fmt.Errorf("API error (%d): %s", resp.StatusCode, string(respBody))
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}

	return nil
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Decision API

// DecisionRequest mirrors the enforcement-point request body.
type DecisionRequest struct {
	AccessToken        string                  `json:"access_token"`
	DeviceAttributes   models.DeviceAttributes `json:"device_attributes"`
	Resource           string                  `json:"resource"`
	Action             string                  `json:"action"`
	IPAddress          string                  `json:"ip_address,omitempty"`
	Location           *models.GeoPoint        `json:"location,omitempty"`
	Amount             float64                 `json:"amount,omitempty"`
	AnonymizingNetwork bool                    `json:"anonymizing_network,omitempty"`
	MFAVerified        bool                    `json:"mfa_verified,omitempty"`
	Attributes         map[string]any          `json:"attributes,omitempty"`
}

// Evaluate requests an access decision.
func (c *Client) Evaluate(ctx context.Context, req DecisionRequest) (*models.Decision, error) {
	var result models.Decision
	if err := c.request(ctx, http.MethodPost, "/api/v1/decisions", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Token API

// IssueRequest represents a token issuance request.
type IssueRequest struct {
	Username         string                  `json:"username"`
	DeviceAttributes models.DeviceAttributes `json:"device_attributes"`
}

// IssueTokens issues a new token pair for an identity.
func (c *Client) IssueTokens(ctx context.Context, req IssueRequest) (*models.TokenPair, error) {
	var result models.TokenPair
	if err := c.request(ctx, http.MethodPost, "/api/v1/tokens", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// RotateTokens redeems a refresh token for a new pair.
func (c *Client) RotateTokens(ctx context.Context, refreshToken string) (*models.TokenPair, error) {
	var result models.TokenPair
	body := map[string]string{"refresh_token": refreshToken}
	if err := c.request(ctx, http.MethodPost, "/api/v1/tokens/rotate", body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// RevokeToken revokes a single token by id.
func (c *Client) RevokeToken(ctx context.Context, tokenID string) error {
	return c.request(ctx, http.MethodPost, "/api/v1/tokens/revoke", map[string]string{"token_id": tokenID}, nil)
}

// RevokeSession revokes every token descended from a session.
func (c *Client) RevokeSession(ctx context.Context, sessionID string) error {
	return c.request(ctx, http.MethodPost, "/api/v1/tokens/revoke", map[string]string{"session_id": sessionID}, nil)
}

// RevokeIdentity revokes every live token for an identity.
func (c *Client) RevokeIdentity(ctx context.Context, identityID string) error {
	return c.request(ctx, http.MethodPost, "/api/v1/tokens/revoke", map[string]string{"identity_id": identityID}, nil)
}

// Identity API

// RegisterRequest represents an identity registration request.
type RegisterRequest struct {
	Username string   `json:"username"`
	Roles    []string `json:"roles"`
}

// RegisterIdentity registers a new identity.
func (c *Client) RegisterIdentity(ctx context.Context, req RegisterRequest) (*models.Identity, error) {
	var result models.Identity
	if err := c.request(ctx, http.MethodPost, "/api/v1/identities", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// UnlockIdentity clears an identity lockout.
func (c *Client) UnlockIdentity(ctx context.Context, id string) error {
	return c.request(ctx, http.MethodPost, "/api/v1/identities/"+id+"/unlock", nil, nil)
}

// ListDevices lists the devices registered to an identity.
func (c *Client) ListDevices(ctx context.Context, identityID string) ([]*models.Device, error) {
	var result struct {
		Devices []*models.Device `json:"devices"`
	}
	if err := c.request(ctx, http.MethodGet, "/api/v1/identities/"+identityID+"/devices", nil, &result); err != nil {
		return nil, err
	}
	return result.Devices, nil
}

// RevokeDevice terminally revokes a device fingerprint and invalidates
// its active sessions.
func (c *Client) RevokeDevice(ctx context.Context, fingerprint string) error {
	return c.request(ctx, http.MethodPost, "/api/v1/devices/"+fingerprint+"/revoke", nil, nil)
}

// Audit API

// AuditQueryParams represents audit query parameters.
type AuditQueryParams struct {
	IdentityID string
	SessionID  string
	Category   string
	Outcome    string
	Since      string
	Until      string
	Limit      int
	Offset     int
}

// QueryAudit queries audit events.
func (c *Client) QueryAudit(ctx context.Context, params AuditQueryParams) ([]*models.AuditEvent, error) {
	q := url.Values{}
	if params.IdentityID != "" {
		q.Set("identity_id", params.IdentityID)
	}
	if params.SessionID != "" {
		q.Set("session_id", params.SessionID)
	}
	if params.Category != "" {
		q.Set("category", params.Category)
	}
	if params.Outcome != "" {
		q.Set("outcome", params.Outcome)
	}
	if params.Since != "" {
		q.Set("since", params.Since)
	}
	if params.Until != "" {
		q.Set("until", params.Until)
	}
	if params.Limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", params.Limit))
	}
	if params.Offset > 0 {
		q.Set("offset", fmt.Sprintf("%d", params.Offset))
	}

	var result struct {
		Events []*models.AuditEvent `json:"events"`
	}
	if err := c.request(ctx, http.MethodGet, "/api/v1/audit/events?"+q.Encode(), nil, &result); err != nil {
		return nil, err
	}
	return result.Events, nil
}

// VerifyAuditChain verifies the audit hash chain over a time range.
func (c *Client) VerifyAuditChain(ctx context.Context, since, until string) (bool, error) {
	q := url.Values{}
	if since != "" {
		q.Set("since", since)
	}
	if until != "" {
		q.Set("until", until)
	}
	var result struct {
		Intact bool `json:"intact"`
	}
	if err := c.request(ctx, http.MethodGet, "/api/v1/audit/verify?"+q.Encode(), nil, &result); err != nil {
		return false, err
	}
	return result.Intact, nil
}

// Health checks

// HealthResponse represents a health check response.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// Health checks API health.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var result HealthResponse
	if err := c.request(ctx, http.MethodGet, "/health", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}
