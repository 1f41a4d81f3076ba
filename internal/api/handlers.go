package api

import (
	"encoding/json"
	stderrors "errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Harshith2412/zta-finance/internal/audit"
	"github.com/Harshith2412/zta-finance/internal/decision"
	"github.com/Harshith2412/zta-finance/internal/trust"
	"github.com/Harshith2412/zta-finance/pkg/errors"
	"github.com/Harshith2412/zta-finance/pkg/models"
)

const maxRequestBody = 1 << 20 // 1MB

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

// readJSON decodes a JSON request body with a size limit.
func readJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// handleError maps domain errors onto HTTP status codes.
func handleError(w http.ResponseWriter, err error) {
	var valErr *errors.ValidationError
	var loadErr *errors.PolicyLoadError
	var compErr *errors.SessionCompromisedError

	switch {
	case stderrors.As(err, &compErr):
		writeJSONError(w, http.StatusUnauthorized, "SESSION_COMPROMISED", compErr.Error())
	case stderrors.Is(err, errors.ErrTokenExpired),
		stderrors.Is(err, errors.ErrTokenMalformed),
		stderrors.Is(err, errors.ErrTokenRevoked),
		stderrors.Is(err, errors.ErrRefreshReused),
		stderrors.Is(err, errors.ErrSessionExpired),
		stderrors.Is(err, errors.ErrSessionInvalidated),
		stderrors.Is(err, errors.ErrSessionNotFound):
		writeJSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", err.Error())
	case stderrors.Is(err, errors.ErrIdentityInactive),
		stderrors.Is(err, errors.ErrIdentityLocked),
		stderrors.Is(err, errors.ErrDeviceRevoked):
		writeJSONError(w, http.StatusForbidden, "FORBIDDEN", err.Error())
	case stderrors.As(err, &valErr), stderrors.Is(err, errors.ErrInvalidInput):
		writeJSONError(w, http.StatusBadRequest, "INVALID_INPUT", err.Error())
	case stderrors.Is(err, errors.ErrNotFound):
		writeJSONError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
	case stderrors.As(err, &loadErr), stderrors.Is(err, errors.ErrSnapshotNotLoaded):
		writeJSONError(w, http.StatusServiceUnavailable, "POLICY_UNAVAILABLE", err.Error())
	case stderrors.Is(err, errors.ErrDependencyTimeout):
		writeJSONError(w, http.StatusGatewayTimeout, "DEPENDENCY_TIMEOUT", err.Error())
	default:
		writeJSONError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
	}
}

// getPaginationParams extracts limit/offset query parameters.
func getPaginationParams(r *http.Request) (limit, offset int) {
	limit = 50
	offset = 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}

// ===========================================================================
// Decision handler
// ===========================================================================

// DecisionHandler serves access decisions at the enforcement point.
type DecisionHandler struct {
	decisions Evaluator
	logger    *slog.Logger
}

// NewDecisionHandler creates a decision handler.
func NewDecisionHandler(decisions Evaluator, logger *slog.Logger) *DecisionHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &DecisionHandler{decisions: decisions, logger: logger}
}

// Evaluate handles POST /api/v1/decisions.
func (h *DecisionHandler) Evaluate(w http.ResponseWriter, r *http.Request) {
	var req decision.Request
	if err := readJSON(w, r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "INVALID_INPUT", "invalid request body")
		return
	}
	if req.Resource == "" || req.Action == "" {
		writeJSONError(w, http.StatusBadRequest, "INVALID_INPUT", "resource and action are required")
		return
	}

	// Evaluate never fails: upstream errors surface as Deny decisions.
	d := h.decisions.Evaluate(r.Context(), &req)
	writeJSON(w, http.StatusOK, d)
}

// ===========================================================================
// Token handler
// ===========================================================================

// TokenHandler serves the token lifecycle endpoints.
type TokenHandler struct {
	services *Services
	logger   *slog.Logger
}

// NewTokenHandler creates a token handler.
func NewTokenHandler(services *Services, logger *slog.Logger) *TokenHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &TokenHandler{services: services, logger: logger}
}

// IssueRequest is the body of POST /api/v1/tokens.
type IssueRequest struct {
	Username         string                  `json:"username"`
	DeviceAttributes models.DeviceAttributes `json:"device_attributes"`
}

// Issue handles POST /api/v1/tokens.
func (h *TokenHandler) Issue(w http.ResponseWriter, r *http.Request) {
	var req IssueRequest
	if err := readJSON(w, r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "INVALID_INPUT", "invalid request body")
		return
	}
	if req.Username == "" {
		writeJSONError(w, http.StatusBadRequest, "INVALID_INPUT", "username is required")
		return
	}

	ctx := r.Context()
	identity, err := h.services.Identities.GetByUsername(ctx, req.Username)
	if err != nil {
		handleError(w, err)
		return
	}

	device, err := h.services.Trust.GetOrCreateDevice(ctx, req.DeviceAttributes, identity.ID)
	if err != nil {
		handleError(w, err)
		return
	}

	session, err := h.services.Trust.OpenSession(ctx, identity.ID, device.Fingerprint)
	if err != nil {
		handleError(w, err)
		return
	}

	pair, err := h.services.Tokens.Issue(ctx, identity, session)
	if err != nil {
		handleError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "tokens issued",
		"identity_id", identity.ID,
		"session_id", session.ID,
	)
	writeJSON(w, http.StatusCreated, pair)
}

// RotateRequest is the body of POST /api/v1/tokens/rotate.
type RotateRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// Rotate handles POST /api/v1/tokens/rotate.
func (h *TokenHandler) Rotate(w http.ResponseWriter, r *http.Request) {
	var req RotateRequest
	if err := readJSON(w, r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "INVALID_INPUT", "invalid request body")
		return
	}
	if req.RefreshToken == "" {
		writeJSONError(w, http.StatusBadRequest, "INVALID_INPUT", "refresh_token is required")
		return
	}

	ctx := r.Context()
	pair, err := h.services.Tokens.Rotate(ctx, req.RefreshToken)
	if err != nil {
		// Refresh reuse revokes the token chain; the trust-side session
		// must die with it.
		var compErr *errors.SessionCompromisedError
		if stderrors.As(err, &compErr) && h.services.Trust != nil {
			if ierr := h.services.Trust.Invalidate(ctx, compErr.SessionID); ierr != nil {
				h.logger.ErrorContext(ctx, "failed to invalidate compromised session",
					"session_id", compErr.SessionID, "error", ierr)
			}
		}
		handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

// RevokeRequest is the body of POST /api/v1/tokens/revoke. Exactly one
// of the fields must be set.
type RevokeRequest struct {
	TokenID    string `json:"token_id,omitempty"`
	SessionID  string `json:"session_id,omitempty"`
	IdentityID string `json:"identity_id,omitempty"`
}

// Revoke handles POST /api/v1/tokens/revoke.
func (h *TokenHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	var req RevokeRequest
	if err := readJSON(w, r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "INVALID_INPUT", "invalid request body")
		return
	}

	set := 0
	for _, v := range []string{req.TokenID, req.SessionID, req.IdentityID} {
		if v != "" {
			set++
		}
	}
	if set != 1 {
		writeJSONError(w, http.StatusBadRequest, "INVALID_INPUT",
			"exactly one of token_id, session_id or identity_id is required")
		return
	}

	ctx := r.Context()
	var err error
	switch {
	case req.TokenID != "":
		err = h.services.Tokens.Revoke(ctx, req.TokenID)
	case req.SessionID != "":
		err = h.services.Tokens.RevokeSession(ctx, req.SessionID)
		if err == nil && h.services.Trust != nil {
			err = h.services.Trust.Invalidate(ctx, req.SessionID)
		}
	default:
		err = h.services.Tokens.RevokeIdentity(ctx, req.IdentityID)
	}
	if err != nil {
		handleError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
}

// ===========================================================================
// Identity handler
// ===========================================================================

// IdentityHandler serves identity management endpoints.
type IdentityHandler struct {
	services *Services
	logger   *slog.Logger
}

// NewIdentityHandler creates an identity handler.
func NewIdentityHandler(services *Services, logger *slog.Logger) *IdentityHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &IdentityHandler{services: services, logger: logger}
}

// RegisterRequest is the body of POST /api/v1/identities.
type RegisterRequest struct {
	Username string   `json:"username"`
	Roles    []string `json:"roles"`
}

// Register handles POST /api/v1/identities.
func (h *IdentityHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := readJSON(w, r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "INVALID_INPUT", "invalid request body")
		return
	}

	identity, err := h.services.Identities.Register(r.Context(), req.Username, req.Roles)
	if err != nil {
		handleError(w, err)
		return
	}

	h.logger.InfoContext(r.Context(), "identity registered", "identity_id", identity.ID)
	writeJSON(w, http.StatusCreated, identity)
}

// Unlock handles POST /api/v1/identities/{id}/unlock.
func (h *IdentityHandler) Unlock(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		writeJSONError(w, http.StatusBadRequest, "INVALID_INPUT", "identity id is required")
		return
	}
	if err := h.services.Identities.Unlock(r.Context(), id); err != nil {
		handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "unlocked"})
}

// ListDevices handles GET /api/v1/identities/{id}/devices.
func (h *IdentityHandler) ListDevices(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		writeJSONError(w, http.StatusBadRequest, "INVALID_INPUT", "identity id is required")
		return
	}
	devices, err := h.services.Trust.ListDevices(r.Context(), id)
	if err != nil {
		handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": devices})
}

// RevokeDevice handles POST /api/v1/devices/{fingerprint}/revoke.
// Revocation zeroes the device's trust, invalidates its active sessions
// and is terminal for the fingerprint.
func (h *IdentityHandler) RevokeDevice(w http.ResponseWriter, r *http.Request) {
	fingerprint := chi.URLParam(r, "fingerprint")
	if fingerprint == "" {
		writeJSONError(w, http.StatusBadRequest, "INVALID_INPUT", "device fingerprint is required")
		return
	}

	ctx := r.Context()
	device, err := h.services.Trust.GetDevice(ctx, fingerprint)
	if err != nil {
		handleError(w, err)
		return
	}
	if err := h.services.Trust.RecordOutcome(ctx, fingerprint, trust.OutcomeRevocation); err != nil {
		handleError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "device revoked",
		"fingerprint", fingerprint, "identity_id", device.IdentityID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
}

// ===========================================================================
// Audit handler
// ===========================================================================

// AuditHandler serves read access to the audit trail.
type AuditHandler struct {
	reader AuditReader
	logger *slog.Logger
}

// NewAuditHandler creates an audit handler.
func NewAuditHandler(reader AuditReader, logger *slog.Logger) *AuditHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditHandler{reader: reader, logger: logger}
}

// Query handles GET /api/v1/audit/events.
func (h *AuditHandler) Query(w http.ResponseWriter, r *http.Request) {
	limit, offset := getPaginationParams(r)
	q := r.URL.Query()

	params := audit.QueryParams{
		IdentityID: q.Get("identity_id"),
		SessionID:  q.Get("session_id"),
		Category:   models.AuditCategory(q.Get("category")),
		Outcome:    models.AuditOutcome(q.Get("outcome")),
		Limit:      limit,
		Offset:     offset,
	}
	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "INVALID_INPUT", "invalid since timestamp")
			return
		}
		params.Since = t
	}
	if v := q.Get("until"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "INVALID_INPUT", "invalid until timestamp")
			return
		}
		params.Until = t
	}

	events, err := h.reader.Query(r.Context(), params)
	if err != nil {
		handleError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"events": events,
		"count":  len(events),
		"limit":  limit,
		"offset": offset,
	})
}

// Verify handles GET /api/v1/audit/verify.
func (h *AuditHandler) Verify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var since, until time.Time
	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "INVALID_INPUT", "invalid since timestamp")
			return
		}
		since = t
	}
	if v := q.Get("until"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "INVALID_INPUT", "invalid until timestamp")
			return
		}
		until = t
	}

	intact, err := h.reader.VerifyChain(r.Context(), since, until)
	if err != nil {
		handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"intact": intact})
}
