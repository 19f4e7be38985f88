// Package api exposes the fingerprint engine over HTTP: document
// fingerprinting, leak identification, recipient and audit-log listing,
// and operator accounts.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/hazyhaar/whisperprint/internal/auth"
	"github.com/hazyhaar/whisperprint/internal/db"
	"github.com/hazyhaar/whisperprint/internal/engine"
)

// handleRe validates handle format: ASCII alphanumeric, underscore, hyphen only.
var handleRe = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// maxBodySize is the maximum HTTP body size for document endpoints.
const maxBodySize = 1 << 20 // 1MB

type API struct {
	engine  *engine.Engine
	db      *db.DB
	auth    *auth.Auth
	version string
}

func New(eng *engine.Engine, database *db.DB, a *auth.Auth, version string) *API {
	return &API{engine: eng, db: database, auth: a, version: version}
}

func (a *API) RegisterRoutes(mux *http.ServeMux) {
	// Accounts
	mux.HandleFunc("POST /api/register", a.handleRegister)
	mux.HandleFunc("POST /api/login", a.handleLogin)

	// Fingerprinting
	mux.HandleFunc("POST /api/fingerprint", a.requireAuth(a.handleFingerprint))
	mux.HandleFunc("POST /api/identify", a.requireAuth(a.handleIdentify))

	// Recipients
	mux.HandleFunc("GET /api/recipients", a.requireAuth(a.handleListRecipients))
	mux.HandleFunc("GET /api/recipients/{id}", a.requireAuth(a.handleGetRecipient))
	mux.HandleFunc("GET /api/recipients/{id}/fingerprints", a.requireAuth(a.handleListFingerprints))

	// Observability
	mux.HandleFunc("GET /api/audit-logs", a.requireAuth(a.handleAuditLogs))
	mux.HandleFunc("GET /api/stats", a.requireAuth(a.handleStats))
	mux.HandleFunc("GET /api/health", a.handleHealth)
}

// requireAuth rejects requests without a valid bearer token and passes
// the claims-bearing request through otherwise.
func (a *API) requireAuth(next func(http.ResponseWriter, *http.Request, *auth.Claims)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims := a.auth.ExtractClaims(r)
		if claims == nil {
			jsonError(w, "authentication required", http.StatusUnauthorized)
			return
		}
		next(w, r, claims)
	}
}

func (a *API) handleFingerprint(w http.ResponseWriter, r *http.Request, claims *auth.Claims) {
	var req struct {
		Text        string          `json:"text"`
		RecipientID string          `json:"recipient_id"`
		Metadata    json.RawMessage `json:"metadata,omitempty"`
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Text == "" || req.RecipientID == "" {
		jsonError(w, "text and recipient_id are required", http.StatusBadRequest)
		return
	}

	doc, err := a.engine.CreateFingerprintedDocument(r.Context(),
		req.Text, req.RecipientID, string(req.Metadata), claims.UserID)
	if err != nil {
		if doc != nil && errors.Is(err, db.ErrStorage) {
			// The marked text was produced; surface persistence failure as
			// a warning and let the caller decide.
			slog.Warn("fingerprint not persisted", "recipient_id", req.RecipientID, "error", err)
			jsonResp(w, http.StatusOK, map[string]interface{}{
				"marked_text":    doc.MarkedText,
				"identity_token": doc.IdentityToken,
				"persisted":      false,
				"warning":        "fingerprint record was not persisted",
			})
			return
		}
		slog.Error("creating fingerprinted document", "error", err)
		jsonError(w, "internal error", http.StatusInternalServerError)
		return
	}

	jsonResp(w, http.StatusCreated, map[string]interface{}{
		"marked_text":    doc.MarkedText,
		"identity_token": doc.IdentityToken,
		"persisted":      true,
		"record":         doc.Record,
	})
}

func (a *API) handleIdentify(w http.ResponseWriter, r *http.Request, claims *auth.Claims) {
	var req struct {
		LeakedText string `json:"leaked_text"`
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.LeakedText == "" {
		jsonError(w, "leaked_text is required", http.StatusBadRequest)
		return
	}

	match, err := a.engine.IdentifyLeakedDocument(r.Context(), req.LeakedText, claims.UserID)
	if err != nil {
		slog.Error("identifying leaked document", "error", err)
		jsonError(w, "internal error", http.StatusInternalServerError)
		return
	}
	if match == nil {
		jsonResp(w, http.StatusOK, map[string]interface{}{
			"recipient_id": nil,
			"identified":   false,
		})
		return
	}
	jsonResp(w, http.StatusOK, map[string]interface{}{
		"recipient_id":   match.RecipientID,
		"identity_token": match.IdentityToken,
		"identified":     true,
		"via":            match.Via,
	})
}

func (a *API) handleListRecipients(w http.ResponseWriter, r *http.Request, _ *auth.Claims) {
	recipients, err := a.engine.ListRecipients(r.Context())
	if err != nil {
		slog.Error("listing recipients", "error", err)
		jsonError(w, "internal error", http.StatusInternalServerError)
		return
	}
	jsonResp(w, http.StatusOK, map[string]interface{}{
		"recipients": recipients,
		"count":      len(recipients),
	})
}

func (a *API) handleGetRecipient(w http.ResponseWriter, r *http.Request, _ *auth.Claims) {
	recipient, err := a.db.GetRecipient(r.Context(), r.PathValue("id"))
	if err != nil {
		slog.Error("reading recipient", "error", err)
		jsonError(w, "internal error", http.StatusInternalServerError)
		return
	}
	if recipient == nil {
		jsonError(w, "recipient not found", http.StatusNotFound)
		return
	}
	jsonResp(w, http.StatusOK, recipient)
}

func (a *API) handleListFingerprints(w http.ResponseWriter, r *http.Request, _ *auth.Claims) {
	records, err := a.db.ListFingerprintsByRecipient(r.Context(), r.PathValue("id"))
	if err != nil {
		slog.Error("listing fingerprints", "error", err)
		jsonError(w, "internal error", http.StatusInternalServerError)
		return
	}
	jsonResp(w, http.StatusOK, map[string]interface{}{
		"fingerprints": records,
		"count":        len(records),
	})
}

func (a *API) handleAuditLogs(w http.ResponseWriter, r *http.Request, _ *auth.Claims) {
	limit := 100
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > 1000 {
			jsonError(w, "limit must be an integer between 1 and 1000", http.StatusBadRequest)
			return
		}
		limit = n
	}
	entries, err := a.engine.AuditLogs(r.Context(), limit, r.URL.Query().Get("event_type"))
	if err != nil {
		slog.Error("listing audit logs", "error", err)
		jsonError(w, "internal error", http.StatusInternalServerError)
		return
	}
	jsonResp(w, http.StatusOK, map[string]interface{}{
		"logs":  entries,
		"count": len(entries),
	})
}

func (a *API) handleStats(w http.ResponseWriter, r *http.Request, _ *auth.Claims) {
	stats, err := a.db.Stats(r.Context())
	if err != nil {
		slog.Error("reading stats", "error", err)
		jsonError(w, "internal error", http.StatusInternalServerError)
		return
	}
	jsonResp(w, http.StatusOK, stats)
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	jsonResp(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": a.version,
	})
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Handle   string `json:"handle"`
		Password string `json:"password"`
		Role     string `json:"role"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Handle == "" || req.Password == "" {
		jsonError(w, "handle and password are required", http.StatusBadRequest)
		return
	}
	if len(req.Handle) < 3 || len(req.Handle) > 30 {
		jsonError(w, "handle must be 3-30 characters", http.StatusBadRequest)
		return
	}
	if !handleRe.MatchString(req.Handle) {
		jsonError(w, "handle must contain only ASCII letters, digits, underscore or hyphen", http.StatusBadRequest)
		return
	}
	if len(req.Password) < 8 {
		jsonError(w, "password must be at least 8 characters", http.StatusBadRequest)
		return
	}

	hash, err := a.auth.HashPassword(req.Password)
	if err != nil {
		jsonError(w, "internal error", http.StatusInternalServerError)
		return
	}

	user, err := a.db.CreateUser(r.Context(), db.CreateUserInput{
		Handle:       req.Handle,
		PasswordHash: hash,
		Role:         req.Role,
	})
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			jsonError(w, "handle already taken", http.StatusConflict)
			return
		}
		slog.Error("creating user", "error", err)
		jsonError(w, "internal error", http.StatusInternalServerError)
		return
	}

	token, err := a.auth.GenerateToken(user.ID, user.Handle, user.Role)
	if err != nil {
		jsonError(w, "internal error", http.StatusInternalServerError)
		return
	}

	jsonResp(w, http.StatusCreated, map[string]interface{}{
		"user":  user,
		"token": token,
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Handle   string `json:"handle"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	user, passwordHash, err := a.db.GetUserByHandle(r.Context(), req.Handle)
	if err != nil {
		slog.Error("reading user", "error", err)
		jsonError(w, "internal error", http.StatusInternalServerError)
		return
	}
	if user == nil || !a.auth.CheckPassword(passwordHash, req.Password) {
		jsonError(w, "invalid credentials", http.StatusUnauthorized)
		return
	}

	token, err := a.auth.GenerateToken(user.ID, user.Handle, user.Role)
	if err != nil {
		jsonError(w, "internal error", http.StatusInternalServerError)
		return
	}

	jsonResp(w, http.StatusOK, map[string]interface{}{
		"user":  user,
		"token": token,
	})
}

func jsonResp(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func jsonError(w http.ResponseWriter, msg string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
