package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/hazyhaar/whisperprint/internal/auth"
	"github.com/hazyhaar/whisperprint/internal/db"
	"github.com/hazyhaar/whisperprint/internal/engine"
)

func testServer(t *testing.T) (*httptest.Server, *db.DB) {
	t.Helper()
	database, err := db.Open(filepath.Join(t.TempDir(), "api.db"))
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	a := auth.New("test-secret", 60)
	handler := New(engine.New(database), database, a, "test")

	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, database
}

func doJSON(t *testing.T, srv *httptest.Server, method, path, token string, body any, out any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encoding body: %v", err)
		}
	}
	req, err := http.NewRequest(method, srv.URL+path, &buf)
	if err != nil {
		t.Fatalf("building request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decoding response: %v", err)
		}
	}
	return resp
}

func registerOperator(t *testing.T, srv *httptest.Server) string {
	t.Helper()
	var result struct {
		Token string `json:"token"`
	}
	resp := doJSON(t, srv, "POST", "/api/register", "", map[string]string{
		"handle":   "operator",
		"password": "validpassword123",
	}, &result)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register status = %d, want 201", resp.StatusCode)
	}
	if result.Token == "" {
		t.Fatal("register returned no token")
	}
	return result.Token
}

func TestRegisterValidation(t *testing.T) {
	srv, _ := testServer(t)

	tests := []struct {
		name   string
		body   map[string]string
		status int
	}{
		{"missing password", map[string]string{"handle": "someone"}, http.StatusBadRequest},
		{"handle too short", map[string]string{"handle": "ab", "password": "validpassword"}, http.StatusBadRequest},
		{"handle bad chars", map[string]string{"handle": "bad handle!", "password": "validpassword"}, http.StatusBadRequest},
		{"password too short", map[string]string{"handle": "someone", "password": "short"}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := doJSON(t, srv, "POST", "/api/register", "", tt.body, nil)
			if resp.StatusCode != tt.status {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.status)
			}
		})
	}

	registerOperator(t, srv)
	resp := doJSON(t, srv, "POST", "/api/register", "", map[string]string{
		"handle":   "operator",
		"password": "anotherpassword",
	}, nil)
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("duplicate handle status = %d, want 409", resp.StatusCode)
	}
}

func TestLogin(t *testing.T) {
	srv, _ := testServer(t)
	registerOperator(t, srv)

	var result struct {
		Token string `json:"token"`
	}
	resp := doJSON(t, srv, "POST", "/api/login", "", map[string]string{
		"handle":   "operator",
		"password": "validpassword123",
	}, &result)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login status = %d, want 200", resp.StatusCode)
	}
	if result.Token == "" {
		t.Error("login returned no token")
	}

	resp = doJSON(t, srv, "POST", "/api/login", "", map[string]string{
		"handle":   "operator",
		"password": "wrongpassword",
	}, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("wrong password status = %d, want 401", resp.StatusCode)
	}
}

func TestFingerprintRequiresAuth(t *testing.T) {
	srv, _ := testServer(t)
	resp := doJSON(t, srv, "POST", "/api/fingerprint", "", map[string]string{
		"text":         "some document",
		"recipient_id": "alice@example.com",
	}, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
}

func TestFingerprintAndIdentifyFlow(t *testing.T) {
	srv, _ := testServer(t)
	token := registerOperator(t, srv)

	var fpResult struct {
		MarkedText    string `json:"marked_text"`
		IdentityToken string `json:"identity_token"`
		Persisted     bool   `json:"persisted"`
	}
	resp := doJSON(t, srv, "POST", "/api/fingerprint", token, map[string]string{
		"text":         "Internal roadmap. Not for distribution. Ships in March.",
		"recipient_id": "alice@example.com",
	}, &fpResult)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("fingerprint status = %d, want 201", resp.StatusCode)
	}
	if !fpResult.Persisted {
		t.Error("fingerprint not persisted")
	}
	if fpResult.MarkedText == "" || fpResult.IdentityToken == "" {
		t.Fatal("fingerprint response incomplete")
	}

	var idResult struct {
		RecipientID *string `json:"recipient_id"`
		Identified  bool    `json:"identified"`
		Via         string  `json:"via"`
	}
	resp = doJSON(t, srv, "POST", "/api/identify", token, map[string]string{
		"leaked_text": fpResult.MarkedText,
	}, &idResult)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("identify status = %d, want 200", resp.StatusCode)
	}
	if !idResult.Identified || idResult.RecipientID == nil || *idResult.RecipientID != "alice@example.com" {
		t.Fatalf("identify = %+v, want alice@example.com", idResult)
	}

	// Clean text resolves to no one.
	resp = doJSON(t, srv, "POST", "/api/identify", token, map[string]string{
		"leaked_text": "A clean, unmarked document body.",
	}, &idResult)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("identify status = %d, want 200", resp.StatusCode)
	}
	if idResult.Identified {
		t.Error("clean text should not identify anyone")
	}
}

func TestFingerprintStorageFailureWarns(t *testing.T) {
	srv, database := testServer(t)
	token := registerOperator(t, srv)

	// Seed the recipient so only persistence can fail on the second call.
	resp := doJSON(t, srv, "POST", "/api/fingerprint", token, map[string]string{
		"text":         "First copy. Persists fine.",
		"recipient_id": "alice@example.com",
	}, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("seed fingerprint status = %d, want 201", resp.StatusCode)
	}

	if _, err := database.Exec(`DROP TABLE audit_log`); err != nil {
		t.Fatalf("dropping audit_log: %v", err)
	}

	var result struct {
		MarkedText string `json:"marked_text"`
		Persisted  bool   `json:"persisted"`
		Warning    string `json:"warning"`
	}
	resp = doJSON(t, srv, "POST", "/api/fingerprint", token, map[string]string{
		"text":         "Second copy. Storage is broken now.",
		"recipient_id": "alice@example.com",
	}, &result)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200 with a warning", resp.StatusCode)
	}
	if result.Persisted {
		t.Error("persisted = true despite the storage failure")
	}
	if result.MarkedText == "" {
		t.Error("marked text withheld on storage failure")
	}
	if result.Warning == "" {
		t.Error("no warning reported")
	}
}

func TestFingerprintValidation(t *testing.T) {
	srv, _ := testServer(t)
	token := registerOperator(t, srv)

	resp := doJSON(t, srv, "POST", "/api/fingerprint", token, map[string]string{
		"text": "document without a recipient",
	}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("missing recipient status = %d, want 400", resp.StatusCode)
	}
}

func TestRecipientsEndpoints(t *testing.T) {
	srv, _ := testServer(t)
	token := registerOperator(t, srv)

	doJSON(t, srv, "POST", "/api/fingerprint", token, map[string]string{
		"text":         "Document for bob. Confidential.",
		"recipient_id": "bob@example.com",
	}, nil)

	var list struct {
		Recipients []map[string]any `json:"recipients"`
		Count      int              `json:"count"`
	}
	resp := doJSON(t, srv, "GET", "/api/recipients", token, nil, &list)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list status = %d, want 200", resp.StatusCode)
	}
	if list.Count != 1 || list.Recipients[0]["recipient_id"] != "bob@example.com" {
		t.Fatalf("recipients = %+v, want bob@example.com", list.Recipients)
	}

	resp = doJSON(t, srv, "GET", "/api/recipients/bob@example.com", token, nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("get status = %d, want 200", resp.StatusCode)
	}

	resp = doJSON(t, srv, "GET", "/api/recipients/ghost@example.com", token, nil, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("missing recipient status = %d, want 404", resp.StatusCode)
	}

	var fps struct {
		Count int `json:"count"`
	}
	resp = doJSON(t, srv, "GET", "/api/recipients/bob@example.com/fingerprints", token, nil, &fps)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("fingerprints status = %d, want 200", resp.StatusCode)
	}
	if fps.Count != 1 {
		t.Errorf("fingerprint count = %d, want 1", fps.Count)
	}
}

func TestAuditLogsEndpoint(t *testing.T) {
	srv, _ := testServer(t)
	token := registerOperator(t, srv)

	doJSON(t, srv, "POST", "/api/fingerprint", token, map[string]string{
		"text":         "Audited document.",
		"recipient_id": "carol@example.com",
	}, nil)

	var logs struct {
		Count int `json:"count"`
	}
	resp := doJSON(t, srv, "GET", "/api/audit-logs?event_type=fingerprint_stored", token, nil, &logs)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("audit-logs status = %d, want 200", resp.StatusCode)
	}
	if logs.Count != 1 {
		t.Errorf("fingerprint_stored entries = %d, want 1", logs.Count)
	}

	resp = doJSON(t, srv, "GET", "/api/audit-logs?limit=0", token, nil, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("limit=0 status = %d, want 400", resp.StatusCode)
	}
}

func TestStatsAndHealth(t *testing.T) {
	srv, _ := testServer(t)
	token := registerOperator(t, srv)

	var health struct {
		Status  string `json:"status"`
		Version string `json:"version"`
	}
	resp := doJSON(t, srv, "GET", "/api/health", "", nil, &health)
	if resp.StatusCode != http.StatusOK || health.Status != "ok" {
		t.Fatalf("health = %d %+v, want 200 ok", resp.StatusCode, health)
	}

	var stats struct {
		Recipients   int `json:"recipients"`
		Fingerprints int `json:"fingerprints"`
	}
	resp = doJSON(t, srv, "GET", "/api/stats", token, nil, &stats)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stats status = %d, want 200", resp.StatusCode)
	}
}
