package rest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/tripwire/frostwatch/internal/agent"
	"github.com/tripwire/frostwatch/internal/audit"
)

// mockStore is a test double for Store.
type mockStore struct {
	findings []agent.Finding
	err      error
	got      agent.FindingQuery
}

func (m *mockStore) QueryFindings(_ context.Context, q agent.FindingQuery) ([]agent.Finding, error) {
	m.got = q
	return m.findings, m.err
}

// newTestHandler returns the router with authentication disabled.
func newTestHandler(ms *mockStore, auditPath string) http.Handler {
	return NewRouter(NewServer(ms, auditPath, nil, nil), nil)
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

// ---- /healthz ---------------------------------------------------------------

func TestHandleHealthz_Static(t *testing.T) {
	rec := get(t, newTestHandler(&mockStore{}, ""), "/healthz")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil || body["status"] != "ok" {
		t.Errorf("body = %v, %v", body, err)
	}
}

func TestHandleHealthz_Delegates(t *testing.T) {
	called := false
	health := func(w http.ResponseWriter, _ *http.Request) {
		called = true
		w.WriteHeader(http.StatusTeapot)
	}
	h := NewRouter(NewServer(&mockStore{}, "", health, nil), nil)
	if rec := get(t, h, "/healthz"); rec.Code != http.StatusTeapot || !called {
		t.Errorf("delegate not used: status %d called %v", rec.Code, called)
	}
}

// ---- GET /api/v1/findings ---------------------------------------------------

func TestHandleGetFindings_DefaultsAndEmptyArray(t *testing.T) {
	ms := &mockStore{}
	rec := get(t, newTestHandler(ms, ""), "/api/v1/findings")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := strings.TrimSpace(rec.Body.String()); got != "[]" {
		t.Errorf("body = %q, want []", got)
	}
	if ms.got.Limit != agent.DefaultQueryLimit || ms.got.Offset != 0 || ms.got.MinScore != nil {
		t.Errorf("query = %+v", ms.got)
	}
}

func TestHandleGetFindings_ParamsPassedThrough(t *testing.T) {
	ms := &mockStore{findings: []agent.Finding{{ID: uuid.New(), Path: "/srv/x.php", Score: 25}}}
	rec := get(t, newTestHandler(ms, ""), "/api/v1/findings?limit=5000&offset=20&min_score=-3")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if ms.got.Limit != agent.MaxQueryLimit || ms.got.Offset != 20 || ms.got.MinScore == nil || *ms.got.MinScore != -3 {
		t.Errorf("query = %+v", ms.got)
	}
	var got []agent.Finding
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 1 || got[0].Path != "/srv/x.php" {
		t.Errorf("findings = %+v", got)
	}
}

func TestHandleGetFindings_BadParams(t *testing.T) {
	for _, q := range []string{"limit=0", "limit=abc", "offset=-1", "min_score=high"} {
		t.Run(q, func(t *testing.T) {
			rec := get(t, newTestHandler(&mockStore{}, ""), "/api/v1/findings?"+q)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestHandleGetFindings_StoreError(t *testing.T) {
	rec := get(t, newTestHandler(&mockStore{err: errors.New("db down")}, ""), "/api/v1/findings")
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

// ---- GET /api/v1/audit ------------------------------------------------------

func writeAuditLog(t *testing.T, n int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	l, err := audit.Open(path)
	if err != nil {
		t.Fatalf("audit.Open: %v", err)
	}
	for i := 0; i < n; i++ {
		if _, err := l.Record(audit.Action{Kind: audit.ActionFreeze, Path: "/srv/x.php", Score: 20}); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	return path
}

func TestHandleGetAudit_Verified(t *testing.T) {
	rec := get(t, newTestHandler(&mockStore{}, writeAuditLog(t, 2)), "/api/v1/audit")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body auditResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !body.Verified || len(body.Entries) != 2 || body.Entries[1].Seq != 2 {
		t.Errorf("body = %+v", body)
	}
}

func TestHandleGetAudit_BrokenChain(t *testing.T) {
	path := writeAuditLog(t, 2)
	data, _ := os.ReadFile(path)
	if err := os.WriteFile(path, []byte(strings.Replace(string(data), `"score":20`, `"score":2`, 1)), 0o600); err != nil {
		t.Fatal(err)
	}
	rec := get(t, newTestHandler(&mockStore{}, path), "/api/v1/audit")
	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", rec.Code)
	}
}

func TestHandleGetAudit_NotConfiguredOrMissing(t *testing.T) {
	if rec := get(t, newTestHandler(&mockStore{}, ""), "/api/v1/audit"); rec.Code != http.StatusNotFound {
		t.Errorf("unconfigured: status = %d, want 404", rec.Code)
	}
	missing := filepath.Join(t.TempDir(), "none.jsonl")
	if rec := get(t, newTestHandler(&mockStore{}, missing), "/api/v1/audit"); rec.Code != http.StatusInternalServerError {
		t.Errorf("missing file: status = %d, want 500", rec.Code)
	}
}
