package rest

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/golang-jwt/jwt/v5"
)

func TestRouter_HealthzNoAuth(t *testing.T) {
	_, pub := generateTestKey(t)
	h := NewRouter(NewServer(&mockStore{}, "", nil, nil), &JWTConfig{PublicKey: pub})

	if rec := get(t, h, "/healthz"); rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestRouter_APIRoutesRequireJWT(t *testing.T) {
	_, pub := generateTestKey(t)
	h := NewRouter(NewServer(&mockStore{}, "", nil, nil), &JWTConfig{PublicKey: pub})

	for _, route := range []string{"/api/v1/findings", "/api/v1/audit"} {
		if rec := get(t, h, route); rec.Code != http.StatusUnauthorized {
			t.Errorf("%s: status = %d, want 401", route, rec.Code)
		}
	}
}

func TestRouter_APIRoutesAccessibleWithJWT(t *testing.T) {
	priv, pub := generateTestKey(t)
	h := NewRouter(NewServer(&mockStore{}, "", nil, nil), &JWTConfig{PublicKey: pub})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/findings", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, priv, jwt.SigningMethodRS256, validClaims()))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body: %s", rec.Code, rec.Body)
	}
}

func TestRouter_UnknownRoute(t *testing.T) {
	h := NewRouter(NewServer(&mockStore{}, "", nil, nil), nil)
	if rec := get(t, h, "/api/v1/hosts"); rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestRouter_StreamMountedOnlyWhenConfigured(t *testing.T) {
	h := NewRouter(NewServer(&mockStore{}, "", nil, nil), nil)
	if rec := get(t, h, "/api/v1/findings/stream"); rec.Code != http.StatusNotFound {
		t.Errorf("without stream: status = %d, want 404", rec.Code)
	}

	stream := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	h = NewRouter(NewServer(&mockStore{}, "", nil, nil).WithStream(stream), nil)
	if rec := get(t, h, "/api/v1/findings/stream"); rec.Code != http.StatusTeapot {
		t.Errorf("with stream: status = %d, want 418", rec.Code)
	}
}

func TestRouter_StreamRequiresJWT(t *testing.T) {
	_, pub := generateTestKey(t)
	stream := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {})
	h := NewRouter(NewServer(&mockStore{}, "", nil, nil).WithStream(stream), &JWTConfig{PublicKey: pub})
	if rec := get(t, h, "/api/v1/findings/stream"); rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestRouter_MetricsNoAuth(t *testing.T) {
	_, pub := generateTestKey(t)
	m := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("frostwatch_queue_depth 0\n"))
	})
	h := NewRouter(NewServer(&mockStore{}, "", nil, nil).WithMetrics(m), &JWTConfig{PublicKey: pub})

	rec := get(t, h, "/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if rec.Body.String() != "frostwatch_queue_depth 0\n" {
		t.Errorf("body = %q", rec.Body.String())
	}
}
