package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/authpanel/internal/token"
)

type mockVerifier struct {
	verifyFn func(ctx context.Context, accessToken string) (*token.Identity, error)
}

func (m *mockVerifier) Verify(ctx context.Context, accessToken string) (*token.Identity, error) {
	return m.verifyFn(ctx, accessToken)
}

func decodeDetail(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	return body.Detail
}

func TestBearerAuthMiddleware_MissingToken(t *testing.T) {
	verifier := &mockVerifier{verifyFn: func(context.Context, string) (*token.Identity, error) {
		t.Fatal("verifier should not be called")
		return nil, nil
	}}
	handler := NewBearerAuthMiddleware(verifier)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	}))

	for _, header := range []string{"", "Bearer", "Bearer   ", "Basic abc"} {
		req := httptest.NewRequest(http.MethodGet, "/api/protected", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		if w.Code != http.StatusUnauthorized {
			t.Errorf("header %q: status = %d, want 401", header, w.Code)
		}
		if got := decodeDetail(t, w); got != "Missing token" {
			t.Errorf("header %q: detail = %q, want Missing token", header, got)
		}
	}
}

func TestBearerAuthMiddleware_InvalidToken(t *testing.T) {
	verifier := &mockVerifier{verifyFn: func(context.Context, string) (*token.Identity, error) {
		return nil, fmt.Errorf("expired: %w", token.ErrInvalidToken)
	}}
	handler := NewBearerAuthMiddleware(verifier)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/protected", nil)
	req.Header.Set("Authorization", "Bearer bad")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
	if got := decodeDetail(t, w); got != "Invalid or expired token" {
		t.Errorf("detail = %q, want Invalid or expired token", got)
	}
}

func TestBearerAuthMiddleware_ValidToken(t *testing.T) {
	verifier := &mockVerifier{verifyFn: func(_ context.Context, accessToken string) (*token.Identity, error) {
		if accessToken != "good" {
			t.Errorf("token = %q, want good", accessToken)
		}
		return &token.Identity{UserID: "user-1", Email: "a@example.com"}, nil
	}}

	var captured *token.Identity
	handler := NewBearerAuthMiddleware(verifier)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := IdentityFromContext(r.Context())
		if !ok {
			t.Fatal("identity missing from context")
		}
		captured = identity
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/protected", nil)
	req.Header.Set("Authorization", "bearer good")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if captured == nil || captured.Email != "a@example.com" {
		t.Errorf("identity = %+v", captured)
	}
}

func TestIdentityFromContext_Missing(t *testing.T) {
	if _, ok := IdentityFromContext(context.Background()); ok {
		t.Error("expected no identity")
	}
}
