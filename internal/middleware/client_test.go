package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
)

func clientCookie(t *testing.T, resp *http.Response) *http.Cookie {
	t.Helper()
	for _, c := range resp.Cookies() {
		if c.Name == ClientCookieName {
			return c
		}
	}
	t.Fatal("client_id cookie not set")
	return nil
}

func TestClientMiddleware_IssuesNewID(t *testing.T) {
	mw := NewClientMiddleware(ClientConfig{MaxAge: 3600})

	var captured string
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := ClientIDFromContext(r.Context())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		captured = id
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if _, err := uuid.Parse(captured); err != nil {
		t.Fatalf("client ID %q is not a UUID: %v", captured, err)
	}
	cookie := clientCookie(t, w.Result())
	if cookie.Value != captured {
		t.Errorf("cookie value = %q, want %q", cookie.Value, captured)
	}
	if !cookie.HttpOnly {
		t.Error("client cookie must be HttpOnly")
	}
	if cookie.MaxAge != 3600 {
		t.Errorf("MaxAge = %d, want 3600", cookie.MaxAge)
	}
	if cookie.SameSite != http.SameSiteLaxMode {
		t.Errorf("SameSite = %v, want Lax", cookie.SameSite)
	}
}

func TestClientMiddleware_KeepsExistingID(t *testing.T) {
	existing := uuid.NewString()
	mw := NewClientMiddleware(ClientConfig{CookieSecure: true, CookieDomain: "example.com", MaxAge: 60})

	var captured string
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured, _ = ClientIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: ClientCookieName, Value: existing})
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if captured != existing {
		t.Errorf("client ID = %q, want %q", captured, existing)
	}
	cookie := clientCookie(t, w.Result())
	if !cookie.Secure {
		t.Error("cookie should be Secure")
	}
	if cookie.Domain != "example.com" {
		t.Errorf("Domain = %q, want example.com", cookie.Domain)
	}
}

func TestClientMiddleware_ReplacesMalformedID(t *testing.T) {
	mw := NewClientMiddleware(ClientConfig{MaxAge: 60})

	var captured string
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured, _ = ClientIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: ClientCookieName, Value: "../../etc/passwd"})
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if captured == "../../etc/passwd" {
		t.Fatal("malformed client ID must not be accepted")
	}
	if _, err := uuid.Parse(captured); err != nil {
		t.Errorf("replacement ID %q is not a UUID", captured)
	}
}

func TestClientIDFromContext_Missing(t *testing.T) {
	if _, err := ClientIDFromContext(context.Background()); err == nil {
		t.Error("expected error for context without client ID")
	}
}

func TestContextWithClientID(t *testing.T) {
	ctx := ContextWithClientID(context.Background(), "client-1")
	got, err := ClientIDFromContext(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "client-1" {
		t.Errorf("client ID = %q, want client-1", got)
	}
}
