package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/authpanel/internal/gateway"
	"github.com/hitoshi/authpanel/internal/identity"
	"github.com/hitoshi/authpanel/internal/metrics"
	"github.com/hitoshi/authpanel/internal/middleware"
	"github.com/hitoshi/authpanel/internal/model"
	"github.com/hitoshi/authpanel/internal/repository"
	"github.com/hitoshi/authpanel/internal/session"
	"github.com/hitoshi/authpanel/internal/token"
	"github.com/hitoshi/authpanel/internal/view"
)

const (
	testBaseURL   = "http://panel.example"
	testEmail     = "user@example.com"
	testPassword  = "password123"
	testTokenHash = "valid-hash"
	testJWTSecret = "test-secret-at-least-32-bytes-long!!"
)

// fakeProvider は認証サービスの状態を模倣するモック。
type fakeProvider struct {
	mu        sync.Mutex
	passwords map[string]string
	signUps   []string
	signIns   []string
	resets    []string
	redirects []string
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{passwords: map[string]string{testEmail: testPassword}}
}

func (p *fakeProvider) session(email string) *model.Session {
	now := time.Now()
	return &model.Session{
		User: model.User{
			ID:           "user-1",
			Email:        email,
			CreatedAt:    now.Add(-24 * time.Hour),
			LastSignInAt: now,
		},
		AccessToken:  "access-token",
		RefreshToken: "refresh-token",
		TokenType:    "bearer",
		ExpiresAt:    now.Add(time.Hour),
	}
}

func (p *fakeProvider) SignUp(_ context.Context, email, _, redirectTo string) (*identity.SignUpResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.signUps = append(p.signUps, email)
	p.redirects = append(p.redirects, redirectTo)
	return &identity.SignUpResult{User: model.User{ID: "user-2", Email: email}}, nil
}

func (p *fakeProvider) SignInWithPassword(_ context.Context, email, password string) (*model.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.signIns = append(p.signIns, email)
	if want, ok := p.passwords[email]; !ok || want != password {
		return nil, model.NewGatewayError(http.StatusBadRequest, "invalid_credentials", "Invalid login credentials")
	}
	return p.session(email), nil
}

func (p *fakeProvider) RefreshSession(context.Context, string) (*model.Session, error) {
	return nil, model.NewGatewayError(http.StatusBadRequest, "refresh_token_not_found", "Invalid Refresh Token")
}

func (p *fakeProvider) Logout(context.Context, string) error {
	return nil
}

func (p *fakeProvider) VerifyOTP(_ context.Context, tokenHash, _ string) (*model.Session, error) {
	if tokenHash != testTokenHash {
		return nil, model.NewGatewayError(http.StatusForbidden, "otp_expired", "Email link is invalid or has expired")
	}
	return p.session(testEmail), nil
}

func (p *fakeProvider) UpdatePassword(_ context.Context, _, password string) (*model.User, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.passwords[testEmail] = password
	return &p.session(testEmail).User, nil
}

func (p *fakeProvider) ResetPasswordForEmail(_ context.Context, email, redirectTo string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resets = append(p.resets, email)
	p.redirects = append(p.redirects, redirectTo)
	return nil
}

// calls は記録した呼び出しのコピーを返す。
func (p *fakeProvider) calls() (signUps, resets, redirects []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.signUps...), append([]string(nil), p.resets...), append([]string(nil), p.redirects...)
}

func (p *fakeProvider) signInCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.signIns)
}

func (p *fakeProvider) password(email string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.passwords[email]
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testApp はルーター全体を組み立てたテスト用サーバー。
type testApp struct {
	server   *httptest.Server
	provider *fakeProvider
	registry *view.Registry
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()

	provider := newFakeProvider()
	logger := discardLogger()
	registry := view.NewRegistry(
		view.RegistryConfig{SessionMaxAge: time.Hour, IdleTTL: time.Hour},
		repository.NewMemorySessionRepo(),
		func(store *session.Store) view.Gateway {
			return gateway.NewClient(provider, store, gateway.Config{
				BaseURL:       testBaseURL,
				RefreshMargin: time.Minute,
			}, gateway.WithLogger(logger), gateway.WithMetrics(metrics.Noop{}))
		},
		metrics.Noop{},
		logger,
	)
	t.Cleanup(registry.Close)

	renderer, err := NewRenderer()
	if err != nil {
		t.Fatalf("NewRenderer: %v", err)
	}

	rl := middleware.NewRateLimiter(middleware.SubmitRateLimiterConfig(100))
	t.Cleanup(rl.Stop)

	router := NewRouter(&RouterDeps{
		Logger:             logger,
		CORSAllowedOrigins: []string{"http://localhost:5173"},
		RateLimiter:        rl,
		Client:             middleware.ClientConfig{MaxAge: 3600},
		Clients:            registry,
		Renderer:           renderer,
		Verifier:           token.NewLocalVerifier(testJWTSecret),
	})

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return &testApp{server: server, provider: provider, registry: registry}
}

// browser はCookieを保持し、リダイレクトを追わないHTTPクライアント。
type browser struct {
	t      *testing.T
	app    *testApp
	client *http.Client
}

func (a *testApp) browser(t *testing.T) *browser {
	t.Helper()
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookiejar: %v", err)
	}
	return &browser{
		t:   t,
		app: a,
		client: &http.Client{
			Jar: jar,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// get はGETリクエストを送り、ステータスと本文を返す。
func (b *browser) get(path string) (*http.Response, string) {
	b.t.Helper()
	resp, err := b.client.Get(b.app.server.URL + path)
	if err != nil {
		b.t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp, string(body)
}

// post はCSRFトークンを付与してフォームを送信する。
func (b *browser) post(path string, form url.Values) *http.Response {
	b.t.Helper()
	if form == nil {
		form = url.Values{}
	}
	u, _ := url.Parse(b.app.server.URL)
	for _, c := range b.client.Jar.Cookies(u) {
		if c.Name == "csrf_token" {
			form.Set("csrf_token", c.Value)
		}
	}
	resp, err := b.client.PostForm(b.app.server.URL+path, form)
	if err != nil {
		b.t.Fatalf("POST %s: %v", path, err)
	}
	resp.Body.Close()
	return resp
}

func assertRedirect(t *testing.T, resp *http.Response, location string) {
	t.Helper()
	if resp.StatusCode != http.StatusSeeOther {
		t.Fatalf("%s %s: status = %d, want 303", resp.Request.Method, resp.Request.URL.Path, resp.StatusCode)
	}
	if got := resp.Header.Get("Location"); got != location {
		t.Errorf("%s %s: Location = %q, want %q", resp.Request.Method, resp.Request.URL.Path, got, location)
	}
}

func assertPage(t *testing.T, resp *http.Response, body string, contains ...string) {
	t.Helper()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET %s: status = %d, want 200", resp.Request.URL.Path, resp.StatusCode)
	}
	for _, s := range contains {
		if !strings.Contains(body, s) {
			t.Errorf("GET %s: body should contain %q\n%s", resp.Request.URL.Path, s, body)
		}
	}
}
