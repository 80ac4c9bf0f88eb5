package handler

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/authpanel/internal/guard"
	"github.com/hitoshi/authpanel/internal/model"
	"github.com/hitoshi/authpanel/internal/view"
)

func newTestRenderer(t *testing.T) *Renderer {
	t.Helper()
	r, err := NewRenderer()
	if err != nil {
		t.Fatalf("NewRenderer: %v", err)
	}
	return r
}

func TestRenderer_ImmediateRedirect(t *testing.T) {
	r := newTestRenderer(t)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/profile", nil)

	err := r.Render(w, req, view.Model{Route: guard.PathProfile, Phase: guard.Redirecting, Redirect: guard.PathHome}, "")
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if w.Code != http.StatusSeeOther {
		t.Errorf("status = %d, want 303", w.Code)
	}
	if got := w.Header().Get("Location"); got != "/" {
		t.Errorf("Location = %q, want /", got)
	}
}

func TestRenderer_DelayedRedirectUsesMetaRefresh(t *testing.T) {
	r := newTestRenderer(t)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/update-password", nil)

	m := view.Model{
		Route:         guard.PathUpdatePassword,
		Title:         "Change Password",
		Phase:         guard.Authorized,
		Session:       &model.Session{User: model.User{ID: "user-1", Email: testEmail}},
		Notification:  &model.Notification{Kind: model.NotificationInfo, Text: view.MsgPasswordUpdated},
		Redirect:      guard.PathProfile,
		RedirectAfter: view.RedirectAfterPasswordUpdate,
	}
	if err := r.Render(w, req, m, "tok"); err != nil {
		t.Fatalf("Render: %v", err)
	}

	body := w.Body.String()
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	for _, want := range []string{`content="2; url=/profile"`, `class="notice info"`, `value="tok"`} {
		if !strings.Contains(body, want) {
			t.Errorf("body should contain %q\n%s", want, body)
		}
	}
}

func TestRenderer_LoadingPageRefreshesItself(t *testing.T) {
	r := newTestRenderer(t)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/auth?mode=signup", nil)

	if err := r.Render(w, req, view.Model{Route: guard.PathAuth, Title: "Sign Up", Phase: guard.Loading}, ""); err != nil {
		t.Fatalf("Render: %v", err)
	}

	body := w.Body.String()
	if !strings.Contains(body, "Loading...") {
		t.Errorf("loading page expected\n%s", body)
	}
	if !strings.Contains(body, `content="1; url=/auth?mode=signup"`) {
		t.Errorf("loading page should refresh the requested URL\n%s", body)
	}
	if strings.Contains(body, `name="password"`) {
		t.Error("form must not render before the session is known")
	}
}

func TestRenderer_EscapesNotification(t *testing.T) {
	r := newTestRenderer(t)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/auth", nil)

	m := view.Model{
		Route:        guard.PathAuth,
		Title:        "Sign In",
		Phase:        guard.Authorized,
		Notification: &model.Notification{Kind: model.NotificationError, Text: "<script>alert(1)</script>"},
	}
	if err := r.Render(w, req, m, ""); err != nil {
		t.Fatalf("Render: %v", err)
	}
	if strings.Contains(w.Body.String(), "<script>") {
		t.Error("notification text must be escaped")
	}
}

func TestRefreshSeconds(t *testing.T) {
	tests := map[time.Duration]int{
		0:                       1,
		500 * time.Millisecond:  1,
		time.Second:             1,
		1500 * time.Millisecond: 2,
		2 * time.Second:         2,
	}
	for in, want := range tests {
		if got := refreshSeconds(in); got != want {
			t.Errorf("refreshSeconds(%v) = %d, want %d", in, got, want)
		}
	}
}

func TestFormatTime(t *testing.T) {
	if got := formatTime(time.Time{}); got != "-" {
		t.Errorf("formatTime(zero) = %q, want -", got)
	}
	ts := time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)
	if got := formatTime(ts); got != "2024-03-01 12:30:00 UTC" {
		t.Errorf("formatTime = %q", got)
	}
}
