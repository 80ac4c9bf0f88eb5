package handler

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"math"
	"net/http"
	"time"

	"github.com/hitoshi/authpanel/internal/guard"
	"github.com/hitoshi/authpanel/internal/view"
)

//go:embed templates/*.html
var templateFS embed.FS

// pageTemplates はルートごとの本文テンプレート。
var pageTemplates = map[string]string{
	guard.PathHome:           "home.html",
	guard.PathAuth:           "auth.html",
	guard.PathResetPassword:  "reset.html",
	guard.PathUpdatePassword: "update_password.html",
	guard.PathProfile:        "profile.html",
}

// loadingPage はセッション確認中の本文テンプレートのキー。
const loadingPage = "loading"

// PageData はテンプレートに渡す値。
type PageData struct {
	Model          view.Model
	CSRFToken      string
	RefreshSeconds int
}

// Renderer はビューのModelをHTMLに変換する。
type Renderer struct {
	pages map[string]*template.Template
}

// NewRenderer は埋め込みテンプレートを解析してRendererを生成する。
func NewRenderer() (*Renderer, error) {
	funcs := template.FuncMap{
		"formatTime": formatTime,
	}

	files := map[string]string{loadingPage: "loading.html"}
	for route, file := range pageTemplates {
		files[route] = file
	}

	pages := make(map[string]*template.Template, len(files))
	for key, file := range files {
		t, err := template.New("layout").Funcs(funcs).ParseFS(templateFS, "templates/layout.html", "templates/"+file)
		if err != nil {
			return nil, fmt.Errorf("failed to parse template %s: %w", file, err)
		}
		pages[key] = t
	}

	return &Renderer{pages: pages}, nil
}

// Render はModelを描画する。
// 即時の遷移先があれば303で遷移させ、遅延遷移はmeta refreshで表現する。
func (r *Renderer) Render(w http.ResponseWriter, req *http.Request, m view.Model, csrfToken string) error {
	if m.Redirect != "" && m.RedirectAfter <= 0 {
		http.Redirect(w, req, m.Redirect, http.StatusSeeOther)
		return nil
	}

	key := m.Route
	if m.Phase == guard.Loading && !m.Verifying {
		key = loadingPage
	}
	t, ok := r.pages[key]
	if !ok {
		return fmt.Errorf("no template for route %q", m.Route)
	}

	data := PageData{Model: m, CSRFToken: csrfToken}
	if m.Redirect != "" {
		data.RefreshSeconds = refreshSeconds(m.RedirectAfter)
	} else if m.Phase == guard.Loading {
		// セッション確認中は自身を再読み込みする
		data.Model.Redirect = req.URL.RequestURI()
		data.RefreshSeconds = 1
	}

	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "layout", data); err != nil {
		return fmt.Errorf("failed to execute template %s: %w", key, err)
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, err := buf.WriteTo(w)
	return err
}

// refreshSeconds はmeta refreshの秒数に切り上げる。
func refreshSeconds(d time.Duration) int {
	s := int(math.Ceil(d.Seconds()))
	if s < 1 {
		return 1
	}
	return s
}

// formatTime は日時を表示用に整形する。ゼロ値は"-"とする。
func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format("2006-01-02 15:04:05 MST")
}
