package server

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/kikuyu-catholic-sheets/sheets/internal/model"
	"github.com/kikuyu-catholic-sheets/sheets/internal/profile"
)

var (
	//go:embed templates/*.html
	templateFS embed.FS
	//go:embed content/about.md
	aboutMarkdown []byte
	//go:embed static/app.js
	appScript []byte
)

var pageNames = []string{
	"home", "browse", "about", "upload",
	"signin", "signup", "signedout", "forgotpassword", "resetpassword",
	"profile", "edit", "delete", "error",
}

// pageData is handed to every page template.
type pageData struct {
	Title    string
	Identity *model.Identity
	Active   string
	Flash    *profile.Notification
	Error    string
	Success  string
	Year     int
	Data     any
}

type renderer struct {
	pages map[string]*template.Template
	about template.HTML
}

var funcs = template.FuncMap{
	"date": func(t time.Time) string {
		if t.IsZero() {
			return ""
		}
		return t.Format("2 Jan 2006")
	},
}

func newRenderer() (*renderer, error) {
	base, err := template.New("layout.html").Funcs(funcs).ParseFS(templateFS, "templates/layout.html", "templates/partials.html")
	if err != nil {
		return nil, fmt.Errorf("parse layout: %w", err)
	}
	r := &renderer{pages: make(map[string]*template.Template, len(pageNames))}
	for _, name := range pageNames {
		clone, err := base.Clone()
		if err != nil {
			return nil, err
		}
		t, err := clone.ParseFS(templateFS, "templates/"+name+".html")
		if err != nil {
			return nil, fmt.Errorf("parse %s page: %w", name, err)
		}
		r.pages[name] = t
	}

	md := goldmark.New(goldmark.WithExtensions(extension.GFM, extension.Typographer))
	var buf bytes.Buffer
	if err := md.Convert(aboutMarkdown, &buf); err != nil {
		return nil, fmt.Errorf("render about page: %w", err)
	}
	// The markdown is embedded at build time, not user supplied.
	r.about = template.HTML(buf.String())
	return r, nil
}

// page renders name inside the layout. Rendering goes through a buffer so
// a template error never leaves a half written page.
func (r *renderer) page(w http.ResponseWriter, status int, name string, data pageData) error {
	t, ok := r.pages[name]
	if !ok {
		return fmt.Errorf("unknown page %q", name)
	}
	if data.Year == 0 {
		data.Year = time.Now().Year()
	}
	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "layout.html", data); err != nil {
		return fmt.Errorf("render %s: %w", name, err)
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, err := buf.WriteTo(w)
	return err
}

// fragment renders a shared partial such as the live score list.
func (r *renderer) fragment(w io.Writer, name string, data any) error {
	return r.pages["profile"].ExecuteTemplate(w, name, data)
}

func (s *Server) render(w http.ResponseWriter, r *http.Request, status int, name string, data pageData) {
	data.Identity = identityFrom(r)
	if err := s.pages.page(w, status, name, data); err != nil {
		s.log.Error("render failed", "page", name, "err", err)
		http.Error(w, "An error occurred. Please try again.", http.StatusInternalServerError)
	}
}

// fail renders the error page with a recoverable message.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, status int, msg string) {
	s.render(w, r, status, "error", pageData{Title: "Something went wrong", Error: msg})
}
