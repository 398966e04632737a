package server

import (
	"encoding/base64"
	"html/template"
	"net/http"
	"strings"
	"time"

	"github.com/kikuyu-catholic-sheets/sheets/internal/catalog"
	"github.com/kikuyu-catholic-sheets/sheets/internal/model"
	"github.com/kikuyu-catholic-sheets/sheets/internal/profile"
	"github.com/kikuyu-catholic-sheets/sheets/internal/session"
)

const (
	latestCount = 5
	flashCookie = "sheets_flash"
)

func identityFrom(r *http.Request) *model.Identity {
	return session.FromContext(r.Context())
}

type homeData struct {
	Latest []model.Score
}

func (s *Server) handleHome(w http.ResponseWriter, r *http.Request) {
	scores, err := s.scores.ListRecent(r.Context())
	if err != nil {
		s.log.Warn("latest scores unavailable", "err", err)
	}
	if len(scores) > latestCount {
		scores = scores[:latestCount]
	}
	s.render(w, r, http.StatusOK, "home", pageData{
		Title:  "Kikuyu Music Sheets",
		Active: "home",
		Error:  errorText(err, "Scores could not be loaded right now."),
		Data:   homeData{Latest: scores},
	})
}

type link struct {
	Label  string
	URL    string
	Active bool
}

type column struct {
	Label string
	URL   string
	// Arrow is empty unless the table is sorted by this column.
	Arrow string
}

type browseData struct {
	Result  catalog.Result
	Search  string
	Letters []link
	Columns []column
	Prev    string
	Next    string
	Clear   string
}

func (s *Server) handleBrowse(w http.ResponseWriter, r *http.Request) {
	state := catalog.FromQuery(r.URL.Query())
	snapshot, err := s.scores.ListRecent(r.Context())
	if err != nil {
		s.log.Warn("catalog snapshot unavailable", "err", err)
	}
	result := catalog.Derive(snapshot, state, s.cfg.PageSize)
	state = result.State

	data := browseData{Result: result, Search: state.Search, Clear: state.WithLetter("").URL()}
	for _, letter := range catalog.Alphabet {
		data.Letters = append(data.Letters, link{
			Label:  letter,
			URL:    state.WithLetter(letter).URL(),
			Active: strings.EqualFold(state.Letter, letter),
		})
	}
	for _, c := range []struct {
		label string
		col   catalog.Column
	}{
		{"Title", catalog.ColumnTitle},
		{"Composer", catalog.ColumnComposer},
		{"Category", catalog.ColumnCategory},
		{"Uploaded", catalog.ColumnCreatedAt},
	} {
		col := column{Label: c.label, URL: state.WithSort(c.col).URL()}
		if state.Sort == c.col {
			col.Arrow = "▲"
			if state.Desc {
				col.Arrow = "▼"
			}
		}
		data.Columns = append(data.Columns, col)
	}
	if result.HasPrev() {
		data.Prev = state.WithPage(result.Page - 1).URL()
	}
	if result.HasNext() {
		data.Next = state.WithPage(result.Page + 1).URL()
	}
	s.render(w, r, http.StatusOK, "browse", pageData{
		Title:  "Kikuyu Music Sheets",
		Active: "browse",
		Error:  errorText(err, "Music sheets could not be loaded right now."),
		Data:   data,
	})
}

func (s *Server) handleAbout(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, http.StatusOK, "about", pageData{
		Title:  "About Our Platform",
		Active: "about",
		Data:   struct{ Body template.HTML }{s.pages.about},
	})
}

func (s *Server) handleScript(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/javascript; charset=utf-8")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	_, _ = w.Write(appScript)
}

func errorText(err error, msg string) string {
	if err == nil {
		return ""
	}
	return msg
}

// setFlash stores a one-shot notification for the next page view.
func (s *Server) setFlash(w http.ResponseWriter, n profile.Notification) {
	value := base64.RawURLEncoding.EncodeToString([]byte(string(n.Kind) + "\x00" + n.Message))
	http.SetCookie(w, &http.Cookie{
		Name:     flashCookie,
		Value:    s.signer.Issue(value, s.now().Add(time.Minute)),
		Path:     "/",
		HttpOnly: true,
		Secure:   s.secureCookies(),
		SameSite: http.SameSiteLaxMode,
	})
}

// takeFlash reads and clears the notification set by setFlash.
func (s *Server) takeFlash(w http.ResponseWriter, r *http.Request) *profile.Notification {
	c, err := r.Cookie(flashCookie)
	if err != nil {
		return nil
	}
	http.SetCookie(w, &http.Cookie{Name: flashCookie, Path: "/", MaxAge: -1})
	value, err := s.signer.Verify(c.Value, s.now())
	if err != nil {
		return nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(value)
	if err != nil {
		return nil
	}
	kind, msg, ok := strings.Cut(string(raw), "\x00")
	if !ok {
		return nil
	}
	return &profile.Notification{Kind: profile.Kind(kind), Message: msg}
}
