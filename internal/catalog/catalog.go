// Package catalog derives the visible page of the browse view from a
// snapshot of score records and the user's search, letter and sort choices.
// Everything here is a pure function of its inputs.
package catalog

import (
	"net/url"
	"slices"
	"strconv"
	"strings"

	"github.com/kikuyu-catholic-sheets/sheets/internal/model"
)

// PageSize is the default number of records per page.
const PageSize = 10

// Column names a sortable field.
type Column string

const (
	ColumnNone      Column = ""
	ColumnTitle     Column = "title"
	ColumnComposer  Column = "composer"
	ColumnCategory  Column = "category"
	ColumnCreatedAt Column = "createdAt"
)

// Alphabet lists the letters offered by the letter filter.
var Alphabet = strings.Split("ABCDEFGHIJKLMNOPQRSTUVWXYZ", "")

// ViewState is the ephemeral browse state. The zero value shows the first
// page of the snapshot in its fetched order.
type ViewState struct {
	Search string
	Letter string
	Sort   Column
	Desc   bool
	Page   int
}

// WithSearch sets the search text and clears the letter filter.
func (v ViewState) WithSearch(text string) ViewState {
	v.Search = text
	v.Letter = ""
	v.Page = 1
	return v
}

// WithLetter selects an initial letter and clears the search text. An empty
// letter removes the filter.
func (v ViewState) WithLetter(letter string) ViewState {
	v.Letter = letter
	v.Search = ""
	v.Page = 1
	return v
}

// WithSort sorts by column. Requesting the active column again flips the
// direction; a new column starts ascending.
func (v ViewState) WithSort(c Column) ViewState {
	if v.Sort == c {
		v.Desc = !v.Desc
	} else {
		v.Sort = c
		v.Desc = false
	}
	return v
}

// WithPage moves to page n. Out of range values are clamped by Derive.
func (v ViewState) WithPage(n int) ViewState {
	v.Page = n
	return v
}

// Result is one rendered page.
type Result struct {
	Items     []model.Score
	Total     int
	Page      int
	PageCount int
	State     ViewState
}

// HasPrev reports whether a previous page exists.
func (r Result) HasPrev() bool { return r.Page > 1 }

// HasNext reports whether a following page exists.
func (r Result) HasNext() bool { return r.Page < r.PageCount }

// Derive filters, sorts and paginates snapshot. The snapshot is never
// modified. A pageSize below one uses PageSize.
func Derive(snapshot []model.Score, state ViewState, pageSize int) Result {
	if pageSize <= 0 {
		pageSize = PageSize
	}
	filtered := Filter(snapshot, state.Search, state.Letter)
	Sort(filtered, state.Sort, state.Desc)

	total := len(filtered)
	pageCount := 1
	if total > 0 {
		pageCount = (total + pageSize - 1) / pageSize
	}
	page := min(max(state.Page, 1), pageCount)
	start := min((page-1)*pageSize, total)
	end := min(start+pageSize, total)

	state.Page = page
	return Result{
		Items:     filtered[start:end],
		Total:     total,
		Page:      page,
		PageCount: pageCount,
		State:     state,
	}
}

// Filter returns a new slice holding the records that match the search text
// (substring of title, composer or category) and the letter (title prefix).
// Both comparisons ignore case; empty values match everything.
func Filter(snapshot []model.Score, search, letter string) []model.Score {
	search = strings.ToLower(strings.TrimSpace(search))
	letter = strings.ToLower(strings.TrimSpace(letter))
	out := make([]model.Score, 0, len(snapshot))
	for _, s := range snapshot {
		if search != "" && !matchesSearch(s, search) {
			continue
		}
		if letter != "" && !strings.HasPrefix(strings.ToLower(s.Title), letter) {
			continue
		}
		out = append(out, s)
	}
	return out
}

func matchesSearch(s model.Score, term string) bool {
	return strings.Contains(strings.ToLower(s.Title), term) ||
		strings.Contains(strings.ToLower(s.Composer), term) ||
		strings.Contains(strings.ToLower(string(s.Category)), term)
}

// Sort orders records in place by column. Equal keys keep their relative
// order; ColumnNone and unknown columns leave the slice untouched.
func Sort(records []model.Score, c Column, desc bool) {
	cmp := comparator(c)
	if cmp == nil {
		return
	}
	slices.SortStableFunc(records, func(a, b model.Score) int {
		r := cmp(a, b)
		if desc {
			return -r
		}
		return r
	})
}

func comparator(c Column) func(a, b model.Score) int {
	switch c {
	case ColumnTitle:
		return func(a, b model.Score) int { return compareText(a.Title, b.Title) }
	case ColumnComposer:
		return func(a, b model.Score) int { return compareText(a.Composer, b.Composer) }
	case ColumnCategory:
		return func(a, b model.Score) int { return compareText(string(a.Category), string(b.Category)) }
	case ColumnCreatedAt:
		return func(a, b model.Score) int { return a.CreatedAt.Compare(b.CreatedAt) }
	default:
		return nil
	}
}

func compareText(a, b string) int {
	return strings.Compare(strings.ToLower(a), strings.ToLower(b))
}

// ParseColumn maps a query value onto a known column.
func ParseColumn(s string) Column {
	switch c := Column(s); c {
	case ColumnTitle, ColumnComposer, ColumnCategory, ColumnCreatedAt:
		return c
	default:
		return ColumnNone
	}
}

// FromQuery reads a ViewState from browse query parameters. When both q and
// letter are present the search text wins.
func FromQuery(q url.Values) ViewState {
	state := ViewState{
		Sort: ParseColumn(q.Get("sort")),
		Desc: q.Get("dir") == "desc",
		Page: 1,
	}
	if n, err := strconv.Atoi(q.Get("page")); err == nil {
		state.Page = n
	}
	if search := q.Get("q"); search != "" {
		state.Search = search
	} else if letter := q.Get("letter"); letter != "" {
		state.Letter = letter
	}
	if state.Sort == ColumnNone {
		state.Desc = false
	}
	return state
}

// Query encodes the state as browse query parameters.
func (v ViewState) Query() url.Values {
	q := url.Values{}
	if v.Search != "" {
		q.Set("q", v.Search)
	}
	if v.Letter != "" {
		q.Set("letter", v.Letter)
	}
	if v.Sort != ColumnNone {
		q.Set("sort", string(v.Sort))
		if v.Desc {
			q.Set("dir", "desc")
		} else {
			q.Set("dir", "asc")
		}
	}
	if v.Page > 1 {
		q.Set("page", strconv.Itoa(v.Page))
	}
	return q
}

// URL renders the state as a link to the browse page.
func (v ViewState) URL() string {
	if q := v.Query().Encode(); q != "" {
		return "/browse?" + q
	}
	return "/browse"
}
