package catalog

import (
	"fmt"
	"net/url"
	"reflect"
	"testing"
	"time"

	"github.com/kikuyu-catholic-sheets/sheets/internal/model"
)

var base = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func score(id, title, composer string, category model.Category, day int) model.Score {
	return model.Score{ID: id, Title: title, Composer: composer, Category: category, CreatedAt: base.AddDate(0, 0, day)}
}

func sample() []model.Score {
	return []model.Score{
		score("1", "Mūthirigu", "Kamau", "Wamukiri (communion)", 3),
		score("2", "Ngai Mwathani", "Wanjiru", "Kuingira (entrance)", 1),
		score("3", "Thaburi 23", "Kamau", "Thaburi (Psalms)", 2),
		score("4", "Magnificat", "Njoroge", "Nyimbo cia maria (marian songs)", 0),
	}
}

func ids(items []model.Score) []string {
	out := make([]string, len(items))
	for i, s := range items {
		out[i] = s.ID
	}
	return out
}

func TestDeriveSearchMatchesAnyField(t *testing.T) {
	snap := sample()
	cases := map[string][]string{
		"kamau":   {"1", "3"},
		"MARIAN":  {"4"},
		"ngai":    {"2"},
		"psalms":  {"3"},
		"nothing": {},
	}
	for term, want := range cases {
		got := Derive(snap, ViewState{}.WithSearch(term), 10)
		if !reflect.DeepEqual(ids(got.Items), want) {
			t.Fatalf("search %q = %v, want %v", term, ids(got.Items), want)
		}
	}
}

func TestLetterAndSearchAreExclusive(t *testing.T) {
	state := ViewState{}.WithSearch("kamau").WithLetter("T")
	if state.Search != "" || state.Letter != "T" {
		t.Fatalf("letter should clear search: %+v", state)
	}
	got := Derive(sample(), state, 10)
	if !reflect.DeepEqual(ids(got.Items), []string{"3"}) {
		t.Fatalf("letter filter = %v", ids(got.Items))
	}
	state = state.WithSearch("ngai")
	if state.Letter != "" || state.Page != 1 {
		t.Fatalf("search should clear letter and reset page: %+v", state)
	}
}

func TestSortToggle(t *testing.T) {
	state := ViewState{}.WithSort(ColumnTitle)
	if state.Sort != ColumnTitle || state.Desc {
		t.Fatalf("new column should sort ascending: %+v", state)
	}
	asc := Derive(sample(), state, 10)
	if !reflect.DeepEqual(ids(asc.Items), []string{"4", "1", "2", "3"}) {
		t.Fatalf("ascending = %v", ids(asc.Items))
	}
	state = state.WithSort(ColumnTitle)
	if !state.Desc {
		t.Fatalf("same column should toggle direction")
	}
	desc := Derive(sample(), state, 10)
	if !reflect.DeepEqual(ids(desc.Items), []string{"3", "2", "1", "4"}) {
		t.Fatalf("descending = %v", ids(desc.Items))
	}
	state = state.WithSort(ColumnCreatedAt)
	if state.Desc {
		t.Fatalf("switching column should reset to ascending")
	}
	byDate := Derive(sample(), state, 10)
	if !reflect.DeepEqual(ids(byDate.Items), []string{"4", "2", "3", "1"}) {
		t.Fatalf("by date = %v", ids(byDate.Items))
	}
}

func TestSortIsStable(t *testing.T) {
	got := Derive(sample(), ViewState{}.WithSort(ColumnComposer), 10)
	// Both Kamau records keep their snapshot order.
	if !reflect.DeepEqual(ids(got.Items), []string{"1", "3", "4", "2"}) {
		t.Fatalf("composer sort = %v", ids(got.Items))
	}
}

func TestPagination(t *testing.T) {
	var snap []model.Score
	for i := range 23 {
		snap = append(snap, score(fmt.Sprint(i), fmt.Sprintf("Song %02d", i), "C", "Mass (MITHA)", i))
	}
	first := Derive(snap, ViewState{}, 10)
	if first.Page != 1 || first.PageCount != 3 || len(first.Items) != 10 || first.HasPrev() || !first.HasNext() {
		t.Fatalf("first page wrong: page=%d count=%d len=%d", first.Page, first.PageCount, len(first.Items))
	}
	last := Derive(snap, ViewState{Page: 3}, 10)
	if len(last.Items) != 3 || last.HasNext() {
		t.Fatalf("last page has %d items", len(last.Items))
	}
	beyond := Derive(snap, ViewState{Page: 99}, 10)
	if beyond.Page != 3 || beyond.State.Page != 3 {
		t.Fatalf("page not clamped: %d", beyond.Page)
	}
	below := Derive(snap, ViewState{Page: -4}, 10)
	if below.Page != 1 {
		t.Fatalf("page not clamped to 1: %d", below.Page)
	}
}

func TestEmptyResult(t *testing.T) {
	got := Derive(nil, ViewState{Page: 5}, 10)
	if got.Page != 1 || got.PageCount != 1 || got.Total != 0 || len(got.Items) != 0 {
		t.Fatalf("empty result wrong: %+v", got)
	}
}

func TestDeriveIsPure(t *testing.T) {
	snap := sample()
	before := ids(snap)
	state := ViewState{Sort: ColumnTitle, Desc: true}
	a := Derive(snap, state, 2)
	b := Derive(snap, state, 2)
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("identical inputs gave different results")
	}
	if !reflect.DeepEqual(ids(snap), before) {
		t.Fatalf("snapshot mutated: %v", ids(snap))
	}
}

func TestUnknownColumnKeepsSnapshotOrder(t *testing.T) {
	state := FromQuery(url.Values{"sort": {"size"}, "dir": {"desc"}})
	if state.Sort != ColumnNone || state.Desc {
		t.Fatalf("unknown column parsed as %+v", state)
	}
	got := Derive(sample(), state, 10)
	if !reflect.DeepEqual(ids(got.Items), []string{"1", "2", "3", "4"}) {
		t.Fatalf("order changed: %v", ids(got.Items))
	}
}

func TestQueryRoundTrip(t *testing.T) {
	state := ViewState{Search: "ngai", Sort: ColumnComposer, Desc: true, Page: 2}
	parsed := FromQuery(state.Query())
	if parsed != state {
		t.Fatalf("round trip = %+v, want %+v", parsed, state)
	}
	if got := (ViewState{}).URL(); got != "/browse" {
		t.Fatalf("zero state url = %q", got)
	}
	both := FromQuery(url.Values{"q": {"kamau"}, "letter": {"T"}})
	if both.Search != "kamau" || both.Letter != "" {
		t.Fatalf("search should win over letter: %+v", both)
	}
}
