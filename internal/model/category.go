package model

import (
	"fmt"
	"strings"
)

// Category is one of the fixed liturgical sections a score belongs to.
type Category string

// Categories in the order the upload form offers them.
var Categories = []Category{
	"Kuingira (entrance)",
	"Mass (MITHA)",
	"Mathomo (readings)",
	"Thaburi (Psalms)",
	"Matega (sadaka)",
	"Wamukiri (communion)",
	"Gucokia ngatho (thanksgiving)",
	"Kurikia Mitha (EXIT SONG)",
	"Nyimbo cia maria (marian songs)",
	"Ngunurano (ordination songs)",
	"Nyimboo cia macindano (Set pieces)",
	"Itiia (Eucharist Adoration songs)",
}

// ParseCategory returns the matching Category or an error for values outside
// the fixed list. Surrounding whitespace is ignored.
func ParseCategory(s string) (Category, error) {
	s = strings.TrimSpace(s)
	for _, c := range Categories {
		if string(c) == s {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown category %q", s)
}

func (c Category) String() string { return string(c) }
