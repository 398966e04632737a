// Package pdfutil reads metadata out of uploaded score PDFs.
package pdfutil

import (
	"bytes"
	"errors"
	"fmt"

	pdf "github.com/ledongthuc/pdf"
)

// CountPages parses PDF bytes with ledongthuc/pdf and returns the number of
// pages. The parser panics on some malformed inputs; those surface as errors.
func CountPages(data []byte) (pages int, err error) {
	if len(data) == 0 {
		return 0, errors.New("empty pdf")
	}
	defer func() {
		if r := recover(); r != nil {
			pages, err = 0, fmt.Errorf("parse pdf: %v", r)
		}
	}()
	doc, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return 0, fmt.Errorf("new pdf reader: %w", err)
	}
	return doc.NumPage(), nil
}
