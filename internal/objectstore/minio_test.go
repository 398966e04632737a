package objectstore

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// listServer answers ListObjectsV2 with the given pages, then fails with
// AccessDenied when failAfter pages have been served.
func listServer(t *testing.T, pages [][]string, failAfter int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page := 0
		if tok := r.URL.Query().Get("continuation-token"); tok != "" {
			fmt.Sscanf(tok, "page-%d", &page)
		}
		if failAfter >= 0 && page >= failAfter {
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusForbidden)
			fmt.Fprint(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>AccessDenied</Code><Message>Access Denied</Message></Error>`)
			return
		}
		var b strings.Builder
		b.WriteString(`<?xml version="1.0" encoding="UTF-8"?><ListBucketResult xmlns="http://s3.amazonaws.com/doc/2006-03-01/"><Name>sheets</Name>`)
		for _, key := range pages[page] {
			fmt.Fprintf(&b, `<Contents><Key>%s</Key><LastModified>2024-05-01T12:00:00.000Z</LastModified><Size>4</Size><ETag>"e"</ETag></Contents>`, key)
		}
		fmt.Fprintf(&b, "<KeyCount>%d</KeyCount>", len(pages[page]))
		if page+1 < len(pages) {
			fmt.Fprintf(&b, "<IsTruncated>true</IsTruncated><NextContinuationToken>page-%d</NextContinuationToken>", page+1)
		} else {
			b.WriteString("<IsTruncated>false</IsTruncated>")
		}
		b.WriteString("</ListBucketResult>")
		w.Header().Set("Content-Type", "application/xml")
		fmt.Fprint(w, b.String())
	}))
}

func newTestMinio(t *testing.T, srv *httptest.Server) *MinioStore {
	t.Helper()
	store, err := NewMinioStore(MinioOptions{
		Endpoint:  strings.TrimPrefix(srv.URL, "http://"),
		AccessKey: "key",
		SecretKey: "secret",
		Region:    "us-east-1",
		Bucket:    "sheets",
	})
	if err != nil {
		t.Fatalf("NewMinioStore: %v", err)
	}
	return store
}

func TestMinioListPages(t *testing.T) {
	srv := listServer(t, [][]string{{"scores/u1/a.pdf"}, {"scores/u1/b.pdf"}}, -1)
	defer srv.Close()
	objs, err := newTestMinio(t, srv).List(context.Background(), "scores/")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(objs) != 2 || objs[1].Path != "scores/u1/b.pdf" || objs[0].Size != 4 || objs[0].LastModified.IsZero() {
		t.Fatalf("list = %+v", objs)
	}
}

func TestMinioListStopsOnError(t *testing.T) {
	srv := listServer(t, [][]string{{"scores/u1/a.pdf"}, {"scores/u1/b.pdf"}}, 1)
	defer srv.Close()
	store := newTestMinio(t, srv)
	if _, err := store.List(context.Background(), "scores/"); err == nil || !strings.Contains(err.Error(), "list objects scores/") {
		t.Fatalf("expected list error, got %v", err)
	}
}
