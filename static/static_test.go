package static

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/nesta-project/nesta/filecache"
)

func TestCheckFileRejectsEscape(t *testing.T) {
	cases := []struct {
		path string
		want bool
	}{
		{"index.html", true},
		{"sub/dir/file.txt", true},
		{"../escape.txt", false},
		{"sub/../../escape.txt", false},
		{"sub/../ok.txt", true},
		{"", false},
	}
	for _, tc := range cases {
		if got := CheckFile(tc.path); got != tc.want {
			t.Errorf("CheckFile(%q) = %v, want %v", tc.path, got, tc.want)
		}
	}
}

func TestMimeTypeQuirks(t *testing.T) {
	if got := mimeType("json"); got != "text/plain" {
		t.Errorf("json mime = %q, want text/plain", got)
	}
	if got := mimeType("html"); got != "text/html" {
		t.Errorf("html mime = %q, want text/html", got)
	}
	if got := mimeType("xyz"); got != "application/xyz" {
		t.Errorf("unknown ext mime = %q, want application/xyz", got)
	}
}

func TestServeReturns200AndSetsHeaders(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "hello.txt"), []byte("hi there"), 0644); err != nil {
		t.Fatal(err)
	}

	r := &Responder{Root: dir}
	w := httptest.NewRecorder()
	res := r.Serve(w, "", "hello.txt", 5, true, 10)

	if res.Status != http.StatusOK {
		t.Fatalf("status = %d, want 200", res.Status)
	}
	if w.Body.String() != "hi there" {
		t.Fatalf("body = %q", w.Body.String())
	}
	if w.Header().Get("Content-Type") != "text/plain" {
		t.Errorf("content-type = %q", w.Header().Get("Content-Type"))
	}
}

func TestServeReturns404ForMissingFile(t *testing.T) {
	dir := t.TempDir()
	r := &Responder{Root: dir}
	w := httptest.NewRecorder()
	res := r.Serve(w, "", "missing.txt", 5, true, 10)
	if res.Status != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", res.Status)
	}
}

func TestServeConditionalGetReturns304(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "hello.txt"), []byte("hi"), 0644); err != nil {
		t.Fatal(err)
	}
	r := &Responder{Root: dir}

	w1 := httptest.NewRecorder()
	r.Serve(w1, "", "hello.txt", 5, true, 10)
	lastModified := w1.Header().Get("Last-Modified")

	w2 := httptest.NewRecorder()
	res := r.Serve(w2, lastModified, "hello.txt", 5, true, 10)
	if res.Status != http.StatusNotModified {
		t.Fatalf("status = %d, want 304", res.Status)
	}
}

func TestServeUsesCache(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "hello.txt"), []byte("cached"), 0644); err != nil {
		t.Fatal(err)
	}
	cache := filecache.New(1 << 20)
	r := &Responder{Root: dir, Cache: cache}

	w1 := httptest.NewRecorder()
	r.Serve(w1, "", "hello.txt", 5, true, 10)
	if cache.Len() != 1 {
		t.Fatalf("expected file to populate cache, len=%d", cache.Len())
	}

	w2 := httptest.NewRecorder()
	res := r.Serve(w2, "", "hello.txt", 5, true, 10)
	if w2.Body.String() != "cached" {
		t.Fatalf("body = %q", w2.Body.String())
	}
	if res.Status != http.StatusOK {
		t.Fatalf("status = %d", res.Status)
	}
}
