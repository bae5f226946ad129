package accesslog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nesta-project/nesta/internal/logger"
)

func TestWriteAppendsLine(t *testing.T) {
	dir := t.TempDir()
	fname := filepath.Join(dir, "access.log")

	w, err := New(fname, false, logger.New(false), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	w.Write(Entry{
		PeerAddr: "192.0.2.1:5555",
		Method:   "GET",
		URI:      "/index.html",
		Proto:    "HTTP/1.1",
		Status:   200,
		Bytes:    1234,
		At:       time.Now(),
	})

	data, err := os.ReadFile(fname)
	if err != nil {
		t.Fatal(err)
	}
	line := string(data)
	if !strings.Contains(line, "192.0.2.1") {
		t.Errorf("expected client ip in line: %q", line)
	}
	if !strings.Contains(line, `"GET /index.html HTTP/1.1"`) {
		t.Errorf("expected request line in output: %q", line)
	}
	if !strings.Contains(line, "200") {
		t.Errorf("expected status in output: %q", line)
	}
}

func TestWriteNoopWhenDisabled(t *testing.T) {
	w, err := New("", false, logger.New(false), nil)
	if err != nil {
		t.Fatal(err)
	}
	// Should not panic despite no file handle.
	w.Write(Entry{PeerAddr: "127.0.0.1:1", Method: "GET", URI: "/", Proto: "HTTP/1.1", Status: 200})
}

func TestClientIPPrefersForwardedFor(t *testing.T) {
	got := clientIP("10.0.0.1:80", "203.0.113.5, 10.0.0.1")
	if got != "203.0.113.5" {
		t.Errorf("got %q, want 203.0.113.5", got)
	}
}

func TestClientIPFallsBackToPeer(t *testing.T) {
	got := clientIP("10.0.0.1:80", "")
	if got != "10.0.0.1" {
		t.Errorf("got %q, want 10.0.0.1", got)
	}
}

func TestDailyRotationFileName(t *testing.T) {
	dir := t.TempDir()
	fname := filepath.Join(dir, "access.log")

	w, err := New(fname, true, logger.New(false), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	w.Write(Entry{PeerAddr: "127.0.0.1:1", Method: "GET", URI: "/", Proto: "HTTP/1.1", Status: 200, At: time.Now()})

	expected := filepath.Join(dir, "access_"+currentDate()+".log")
	if _, err := os.Stat(expected); err != nil {
		t.Fatalf("expected daily-rotated file %s to exist: %v", expected, err)
	}
}
