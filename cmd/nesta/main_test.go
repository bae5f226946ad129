package main

import (
	"bytes"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConf(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	fname := filepath.Join(dir, "nesta.conf")
	if err := os.WriteFile(fname, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	return fname
}

func TestTraceCmdRejectsInvalidMode(t *testing.T) {
	cmd := traceCmd(new(string))
	cmd.SetArgs([]string{"sideways"})
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	if err := cmd.Execute(); err == nil {
		t.Fatal("expected error for invalid trace mode")
	}
}

func TestVersionCmdPrintsVersion(t *testing.T) {
	cmd := versionCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	err := cmd.RunE(cmd, nil)
	if err != nil {
		t.Fatal(err)
	}
	if got := strings.TrimSpace(out.String()); got != version {
		t.Fatalf("printed %q, want %q", got, version)
	}
}

func TestRunControlCommandReportsNotRunningWhenNoServer(t *testing.T) {
	fname := writeConf(t, "http.port_no=18081\nhttp.document_root=.\n")

	// No server is listening on 18081 — should report "not running." rather
	// than returning an error (command.c's url_post returns NULL on
	// connection failure and the caller prints "not running.").
	err := runControlCommand(fname, "status")
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
}

func TestStopCmdUsesConfiguredPort(t *testing.T) {
	got := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got <- r.URL.Query().Get("cmd")
		w.Write([]byte("stopped.\n"))
	}))
	defer srv.Close()
	_, port, err := net.SplitHostPort(srv.Listener.Addr().String())
	if err != nil {
		t.Fatal(err)
	}

	fname := writeConf(t, "http.port_no="+port+"\nhttp.document_root=.\n")
	cmd := stopCmd(&fname)
	if !strings.Contains(cmd.Use, "stop") {
		t.Fatalf("unexpected Use: %s", cmd.Use)
	}
	if err := cmd.RunE(cmd, nil); err != nil {
		t.Fatal(err)
	}
	select {
	case c := <-got:
		if c != "stop" {
			t.Fatalf("sent cmd=%q, want stop", c)
		}
	default:
		t.Fatal("no control request reached the configured port")
	}
}
