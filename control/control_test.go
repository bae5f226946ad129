package control

import (
	"strings"
	"testing"
	"time"

	"github.com/nesta-project/nesta/internal/logger"
)

func TestIsCommand(t *testing.T) {
	cases := []struct {
		peer    string
		content string
		query   map[string][]string
		want    bool
	}{
		{"127.0.0.1", "", map[string][]string{"cmd": {"status"}}, true},
		{"10.0.0.1", "", map[string][]string{"cmd": {"status"}}, false},
		{"127.0.0.1", "index.html", map[string][]string{"cmd": {"status"}}, false},
		{"127.0.0.1", "", map[string][]string{"cmd": {"status"}, "x": {"1"}}, false},
		{"127.0.0.1", "", map[string][]string{"other": {"1"}}, false},
	}
	for _, tc := range cases {
		if got := IsCommand(tc.peer, tc.content, tc.query); got != tc.want {
			t.Errorf("IsCommand(%q,%q,%v) = %v, want %v", tc.peer, tc.content, tc.query, got, tc.want)
		}
	}
}

func TestExecuteUnknownCommand(t *testing.T) {
	c := New(time.Now(), logger.New(false), func() {}, func(bool) {})
	_, ok := c.Execute("bogus")
	if ok {
		t.Fatal("expected unknown command to report ok=false")
	}
}

func TestExecuteTraceToggle(t *testing.T) {
	var traced bool
	c := New(time.Now(), logger.New(false), func() {}, func(v bool) { traced = v })

	if body, ok := c.Execute(CmdTraceOn); !ok || !strings.Contains(body, "on") {
		t.Fatalf("trace_on: body=%q ok=%v", body, ok)
	}
	if !traced {
		t.Fatal("expected setTrace(true) to have been called")
	}

	if body, ok := c.Execute(CmdTraceOff); !ok || !strings.Contains(body, "off") {
		t.Fatalf("trace_off: body=%q ok=%v", body, ok)
	}
	if traced {
		t.Fatal("expected setTrace(false) to have been called")
	}
}

func TestExecuteStopInvokesShutdown(t *testing.T) {
	var stopped bool
	c := New(time.Now(), logger.New(false), func() { stopped = true }, func(bool) {})

	body, ok := c.Execute(CmdStop)
	if !ok || !strings.Contains(body, "stopped") {
		t.Fatalf("stop: body=%q ok=%v", body, ok)
	}
	if !stopped {
		t.Fatal("expected shutdown() to have been invoked")
	}
}

func TestExecuteStatusWithNoPools(t *testing.T) {
	c := New(time.Now(), logger.New(false), func() {}, func(bool) {})
	body, ok := c.Execute(CmdStatus)
	if !ok {
		t.Fatal("expected status command to be recognized")
	}
	if !strings.Contains(body, "total 0 requests") {
		t.Fatalf("expected empty-pool status header, got %q", body)
	}
}
