package relay

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/nesta-project/nesta/internal/logger"
	"github.com/nesta-project/nesta/session"
	"github.com/nesta-project/nesta/workerpool"
)

func newTestServer() (*Server, *session.Manager) {
	log := logger.New(false)
	mgr := session.NewManager(log, time.Hour)
	mgr.RegisterZone("app", -1, -1)
	srv := NewServer(mgr, NewClient(time.Second), log, "127.0.0.1", 9080, nil)
	return srv, mgr
}

func TestServerHelloServer(t *testing.T) {
	srv, _ := newTestServer()
	client, server := net.Pipe()
	defer client.Close()

	done := make(chan struct{})
	go func() {
		srv.Handle(context.Background(), server, &workerpool.Slot{})
		close(done)
	}()

	if err := WriteCommand(client, CmdHelloServer); err != nil {
		t.Fatal(err)
	}
	reply, err := ReadBytes(client, 2)
	if err != nil {
		t.Fatal(err)
	}
	if string(reply) != "OK" {
		t.Fatalf("got %q, want OK", reply)
	}
	<-done
}

func TestServerCopySessionThenRequestSession(t *testing.T) {
	srv, mgr := newTestServer()

	// Seed a session via CS.
	c1, s1 := net.Pipe()
	done1 := make(chan struct{})
	go func() { srv.Handle(context.Background(), s1, &workerpool.Slot{}); close(done1) }()

	if err := WriteCommand(c1, CmdCopySession); err != nil {
		t.Fatal(err)
	}
	if err := WriteString(c1, "app"); err != nil {
		t.Fatal(err)
	}
	if err := WriteString(c1, "skey1"); err != nil {
		t.Fatal(err)
	}
	if err := WriteString(c1, "sid1"); err != nil {
		t.Fatal(err)
	}
	if err := WriteString(c1, "10.0.0.9"); err != nil {
		t.Fatal(err)
	}
	if err := WriteShort(c1, 9080); err != nil {
		t.Fatal(err)
	}
	if err := WriteCopyServers(c1, nil); err != nil {
		t.Fatal(err)
	}
	if err := WriteInt64(c1, 42); err != nil {
		t.Fatal(err)
	}
	if err := WriteShort(c1, 1); err != nil {
		t.Fatal(err)
	}
	if err := WriteString(c1, "color"); err != nil {
		t.Fatal(err)
	}
	if err := WriteShort(c1, 3); err != nil {
		t.Fatal(err)
	}
	if err := WriteBytes(c1, []byte("red")); err != nil {
		t.Fatal(err)
	}
	c1.Close()
	<-done1

	zone := mgr.Zone("app")
	sess, ok := zone.Get("skey1")
	if !ok {
		t.Fatal("expected session installed by CS")
	}
	if v, _ := sess.Get("color"); string(v) != "red" {
		t.Fatalf("got %q, want red", v)
	}
	if sess.OwnerFlag {
		t.Fatal("copy-installed session must not be locally owned")
	}

	// Request the session via RS. The pull from the recorded owner
	// (10.0.0.9) fails, so the installed copy is returned as is.
	c2, s2 := net.Pipe()
	done2 := make(chan struct{})
	go func() { srv.Handle(context.Background(), s2, &workerpool.Slot{}); close(done2) }()

	if err := WriteCommand(c2, CmdRequestSession); err != nil {
		t.Fatal(err)
	}
	if err := WriteString(c2, "app"); err != nil {
		t.Fatal(err)
	}
	if err := WriteString(c2, "skey1"); err != nil {
		t.Fatal(err)
	}
	if err := WriteString(c2, "10.0.0.7"); err != nil {
		t.Fatal(err)
	}
	if err := WriteShort(c2, 9081); err != nil {
		t.Fatal(err)
	}
	if err := WriteCopyServers(c2, nil); err != nil {
		t.Fatal(err)
	}
	if ts, err := ReadInt64(c2); err != nil || ts != 42 {
		t.Fatalf("timestamp = %d, %v; want 42", ts, err)
	}
	if n, err := ReadShort(c2); err != nil || n != 1 {
		t.Fatalf("entry count = %d, %v; want 1", n, err)
	}
	if k, err := ReadString(c2, MaxHashKeySize); err != nil || k != "color" {
		t.Fatalf("key = %q, %v; want color", k, err)
	}
	vlen, err := ReadShort(c2)
	if err != nil {
		t.Fatal(err)
	}
	if v, err := ReadBytes(c2, int(vlen)); err != nil || string(v) != "red" {
		t.Fatalf("value = %q, %v; want red", v, err)
	}
	c2.Close()
	<-done2

	if sess.OwnerHost != "10.0.0.7" {
		t.Fatalf("owner host = %q, want 10.0.0.7", sess.OwnerHost)
	}
	if sess.OwnerFlag {
		t.Fatal("session handed off via RS must not remain locally owned")
	}
}
