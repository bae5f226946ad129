package queue

import (
	"testing"
	"time"
)

func TestPushPopFIFO(t *testing.T) {
	q := New[int]()
	q.Push(1)
	q.Push(2)
	q.Push(3)

	for _, want := range []int{1, 2, 3} {
		got, ok := q.Pop()
		if !ok || got != want {
			t.Fatalf("got (%d,%v), want (%d,true)", got, ok, want)
		}
	}
}

func TestPopBlocksUntilPush(t *testing.T) {
	q := New[string]()
	done := make(chan string)
	go func() {
		v, _ := q.Pop()
		done <- v
	}()

	time.Sleep(20 * time.Millisecond)
	q.Push("hello")

	select {
	case v := <-done:
		if v != "hello" {
			t.Fatalf("got %q", v)
		}
	case <-time.After(time.Second):
		t.Fatal("Pop never returned")
	}
}

func TestPopTimeoutExpires(t *testing.T) {
	q := New[int]()
	start := time.Now()
	_, ok := q.PopTimeout(30 * time.Millisecond)
	if ok {
		t.Fatal("expected timeout with no items")
	}
	if time.Since(start) < 25*time.Millisecond {
		t.Fatal("returned too early")
	}
}

func TestPopTimeoutReturnsPushedItem(t *testing.T) {
	q := New[int]()
	q.Push(42)
	v, ok := q.PopTimeout(time.Second)
	if !ok || v != 42 {
		t.Fatalf("got (%d,%v)", v, ok)
	}
}

func TestCloseUnblocksPop(t *testing.T) {
	q := New[int]()
	done := make(chan bool)
	go func() {
		_, ok := q.Pop()
		done <- ok
	}()

	time.Sleep(20 * time.Millisecond)
	q.Close()

	select {
	case ok := <-done:
		if ok {
			t.Fatal("expected ok=false after close with no items")
		}
	case <-time.After(time.Second):
		t.Fatal("Pop never unblocked after Close")
	}
}

func TestCloseDrainsRemainingItems(t *testing.T) {
	q := New[int]()
	q.Push(1)
	q.Close()

	v, ok := q.Pop()
	if !ok || v != 1 {
		t.Fatalf("expected to drain remaining item before reporting closed, got (%d,%v)", v, ok)
	}
	if _, ok := q.Pop(); ok {
		t.Fatal("expected ok=false once drained")
	}
}

func TestEmptyAndLen(t *testing.T) {
	q := New[int]()
	if !q.Empty() {
		t.Fatal("new queue should be empty")
	}
	q.Push(1)
	q.Push(2)
	if q.Empty() {
		t.Fatal("queue with items should not report empty")
	}
	if q.Len() != 2 {
		t.Fatalf("got len %d, want 2", q.Len())
	}
}
