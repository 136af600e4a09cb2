package queue

import (
	"testing"
	"time"
)

func TestQueue_PushIdempotent(t *testing.T) {
	q := New()

	if !q.Push("ep1") {
		t.Error("first Push should report added")
	}
	if q.Push("ep1") {
		t.Error("second Push of same key should be a no-op")
	}
	if q.Len() != 1 {
		t.Errorf("Len = %d, want 1", q.Len())
	}
}

func TestQueue_PriorityOrdering(t *testing.T) {
	q := New()
	q.Push("a")
	q.Push("b")
	q.PushFront("c")

	want := []string{"c", "a", "b"}
	for _, expected := range want {
		key, ok := q.PopBlocking()
		if !ok {
			t.Fatal("PopBlocking returned ok=false with items pending")
		}
		if key != expected {
			t.Errorf("pop order: got %q, want %q", key, expected)
		}
	}
}

func TestQueue_PushFrontMovesExisting(t *testing.T) {
	q := New()
	q.Push("a")
	q.Push("b")
	q.PushFront("b")

	if q.Len() != 2 {
		t.Fatalf("Len = %d, want 2 (PushFront must not duplicate)", q.Len())
	}
	key, _ := q.PopBlocking()
	if key != "b" {
		t.Errorf("first pop = %q, want %q", key, "b")
	}
}

func TestQueue_Remove(t *testing.T) {
	q := New()
	q.Push("a")
	q.Push("b")

	if !q.Remove("a") {
		t.Error("Remove of pending key should report true")
	}
	if q.Remove("a") {
		t.Error("Remove of absent key should report false")
	}
	if q.Len() != 1 {
		t.Errorf("Len = %d, want 1", q.Len())
	}
}

func TestQueue_PopBlocksUntilPush(t *testing.T) {
	q := New()

	got := make(chan string, 1)
	go func() {
		key, ok := q.PopBlocking()
		if !ok {
			t.Error("PopBlocking should return ok=true after Push")
		}
		got <- key
	}()

	// Give the popper a moment to block
	time.Sleep(20 * time.Millisecond)
	q.Push("ep1")

	select {
	case key := <-got:
		if key != "ep1" {
			t.Errorf("popped %q, want %q", key, "ep1")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("PopBlocking did not wake after Push")
	}
}

func TestQueue_CloseWakesBlockedPop(t *testing.T) {
	q := New()

	done := make(chan bool, 1)
	go func() {
		_, ok := q.PopBlocking()
		done <- ok
	}()

	time.Sleep(20 * time.Millisecond)
	q.Close()

	select {
	case ok := <-done:
		if ok {
			t.Error("PopBlocking should return ok=false after Close on empty queue")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("PopBlocking did not wake after Close")
	}
}

func TestQueue_PendingSurvivesClose(t *testing.T) {
	q := New()
	q.Push("a")
	q.Close()

	// The pending key drains before the closed signal applies
	key, ok := q.PopBlocking()
	if !ok || key != "a" {
		t.Fatalf("PopBlocking = (%q, %v), want (\"a\", true)", key, ok)
	}

	_, ok = q.PopBlocking()
	if ok {
		t.Error("empty closed queue should report ok=false")
	}

	// Reopen restores blocking behavior for a restarted worker
	q.Reopen()
	q.Push("b")
	key, ok = q.PopBlocking()
	if !ok || key != "b" {
		t.Fatalf("after Reopen: PopBlocking = (%q, %v), want (\"b\", true)", key, ok)
	}
}
