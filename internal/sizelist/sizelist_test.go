package sizelist

import (
	"testing"

	"github.com/dupd-go/dupd/internal/arena"
)

func TestAppendOrderAndLen(t *testing.T) {
	l := New(4)
	a := l.Append(arena.Ref(10), 100)
	b := l.Append(arena.Ref(20), 200)
	c := l.Append(arena.Ref(30), 300)

	if l.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", l.Len())
	}
	items := l.Items()
	if len(items) != 3 || items[0] != a || items[1] != b || items[2] != c {
		t.Fatalf("unexpected order: %v", items)
	}
}

func TestUnlinkMiddleNode(t *testing.T) {
	l := New(4)
	a := l.Append(arena.Ref(1), 10)
	b := l.Append(arena.Ref(2), 20)
	c := l.Append(arena.Ref(3), 30)

	if !l.Unlink(b) {
		t.Fatalf("expected unlink of middle node to succeed")
	}
	items := l.Items()
	if len(items) != 2 || items[0] != a || items[1] != c {
		t.Fatalf("unexpected order after unlink: %v", items)
	}
}

func TestUnlinkTail(t *testing.T) {
	l := New(4)
	a := l.Append(arena.Ref(1), 10)
	b := l.Append(arena.Ref(2), 20)

	if !l.Unlink(b) {
		t.Fatalf("expected unlink of tail to succeed")
	}
	if l.Tail != a {
		t.Fatalf("expected tail to become %v, got %v", a, l.Tail)
	}
}

func TestHeadIsNeverUnlinked(t *testing.T) {
	l := New(4)
	a := l.Append(arena.Ref(1), 10)
	l.Append(arena.Ref(2), 20)

	if l.Unlink(a) {
		t.Fatalf("unlinking the head node should be a no-op")
	}
	if l.Len() != 2 {
		t.Fatalf("Len() changed after refusing head unlink")
	}
}
