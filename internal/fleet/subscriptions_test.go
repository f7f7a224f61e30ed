package fleet

import "testing"

func TestRegisterIsIdempotent(t *testing.T) {
	idx := NewIndex()
	h := &Handle{ID: "a"}

	idx.Register(h, "temp")
	idx.Register(h, "temp")

	got := idx.Subscribers("temp")
	if len(got) != 1 {
		t.Fatalf("Subscribers(temp) = %d entries, want 1 after duplicate Register", len(got))
	}
}

func TestUnregisterAbsentIsNoop(t *testing.T) {
	idx := NewIndex()
	h := &Handle{ID: "a"}
	idx.Unregister(h, "temp") // must not panic
	if got := idx.Subscribers("temp"); len(got) != 0 {
		t.Fatalf("Subscribers(temp) = %d, want 0", len(got))
	}
}

func TestAllKeyAlwaysPresent(t *testing.T) {
	idx := NewIndex()
	got := idx.Subscribers(All)
	if got == nil {
		t.Fatal("Subscribers(All) returned nil slice, want empty non-nil")
	}
	if len(got) != 0 {
		t.Fatalf("Subscribers(All) = %d entries, want 0 on a fresh index", len(got))
	}
}

func TestPruneRemovesFromEveryList(t *testing.T) {
	idx := NewIndex()
	h := &Handle{ID: "a"}
	idx.Register(h, All)
	idx.Register(h, "temp")
	idx.Register(h, "motion")

	idx.Prune(h)

	for _, evType := range []string{All, "temp", "motion"} {
		if got := idx.Subscribers(evType); len(got) != 0 {
			t.Errorf("Subscribers(%q) = %d entries after Prune, want 0", evType, len(got))
		}
	}
}

func TestSubscribersReturnsCopy(t *testing.T) {
	idx := NewIndex()
	a := &Handle{ID: "a"}
	idx.Register(a, "temp")

	got := idx.Subscribers("temp")
	got[0] = &Handle{ID: "tampered"}

	fresh := idx.Subscribers("temp")
	if fresh[0] != a {
		t.Fatal("mutating a returned slice should not affect the index's internal state")
	}
}
