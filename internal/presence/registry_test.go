package presence

import (
	"sort"
	"sync"
	"testing"
)

func TestRegisterAndLookup(t *testing.T) {
	r := NewRegistry()

	if _, superseded := r.Register("u1", "c1"); superseded {
		t.Fatalf("first register must not supersede")
	}
	connID, online := r.Lookup("u1")
	if !online || connID != "c1" {
		t.Fatalf("Lookup = (%q, %v), want (c1, true)", connID, online)
	}
	if !r.IsOnline("u1") {
		t.Fatalf("u1 should be online")
	}
	if r.IsOnline("u2") {
		t.Fatalf("u2 should be offline")
	}
}

func TestRegisterSupersedes(t *testing.T) {
	r := NewRegistry()
	r.Register("u1", "c1")

	prev, superseded := r.Register("u1", "c2")
	if !superseded || prev != "c1" {
		t.Fatalf("Register = (%q, %v), want (c1, true)", prev, superseded)
	}
	connID, _ := r.Lookup("u1")
	if connID != "c2" {
		t.Fatalf("newest connection must win, got %q", connID)
	}
	if r.Len() != 1 {
		t.Fatalf("Len = %d, want 1", r.Len())
	}
}

func TestUnregisterGuard(t *testing.T) {
	r := NewRegistry()
	r.Register("u1", "c1")
	r.Register("u1", "c2")

	// The superseded connection's teardown must not evict the live one.
	if r.Unregister("u1", "c1") {
		t.Fatalf("stale unregister must report false")
	}
	if !r.IsOnline("u1") {
		t.Fatalf("u1 must stay online after stale unregister")
	}

	if !r.Unregister("u1", "c2") {
		t.Fatalf("live unregister must report true")
	}
	if r.IsOnline("u1") {
		t.Fatalf("u1 must be offline after live unregister")
	}
}

func TestUnregisterUnknownUser(t *testing.T) {
	r := NewRegistry()
	if r.Unregister("ghost", "c1") {
		t.Fatalf("unregistering an unknown user must report false")
	}
}

func TestSnapshot(t *testing.T) {
	r := NewRegistry()
	r.Register("u1", "c1")
	r.Register("u2", "c2")
	r.Register("u3", "c3")
	r.Unregister("u2", "c2")

	got := r.Snapshot()
	sort.Strings(got)
	want := []string{"u1", "u3"}
	if len(got) != len(want) {
		t.Fatalf("Snapshot = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Snapshot = %v, want %v", got, want)
		}
	}
}

func TestConcurrentChurn(t *testing.T) {
	r := NewRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Register("u1", "c-a")
			r.Lookup("u1")
			r.Register("u1", "c-b")
			r.Snapshot()
			r.Unregister("u1", "c-a")
		}()
	}
	wg.Wait()

	// Whatever interleaving happened, the registry holds at most one
	// mapping for the user.
	if r.Len() > 1 {
		t.Fatalf("Len = %d, want at most 1", r.Len())
	}
}
