package session

import (
	"path/filepath"
	"sync"
	"testing"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "sessions"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestGetOrCreate_StableUntilCleared(t *testing.T) {
	s := newStore(t)

	first, err := s.GetOrCreate("u1")
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	if first == "" {
		t.Fatal("empty session id")
	}

	again, err := s.GetOrCreate("u1")
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if again != first {
		t.Fatalf("session changed between calls: %q vs %q", again, first)
	}

	if err := s.Clear("u1"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	fresh, err := s.GetOrCreate("u1")
	if err != nil {
		t.Fatalf("after clear: %v", err)
	}
	if fresh == first {
		t.Fatal("clear must end the session")
	}
}

func TestGetOrCreate_IsolatedPerUser(t *testing.T) {
	s := newStore(t)

	a, _ := s.GetOrCreate("alice")
	b, _ := s.GetOrCreate("bob")
	if a == b {
		t.Fatal("users must not share sessions")
	}
}

func TestClear_UnknownUserIsNoop(t *testing.T) {
	s := newStore(t)
	if err := s.Clear("ghost"); err != nil {
		t.Fatalf("clearing an absent session must not error: %v", err)
	}
}

func TestGetOrCreate_ConcurrentSameUser(t *testing.T) {
	s := newStore(t)

	const n = 16
	ids := make([]string, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			id, err := s.GetOrCreate("u1")
			if err != nil {
				t.Errorf("concurrent get: %v", err)
				return
			}
			ids[i] = id
		}(i)
	}
	wg.Wait()

	for i := 1; i < n; i++ {
		if ids[i] != ids[0] {
			t.Fatalf("concurrent callers got different sessions: %q vs %q", ids[i], ids[0])
		}
	}
}
