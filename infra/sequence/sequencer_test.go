package sequence

import (
	"sync"
	"testing"
)

func TestNextIsMonotonicUnderContention(t *testing.T) {
	s := New(0)

	const workers, per = 8, 1000
	seen := make(chan uint64, workers*per)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < per; i++ {
				seen <- s.Next()
			}
		}()
	}
	wg.Wait()
	close(seen)

	unique := make(map[uint64]struct{}, workers*per)
	for v := range seen {
		if _, dup := unique[v]; dup {
			t.Fatalf("duplicate id %d", v)
		}
		unique[v] = struct{}{}
	}
	if s.Current() != workers*per {
		t.Fatalf("expected current %d, got %d", workers*per, s.Current())
	}
}

func TestObserveOnlyMovesForward(t *testing.T) {
	s := New(10)
	s.Observe(5)
	if s.Current() != 10 {
		t.Fatalf("observe lowered sequencer to %d", s.Current())
	}
	s.Observe(42)
	if got := s.Next(); got != 43 {
		t.Fatalf("expected 43, got %d", got)
	}
}
