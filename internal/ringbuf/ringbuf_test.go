package ringbuf

import (
	"sync"
	"testing"
)

func TestRing_Order(t *testing.T) {
	r := New[int](100)
	for i := 1; i <= 10; i++ {
		r.Push(i)
	}
	got := r.Snapshot()
	if len(got) != 10 {
		t.Fatalf("len = %d, want 10", len(got))
	}
	for i, v := range got {
		if v != i+1 {
			t.Errorf("got[%d] = %d, want %d", i, v, i+1)
		}
	}
	if r.Evicted() != 0 {
		t.Errorf("evicted = %d before wrap", r.Evicted())
	}
}

func TestRing_Wraparound(t *testing.T) {
	r := New[int](5) // tiny buffer

	// Push 8 values; the first 3 are evicted.
	for i := 1; i <= 8; i++ {
		r.Push(i)
	}
	if r.Len() != 5 {
		t.Fatalf("Len() = %d, want 5", r.Len())
	}
	got := r.Snapshot()
	if got[0] != 4 || got[4] != 8 {
		t.Errorf("snapshot = %v, want [4 5 6 7 8]", got)
	}
	if r.Evicted() != 3 {
		t.Errorf("evicted = %d, want 3", r.Evicted())
	}

	last := r.Last(2)
	if len(last) != 2 || last[0] != 7 || last[1] != 8 {
		t.Errorf("Last(2) = %v, want [7 8]", last)
	}
	if all := r.Last(50); len(all) != 5 {
		t.Errorf("Last(50) returned %d values", len(all))
	}
}

func TestRing_Empty(t *testing.T) {
	r := New[string](0)
	if r.Cap() != 100 {
		t.Errorf("default cap = %d, want 100", r.Cap())
	}
	if got := r.Last(3); len(got) != 0 {
		t.Fatalf("empty ring returned %v", got)
	}
}

func TestRing_Concurrent(t *testing.T) {
	r := New[int](64)
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				r.Push(i)
				_ = r.Last(8)
			}
		}()
	}
	wg.Wait()
	if r.Len() != 64 {
		t.Errorf("Len() = %d, want 64", r.Len())
	}
	if r.Evicted() != 4000-64 {
		t.Errorf("evicted = %d, want %d", r.Evicted(), 4000-64)
	}
}
