package useragent

import (
	"slices"
	"sync"
	"testing"
)

func TestNewPool_Defaults(t *testing.T) {
	p := NewPool(nil, RoundRobin)
	if p.Len() != len(Defaults) {
		t.Errorf("expected %d defaults, got %d", len(Defaults), p.Len())
	}
}

func TestPool_RoundRobin(t *testing.T) {
	uas := []string{"A", "B", "C"}
	p := NewPool(uas, RoundRobin)

	// Mutating the caller's slice must not leak into the pool
	uas[0] = "Z"

	want := []string{"A", "B", "C", "A"}
	for i, w := range want {
		if got := p.Next(); got != w {
			t.Errorf("call %d: expected %s, got %s", i, w, got)
		}
	}
}

func TestPool_Random(t *testing.T) {
	uas := []string{"A", "B", "C"}
	p := NewPool(uas, Random)

	for i := 0; i < 50; i++ {
		if got := p.Next(); !slices.Contains(uas, got) {
			t.Fatalf("unexpected User-Agent %q", got)
		}
	}
}

func TestPool_Concurrent(t *testing.T) {
	p := NewPool([]string{"A", "B"}, RoundRobin)

	var wg sync.WaitGroup
	var mu sync.Mutex
	counts := map[string]int{}
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ua := p.Next()
			mu.Lock()
			counts[ua]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	if counts["A"] != 50 || counts["B"] != 50 {
		t.Errorf("expected an even split, got %v", counts)
	}
}

func TestPool_Nil(t *testing.T) {
	var p *Pool
	if got := p.Next(); got != "" {
		t.Errorf("expected empty User-Agent from nil pool, got %q", got)
	}
}
