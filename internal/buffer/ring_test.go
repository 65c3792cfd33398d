package buffer

import (
	"reflect"
	"testing"
)

func TestRingKeepsMostRecent(t *testing.T) {
	ring := NewRing[int](3)
	for i := 1; i <= 5; i++ {
		ring.Add(i)
	}
	if ring.Len() != 3 || ring.Cap() != 3 {
		t.Fatalf("expected len 3 cap 3, got %d %d", ring.Len(), ring.Cap())
	}
	if got := ring.List(); !reflect.DeepEqual(got, []int{3, 4, 5}) {
		t.Fatalf("expected [3 4 5], got %v", got)
	}
}

func TestRingPartialAndReset(t *testing.T) {
	ring := NewRing[string](0)
	if ring.Cap() != 1 {
		t.Fatalf("expected minimum capacity 1, got %d", ring.Cap())
	}
	ring.Add("a")
	ring.Add("b")
	if got := ring.List(); !reflect.DeepEqual(got, []string{"b"}) {
		t.Fatalf("expected [b], got %v", got)
	}
	ring.Reset()
	if ring.Len() != 0 || ring.List() != nil {
		t.Fatalf("expected empty ring after reset")
	}
}

func TestNilRing(t *testing.T) {
	var ring *Ring[int]
	ring.Add(1)
	ring.Reset()
	if ring.Len() != 0 || ring.Cap() != 0 || ring.List() != nil {
		t.Fatalf("expected nil ring to be empty")
	}
}
