package ring

import "testing"

func TestDropNewestRejectsOnFull(t *testing.T) {
	r := NewDropNewest[int](4) // rounds up to 4
	for i := 0; i < 4; i++ {
		if !r.Push(i) {
			t.Fatalf("push %d should succeed", i)
		}
	}
	if r.Push(99) {
		t.Fatal("push into full ring should fail")
	}
	if r.Overflowed() != 1 {
		t.Errorf("expected 1 overflow, got %d", r.Overflowed())
	}

	v, ok := r.Pop()
	if !ok || v != 0 {
		t.Fatalf("expected first value 0, got %v ok=%v", v, ok)
	}
}

func TestDropNewestFIFOOrder(t *testing.T) {
	r := NewDropNewest[int](8)
	for i := 0; i < 5; i++ {
		r.Push(i)
	}
	for i := 0; i < 5; i++ {
		v, ok := r.Pop()
		if !ok || v != i {
			t.Fatalf("pop %d: got %v ok=%v", i, v, ok)
		}
	}
	if _, ok := r.Pop(); ok {
		t.Fatal("pop from empty ring should fail")
	}
}

func TestDropOldestEvictsOnFull(t *testing.T) {
	r := NewDropOldest[int](3)
	r.Push(1)
	r.Push(2)
	r.Push(3)
	r.Push(4) // evicts 1

	got := r.DrainAll()
	want := []int{2, 3, 4}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestDropOldestEmptyPop(t *testing.T) {
	r := NewDropOldest[int](2)
	if _, ok := r.Pop(); ok {
		t.Fatal("pop from empty ring should fail")
	}
}
