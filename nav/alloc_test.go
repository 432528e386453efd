package nav

import "testing"

func TestScratchArenaAlloc(t *testing.T) {
	a := NewScratchArena(64)
	a.Acquire()
	defer a.Release()

	p := a.Alloc(40)
	if p == nil || len(p) != 40 {
		t.Fatalf("Alloc(40) = %v", p)
	}
	p[0] = 0xff

	q := a.Alloc(24)
	if q == nil {
		t.Fatal("Alloc(24) should fit")
	}
	if a.Alloc(1) != nil {
		t.Error("arena exhausted, Alloc should return nil")
	}
	if a.HighWater() != 64 {
		t.Errorf("HighWater = %d, want 64", a.HighWater())
	}
}

func TestScratchArenaResetZeroes(t *testing.T) {
	a := NewScratchArena(16)
	a.Acquire()
	p := a.Alloc(16)
	for i := range p {
		p[i] = 0xaa
	}
	a.Release()

	a.Acquire()
	defer a.Release()
	p = a.Alloc(16)
	for i, b := range p {
		if b != 0 {
			t.Fatalf("byte %d not zeroed after reset: %#x", i, b)
		}
	}
}

func TestScratchArenaReentrantPanics(t *testing.T) {
	a := NewScratchArena(16)
	a.Acquire()
	defer a.Release()

	defer func() {
		if recover() == nil {
			t.Error("reentrant Acquire did not panic")
		}
	}()
	a.Acquire()
}
