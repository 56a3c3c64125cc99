package atomiccell

import (
	"sync"
	"testing"
)

func TestReadWrite(t *testing.T) {
	c := New(5)
	if got := c.Read(); got != 5 {
		t.Fatalf("Read() = %d, want 5", got)
	}
	c.Write(9)
	if got := c.Read(); got != 9 {
		t.Fatalf("Read() = %d, want 9", got)
	}
}

func TestCompareAndSwap(t *testing.T) {
	c := New(1)
	eq := func(a, b int) bool { return a == b }

	if _, swapped := c.CompareAndSwap(2, 3, eq); swapped {
		t.Fatal("swap succeeded against a stale expectation")
	}
	if got := c.Read(); got != 1 {
		t.Fatalf("value changed after failed CAS: %d", got)
	}

	if _, swapped := c.CompareAndSwap(1, 7, eq); !swapped {
		t.Fatal("swap failed against the correct expectation")
	}
	if got := c.Read(); got != 7 {
		t.Fatalf("Read() = %d, want 7", got)
	}
}

func TestUpdateUnderContention(t *testing.T) {
	c := New(0)
	var wg sync.WaitGroup
	const goroutines = 50
	const perGoroutine = 200

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				c.Update(func(cur int) int { return cur + 1 })
			}
		}()
	}
	wg.Wait()

	if got := c.Read(); got != goroutines*perGoroutine {
		t.Fatalf("Read() = %d, want %d", got, goroutines*perGoroutine)
	}
}

func TestAccumulate(t *testing.T) {
	c := New(10)
	old, new := c.Accumulate(5, func(cur int, x any) int { return cur + x.(int) })
	if old != 10 || new != 15 {
		t.Fatalf("Accumulate() = (%d, %d), want (10, 15)", old, new)
	}
}
