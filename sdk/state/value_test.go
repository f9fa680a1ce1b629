package state

import (
	"errors"
	"sync"
	"testing"
)

func TestValueSetNotifies(t *testing.T) {
	v := New(1)
	var got [][2]int
	unsubscribe := v.Subscribe(func(old, current int) {
		got = append(got, [2]int{old, current})
	})
	v.Set(2)
	v.Set(3)
	unsubscribe()
	unsubscribe()
	v.Set(4)

	if v.Get() != 4 {
		t.Fatalf("Get = %d", v.Get())
	}
	if len(got) != 2 || got[0] != [2]int{1, 2} || got[1] != [2]int{2, 3} {
		t.Fatalf("notifications = %v", got)
	}
}

func TestValueUpdateError(t *testing.T) {
	v := New("a")
	notified := false
	v.Subscribe(func(string, string) { notified = true })
	errBoom := errors.New("boom")
	if err := v.Update(func(string) (string, error) { return "b", errBoom }); !errors.Is(err, errBoom) {
		t.Fatalf("Update error = %v", err)
	}
	if v.Get() != "a" || notified {
		t.Fatalf("failed update changed state: %q, notified %v", v.Get(), notified)
	}
}

func TestValueConcurrentUpdates(t *testing.T) {
	v := New(0)
	var mu sync.Mutex
	last := 0
	ordered := true
	v.Subscribe(func(old, current int) {
		mu.Lock()
		if old != last || current != old+1 {
			ordered = false
		}
		last = current
		mu.Unlock()
	})
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = v.Update(func(n int) (int, error) { return n + 1, nil })
		}()
	}
	wg.Wait()
	if v.Get() != 50 {
		t.Fatalf("Get = %d", v.Get())
	}
	if !ordered {
		t.Fatal("listeners observed out-of-order transitions")
	}
}
