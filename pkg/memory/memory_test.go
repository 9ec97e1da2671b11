package memory

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestMemory(t *testing.T) {
	t.Run("evicts oldest", func(t *testing.T) {
		m := NewMemory(3)
		for i := 0; i < 5; i++ {
			if err := m.Store(fmt.Sprintf("step %d", i)); err != nil {
				t.Fatalf("Failed to store: %v", err)
			}
		}
		want := []string{"step 2", "step 3", "step 4"}
		if diff := cmp.Diff(want, m.GetAllMessages()); diff != "" {
			t.Errorf("memory contents (-want +got):\n%s", diff)
		}
		if diff := cmp.Diff([]string{"step 4"}, m.Recent(1)); diff != "" {
			t.Errorf("Recent(1) (-want +got):\n%s", diff)
		}
	})

	t.Run("returns copies", func(t *testing.T) {
		m := NewMemory(2)
		m.Store("a")
		got := m.GetAllMessages()
		got[0] = "mutated"
		if m.GetAllMessages()[0] != "a" {
			t.Error("caller mutation leaked into memory")
		}
	})

	t.Run("clear", func(t *testing.T) {
		m := NewMemory(2)
		m.Store("a")
		m.Clear()
		if m.Len() != 0 {
			t.Errorf("Len after Clear = %d", m.Len())
		}
	})

	t.Run("zero capacity", func(t *testing.T) {
		if err := NewMemory(0).Store("a"); !errors.Is(err, ErrNoCapacity) {
			t.Errorf("Store on zero capacity: %v", err)
		}
	})

	t.Run("concurrent writers", func(t *testing.T) {
		m := NewMemory(10)
		var wg sync.WaitGroup
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				m.Store(fmt.Sprint(i))
			}(i)
		}
		wg.Wait()
		if m.Len() != 10 {
			t.Errorf("Len = %d, want 10", m.Len())
		}
	})
}
