package state

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStoreGetUpdate(t *testing.T) {
	s := NewStore(10)
	require.Equal(t, 10, s.Get())

	s.Update(func(v int) int { return v + 5 })
	require.Equal(t, 15, s.Get())
}

func TestStoreSubscribe(t *testing.T) {
	s := NewStore("a")

	var got []string
	cancel := s.Subscribe(func(v string) { got = append(got, v) })

	s.Update(func(string) string { return "b" })
	s.Update(func(string) string { return "c" })
	require.Equal(t, []string{"b", "c"}, got)

	cancel()
	s.Update(func(string) string { return "d" })
	require.Equal(t, []string{"b", "c"}, got)
	require.Equal(t, "d", s.Get())
}

func TestStoreSubscriberOrder(t *testing.T) {
	s := NewStore(0)
	var order []string
	s.Subscribe(func(int) { order = append(order, "first") })
	s.Subscribe(func(int) { order = append(order, "second") })

	s.Update(func(v int) int { return v + 1 })
	require.Equal(t, []string{"first", "second"}, order)
}

func TestStoreConcurrentUpdates(t *testing.T) {
	s := NewStore(0)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Update(func(v int) int { return v + 1 })
		}()
	}
	wg.Wait()
	require.Equal(t, 50, s.Get())
}
