package session

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMemory(t *testing.T) {
	s := NewMemory()
	_, ok := s.Get(KeyResultID)
	assert.False(t, ok)

	s.Set(KeyResultID, "r-1")
	s.Set(KeyDashboardData, "{}")
	v, ok := s.Get(KeyResultID)
	assert.True(t, ok)
	assert.Equal(t, "r-1", v)

	s.Delete(KeyResultID)
	_, ok = s.Get(KeyResultID)
	assert.False(t, ok)

	s.Clear()
	_, ok = s.Get(KeyDashboardData)
	assert.False(t, ok)
}

func TestRegistryIsolatesSessions(t *testing.T) {
	r := NewRegistry()
	r.For("chat:1").Set(KeyResultID, "a")
	r.For("chat:2").Set(KeyResultID, "b")

	v, _ := r.For("chat:1").Get(KeyResultID)
	assert.Equal(t, "a", v)
	v, _ = r.For("chat:2").Get(KeyResultID)
	assert.Equal(t, "b", v)

	_, ok := r.For("chat:3").Get(KeyResultID)
	assert.False(t, ok)
}

func TestRegistryConcurrentFor(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	stores := make([]Store, 16)
	for i := range stores {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			stores[i] = r.For("same")
		}(i)
	}
	wg.Wait()
	for _, s := range stores[1:] {
		assert.Same(t, stores[0], s)
	}
}
