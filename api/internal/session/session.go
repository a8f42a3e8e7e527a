// Package session holds the per-tab key/value cache shared by the uploader
// and the dashboard. Nothing here is durable.
package session

import (
	"sync"
)

const (
	KeyDashboardData = "dashboardData"
	KeyResultID      = "resultId"
)

type Store interface {
	Get(key string) (string, bool)
	Set(key, value string)
	Delete(key string)
	Clear()
}

// Memory is an in-process Store.
type Memory struct {
	m sync.Map // key -> string
}

func NewMemory() *Memory { return &Memory{} }

func (s *Memory) Get(key string) (string, bool) {
	if v, ok := s.m.Load(key); ok {
		if str, ok := v.(string); ok {
			return str, true
		}
	}
	return "", false
}

func (s *Memory) Set(key, value string) { s.m.Store(key, value) }

func (s *Memory) Delete(key string) { s.m.Delete(key) }

func (s *Memory) Clear() { s.m.Clear() }

// Registry hands out one Memory per session key (a chat, a CLI run).
type Registry struct {
	stores sync.Map // key -> *Memory
}

func NewRegistry() *Registry { return &Registry{} }

func (r *Registry) For(key string) Store {
	v, _ := r.stores.LoadOrStore(key, NewMemory())
	return v.(*Memory)
}
