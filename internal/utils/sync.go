package utils

import (
	"sync"
)

// OptionalMutex is a mutex that can be disabled at construction time. Subsystems
// that are owned by a single goroutine (the memory engine when polled only from
// its allocator's thread, for instance) can skip lock overhead without changing
// any call sites.
type OptionalMutex struct {
	Mutex    sync.Mutex
	UseMutex bool
}

func (m *OptionalMutex) Lock() {
	if m.UseMutex {
		m.Mutex.Lock()
	}
}

func (m *OptionalMutex) Unlock() {
	if m.UseMutex {
		m.Mutex.Unlock()
	}
}
