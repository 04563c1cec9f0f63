package queue

import "sync"

// Mailbox holds the most recent value only. A Put overwrites whatever was not taken yet.
type Mailbox[T any] struct {
	mu          sync.Mutex
	value       T
	full        bool
	overwritten uint64
}

// Put stores v, replacing an untaken value.
func (m *Mailbox[T]) Put(v T) {
	m.mu.Lock()
	if m.full {
		m.overwritten++
	}
	m.value = v
	m.full = true
	m.mu.Unlock()
}

// Take returns the stored value and empties the mailbox.
func (m *Mailbox[T]) Take() (T, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var zero T
	if !m.full {
		return zero, false
	}
	v := m.value
	m.value = zero
	m.full = false
	return v, true
}

// Overwritten returns how many values were replaced before being taken.
func (m *Mailbox[T]) Overwritten() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.overwritten
}
