package dispatcher

import "sync"

// staging is a mutex-guarded append-only list: the Go equivalent of
// one of the spec's four staging lists, each "guarded by its own
// serialization domain" (spec.md §4.5.2). A single goroutine (the
// delivery loop) drains it; any number of goroutines may push.
type staging[T any] struct {
	mu    sync.Mutex
	items []T
}

func (s *staging[T]) push(item T) {
	s.mu.Lock()
	s.items = append(s.items, item)
	s.mu.Unlock()
}

// drain atomically takes ownership of everything staged so far,
// leaving the staging list empty.
func (s *staging[T]) drain() []T {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.items) == 0 {
		return nil
	}
	out := s.items
	s.items = nil
	return out
}
