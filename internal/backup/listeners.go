package backup

import (
	"slices"
	"sync"
)

// Listeners is the subject agents use to ask the host to re-enumerate
// them. The composer owns it; there is no package-level instance.
type Listeners struct {
	mu    sync.Mutex
	next  int
	funcs map[int]func()
}

// NewListeners returns an empty subject.
func NewListeners() *Listeners {
	return &Listeners{funcs: map[int]func(){}}
}

// Register adds fn and returns a function that removes it again.
// Calling the remover more than once is a no-op.
func (l *Listeners) Register(fn func()) (remove func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	id := l.next
	l.next++
	l.funcs[id] = fn
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.funcs, id)
	}
}

// Notify calls every registered listener in registration order.
// Listeners run outside the lock so they may register or remove others.
func (l *Listeners) Notify() {
	l.mu.Lock()
	ids := make([]int, 0, len(l.funcs))
	for id := range l.funcs {
		ids = append(ids, id)
	}
	fns := make([]func(), 0, len(ids))
	slices.Sort(ids)
	for _, id := range ids {
		fns = append(fns, l.funcs[id])
	}
	l.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// Len reports the number of registered listeners.
func (l *Listeners) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.funcs)
}
