package usecase

import "sync"

// SymbolLocks hands out one mutex per symbol. Every handler touching the
// orders, positions or portfolio of a symbol runs under its lock.
type SymbolLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewSymbolLocks() *SymbolLocks {
	return &SymbolLocks{locks: make(map[string]*sync.Mutex)}
}

func (s *SymbolLocks) Lock(symbol string) func() {
	s.mu.Lock()
	l, ok := s.locks[symbol]
	if !ok {
		l = &sync.Mutex{}
		s.locks[symbol] = l
	}
	s.mu.Unlock()

	l.Lock()
	return l.Unlock
}
