package usecase

import (
	"context"
	"sync"
)

// OptimizerGate lets a single portfolio optimizer run per asset key across
// every exchange of the process.
type OptimizerGate struct {
	mu      sync.Mutex
	running map[string]bool
}

func NewOptimizerGate() *OptimizerGate {
	return &OptimizerGate{running: make(map[string]bool)}
}

// TryRun runs fn unless another optimizer holds key. It returns false without
// calling fn when the key is busy.
func (g *OptimizerGate) TryRun(ctx context.Context, key string, fn func(ctx context.Context) error) (bool, error) {
	g.mu.Lock()
	if g.running[key] {
		g.mu.Unlock()
		return false, nil
	}
	g.running[key] = true
	g.mu.Unlock()

	defer func() {
		g.mu.Lock()
		delete(g.running, key)
		g.mu.Unlock()
	}()
	return true, fn(ctx)
}

func (g *OptimizerGate) Running(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.running[key]
}
