package shutdown

import (
	"context"
	"sync"

	"github.com/albertklubabot-sketch/gie20/pkg/logger"
)

// Handler is one shutdown callback. Implementations should respect ctx,
// which carries the overall shutdown deadline.
type Handler func(ctx context.Context, wg *sync.WaitGroup)

// Manager collects shutdown callbacks and runs them concurrently when the
// process is going down.
type Manager struct {
	callbacks []Handler
	mu        sync.Mutex
}

// NewManager creates an empty shutdown manager.
func NewManager() *Manager {
	return &Manager{}
}

// OnShutdown registers a callback to run during Shutdown.
func (m *Manager) OnShutdown(handler Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, handler)
}

// Shutdown runs every registered callback and blocks until they finish or
// ctx expires. Pass a context with a timeout.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	callbacks := m.callbacks
	m.mu.Unlock()

	if len(callbacks) == 0 {
		return
	}

	logger.Infof("shutting down, %d callbacks", len(callbacks))

	var wg sync.WaitGroup
	wg.Add(len(callbacks))
	for _, cb := range callbacks {
		go func(handler Handler) {
			defer wg.Done()
			handler(ctx, &wg)
		}(cb)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("all shutdown callbacks finished")
	case <-ctx.Done():
		logger.Warnf("shutdown timed out: %v", ctx.Err())
	}
}
