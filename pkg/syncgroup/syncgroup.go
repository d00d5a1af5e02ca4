package syncgroup

import "sync"

type groupFunc func()

// SyncGroup wraps sync.WaitGroup so that Add/Done bookkeeping lives in one
// place. Functions are queued with Add and started together with Run;
// a second Run while goroutines are still running is skipped.
type SyncGroup struct {
	wg sync.WaitGroup

	mu      sync.Mutex
	fns     []groupFunc
	hasRun  bool
	running int
}

// NewSyncGroup creates an empty group.
func NewSyncGroup() *SyncGroup {
	return &SyncGroup{}
}

// Add queues a function for the next Run. Ignored while a previous batch
// is still running; WaitAndClear first.
func (g *SyncGroup) Add(fn func()) {
	if fn == nil {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.hasRun && g.running > 0 {
		return
	}
	g.fns = append(g.fns, fn)
}

// Run starts every queued function in its own goroutine and clears the queue.
func (g *SyncGroup) Run() {
	g.mu.Lock()
	if g.hasRun && g.running > 0 {
		g.mu.Unlock()
		return
	}
	fns := g.fns
	g.fns = nil
	g.hasRun = true
	g.running = len(fns)
	g.mu.Unlock()

	for _, fn := range fns {
		g.wg.Add(1)
		go func(do groupFunc) {
			defer func() {
				g.wg.Done()
				g.mu.Lock()
				g.running--
				g.mu.Unlock()
			}()
			do()
		}(fn)
	}
}

// Wait blocks until the running batch finishes.
func (g *SyncGroup) Wait() {
	g.wg.Wait()
}

// WaitAndClear waits for the running batch and resets the group for reuse.
func (g *SyncGroup) WaitAndClear() {
	g.wg.Wait()
	g.mu.Lock()
	g.fns = nil
	g.hasRun = false
	g.running = 0
	g.mu.Unlock()
}
