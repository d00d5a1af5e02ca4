package sigchan

// Chan is a non-blocking notification channel: it signals that something
// happened without carrying data. Emitting into a full channel is a no-op,
// so producers never stall on slow consumers.
type Chan struct {
	c chan struct{}
}

// New creates a signal channel with the given buffer size.
func New(bufferSize int) *Chan {
	return &Chan{c: make(chan struct{}, bufferSize)}
}

// Emit sends a signal without blocking. Dropped when the buffer is full.
func (c *Chan) Emit() {
	select {
	case c.c <- struct{}{}:
	default:
	}
}

// C exposes the underlying channel for select loops.
func (c *Chan) C() <-chan struct{} {
	return c.c
}
