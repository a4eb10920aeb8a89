// Package syncutil holds small channel-based synchronization primitives
// shared across the update runtime's concurrent components.
package syncutil

import "sync"

// Cond is a one-shot condition variable, like sync.Cond but backed by a
// channel so callers can select on it alongside other channels. It is used
// wherever a result must be delivered exactly once: LoaderTask's terminal
// onSuccess callback and Engine.launchAssetFile's blocking barrier.
type Cond struct {
	once sync.Once
	C    chan struct{}
}

// NewCond creates an unsignaled condition variable.
func NewCond() *Cond {
	return &Cond{C: make(chan struct{})}
}

// Do runs f exactly once, the first time Do or Signal is called, then
// signals C. Later calls are no-ops.
func (c *Cond) Do(f func()) {
	c.once.Do(func() {
		f()
		close(c.C)
	})
}

// Signal marks the condition as satisfied with no associated side effect.
func (c *Cond) Signal() {
	c.Do(func() {})
}

// Wait blocks until the condition has been signaled.
func (c *Cond) Wait() {
	<-c.C
}

// Done reports whether the condition has already been signaled, without
// blocking.
func (c *Cond) Done() bool {
	select {
	case <-c.C:
		return true
	default:
		return false
	}
}
