package statemachine

import "context"

// eventQueueSize bounds each subscriber's buffered channel so a slow
// subscriber cannot block the machine's goroutine.
const eventQueueSize = 10

// Subscription is returned by Subscribe. Snapshots is closed when the
// subscription is unsubscribed or its context is cancelled.
type Subscription struct {
	id        string
	Snapshots <-chan Context

	ctx    context.Context
	cancel context.CancelFunc
}

func newSubscription(ctx context.Context, id string) (*Subscription, chan Context) {
	subCtx, cancel := context.WithCancel(ctx)
	ch := make(chan Context, eventQueueSize)
	return &Subscription{id: id, Snapshots: ch, ctx: subCtx, cancel: cancel}, ch
}
