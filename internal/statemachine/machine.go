package statemachine

import (
	"context"
	"sync"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// Sink receives every accepted transition's snapshot, forwarded to the
// host as a SendUpdatesStateChangeEvent call: event name plus the full
// context.
type Sink interface {
	SendUpdatesStateChangeEvent(kind EventKind, ctx Context)
}

// NopSink discards every event. Useful when no host is attached, e.g. in
// tests or the cmd/updatesd demo without a react-native bridge.
type NopSink struct{}

func (NopSink) SendUpdatesStateChangeEvent(EventKind, Context) {}

// Machine is the observable automaton. All transition bookkeeping
// happens on one goroutine read off events; Post, Snapshot, Subscribe and
// Unsubscribe are safe to call from other goroutines without additional
// synchronization.
type Machine struct {
	sink Sink

	events chan Event

	mu  sync.RWMutex
	ctx Context

	subMu sync.Mutex
	subs  map[string]chan Context

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// New builds a Machine starting in Idle with sequence number zero. sink
// may be NopSink{} if no host bridge is attached yet.
func New(sink Sink) *Machine {
	if sink == nil {
		sink = NopSink{}
	}
	return &Machine{
		sink:   sink,
		events: make(chan Event, 32),
		ctx:    Context{State: Idle},
		subs:   make(map[string]chan Context),
	}
}

// Start launches the machine's serializing goroutine. It returns
// immediately; call Stop, or cancel ctx, to shut it down, or simply let
// it run for the process lifetime.
func (m *Machine) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.wg.Add(1)
	go m.run(runCtx)
}

// Stop halts the serializing goroutine and waits for it to exit.
func (m *Machine) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}

func (m *Machine) run(ctx context.Context) {
	defer m.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-m.events:
			m.process(event)
		}
	}
}

func (m *Machine) process(event Event) {
	m.mu.Lock()
	defer m.mu.Unlock()

	from := m.ctx.State
	to, ok := next(from, event.Kind)
	if !ok {
		log.Warnf("statemachine: rejected %s in state %s", event.Kind, from)
		return
	}
	updated := apply(m.ctx, to, event)
	m.ctx = updated

	m.sink.SendUpdatesStateChangeEvent(event.Kind, updated)
	m.broadcast(updated)
}

func (m *Machine) broadcast(ctx Context) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	for id, ch := range m.subs {
		select {
		case ch <- ctx:
		default:
			log.Warnf("statemachine: subscriber %s dropped a snapshot, channel full", id)
		}
	}
}

// Post enqueues event for processing. It never blocks the caller beyond
// the events channel's buffer filling up, which only happens if the
// machine's goroutine has stopped or is badly backed up.
func (m *Machine) Post(event Event) {
	m.events <- event
}

// Snapshot returns the current context. Safe to call concurrently with
// Post and with the machine's own goroutine.
func (m *Machine) Snapshot() Context {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ctx
}

// Subscribe registers a new listener, delivered every snapshot from this
// point on. The returned Subscription's Snapshots channel is closed once
// Unsubscribe is called or ctx is cancelled.
func (m *Machine) Subscribe(ctx context.Context) *Subscription {
	id := uuid.NewString()
	sub, ch := newSubscription(ctx, id)

	m.subMu.Lock()
	m.subs[id] = ch
	m.subMu.Unlock()

	go func() {
		<-sub.ctx.Done()
		m.Unsubscribe(sub)
	}()

	return sub
}

// Unsubscribe removes sub and closes its channel. Safe to call more than
// once or with a nil/unknown subscription.
func (m *Machine) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	m.subMu.Lock()
	defer m.subMu.Unlock()

	ch, ok := m.subs[sub.id]
	if !ok {
		return
	}
	delete(m.subs, sub.id)
	sub.cancel()
	close(ch)
}
