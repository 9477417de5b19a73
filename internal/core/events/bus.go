package events

import (
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"

	"github.com/audiowire/audiowire/internal/core/observability/log"
)

const (
	defaultShardCount = 16
	shardQueueSize    = 256
)

// Handler consumes an event. Handlers must not block for long; slow work
// belongs in the caller's own goroutine.
type Handler func(Event)

// Router receives every event before any listener does, synchronously in the
// dispatching goroutine. The player layer implements it to keep session state
// ahead of everything observing it. Events the routing produced (a TrackEnd
// emptying a queue yields a QueueEnd) are returned rather than re-dispatched
// inline, so the bus can enqueue them after the event that caused them.
type Router interface {
	RouteEvent(Event) []Event
}

// Subscription identifies a registered listener and can cancel it.
type Subscription struct {
	id  string
	bus *Bus
}

// ID returns the subscription's opaque identifier.
func (s Subscription) ID() string { return s.id }

// Cancel removes the listener. Safe to call more than once.
func (s Subscription) Cancel() {
	if s.bus != nil {
		s.bus.unsubscribe(s.id)
	}
}

type listener struct {
	id      string
	handler Handler
}

// Bus dispatches typed events. The owning player (via Router) sees each event
// synchronously; external listeners are fanned out on shard workers keyed by
// session hash, which preserves per-session arrival order without letting a
// slow listener stall the node read loops.
type Bus struct {
	mu        sync.RWMutex
	router    Router
	listeners []listener
	muted     map[string]struct{}

	shards    []chan Event
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
	logger    log.Log
}

// NewBus builds a running bus. Callers must Close it to release the shard
// workers.
func NewBus(logger log.Log) *Bus {
	b := &Bus{
		muted:  make(map[string]struct{}),
		shards: make([]chan Event, defaultShardCount),
		done:   make(chan struct{}),
		logger: logger.With(log.String("component", "event_bus")),
	}
	for i := range b.shards {
		b.shards[i] = make(chan Event, shardQueueSize)
		b.wg.Add(1)
		go b.worker(b.shards[i])
	}
	return b
}

// SetRouter installs the player-layer router. Must be called before the first
// Dispatch; events arriving with no router go to listeners only.
func (b *Bus) SetRouter(r Router) {
	b.mu.Lock()
	b.router = r
	b.mu.Unlock()
}

// Subscribe registers an external listener. Listeners are invoked in
// registration order.
func (b *Bus) Subscribe(h Handler) Subscription {
	id := uuid.NewString()
	b.mu.Lock()
	b.listeners = append(b.listeners, listener{id: id, handler: h})
	b.mu.Unlock()
	return Subscription{id: id, bus: b}
}

func (b *Bus) unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, l := range b.listeners {
		if l.id == id {
			b.listeners = append(b.listeners[:i], b.listeners[i+1:]...)
			return
		}
	}
}

// Mute drops all further events for a session. Used on session teardown.
func (b *Bus) Mute(sessionID string) {
	b.mu.Lock()
	b.muted[sessionID] = struct{}{}
	b.mu.Unlock()
}

// Unmute re-enables a session, typically when it is recreated.
func (b *Bus) Unmute(sessionID string) {
	b.mu.Lock()
	delete(b.muted, sessionID)
	b.mu.Unlock()
}

// Dispatch routes one event: first to the owning player synchronously, then
// to listeners via the session's shard queue. A full shard applies
// backpressure to the dispatching node rather than reordering or dropping.
// Events for muted sessions are dropped.
func (b *Bus) Dispatch(ev Event) {
	select {
	case <-b.done:
		return
	default:
	}

	b.mu.RLock()
	router := b.router
	_, muted := b.muted[ev.SessionID()]
	b.mu.RUnlock()

	if muted && ev.SessionID() != "" {
		return
	}

	var followups []Event
	if router != nil {
		followups = b.safeRoute(router, ev)
	}

	select {
	case b.shards[b.shardIndex(ev)] <- ev:
	case <-b.done:
		return
	}

	for _, f := range followups {
		b.Dispatch(f)
	}
}

// Close stops the shard workers after draining queued events. Dispatch after
// Close is a no-op.
func (b *Bus) Close() {
	b.closeOnce.Do(func() {
		close(b.done)
	})
	b.wg.Wait()
}

func (b *Bus) worker(shard chan Event) {
	defer b.wg.Done()
	for {
		select {
		case ev := <-shard:
			b.deliver(ev)
		case <-b.done:
			for {
				select {
				case ev := <-shard:
					b.deliver(ev)
				default:
					return
				}
			}
		}
	}
}

func (b *Bus) deliver(ev Event) {
	b.mu.RLock()
	_, muted := b.muted[ev.SessionID()]
	snapshot := make([]listener, len(b.listeners))
	copy(snapshot, b.listeners)
	b.mu.RUnlock()

	if muted && ev.SessionID() != "" {
		return
	}

	for _, l := range snapshot {
		b.safeCall(l.handler, ev)
	}
}

func (b *Bus) safeRoute(r Router, ev Event) (followups []Event) {
	defer func() {
		if rec := recover(); rec != nil {
			b.logger.Error("event router panicked", log.Any("panic", rec))
		}
	}()
	return r.RouteEvent(ev)
}

func (b *Bus) safeCall(h Handler, ev Event) {
	defer func() {
		if rec := recover(); rec != nil {
			b.logger.Error("event listener panicked", log.Any("panic", rec))
		}
	}()
	h(ev)
}

func (b *Bus) shardIndex(ev Event) int {
	key := ev.SessionID()
	if key == "" {
		switch e := ev.(type) {
		case NodeConnected:
			key = e.Node
		case NodeDisconnected:
			key = e.Node
		}
	}
	return int(xxhash.Sum64String(key) % uint64(len(b.shards)))
}
