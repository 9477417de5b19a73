package events

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/audiowire/audiowire/internal/core/observability/log"
)

type recordingRouter struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingRouter) RouteEvent(ev Event) []Event {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	return nil
}

func (r *recordingRouter) snapshot() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestRouterSeesEventBeforeListeners(t *testing.T) {
	bus := NewBus(log.NewNop())
	defer bus.Close()

	router := &recordingRouter{}
	bus.SetRouter(router)

	var mu sync.Mutex
	var routerLenAtListener int
	bus.Subscribe(func(ev Event) {
		mu.Lock()
		routerLenAtListener = len(router.snapshot())
		mu.Unlock()
	})

	bus.Dispatch(TrackStart{GuildID: "g1", Track: "t"})

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return routerLenAtListener > 0
	})
	assert.Equal(t, 1, routerLenAtListener, "player routing must precede listener delivery")
}

func TestPerSessionOrderPreserved(t *testing.T) {
	bus := NewBus(log.NewNop())
	defer bus.Close()

	var mu sync.Mutex
	perSession := make(map[string][]string)
	bus.Subscribe(func(ev Event) {
		if end, ok := ev.(TrackEnd); ok {
			mu.Lock()
			perSession[end.GuildID] = append(perSession[end.GuildID], end.Track)
			mu.Unlock()
		}
	})

	sessions := []string{"g1", "g2", "g3", "g4"}
	const perSessionEvents = 50

	var wg sync.WaitGroup
	for _, s := range sessions {
		wg.Add(1)
		go func(session string) {
			defer wg.Done()
			for i := 0; i < perSessionEvents; i++ {
				bus.Dispatch(TrackEnd{GuildID: session, Track: trackName(i), Reason: "FINISHED"})
			}
		}(s)
	}
	wg.Wait()

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, s := range sessions {
			if len(perSession[s]) != perSessionEvents {
				return false
			}
		}
		return true
	})

	mu.Lock()
	defer mu.Unlock()
	for _, s := range sessions {
		for i, track := range perSession[s] {
			require.Equal(t, trackName(i), track, "session %s out of order at %d", s, i)
		}
	}
}

func trackName(i int) string {
	return string(rune('a'+i/26)) + string(rune('a'+i%26))
}

func TestListenerOrderAndIsolation(t *testing.T) {
	bus := NewBus(log.NewNop())
	defer bus.Close()

	var mu sync.Mutex
	var order []int
	bus.Subscribe(func(ev Event) {
		mu.Lock()
		order = append(order, 1)
		mu.Unlock()
		panic("listener one misbehaves")
	})
	bus.Subscribe(func(ev Event) {
		mu.Lock()
		order = append(order, 2)
		mu.Unlock()
	})

	bus.Dispatch(QueueEnd{GuildID: "g"})

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 2
	})
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{1, 2}, order, "panicking listener must not block the next one")
}

func TestMuteStopsDelivery(t *testing.T) {
	bus := NewBus(log.NewNop())
	defer bus.Close()

	var mu sync.Mutex
	count := map[string]int{}
	bus.Subscribe(func(ev Event) {
		mu.Lock()
		count[ev.SessionID()]++
		mu.Unlock()
	})

	bus.Dispatch(TrackStart{GuildID: "keep", Track: "t"})
	bus.Mute("gone")
	bus.Dispatch(TrackStart{GuildID: "gone", Track: "t"})
	bus.Dispatch(TrackStart{GuildID: "keep", Track: "t"})

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return count["keep"] == 2
	})
	mu.Lock()
	defer mu.Unlock()
	assert.Zero(t, count["gone"])
}

func TestUnmuteRestoresDelivery(t *testing.T) {
	bus := NewBus(log.NewNop())
	defer bus.Close()

	var mu sync.Mutex
	count := 0
	bus.Subscribe(func(ev Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	bus.Mute("g")
	bus.Dispatch(QueueEnd{GuildID: "g"})
	bus.Unmute("g")
	bus.Dispatch(QueueEnd{GuildID: "g"})

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return count == 1
	})
}

func TestSubscriptionCancel(t *testing.T) {
	bus := NewBus(log.NewNop())
	defer bus.Close()

	var mu sync.Mutex
	count := 0
	sub := bus.Subscribe(func(ev Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})
	require.NotEmpty(t, sub.ID())

	bus.Dispatch(QueueEnd{GuildID: "g"})
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return count == 1
	})

	sub.Cancel()
	sub.Cancel() // idempotent
	bus.Dispatch(QueueEnd{GuildID: "g"})

	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, count)
}

func TestDispatchAfterCloseIsNoop(t *testing.T) {
	bus := NewBus(log.NewNop())
	bus.Subscribe(func(ev Event) { t.Error("should not deliver after close") })
	bus.Close()
	bus.Dispatch(QueueEnd{GuildID: "g"})
	time.Sleep(20 * time.Millisecond)
}

type followupRouter struct{}

func (followupRouter) RouteEvent(ev Event) []Event {
	if end, ok := ev.(TrackEnd); ok {
		return []Event{QueueEnd{GuildID: end.GuildID}}
	}
	return nil
}

func TestRouterFollowupsDeliverAfterCause(t *testing.T) {
	bus := NewBus(log.NewNop())
	defer bus.Close()
	bus.SetRouter(followupRouter{})

	var mu sync.Mutex
	var seen []Event
	bus.Subscribe(func(ev Event) {
		mu.Lock()
		seen = append(seen, ev)
		mu.Unlock()
	})

	bus.Dispatch(TrackEnd{GuildID: "g", Track: "t", Reason: "FINISHED"})

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 2
	})
	mu.Lock()
	defer mu.Unlock()
	assert.IsType(t, TrackEnd{}, seen[0])
	assert.IsType(t, QueueEnd{}, seen[1])
}
