package runner

import (
	"maps"
	"sync"
	"time"

	"github.com/pithecene-io/gstream/log"
	"github.com/pithecene-io/gstream/types"
)

// DefaultEventBuffer is the default number of undelivered events held for a
// slow consumer.
const DefaultEventBuffer = 64

// DefaultDrainWait is how long queued events wait for a reader once the
// session has ended. Whatever is left after that is discarded.
const DefaultDrainWait = 30 * time.Second

// EmitterStats reports event delivery for one session.
type EmitterStats struct {
	// Emitted is the number of events accepted for delivery.
	Emitted int64
	// Dropped is the number of events discarded for a slow consumer.
	Dropped int64
	// DroppedByType maps event types to drop counts.
	DroppedByType map[types.EventType]int64
}

// emitter is a bounded, non-blocking event queue between the worker and
// the caller.
//
// When the queue is full the oldest progress event is evicted, then the
// oldest status event. An incoming event that finds nothing of equal or
// lower rank to evict is dropped, unless it is critical. Critical events
// are never lost, so the queue exceeds its capacity only while it holds
// nothing but critical events.
//
// A pump goroutine moves queued events onto the output channel, so emit
// never waits for the consumer. After close the pump gives a reader
// drainWait per event and then discards the rest.
type emitter struct {
	out       chan types.Event
	capacity  int
	drainWait time.Duration
	logger    *log.Logger

	mu     sync.Mutex
	queue  []types.Event
	seq    int64
	closed bool
	wake   chan struct{}
	ended  chan struct{}
	stats  EmitterStats
	now    func() time.Time
}

func newEmitter(capacity int, drainWait time.Duration, logger *log.Logger) *emitter {
	if capacity <= 0 {
		capacity = DefaultEventBuffer
	}
	if drainWait <= 0 {
		drainWait = DefaultDrainWait
	}
	e := &emitter{
		out:       make(chan types.Event),
		capacity:  capacity,
		drainWait: drainWait,
		logger:    logger,
		queue:     make([]types.Event, 0, capacity),
		wake:      make(chan struct{}, 1),
		ended:     make(chan struct{}),
		stats:     EmitterStats{DroppedByType: make(map[types.EventType]int64)},
		now:       time.Now,
	}
	go e.pump()
	return e
}

// events returns the delivery channel. It is closed after close() once
// every queued event has been delivered or discarded.
func (e *emitter) events() <-chan types.Event {
	return e.out
}

// rank orders event types for eviction. Lower ranks go first.
func rank(t types.EventType) int {
	switch {
	case t == types.EventTypeProgress:
		return 0
	case t.IsCritical():
		return 2
	default:
		return 1
	}
}

// emit queues ev, assigning its sequence number and timestamp.
func (e *emitter) emit(ev types.Event) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}

	e.seq++
	ev.Seq = e.seq
	if ev.Ts.IsZero() {
		ev.Ts = e.now()
	}

	if len(e.queue) >= e.capacity && !e.evictLocked(rank(ev.Type)) && !ev.Type.IsCritical() {
		e.dropLocked(ev.Type, "consumer_slow")
		e.mu.Unlock()
		return
	}
	e.queue = append(e.queue, ev)
	e.stats.Emitted++
	e.mu.Unlock()

	e.signal()
}

// evictLocked removes the oldest droppable event ranked at most upTo,
// preferring lower ranks. Caller must hold mu.
func (e *emitter) evictLocked(upTo int) bool {
	for r := 0; r <= upTo && r < rank(types.EventTypeFinished); r++ {
		for i, queued := range e.queue {
			if rank(queued.Type) != r {
				continue
			}
			e.queue = append(e.queue[:i], e.queue[i+1:]...)
			e.stats.Emitted--
			e.dropLocked(queued.Type, "consumer_slow")
			return true
		}
	}
	return false
}

// dropLocked records a drop. Caller must hold mu.
func (e *emitter) dropLocked(t types.EventType, reason string) {
	e.stats.Dropped++
	e.stats.DroppedByType[t]++
	e.logger.Debug("event dropped", map[string]any{
		"type":   string(t),
		"reason": reason,
	})
}

func (e *emitter) signal() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// close stops accepting events. Queued events are still offered to the
// reader for drainWait each.
func (e *emitter) close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.closed = true
	close(e.ended)
	e.signal()
}

// depth returns the number of queued events.
func (e *emitter) depth() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.queue)
}

func (e *emitter) pump() {
	defer close(e.out)
	for {
		e.mu.Lock()
		if len(e.queue) == 0 {
			closed := e.closed
			e.mu.Unlock()
			if closed {
				return
			}
			<-e.wake
			continue
		}
		ev := e.queue[0]
		e.queue = e.queue[1:]
		e.mu.Unlock()

		if !e.deliver(ev) {
			e.discard(ev)
			return
		}
	}
}

// deliver hands ev to the reader. It reports false when the session has
// ended and nobody took ev within drainWait.
func (e *emitter) deliver(ev types.Event) bool {
	select {
	case e.out <- ev:
		return true
	case <-e.ended:
	}

	t := time.NewTimer(e.drainWait)
	defer t.Stop()
	select {
	case e.out <- ev:
		return true
	case <-t.C:
		return false
	}
}

// discard drops ev and everything still queued after the reader went away.
func (e *emitter) discard(ev types.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	rest := append([]types.Event{ev}, e.queue...)
	e.queue = nil
	for _, q := range rest {
		e.stats.Emitted--
		e.dropLocked(q.Type, "no_consumer")
	}
}

// snapshot returns a copy of the delivery stats.
func (e *emitter) snapshot() EmitterStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.stats
	s.DroppedByType = maps.Clone(e.stats.DroppedByType)
	return s
}
