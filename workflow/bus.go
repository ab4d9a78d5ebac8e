package workflow

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// Event names are part of the external contract (§6).
const (
	EventCalendarPollRequested = "admin.calendar.poll.requested"
	EventNewListingDiscovered  = "mexc.new_listing_discovered"
	EventSymbolRecheckNeeded   = "mexc.symbol_recheck_needed"
	EventTargetReady           = "mexc.target_ready"
)

// Event is one message on the internal bus.
type Event struct {
	Name    string
	Payload map[string]interface{}
}

// Handler processes one delivered event. Handlers must be idempotent under
// replay; the bus makes no ordering guarantee across events.
type Handler func(ctx context.Context, evt Event)

// Bus is an in-process, buffered-channel event bus: one dispatch goroutine
// drains the queue and fans each event out to its registered handlers
// concurrently, so one slow handler never blocks the others. Modeled on
// the teacher's ingestion pipeline shape (bounded channel, dedicated
// dispatch goroutine, graceful drain-then-exit on Stop).
type Bus struct {
	logger zerolog.Logger

	mu       sync.RWMutex
	handlers map[string][]Handler

	queue chan Event
	done  chan struct{}
	wg    sync.WaitGroup
}

// NewBus constructs a bus with the given queue capacity.
func NewBus(logger zerolog.Logger, capacity int) *Bus {
	return &Bus{
		logger:   logger.With().Str("component", "workflow-bus").Logger(),
		handlers: make(map[string][]Handler),
		queue:    make(chan Event, capacity),
		done:     make(chan struct{}),
	}
}

// Subscribe registers h to receive events named name.
func (b *Bus) Subscribe(name string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[name] = append(b.handlers[name], h)
}

// Publish enqueues evt for delivery. The event is queued (its "persisted"
// record in this single-process design) before Publish returns; delivery
// to handlers happens asynchronously and is at-least-once.
func (b *Bus) Publish(ctx context.Context, evt Event) error {
	select {
	case b.queue <- evt:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Start launches the dispatch goroutine.
func (b *Bus) Start(ctx context.Context) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for {
			select {
			case evt, ok := <-b.queue:
				if !ok {
					return
				}
				b.dispatch(ctx, evt)
			case <-b.done:
				b.drain(ctx)
				return
			}
		}
	}()
}

func (b *Bus) dispatch(ctx context.Context, evt Event) {
	b.mu.RLock()
	handlers := append([]Handler(nil), b.handlers[evt.Name]...)
	b.mu.RUnlock()

	for _, h := range handlers {
		go func(h Handler) {
			defer func() {
				if r := recover(); r != nil {
					b.logger.Error().Interface("panic", r).Str("event", evt.Name).Msg("event handler panicked")
				}
			}()
			h(ctx, evt)
		}(h)
	}
}

// drain delivers whatever is already queued before the dispatch loop exits.
func (b *Bus) drain(ctx context.Context) {
	for {
		select {
		case evt, ok := <-b.queue:
			if !ok {
				return
			}
			b.dispatch(ctx, evt)
		default:
			return
		}
	}
}

// Stop signals the dispatch loop to drain and exit, then waits for it.
func (b *Bus) Stop() {
	close(b.done)
	b.wg.Wait()
}
