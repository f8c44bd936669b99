package marketplace

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gammazero/deque"
	"github.com/google/uuid"
	"gitlab.com/TitanInd/marketplace/internal/interfaces"
)

type EventKind string

const (
	EventContractCreated     EventKind = "contractCreated"
	EventContractPurchased   EventKind = "contractPurchased"
	EventContractClosed      EventKind = "contractClosed"
	EventPurchaseInfoUpdated EventKind = "purchaseInfoUpdated"
	EventCipherTextUpdated   EventKind = "cipherTextUpdated"
)

type Event struct {
	ID        uuid.UUID
	Kind      EventKind
	Contract  common.Address
	CreatedAt time.Time
}

// EventBus fans marketplace events out to subscribers. Publish never blocks
// the contract operation that emitted the event, the queue grows instead.
type EventBus struct {
	mu     sync.Mutex
	queue  *deque.Deque[Event]
	subs   []chan Event
	notify chan struct{}

	log interfaces.ILogger
}

func NewEventBus(log interfaces.ILogger) *EventBus {
	return &EventBus{
		queue:  deque.New[Event](),
		notify: make(chan struct{}, 1),
		log:    log,
	}
}

func (b *EventBus) Publish(kind EventKind, contract common.Address) {
	event := Event{
		ID:        uuid.New(),
		Kind:      kind,
		Contract:  contract,
		CreatedAt: time.Now(),
	}

	b.mu.Lock()
	b.queue.PushBack(event)
	b.mu.Unlock()

	select {
	case b.notify <- struct{}{}:
	default:
	}
}

// Subscribe returns a channel receiving every event published after the call.
// The channel is closed when the bus stops.
func (b *EventBus) Subscribe() <-chan Event {
	ch := make(chan Event, 32)

	b.mu.Lock()
	b.subs = append(b.subs, ch)
	b.mu.Unlock()

	return ch
}

// Run dispatches queued events until the context is cancelled
func (b *EventBus) Run(ctx context.Context) error {
	defer b.closeSubs()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-b.notify:
		}

		for {
			b.mu.Lock()
			if b.queue.Len() == 0 {
				b.mu.Unlock()
				break
			}
			event := b.queue.PopFront()
			subs := b.subs
			b.mu.Unlock()

			for _, sub := range subs {
				select {
				case sub <- event:
				case <-ctx.Done():
					return ctx.Err()
				}
			}

			b.log.Debugf("dispatched event %s %s (%s)", event.Kind, event.Contract.Hex(), event.ID)
		}
	}
}

func (b *EventBus) closeSubs() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.subs {
		close(sub)
	}
	b.subs = nil
}
