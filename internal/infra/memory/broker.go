package memory

import (
	"context"
	"sync"

	"buzzer-quiz-service/internal/domain"
	"github.com/rs/zerolog/log"
)

const subscriberBuffer = 64

// Broker is an in-process change feed: every published event is fanned out to the
// subscribers of its match.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan domain.ChangeEvent]struct{}
}

func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[string]map[chan domain.ChangeEvent]struct{}),
	}
}

// Publish never blocks. When a subscriber's buffer is full its oldest queued event is
// discarded and a resync event takes the place of the new one, so the subscriber reloads
// once it catches up.
func (b *Broker) Publish(_ context.Context, event domain.ChangeEvent) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subscribers[event.MatchID] {
		select {
		case ch <- event:
			continue
		default:
		}
		log.Warn().
			Str("match_id", event.MatchID).
			Str("class", string(event.Class)).
			Msg("subscriber buffer full, queueing resync")
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- domain.ResyncEvent(event.MatchID):
		default:
		}
	}
	return nil
}

// Subscribe registers a subscriber for matchID. The subscription also ends with ctx.
func (b *Broker) Subscribe(ctx context.Context, matchID string) (<-chan domain.ChangeEvent, func(), error) {
	ch := make(chan domain.ChangeEvent, subscriberBuffer)

	b.mu.Lock()
	subs, ok := b.subscribers[matchID]
	if !ok {
		subs = make(map[chan domain.ChangeEvent]struct{})
		b.subscribers[matchID] = subs
	}
	subs[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			subs := b.subscribers[matchID]
			if _, ok := subs[ch]; ok {
				delete(subs, ch)
				close(ch)
			}
			if len(subs) == 0 {
				delete(b.subscribers, matchID)
			}
		})
	}
	stop := context.AfterFunc(ctx, cancel)
	return ch, func() {
		stop()
		cancel()
	}, nil
}

// SubscriberCount reports how many subscribers a match has.
func (b *Broker) SubscriberCount(matchID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[matchID])
}
