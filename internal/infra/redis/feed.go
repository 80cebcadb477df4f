package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"buzzer-quiz-service/internal/domain"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	feedBuffer       = 64
	resubscribeDelay = 100 * time.Millisecond
)

// Feed carries change events between instances over Redis pub/sub, one channel per match.
type Feed struct {
	client *redis.Client
}

func NewFeed(client *redis.Client) *Feed {
	return &Feed{client: client}
}

func channel(matchID string) string {
	return "match:" + matchID + ":changes"
}

func (f *Feed) Publish(ctx context.Context, event domain.ChangeEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if err := f.client.Publish(ctx, channel(event.MatchID), body).Err(); err != nil {
		return fmt.Errorf("%w: publish change: %v", domain.ErrTransient, err)
	}
	return nil
}

// Subscribe returns once Redis confirmed the subscription, so nothing published
// afterwards is missed. go-redis resubscribes after a dropped connection; each later
// subscribe confirmation becomes a resync event, since messages sent in between are gone.
// The subscription also ends with ctx.
func (f *Feed) Subscribe(ctx context.Context, matchID string) (<-chan domain.ChangeEvent, func(), error) {
	subCtx, cancelCtx := context.WithCancel(ctx)
	pubsub := f.client.Subscribe(subCtx, channel(matchID))
	if _, err := pubsub.Receive(subCtx); err != nil {
		cancelCtx()
		_ = pubsub.Close()
		return nil, nil, fmt.Errorf("%w: subscribe: %v", domain.ErrTransient, err)
	}
	// Receive blocks on the socket; closing the pubsub unblocks it.
	stopClose := context.AfterFunc(subCtx, func() { _ = pubsub.Close() })

	out := make(chan domain.ChangeEvent, feedBuffer)
	emit := func(ev domain.ChangeEvent) bool {
		select {
		case out <- ev:
			return true
		case <-subCtx.Done():
			return false
		}
	}
	go func() {
		defer close(out)
		defer func() {
			if stopClose() {
				_ = pubsub.Close()
			}
		}()
		for {
			msg, err := pubsub.Receive(subCtx)
			if subCtx.Err() != nil {
				return
			}
			if err != nil {
				log.Debug().Err(err).Str("channel", channel(matchID)).Msg("receive change event")
				select {
				case <-time.After(resubscribeDelay):
				case <-subCtx.Done():
					return
				}
				continue
			}
			switch m := msg.(type) {
			case *redis.Subscription:
				if m.Kind == "subscribe" && !emit(domain.ResyncEvent(matchID)) {
					return
				}
			case *redis.Message:
				var ev domain.ChangeEvent
				if err := json.Unmarshal([]byte(m.Payload), &ev); err != nil {
					log.Warn().Err(err).Str("channel", m.Channel).Msg("decode change event")
					continue
				}
				if !emit(ev) {
					return
				}
			}
		}
	}()

	var once sync.Once
	return out, func() { once.Do(cancelCtx) }, nil
}
