package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"buzzer-quiz-service/internal/domain"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

const feedBuffer = 64

type Config struct {
	URL           string
	SubjectPrefix string // subjects are <prefix>.<matchID>
	MaxReconnects int
	ReconnectWait time.Duration
}

func DefaultConfig() Config {
	return Config{
		URL:           nats.DefaultURL,
		SubjectPrefix: "match.changes",
		MaxReconnects: -1, // Infinite
		ReconnectWait: 2 * time.Second,
	}
}

// Feed carries change events between instances over core NATS subjects. Delivery is
// live only; after a reconnect every subscription gets a resync event so its projector
// reloads whatever was published while the connection was down.
type Feed struct {
	nc     *nats.Conn
	prefix string

	mu      sync.Mutex
	resyncs map[chan struct{}]struct{}
}

// Connect dials NATS and returns a feed owning the connection.
func Connect(cfg Config) (*Feed, error) {
	f := NewFeed(nil, cfg.SubjectPrefix)
	opts := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
			f.reconnected()
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}
	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	f.nc = nc
	return f, nil
}

func NewFeed(nc *nats.Conn, prefix string) *Feed {
	if prefix == "" {
		prefix = DefaultConfig().SubjectPrefix
	}
	return &Feed{nc: nc, prefix: prefix, resyncs: make(map[chan struct{}]struct{})}
}

// watchReconnects registers a subscription for reconnect signals.
func (f *Feed) watchReconnects() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	f.mu.Lock()
	f.resyncs[ch] = struct{}{}
	f.mu.Unlock()
	return ch, func() {
		f.mu.Lock()
		delete(f.resyncs, ch)
		f.mu.Unlock()
	}
}

func (f *Feed) reconnected() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for ch := range f.resyncs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (f *Feed) subject(matchID string) string {
	return f.prefix + "." + matchID
}

func (f *Feed) Publish(_ context.Context, event domain.ChangeEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if err := f.nc.Publish(f.subject(event.MatchID), body); err != nil {
		return fmt.Errorf("%w: publish change: %v", domain.ErrTransient, err)
	}
	return nil
}

// Subscribe returns after the server acknowledged the subscription.
func (f *Feed) Subscribe(ctx context.Context, matchID string) (<-chan domain.ChangeEvent, func(), error) {
	msgs := make(chan *nats.Msg, feedBuffer)
	sub, err := f.nc.ChanSubscribe(f.subject(matchID), msgs)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: subscribe: %v", domain.ErrTransient, err)
	}
	if err := f.nc.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return nil, nil, fmt.Errorf("%w: flush subscription: %v", domain.ErrTransient, err)
	}

	subCtx, cancelCtx := context.WithCancel(ctx)
	out := make(chan domain.ChangeEvent, feedBuffer)
	reconnects, unwatch := f.watchReconnects()
	go func() {
		defer close(out)
		defer unwatch()
		defer func() {
			if err := sub.Unsubscribe(); err != nil && f.nc.IsConnected() {
				log.Warn().Err(err).Str("subject", sub.Subject).Msg("unsubscribe")
			}
		}()
		for {
			select {
			case <-subCtx.Done():
				return
			case <-reconnects:
				select {
				case out <- domain.ResyncEvent(matchID):
				case <-subCtx.Done():
					return
				}
			case msg := <-msgs:
				var ev domain.ChangeEvent
				if err := json.Unmarshal(msg.Data, &ev); err != nil {
					log.Warn().Err(err).Str("subject", msg.Subject).Msg("decode change event")
					continue
				}
				select {
				case out <- ev:
				case <-subCtx.Done():
					return
				}
			}
		}
	}()

	var once sync.Once
	return out, func() { once.Do(cancelCtx) }, nil
}

// Close drains the connection.
func (f *Feed) Close() error {
	return f.nc.Drain()
}
