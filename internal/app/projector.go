package app

import (
	"context"
	"errors"
	"sort"
	"sync"

	"buzzer-quiz-service/internal/domain"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// StateProjector keeps a local GameState of one match current by reacting to the
// change feed. Each event is folded through Reduce; a full reload runs whenever the
// event cannot be merged on its own.
type StateProjector struct {
	code      string
	store     MatchStore
	questions QuestionRepository
	feed      ChangeFeed
	clock     clockwork.Clock

	mu          sync.Mutex
	state       domain.GameState
	unsubscribe func()
	subscribers map[chan domain.GameState]struct{}
	closed      bool
}

func NewStateProjector(code string, store MatchStore, questions QuestionRepository, feed ChangeFeed, clock clockwork.Clock) *StateProjector {
	return &StateProjector{
		code:        code,
		store:       store,
		questions:   questions,
		feed:        feed,
		clock:       clock,
		subscribers: make(map[chan domain.GameState]struct{}),
	}
}

// Start loads the first snapshot and subscribes to the match's changes. An unknown code
// leaves an empty snapshot and no subscription; call Start again once the match exists.
func (p *StateProjector) Start(ctx context.Context) error {
	if err := p.Refresh(ctx); err != nil {
		return err
	}

	p.mu.Lock()
	match := p.state.Match
	subscribed := p.unsubscribe != nil
	p.mu.Unlock()
	if match == nil || subscribed {
		return nil
	}

	events, cancel, err := p.feed.Subscribe(ctx, match.ID)
	if err != nil {
		return err
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		cancel()
		return nil
	}
	p.unsubscribe = cancel
	p.mu.Unlock()

	// Changes between the first load and the subscription would be lost otherwise.
	if err := p.Refresh(ctx); err != nil {
		log.Warn().Err(err).Str("match_code", p.code).Msg("refresh after subscribe failed")
	}

	go p.consume(ctx, events)
	return nil
}

func (p *StateProjector) consume(ctx context.Context, events <-chan domain.ChangeEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if p.Apply(ev) {
				if err := p.Refresh(ctx); err != nil {
					log.Error().Err(err).
						Str("match_code", p.code).
						Str("op", string(ev.Op)).
						Str("class", string(ev.Class)).
						Msg("reload after change failed")
				}
			}
		}
	}
}

// Apply folds one change into the snapshot and reports whether a full reload is needed.
func (p *StateProjector) Apply(ev domain.ChangeEvent) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	next, reload := Reduce(p.state, ev)
	next.UpdatedAt = p.clock.Now()
	p.state = next
	p.broadcastLocked()
	return reload
}

// Refresh reloads the whole snapshot from the store. Concurrent refreshes are allowed;
// the last one to finish wins.
func (p *StateProjector) Refresh(ctx context.Context) error {
	state, err := p.load(ctx)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = state
	p.broadcastLocked()
	return nil
}

// Snapshot returns the current local state.
func (p *StateProjector) Snapshot() domain.GameState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Subscribe returns a channel receiving every new snapshot, starting with the current one.
// Slow readers only see the latest snapshot. The caller must invoke cancel.
func (p *StateProjector) Subscribe() (<-chan domain.GameState, func()) {
	ch := make(chan domain.GameState, 1)

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	p.subscribers[ch] = struct{}{}
	ch <- p.state
	p.mu.Unlock()

	cancel := func() {
		p.mu.Lock()
		if _, ok := p.subscribers[ch]; ok {
			delete(p.subscribers, ch)
			close(ch)
		}
		p.mu.Unlock()
	}
	return ch, cancel
}

// Close ends the feed subscription and closes every snapshot channel.
func (p *StateProjector) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	if p.unsubscribe != nil {
		p.unsubscribe()
	}
	for ch := range p.subscribers {
		delete(p.subscribers, ch)
		close(ch)
	}
}

func (p *StateProjector) broadcastLocked() {
	for ch := range p.subscribers {
		select {
		case ch <- p.state:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- p.state
		}
	}
}

func (p *StateProjector) load(ctx context.Context) (domain.GameState, error) {
	match, err := p.store.MatchByCode(ctx, p.code)
	if errors.Is(err, domain.ErrMatchNotFound) {
		return domain.GameState{UpdatedAt: p.clock.Now()}, nil
	}
	if err != nil {
		return domain.GameState{}, err
	}

	var (
		questions []domain.Question
		players   []domain.Player
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		questions, err = p.questions.ListQuestions(gctx, match.ID)
		return err
	})
	g.Go(func() error {
		var err error
		players, err = p.store.ListPlayers(gctx, match.ID)
		return err
	})
	if err := g.Wait(); err != nil {
		return domain.GameState{}, err
	}

	state := domain.GameState{
		Match:     &match,
		Questions: questions,
		Players:   RankPlayers(players),
		Responses: []domain.Response{},
	}
	if q, ok := state.CurrentQuestion(); ok {
		responses, err := p.store.ListResponses(ctx, q.ID)
		if err != nil {
			return domain.GameState{}, err
		}
		state.Responses = responses
	}
	state.UpdatedAt = p.clock.Now()
	return state, nil
}

// Reduce returns the snapshot after ev and whether a full reload must follow. The input
// snapshot is never modified.
func Reduce(state domain.GameState, ev domain.ChangeEvent) (domain.GameState, bool) {
	if state.Match != nil && ev.MatchID != "" && ev.MatchID != state.Match.ID {
		return state, false
	}

	if ev.Op == domain.OpResync {
		return state, true
	}

	switch ev.Class {
	case domain.ClassMatch:
		if ev.Op == domain.OpDelete {
			state.Match = nil
			state.Responses = nil
			return state, true
		}
		if ev.Match != nil {
			merged := *ev.Match
			state.Match = &merged
		}
		return state, true

	case domain.ClassPlayer:
		return state, true

	case domain.ClassResponse:
		if ev.Op == domain.OpDelete || ev.Response == nil {
			return state, true
		}
		q, ok := state.CurrentQuestion()
		if !ok || ev.Response.QuestionID != q.ID {
			return state, false
		}
		state.Responses = mergeResponse(state.Responses, *ev.Response)
		return state, false
	}
	return state, false
}

func mergeResponse(responses []domain.Response, r domain.Response) []domain.Response {
	out := make([]domain.Response, 0, len(responses)+1)
	replaced := false
	for _, existing := range responses {
		if existing.ID == r.ID {
			out = append(out, r)
			replaced = true
			continue
		}
		out = append(out, existing)
	}
	if !replaced {
		out = append(out, r)
	}
	return out
}

// RankPlayers orders players for the leaderboard: score desc, then name, then ID.
func RankPlayers(players []domain.Player) []domain.Player {
	ranked := append([]domain.Player(nil), players...)
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		if ranked[i].Name != ranked[j].Name {
			return ranked[i].Name < ranked[j].Name
		}
		return ranked[i].ID < ranked[j].ID
	})
	return ranked
}
