package app_test

import (
	"context"
	"testing"
	"time"

	"buzzer-quiz-service/internal/app"
	"buzzer-quiz-service/internal/domain"
	"buzzer-quiz-service/internal/infra/memory"
	"github.com/jonboulle/clockwork"
)

var matchStart = time.Date(2024, 11, 22, 18, 0, 0, 0, time.UTC)

type fixture struct {
	service   *app.MatchService
	store     *memory.MatchStore
	broker    *memory.Broker
	clock     *clockwork.FakeClock
	match     domain.Match
	authority app.Session
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	broker := memory.NewBroker()
	clock := clockwork.NewFakeClockAt(matchStart)
	store := memory.NewMatchStoreWithClock(broker, clock)

	match, err := store.CreateMatch(context.Background(), domain.Match{Code: "QUIZ42"}, sampleQuestions())
	if err != nil {
		t.Fatalf("create match: %v", err)
	}
	service := app.NewMatchService(store, memory.NewQuestionCache(store, time.Minute), broker, clock)
	authority, err := service.OpenSession(context.Background(), "quiz42", app.RoleAuthority, "")
	if err != nil {
		t.Fatalf("open authority session: %v", err)
	}
	return &fixture{service: service, store: store, broker: broker, clock: clock, match: match, authority: authority}
}

func sampleQuestions() []domain.Question {
	return []domain.Question{
		{Type: domain.QuestionMCQ, Content: "Capital of France?", Options: []string{"Paris", "Rome", "Madrid"}, CorrectAnswer: "Paris", Points: 100, TimeLimit: 30, SortOrder: 0},
		{Type: domain.QuestionShortAnswer, Content: "6 * 7?", CorrectAnswer: "42", Points: 200, TimeLimit: 20, SortOrder: 1},
		{Type: domain.QuestionBuzzer, Content: "Name the largest planet", CorrectAnswer: "Jupiter", Points: 300, TimeLimit: 15, SortOrder: 2},
	}
}

func (f *fixture) join(t *testing.T, name string) app.Session {
	t.Helper()
	session, _, err := f.service.JoinAsPlayer(context.Background(), f.match.Code, name)
	if err != nil {
		t.Fatalf("join %s: %v", name, err)
	}
	return session
}

// snapshot loads a fresh GameState the way a client projector would.
func (f *fixture) snapshot(t *testing.T) domain.GameState {
	t.Helper()
	p := app.NewStateProjector(f.match.Code, f.store, f.store, f.broker, f.clock)
	if err := p.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	return p.Snapshot()
}

func (f *fixture) score(t *testing.T, playerID string) int {
	t.Helper()
	players, err := f.store.ListPlayers(context.Background(), f.match.ID)
	if err != nil {
		t.Fatalf("list players: %v", err)
	}
	for _, p := range players {
		if p.ID == playerID {
			return p.Score
		}
	}
	t.Fatalf("player %s not found", playerID)
	return 0
}

func (f *fixture) current(t *testing.T) domain.Match {
	t.Helper()
	m, err := f.store.GetMatch(context.Background(), f.match.ID)
	if err != nil {
		t.Fatalf("get match: %v", err)
	}
	return m
}

func waitForState(t *testing.T, ch <-chan domain.GameState, pred func(domain.GameState) bool) domain.GameState {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case s, ok := <-ch:
			if !ok {
				t.Fatalf("snapshot channel closed")
			}
			if pred(s) {
				return s
			}
		case <-timeout:
			t.Fatalf("timed out waiting for snapshot")
		}
	}
}
