package app_test

import (
	"context"
	"testing"
	"time"

	"buzzer-quiz-service/internal/app"
	"buzzer-quiz-service/internal/domain"
	"github.com/jonboulle/clockwork"
)

func TestRemaining(t *testing.T) {
	limit := 30 * time.Second
	cases := []struct {
		elapsed time.Duration
		want    int
	}{
		{0, 30},
		{1 * time.Millisecond, 30},
		{999 * time.Millisecond, 30},
		{1000 * time.Millisecond, 29},
		{29*time.Second + 1*time.Millisecond, 1},
		{30 * time.Second, 0},
		{45 * time.Second, 0},
		{-2 * time.Second, 32},
	}
	for _, tc := range cases {
		got := app.Remaining(limit, matchStart, matchStart.Add(tc.elapsed))
		if got != tc.want {
			t.Fatalf("elapsed %v: got %d, want %d", tc.elapsed, got, tc.want)
		}
	}
}

func TestRemainingForUsesWorkingTimer(t *testing.T) {
	started := matchStart
	state := domain.GameState{
		Match: &domain.Match{
			Status:               domain.StatusQuestionActive,
			CurrentQuestionIndex: 0,
			QuestionStartedAt:    &started,
			TimerSeconds:         10,
		},
		Questions: []domain.Question{{TimeLimit: 30}},
	}
	if got := app.RemainingFor(state, started.Add(4*time.Second)); got != 6 {
		t.Fatalf("expected 6 seconds left, got %d", got)
	}

	state.Match.TimerSeconds = 0
	if got := app.RemainingFor(state, started.Add(4*time.Second)); got != 26 {
		t.Fatalf("expected question limit fallback, got %d", got)
	}

	state.Match.Status = domain.StatusShowingResults
	if got := app.RemainingFor(state, started); got != 0 {
		t.Fatalf("expected no time outside an active question, got %d", got)
	}
	if got := app.RemainingFor(domain.GameState{}, started); got != 0 {
		t.Fatalf("expected no time without a match, got %d", got)
	}
}

func TestCountdownTicksDownAndStopsAtZero(t *testing.T) {
	clock := clockwork.NewFakeClockAt(matchStart)
	countdown := app.NewCountdown(clock, 500*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ticks := countdown.Run(ctx, matchStart, 2*time.Second)
	var seen []int
	seen = append(seen, <-ticks)
	for {
		clock.Advance(500 * time.Millisecond)
		v, ok := <-ticks
		if !ok {
			break
		}
		seen = append(seen, v)
		if v == 0 {
			if _, ok := <-ticks; ok {
				t.Fatalf("expected channel closed after zero")
			}
			break
		}
	}

	want := []int{2, 2, 1, 1, 0}
	if len(seen) != len(want) {
		t.Fatalf("got ticks %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("got ticks %v, want %v", seen, want)
		}
	}
}

func TestCountdownStartsFromElapsedTime(t *testing.T) {
	clock := clockwork.NewFakeClockAt(matchStart.Add(5 * time.Second))
	ticks := app.NewCountdown(clock, time.Second).Run(context.Background(), matchStart, 8*time.Second)

	var seen []int
	for v := range ticks {
		if len(seen) > 0 && v > seen[len(seen)-1] {
			t.Fatalf("countdown increased: %v then %d", seen, v)
		}
		seen = append(seen, v)
		if v > 0 {
			clock.Advance(time.Second)
		}
	}
	if len(seen) != 4 || seen[0] != 3 || seen[3] != 0 {
		t.Fatalf("unexpected ticks %v", seen)
	}
}

func TestCountdownStopsWithContext(t *testing.T) {
	clock := clockwork.NewFakeClockAt(matchStart)
	ctx, cancel := context.WithCancel(context.Background())
	ticks := app.NewCountdown(clock, time.Second).Run(ctx, matchStart, time.Minute)
	<-ticks
	cancel()
	for range ticks {
	}
}
