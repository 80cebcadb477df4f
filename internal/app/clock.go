package app

import (
	"context"
	"time"

	"buzzer-quiz-service/internal/domain"
	"github.com/jonboulle/clockwork"
)

// DefaultTickInterval is fine enough for a seconds display.
const DefaultTickInterval = 500 * time.Millisecond

// Remaining returns the whole seconds left of limit since startedAt, rounded up and
// never below zero.
func Remaining(limit time.Duration, startedAt, now time.Time) int {
	leftMs := limit.Milliseconds() - now.Sub(startedAt).Milliseconds()
	if leftMs <= 0 {
		return 0
	}
	return int((leftMs + 999) / 1000)
}

// TimeLimit is the working timer of the match, falling back to the current question.
func TimeLimit(state domain.GameState) time.Duration {
	if state.Match == nil {
		return 0
	}
	seconds := state.Match.TimerSeconds
	if seconds <= 0 {
		if q, ok := state.CurrentQuestion(); ok {
			seconds = q.TimeLimit
		}
	}
	return time.Duration(seconds) * time.Second
}

// RemainingFor derives the countdown of a snapshot. Anything but an active question
// with a start timestamp has no time left.
func RemainingFor(state domain.GameState, now time.Time) int {
	m := state.Match
	if m == nil || m.Status != domain.StatusQuestionActive || m.QuestionStartedAt == nil {
		return 0
	}
	return Remaining(TimeLimit(state), *m.QuestionStartedAt, now)
}

// Countdown recomputes the remaining time of a question from the local clock only.
type Countdown struct {
	clock    clockwork.Clock
	interval time.Duration
}

func NewCountdown(clock clockwork.Clock, interval time.Duration) *Countdown {
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	return &Countdown{clock: clock, interval: interval}
}

// Run emits the remaining seconds right away and then on every tick. The values never
// increase. The channel is closed after 0 is emitted or when ctx is done.
func (c *Countdown) Run(ctx context.Context, startedAt time.Time, limit time.Duration) <-chan int {
	ch := make(chan int, 1)
	ticker := c.clock.NewTicker(c.interval)

	go func() {
		defer close(ch)
		defer ticker.Stop()

		last := -1
		emit := func() bool {
			left := Remaining(limit, startedAt, c.clock.Now())
			if last >= 0 && left > last {
				left = last
			}
			last = left
			select {
			case ch <- left:
			case <-ctx.Done():
				return false
			}
			return left > 0
		}

		if !emit() {
			return
		}
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.Chan():
				if !emit() {
					return
				}
			}
		}
	}()
	return ch
}
