package app_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"buzzer-quiz-service/internal/app"
	"buzzer-quiz-service/internal/domain"
)

func TestBuzzRankingFollowsWriteOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.join(t, "Alice")
	bob := f.join(t, "Bob")
	carol := f.join(t, "Carol")

	if _, err := f.service.Advance(ctx, f.authority, 2); err != nil {
		t.Fatalf("advance: %v", err)
	}
	// Both buzz from the same snapshot, taken while the primary slot was empty.
	stale := f.snapshot(t)

	slot, err := f.service.Buzz(ctx, alice, stale)
	if err != nil || slot != app.SlotPrimary {
		t.Fatalf("alice: got %s, %v", slot, err)
	}
	f.clock.Advance(50 * time.Millisecond)
	slot, err = f.service.Buzz(ctx, bob, stale)
	if err != nil || slot != app.SlotSecondary {
		t.Fatalf("bob: got %s, %v", slot, err)
	}
	slot, err = f.service.Buzz(ctx, carol, stale)
	if !errors.Is(err, domain.ErrConflictRejected) || slot != app.SlotNone {
		t.Fatalf("carol: got %s, %v", slot, err)
	}

	m := f.current(t)
	if m.PrimaryBuzz.PlayerID != alice.PlayerID || m.SecondaryBuzz.PlayerID != bob.PlayerID {
		t.Fatalf("unexpected slots %+v %+v", m.PrimaryBuzz, m.SecondaryBuzz)
	}
	if got := m.SecondaryBuzz.At.Sub(m.PrimaryBuzz.At); got != 50*time.Millisecond {
		t.Fatalf("expected claims 50ms apart, got %v", got)
	}
}

func TestPrimaryHolderCannotTakeSecondary(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.join(t, "Alice")
	if _, err := f.service.Advance(ctx, f.authority, 2); err != nil {
		t.Fatalf("advance: %v", err)
	}
	state := f.snapshot(t)

	if slot, err := f.service.Buzz(ctx, alice, state); slot != app.SlotPrimary || err != nil {
		t.Fatalf("first buzz: %s, %v", slot, err)
	}
	if slot, err := f.service.Buzz(ctx, alice, state); slot != app.SlotNone || !domain.IsNoop(err) {
		t.Fatalf("second buzz: %s, %v", slot, err)
	}
	if m := f.current(t); m.SecondaryBuzz != nil {
		t.Fatalf("expected secondary slot empty, got %+v", m.SecondaryBuzz)
	}
}

func TestBuzzerArbiterRequiresActiveQuestion(t *testing.T) {
	f := newFixture(t)
	arbiter := app.NewBuzzerArbiter(f.store, f.clock)
	player := f.join(t, "Alice")

	slot, err := arbiter.Claim(context.Background(), f.match.ID, player.PlayerID, 0)
	if slot != app.SlotNone || !errors.Is(err, domain.ErrConflictRejected) {
		t.Fatalf("expected rejected claim in lobby, got %s, %v", slot, err)
	}
}

func TestBuzzFromPreviousQuestionIsRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.join(t, "Alice")

	if _, err := f.service.Advance(ctx, f.authority, 1); err != nil {
		t.Fatalf("advance: %v", err)
	}
	stale := f.snapshot(t)
	if _, err := f.service.Advance(ctx, f.authority, 2); err != nil {
		t.Fatalf("advance: %v", err)
	}

	slot, err := f.service.Buzz(ctx, alice, stale)
	if slot != app.SlotNone || !domain.IsNoop(err) {
		t.Fatalf("expected stale buzz to be rejected, got %s, %v", slot, err)
	}
	if m := f.current(t); m.PrimaryBuzz != nil || m.SecondaryBuzz != nil {
		t.Fatalf("stale buzz took a slot of question %d: %+v", m.CurrentQuestionIndex, m)
	}

	slot, err = f.service.Buzz(ctx, alice, f.snapshot(t))
	if slot != app.SlotPrimary || err != nil {
		t.Fatalf("expected fresh buzz to win primary, got %s, %v", slot, err)
	}
}

func TestConcurrentBuzzesFillEachSlotOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.service.Advance(ctx, f.authority, 2); err != nil {
		t.Fatalf("advance: %v", err)
	}

	const players = 16
	sessions := make([]app.Session, players)
	for i := range sessions {
		sessions[i] = f.join(t, string(rune('A'+i)))
	}
	state := f.snapshot(t)

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		slots = map[app.BuzzSlot]int{}
	)
	for _, s := range sessions {
		wg.Add(1)
		go func(s app.Session) {
			defer wg.Done()
			slot, _ := f.service.Buzz(ctx, s, state)
			mu.Lock()
			slots[slot]++
			mu.Unlock()
		}(s)
	}
	wg.Wait()

	if slots[app.SlotPrimary] != 1 || slots[app.SlotSecondary] != 1 || slots[app.SlotNone] != players-2 {
		t.Fatalf("unexpected slot distribution %v", slots)
	}
	m := f.current(t)
	if m.PrimaryBuzz.PlayerID == m.SecondaryBuzz.PlayerID {
		t.Fatalf("one player holds both slots")
	}
}
