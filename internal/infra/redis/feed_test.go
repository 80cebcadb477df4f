package redis

import (
	"context"
	"testing"
	"time"

	"buzzer-quiz-service/internal/domain"
	miniredis "github.com/alicebob/miniredis/v2"
)

func TestFeedDeliversMatchEvents(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	feed := NewFeed(newClient(mr))
	ctx := context.Background()

	events, cancel, err := feed.Subscribe(ctx, "m1")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()
	other, cancelOther, err := feed.Subscribe(ctx, "m2")
	if err != nil {
		t.Fatalf("subscribe m2: %v", err)
	}
	defer cancelOther()

	started := time.Date(2024, 11, 22, 18, 0, 0, 0, time.UTC)
	err = feed.Publish(ctx, domain.ChangeEvent{
		Op: domain.OpUpdate, Class: domain.ClassMatch, MatchID: "m1", RecordID: "m1",
		Match: &domain.Match{ID: "m1", Status: domain.StatusQuestionActive, QuestionStartedAt: &started},
	})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case ev := <-events:
		if ev.Match == nil || ev.Match.Status != domain.StatusQuestionActive || !ev.Match.QuestionStartedAt.Equal(started) {
			t.Fatalf("unexpected event %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for event")
	}

	select {
	case ev := <-other:
		t.Fatalf("m2 subscriber got %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestFeedCancelClosesChannel(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	events, cancel, err := NewFeed(newClient(mr)).Subscribe(context.Background(), "m1")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	cancel()
	cancel()

	select {
	case _, ok := <-events:
		if ok {
			t.Fatalf("expected closed channel")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("channel not closed after cancel")
	}
}

func TestFeedResyncsAfterReconnect(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	events, cancel, err := NewFeed(newClient(mr)).Subscribe(context.Background(), "m1")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()

	mr.Close()
	if err := mr.Restart(); err != nil {
		t.Fatalf("restart miniredis: %v", err)
	}

	select {
	case ev := <-events:
		if ev.Op != domain.OpResync || ev.MatchID != "m1" {
			t.Fatalf("expected resync, got %+v", ev)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("no resync after reconnect")
	}
}
