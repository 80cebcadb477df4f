package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"buzzer-quiz-service/internal/domain"
	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestQuestionCacheCachesInRedis(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	loader := &countingLoader{questions: sampleQuestions()}
	cache := NewQuestionCache(newClient(mr), loader, time.Minute)

	got, err := cache.ListQuestions(context.Background(), "m1")
	if err != nil {
		t.Fatalf("list questions: %v", err)
	}
	if loader.calls != 1 || len(got) != 2 {
		t.Fatalf("expected one load of 2 questions, got calls=%d len=%d", loader.calls, len(got))
	}
	if !mr.Exists("match:m1:questions") {
		t.Fatalf("expected redis key to be set")
	}
	if ttl := mr.TTL("match:m1:questions"); ttl < time.Minute || ttl > 66*time.Second {
		t.Fatalf("unexpected ttl %v", ttl)
	}

	// Second call should hit cache, loader not incremented.
	got, _ = cache.ListQuestions(context.Background(), "m1")
	if loader.calls != 1 {
		t.Fatalf("expected cache hit, loader calls=%d", loader.calls)
	}
	if got[1].Options[1] != "Rome" || got[0].Type != domain.QuestionBuzzer {
		t.Fatalf("cached questions lost fields: %+v", got)
	}

	mr.FastForward(2 * time.Minute)
	_, _ = cache.ListQuestions(context.Background(), "m1")
	if loader.calls != 2 {
		t.Fatalf("expected reload after expiry, loader calls=%d", loader.calls)
	}

	if err := cache.Invalidate(context.Background(), "m1"); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if mr.Exists("match:m1:questions") {
		t.Fatalf("expected redis key to be removed")
	}
}

func TestQuestionCacheDoesNotCacheErrors(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	loader := &countingLoader{err: domain.ErrMatchNotFound}
	cache := NewQuestionCache(newClient(mr), loader, time.Minute)

	if _, err := cache.ListQuestions(context.Background(), "m1"); !errors.Is(err, domain.ErrMatchNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if mr.Exists("match:m1:questions") {
		t.Fatalf("error must not be cached")
	}
}

type countingLoader struct {
	questions []domain.Question
	err       error
	calls     int
}

func (l *countingLoader) ListQuestions(_ context.Context, _ string) ([]domain.Question, error) {
	l.calls++
	return l.questions, l.err
}

func sampleQuestions() []domain.Question {
	return []domain.Question{
		{ID: "q1", MatchID: "m1", Type: domain.QuestionBuzzer, Content: "Largest planet?", CorrectAnswer: "Jupiter", Points: 300, TimeLimit: 15, SortOrder: 0},
		{ID: "q2", MatchID: "m1", Type: domain.QuestionMCQ, Content: "Capital of France?", Options: []string{"Paris", "Rome"}, CorrectAnswer: "Paris", Points: 100, TimeLimit: 30, SortOrder: 1},
	}
}

func newClient(mr *miniredis.Miniredis) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
}
