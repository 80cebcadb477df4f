package memory

import (
	"context"
	"testing"
	"time"

	"buzzer-quiz-service/internal/app"
	"buzzer-quiz-service/internal/domain"
)

func TestQuestionCacheCaches(t *testing.T) {
	store := NewMatchStore(nil)
	match := seedMatch(t, store)
	loader := &countingLoader{QuestionRepository: store}
	cache := NewQuestionCache(loader, time.Minute)

	questions, err := cache.ListQuestions(context.Background(), match.ID)
	if err != nil {
		t.Fatalf("list questions: %v", err)
	}
	if len(questions) != 2 || questions[0].SortOrder != 1 {
		t.Fatalf("expected ordered questions, got %+v", questions)
	}
	if loader.calls != 1 {
		t.Fatalf("expected loader once, got %d", loader.calls)
	}

	if _, err := cache.ListQuestions(context.Background(), match.ID); err != nil {
		t.Fatalf("list questions 2: %v", err)
	}
	if loader.calls != 1 {
		t.Fatalf("expected cache hit, loader calls %d", loader.calls)
	}

	if err := cache.Invalidate(context.Background(), match.ID); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if _, err := cache.ListQuestions(context.Background(), match.ID); err != nil {
		t.Fatalf("list questions 3: %v", err)
	}
	if loader.calls != 2 {
		t.Fatalf("expected reload after invalidate, loader calls %d", loader.calls)
	}
}

func TestQuestionCacheExpires(t *testing.T) {
	store := NewMatchStore(nil)
	match := seedMatch(t, store)
	loader := &countingLoader{QuestionRepository: store}
	cache := NewQuestionCache(loader, time.Minute)
	now := time.Now()
	cache.clock = func() time.Time { return now }

	_, _ = cache.ListQuestions(context.Background(), match.ID)
	now = now.Add(2 * time.Minute)
	_, _ = cache.ListQuestions(context.Background(), match.ID)
	if loader.calls != 2 {
		t.Fatalf("expected expired entry to reload, loader calls %d", loader.calls)
	}
}

func TestQuestionCacheDoesNotCacheErrors(t *testing.T) {
	store := NewMatchStore(nil)
	loader := &countingLoader{QuestionRepository: store}
	cache := NewQuestionCache(loader, time.Minute)

	if _, err := cache.ListQuestions(context.Background(), "missing"); err != domain.ErrMatchNotFound {
		t.Fatalf("expected match not found, got %v", err)
	}
	_, _ = cache.ListQuestions(context.Background(), "missing")
	if loader.calls != 2 {
		t.Fatalf("expected errors to bypass cache, loader calls %d", loader.calls)
	}
}

type countingLoader struct {
	app.QuestionRepository
	calls int
}

func (l *countingLoader) ListQuestions(ctx context.Context, matchID string) ([]domain.Question, error) {
	l.calls++
	return l.QuestionRepository.ListQuestions(ctx, matchID)
}

func seedMatch(t *testing.T, store *MatchStore) domain.Match {
	t.Helper()
	match, err := store.CreateMatch(context.Background(), domain.Match{Code: "abc123"}, []domain.Question{
		{Type: domain.QuestionShortAnswer, Content: "6 * 7?", CorrectAnswer: "42", Points: 100, TimeLimit: 30, SortOrder: 2},
		{Type: domain.QuestionMCQ, Content: "Capital of France?", Options: []string{"Paris", "Rome"}, CorrectAnswer: "Paris", Points: 50, TimeLimit: 20, SortOrder: 1},
	})
	if err != nil {
		t.Fatalf("create match: %v", err)
	}
	return match
}
