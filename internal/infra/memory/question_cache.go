package memory

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"buzzer-quiz-service/internal/app"
	"buzzer-quiz-service/internal/domain"
	"golang.org/x/sync/singleflight"
)

// QuestionCache caches question sequences with a TTL. Questions are read-only once a
// match is active, so entries are only refreshed on expiry.
type QuestionCache struct {
	loader app.QuestionRepository
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group
	rnd    *rand.Rand
	rndMu  sync.Mutex

	mu    sync.RWMutex
	cache map[string]cachedQuestions
}

type cachedQuestions struct {
	questions []domain.Question
	expiresAt time.Time
}

func NewQuestionCache(loader app.QuestionRepository, ttl time.Duration) *QuestionCache {
	return &QuestionCache{
		loader: loader,
		ttl:    ttl,
		clock:  time.Now,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
		cache:  make(map[string]cachedQuestions),
	}
}

func (c *QuestionCache) ListQuestions(ctx context.Context, matchID string) ([]domain.Question, error) {
	if questions, ok := c.lookup(matchID); ok {
		return questions, nil
	}

	result, err, _ := c.sf.Do(matchID, func() (interface{}, error) {
		if questions, ok := c.lookup(matchID); ok {
			return questions, nil
		}

		questions, err := c.loader.ListQuestions(ctx, matchID)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		c.cache[matchID] = cachedQuestions{
			questions: questions,
			expiresAt: c.clock().Add(c.ttlWithJitter()),
		}
		c.mu.Unlock()
		return questions, nil
	})
	if err != nil {
		return nil, err
	}
	return append([]domain.Question(nil), result.([]domain.Question)...), nil
}

// Invalidate drops the cached sequence of a match.
func (c *QuestionCache) Invalidate(_ context.Context, matchID string) error {
	c.mu.Lock()
	delete(c.cache, matchID)
	c.mu.Unlock()
	return nil
}

func (c *QuestionCache) lookup(matchID string) ([]domain.Question, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.cache[matchID]
	if !ok || !entry.expiresAt.After(c.clock()) {
		return nil, false
	}
	return append([]domain.Question(nil), entry.questions...), true
}

func (c *QuestionCache) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	// add up to 10% jitter to spread expirations
	jitterMax := int64(c.ttl) / 10
	c.rndMu.Lock()
	defer c.rndMu.Unlock()
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}
