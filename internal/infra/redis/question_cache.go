package redis

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"sync"
	"time"

	"buzzer-quiz-service/internal/app"
	"buzzer-quiz-service/internal/domain"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// QuestionCache caches the question sequence of a match in Redis and falls back to a
// loader on a miss. The sequence is stored as one JSON value: SET match:{id}:questions.
type QuestionCache struct {
	client *redis.Client
	loader app.QuestionRepository
	ttl    time.Duration
	sf     singleflight.Group
	rnd    *rand.Rand
	rndMu  sync.Mutex
}

func NewQuestionCache(client *redis.Client, loader app.QuestionRepository, ttl time.Duration) *QuestionCache {
	return &QuestionCache{
		client: client,
		loader: loader,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (c *QuestionCache) ListQuestions(ctx context.Context, matchID string) ([]domain.Question, error) {
	if questions, ok := c.cached(ctx, matchID); ok {
		return questions, nil
	}

	result, err, _ := c.sf.Do(matchID, func() (interface{}, error) {
		// Re-check cache in case another caller filled it.
		if questions, ok := c.cached(ctx, matchID); ok {
			return questions, nil
		}

		questions, err := c.loader.ListQuestions(ctx, matchID)
		if err != nil {
			return nil, err
		}

		raw, err := json.Marshal(questions)
		if err != nil {
			return nil, err
		}
		if err := c.client.Set(ctx, c.key(matchID), raw, c.ttlWithJitter()).Err(); err != nil {
			log.Warn().Err(err).Str("match_id", matchID).Msg("cache questions")
		}
		return questions, nil
	})
	if err != nil {
		return nil, err
	}
	return append([]domain.Question(nil), result.([]domain.Question)...), nil
}

// Invalidate drops the cached sequence of a match.
func (c *QuestionCache) Invalidate(ctx context.Context, matchID string) error {
	return c.client.Del(ctx, c.key(matchID)).Err()
}

func (c *QuestionCache) cached(ctx context.Context, matchID string) ([]domain.Question, bool) {
	raw, err := c.client.Get(ctx, c.key(matchID)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Warn().Err(err).Str("match_id", matchID).Msg("read cached questions")
		}
		return nil, false
	}
	var questions []domain.Question
	if err := json.Unmarshal(raw, &questions); err != nil {
		log.Warn().Err(err).Str("match_id", matchID).Msg("decode cached questions")
		return nil, false
	}
	return questions, true
}

func (c *QuestionCache) key(matchID string) string {
	return "match:" + matchID + ":questions"
}

func (c *QuestionCache) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	jitterMax := int64(c.ttl) / 10
	c.rndMu.Lock()
	defer c.rndMu.Unlock()
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}
