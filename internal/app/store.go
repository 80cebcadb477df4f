package app

import (
	"context"

	"buzzer-quiz-service/internal/domain"
)

// MatchStore is the durable record set shared by every client of a match.
type MatchStore interface {
	MatchByCode(ctx context.Context, code string) (domain.Match, error)
	GetMatch(ctx context.Context, matchID string) (domain.Match, error)
	ListPlayers(ctx context.Context, matchID string) ([]domain.Player, error)
	ListResponses(ctx context.Context, questionID string) ([]domain.Response, error)
	InsertPlayer(ctx context.Context, player domain.Player) (domain.Player, error)

	// UpdateMatch writes patch unconditionally and returns the stored match.
	UpdateMatch(ctx context.Context, matchID string, patch domain.MatchPatch) (domain.Match, error)
	// UpdateMatchIf writes patch only if cond holds at write time, atomically with the
	// check. It returns domain.ErrConflictRejected when cond does not hold.
	UpdateMatchIf(ctx context.Context, matchID string, cond domain.MatchCondition, patch domain.MatchPatch) (domain.Match, error)

	// UpsertResponse inserts or overwrites the response keyed by (player, question).
	// An overwrite keeps the stored ID.
	UpsertResponse(ctx context.Context, response domain.Response) (domain.Response, error)
	DeleteResponses(ctx context.Context, questionID string) (int, error)

	// AddScores adds each delta to the player's score in one write.
	AddScores(ctx context.Context, matchID string, deltas map[string]int) error
	// UpdateMatchAndScores is UpdateMatchIf and AddScores as one atomic write: either the
	// match is patched and every delta applied, or nothing changes.
	UpdateMatchAndScores(ctx context.Context, matchID string, cond domain.MatchCondition, patch domain.MatchPatch, deltas map[string]int) (domain.Match, error)
}

// QuestionRepository loads the ordered question sequence of a match.
type QuestionRepository interface {
	ListQuestions(ctx context.Context, matchID string) ([]domain.Question, error)
}

// QuestionInvalidator is implemented by question caches that can drop a match's entry.
type QuestionInvalidator interface {
	Invalidate(ctx context.Context, matchID string) error
}

// ChangeFeed delivers row changes of one match. The caller must invoke the returned
// cancel function when the session ends.
type ChangeFeed interface {
	Subscribe(ctx context.Context, matchID string) (<-chan domain.ChangeEvent, func(), error)
}

// Publisher pushes a row change onto a ChangeFeed.
type Publisher interface {
	Publish(ctx context.Context, event domain.ChangeEvent) error
}
