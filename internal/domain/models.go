package domain

import (
	"strings"
	"time"
)

// MatchStatus is the phase of a match.
type MatchStatus string

const (
	StatusLobby          MatchStatus = "LOBBY"
	StatusQuestionActive MatchStatus = "QUESTION_ACTIVE"
	StatusShowingResults MatchStatus = "SHOWING_RESULTS"
	StatusFinished       MatchStatus = "FINISHED"
)

// LobbyIndex is the current question index of a match that has not started a question.
const LobbyIndex = -1

// QuestionType selects how a question is answered and scored.
type QuestionType string

const (
	QuestionMCQ         QuestionType = "MCQ"
	QuestionShortAnswer QuestionType = "SHORT_ANSWER"
	QuestionBuzzer      QuestionType = "BUZZER"
)

// BuzzClaim is one occupied buzzer slot. At is the claimant's own clock and is only
// used to display reaction time; slot order is decided by the store.
type BuzzClaim struct {
	PlayerID string    `json:"playerId"`
	At       time.Time `json:"at"`
}

// Match is the root record every other record references.
type Match struct {
	ID                   string      `json:"id"`
	Code                 string      `json:"code"`
	Status               MatchStatus `json:"status"`
	CurrentQuestionIndex int         `json:"currentQuestionIndex"`
	QuestionStartedAt    *time.Time  `json:"questionStartedAt,omitempty"`
	AnswerRevealed       bool        `json:"answerRevealed"`
	TimerSeconds         int         `json:"timerSeconds"`
	PrimaryBuzz          *BuzzClaim  `json:"primaryBuzz,omitempty"`
	SecondaryBuzz        *BuzzClaim  `json:"secondaryBuzz,omitempty"`
	CreatedAt            time.Time   `json:"createdAt"`
}

// Question is read-only to the match engine once the match is active.
type Question struct {
	ID            string       `json:"id"`
	MatchID       string       `json:"matchId"`
	Type          QuestionType `json:"type"`
	Content       string       `json:"content"`
	Options       []string     `json:"options,omitempty"`
	CorrectAnswer string       `json:"correctAnswer"`
	Points        int          `json:"points"`
	TimeLimit     int          `json:"timeLimit"` // seconds
	MediaURL      string       `json:"mediaUrl,omitempty"`
	SortOrder     int          `json:"sortOrder"`
}

// Player is a participant of one match.
type Player struct {
	ID       string    `json:"id"`
	MatchID  string    `json:"matchId"`
	Name     string    `json:"name"`
	Score    int       `json:"score"`
	JoinedAt time.Time `json:"joinedAt"`
}

// Response is a player's answer to a question. (PlayerID, QuestionID) is unique.
type Response struct {
	ID           string    `json:"id"`
	MatchID      string    `json:"matchId"`
	PlayerID     string    `json:"playerId"`
	QuestionID   string    `json:"questionId"`
	Answer       string    `json:"answer"`
	IsCorrect    bool      `json:"isCorrect"`
	LatencyMs    int64     `json:"latencyMs"`
	PointsEarned int       `json:"pointsEarned"`
	SubmittedAt  time.Time `json:"submittedAt"`
}

// MatchPatch lists the match fields a single write changes. Nil fields are left as is.
type MatchPatch struct {
	Status               *MatchStatus
	CurrentQuestionIndex *int
	QuestionStartedAt    *time.Time
	ClearStartedAt       bool
	AnswerRevealed       *bool
	TimerSeconds         *int
	PrimaryBuzz          *BuzzClaim
	SecondaryBuzz        *BuzzClaim
	ClearBuzzers         bool
}

// Apply returns m with the patch applied. ClearBuzzers runs before slot claims.
func (p MatchPatch) Apply(m Match) Match {
	if p.Status != nil {
		m.Status = *p.Status
	}
	if p.CurrentQuestionIndex != nil {
		m.CurrentQuestionIndex = *p.CurrentQuestionIndex
	}
	if p.ClearStartedAt {
		m.QuestionStartedAt = nil
	}
	if p.QuestionStartedAt != nil {
		t := *p.QuestionStartedAt
		m.QuestionStartedAt = &t
	}
	if p.AnswerRevealed != nil {
		m.AnswerRevealed = *p.AnswerRevealed
	}
	if p.TimerSeconds != nil {
		m.TimerSeconds = *p.TimerSeconds
	}
	if p.ClearBuzzers {
		m.PrimaryBuzz = nil
		m.SecondaryBuzz = nil
	}
	if p.PrimaryBuzz != nil {
		c := *p.PrimaryBuzz
		m.PrimaryBuzz = &c
	}
	if p.SecondaryBuzz != nil {
		c := *p.SecondaryBuzz
		m.SecondaryBuzz = &c
	}
	return m
}

// MatchCondition guards a conditional match write. Zero-value fields are not checked.
type MatchCondition struct {
	Status             *MatchStatus
	QuestionIndex      *int
	AnswerRevealed     *bool
	PrimaryEmpty       bool
	SecondaryEmpty     bool
	PrimaryHeldByOther string // primary occupied by someone other than this player
}

// Holds reports whether m satisfies every set predicate.
func (c MatchCondition) Holds(m Match) bool {
	if c.Status != nil && m.Status != *c.Status {
		return false
	}
	if c.QuestionIndex != nil && m.CurrentQuestionIndex != *c.QuestionIndex {
		return false
	}
	if c.AnswerRevealed != nil && m.AnswerRevealed != *c.AnswerRevealed {
		return false
	}
	if c.PrimaryEmpty && m.PrimaryBuzz != nil {
		return false
	}
	if c.SecondaryEmpty && m.SecondaryBuzz != nil {
		return false
	}
	if c.PrimaryHeldByOther != "" {
		if m.PrimaryBuzz == nil || m.PrimaryBuzz.PlayerID == c.PrimaryHeldByOther {
			return false
		}
	}
	return true
}

// NormalizeCode canonicalizes a human-typed join code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
