package domain

import "time"

// GameState is a client's point-in-time view of a match. A nil Match means the code
// did not resolve (yet).
type GameState struct {
	Match     *Match     `json:"match"`
	Questions []Question `json:"questions"`
	Players   []Player   `json:"players"`
	Responses []Response `json:"responses"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

// CurrentQuestion returns the question at the match's current index.
func (s GameState) CurrentQuestion() (Question, bool) {
	if s.Match == nil {
		return Question{}, false
	}
	idx := s.Match.CurrentQuestionIndex
	if idx < 0 || idx >= len(s.Questions) {
		return Question{}, false
	}
	return s.Questions[idx], true
}

// Player looks up a player of the snapshot by ID.
func (s GameState) Player(id string) (Player, bool) {
	for _, p := range s.Players {
		if p.ID == id {
			return p, true
		}
	}
	return Player{}, false
}

// ChangeOp is the kind of row change carried by a ChangeEvent.
type ChangeOp string

const (
	OpInsert ChangeOp = "insert"
	OpUpdate ChangeOp = "update"
	OpDelete ChangeOp = "delete"
	// OpResync tells consumers that events of the match may have been lost.
	OpResync ChangeOp = "resync"
)

// RecordClass names the watched record classes.
type RecordClass string

const (
	ClassMatch    RecordClass = "match"
	ClassPlayer   RecordClass = "player"
	ClassResponse RecordClass = "response"
)

// ChangeEvent is one row change for a match. Exactly one of Match, Player, Response is set
// for inserts and updates; deletes may only carry RecordID.
type ChangeEvent struct {
	Op       ChangeOp    `json:"op"`
	Class    RecordClass `json:"class"`
	MatchID  string      `json:"matchId"`
	RecordID string      `json:"recordId,omitempty"`
	Match    *Match      `json:"match,omitempty"`
	Player   *Player     `json:"player,omitempty"`
	Response *Response   `json:"response,omitempty"`
}

// ResyncEvent asks every projector of matchID to reload from the store.
func ResyncEvent(matchID string) ChangeEvent {
	return ChangeEvent{Op: OpResync, MatchID: matchID}
}
