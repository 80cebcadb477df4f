package domain

import "errors"

var (
	// ErrMatchNotFound is returned when a match code or ID does not resolve.
	ErrMatchNotFound = errors.New("match not found")
	// ErrPlayerNotFound is returned when a player ID does not belong to the match.
	ErrPlayerNotFound = errors.New("player not found in match")
	// ErrQuestionNotFound indicates the match has no question at the requested index.
	ErrQuestionNotFound = errors.New("question not found")
	// ErrConflictRejected is returned when a conditional write lost to a concurrent writer.
	ErrConflictRejected = errors.New("conditional write rejected")
	// ErrInvalidTransition is returned when a command is issued outside its guard.
	ErrInvalidTransition = errors.New("invalid match transition")
	// ErrTransient wraps store or feed I/O failures. The caller may re-trigger the action.
	ErrTransient = errors.New("temporary store failure")
	// ErrForbidden is returned when the session role may not issue a command.
	ErrForbidden = errors.New("session role not allowed")
	// ErrTimeUp is returned when the local countdown already reached zero.
	ErrTimeUp = errors.New("time is up")
	// ErrInvalidName is returned when a player joins without a display name.
	ErrInvalidName = errors.New("display name required")
)

// IsNoop reports whether err means the command had no effect and nothing went wrong.
func IsNoop(err error) bool {
	return errors.Is(err, ErrConflictRejected) || errors.Is(err, ErrInvalidTransition)
}
