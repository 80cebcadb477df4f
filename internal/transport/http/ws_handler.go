package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"buzzer-quiz-service/internal/app"
	"buzzer-quiz-service/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

type WSHandler struct {
	service  *app.MatchService
	tick     time.Duration
	upgrader websocket.Upgrader
}

func NewWSHandler(service *app.MatchService, tick time.Duration) *WSHandler {
	return &WSHandler{
		service: service,
		tick:    tick,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type advancePayload struct {
	Index int `json:"index"`
}

type adjustScorePayload struct {
	PlayerID string `json:"playerId"`
	Delta    int    `json:"delta"`
}

type judgeBuzzerPayload struct {
	Rank    int  `json:"rank"`
	Correct bool `json:"correct"`
}

type answerPayload struct {
	Text string `json:"text"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type tickPayload struct {
	Remaining int `json:"remaining"`
}

type resultPayload struct {
	Command string `json:"command"`
	Data    any    `json:"data,omitempty"`
}

type errorPayload struct {
	Command string `json:"command,omitempty"`
	Message string `json:"message"`
}

// ServeWS upgrades HTTP requests to websockets. Each connection is one session with its
// own StateProjector; snapshots and countdown ticks are pushed, commands are read.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	code := q.Get("code")
	if code == "" {
		http.Error(w, "missing code", http.StatusBadRequest)
		return
	}
	role, err := app.ParseRole(q.Get("role"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var session app.Session
	if role == app.RoleParticipant && q.Get("playerId") == "" {
		session, _, err = h.service.JoinAsPlayer(r.Context(), code, q.Get("name"))
	} else {
		session, err = h.service.OpenSession(r.Context(), code, role, q.Get("playerId"))
	}
	if err != nil {
		http.Error(w, err.Error(), httpStatus(err))
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("ws upgrade failed")
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	projector, err := h.service.Project(ctx, session)
	if err != nil {
		_ = conn.WriteJSON(outboundMessage[errorPayload]{Type: "error", Payload: errorPayload{Message: err.Error()}})
		return
	}
	defer projector.Close()
	snapshots, unsubscribe := projector.Subscribe()
	defer unsubscribe()

	logger := log.With().
		Str("match_id", session.MatchID).
		Str("role", string(session.Role)).
		Str("player_id", session.PlayerID).
		Logger()

	send := make(chan outboundMessage[any], 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	pushDone := make(chan struct{})

	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				logger.Debug().Err(err).Msg("ws write error")
				_ = conn.Close()
				// keep draining so producers never block
				for range send {
				}
				return
			}
		}
	}()

	enqueue := func(msg outboundMessage[any]) bool {
		select {
		case send <- msg:
			return true
		case <-closeSignals:
			return false
		}
	}

	go func() {
		defer close(pushDone)
		h.pushState(ctx, snapshots, closeSignals, enqueue)
	}()

	enqueue(outboundMessage[any]{Type: "session", Payload: session})

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		data, err := h.dispatch(ctx, session, projector.Snapshot(), inbound)
		switch {
		case err == nil:
			enqueue(outboundMessage[any]{Type: "result", Payload: resultPayload{Command: inbound.Type, Data: data}})
		case domain.IsNoop(err):
			enqueue(outboundMessage[any]{Type: "noop", Payload: resultPayload{Command: inbound.Type}})
		default:
			if errors.Is(err, domain.ErrTransient) {
				logger.Error().Err(err).Str("command", inbound.Type).Msg("command failed")
			}
			enqueue(outboundMessage[any]{Type: "error", Payload: errorPayload{Command: inbound.Type, Message: err.Error()}})
		}
	}

	close(closeSignals)
	cancel()
	<-pushDone
	close(send)
	<-writerDone
}

// pushState forwards every snapshot and runs the countdown of the active question.
// A new start timestamp restarts the countdown.
func (h *WSHandler) pushState(ctx context.Context, snapshots <-chan domain.GameState, done <-chan struct{}, enqueue func(outboundMessage[any]) bool) {
	var (
		ticks       <-chan int
		stopCount   context.CancelFunc = func() {}
		countedFrom time.Time
	)
	defer func() { stopCount() }()

	for {
		select {
		case <-done:
			return
		case state, ok := <-snapshots:
			if !ok {
				return
			}
			if !enqueue(outboundMessage[any]{Type: "state", Payload: state}) {
				return
			}

			m := state.Match
			if m == nil || m.Status != domain.StatusQuestionActive || m.QuestionStartedAt == nil {
				stopCount()
				ticks, countedFrom = nil, time.Time{}
				continue
			}
			if m.QuestionStartedAt.Equal(countedFrom) {
				continue
			}
			stopCount()
			var countCtx context.Context
			countCtx, stopCount = context.WithCancel(ctx)
			countedFrom = *m.QuestionStartedAt
			ticks = h.service.Countdown(h.tick).Run(countCtx, countedFrom, app.TimeLimit(state))
		case remaining, ok := <-ticks:
			if !ok {
				ticks = nil
				continue
			}
			if !enqueue(outboundMessage[any]{Type: "tick", Payload: tickPayload{Remaining: remaining}}) {
				return
			}
		}
	}
}

func (h *WSHandler) dispatch(ctx context.Context, session app.Session, state domain.GameState, in inboundMessage) (any, error) {
	switch in.Type {
	case "advance":
		var p advancePayload
		if err := decode(in.Payload, &p); err != nil {
			return nil, err
		}
		return h.service.Advance(ctx, session, p.Index)
	case "reveal":
		return h.service.Reveal(ctx, session)
	case "resetBuzzers":
		return h.service.ResetBuzzers(ctx, session)
	case "clearResponses":
		n, err := h.service.ClearResponses(ctx, session)
		return map[string]int{"cleared": n}, err
	case "finish":
		return h.service.Finish(ctx, session)
	case "adjustScore":
		var p adjustScorePayload
		if err := decode(in.Payload, &p); err != nil {
			return nil, err
		}
		return nil, h.service.AdjustScore(ctx, session, p.PlayerID, p.Delta)
	case "judgeBuzzer":
		var p judgeBuzzerPayload
		if err := decode(in.Payload, &p); err != nil {
			return nil, err
		}
		holder, delta, err := h.service.JudgeBuzzer(ctx, session, app.BuzzSlot(p.Rank), p.Correct)
		return map[string]any{"playerId": holder, "delta": delta}, err
	case "buzz":
		slot, err := h.service.Buzz(ctx, session, state)
		return map[string]any{"slot": slot.String(), "rank": int(slot)}, err
	case "answer":
		var p answerPayload
		if err := decode(in.Payload, &p); err != nil {
			return nil, err
		}
		return h.service.SubmitAnswer(ctx, session, state, p.Text)
	default:
		return nil, errUnsupported
	}
}

var (
	errUnsupported = errors.New("unsupported message type")
	errBadPayload  = errors.New("invalid payload")
)

func decode(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return errBadPayload
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return errBadPayload
	}
	return nil
}

func httpStatus(err error) int {
	switch {
	case errors.Is(err, domain.ErrMatchNotFound), errors.Is(err, domain.ErrPlayerNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrTransient):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadRequest
	}
}
