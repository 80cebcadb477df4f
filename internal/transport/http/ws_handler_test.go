package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"buzzer-quiz-service/internal/app"
	"buzzer-quiz-service/internal/domain"
	"buzzer-quiz-service/internal/infra/memory"
	"github.com/gorilla/websocket"
)

type wsMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	broker := memory.NewBroker()
	store := memory.NewMatchStore(broker)
	_, err := store.CreateMatch(context.Background(), domain.Match{Code: "QUIZ42"}, []domain.Question{
		{Type: domain.QuestionMCQ, Content: "Capital of France?", Options: []string{"Paris", "Rome"}, CorrectAnswer: "Paris", Points: 100, TimeLimit: 30, SortOrder: 0},
	})
	if err != nil {
		t.Fatalf("create match: %v", err)
	}
	service := app.NewMatchService(store, memory.NewQuestionCache(store, time.Minute), broker, nil)
	wsHandler := NewWSHandler(service, 100*time.Millisecond)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", wsHandler.ServeWS)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func dial(t *testing.T, server *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws?" + query
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", query, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readUntil skips messages until one of type typ satisfies match.
func readUntil(t *testing.T, conn *websocket.Conn, typ string, match func(json.RawMessage) bool) json.RawMessage {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		_ = conn.SetReadDeadline(deadline)
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("waiting for %s: %v", typ, err)
		}
		if msg.Type == typ && (match == nil || match(msg.Payload)) {
			return msg.Payload
		}
	}
}

func send(t *testing.T, conn *websocket.Conn, typ string, payload any) {
	t.Helper()
	if err := conn.WriteJSON(map[string]any{"type": typ, "payload": payload}); err != nil {
		t.Fatalf("write %s: %v", typ, err)
	}
}

func TestWebSocketMatchFlow(t *testing.T) {
	server := newTestServer(t)

	host := dial(t, server, "code=quiz42&role=authority")
	readUntil(t, host, "session", nil)
	readUntil(t, host, "state", nil)

	player := dial(t, server, "code=QUIZ42&role=participant&name=Alice")
	raw := readUntil(t, player, "session", nil)
	var session app.Session
	if err := json.Unmarshal(raw, &session); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	if session.PlayerID == "" || session.Role != app.RoleParticipant {
		t.Fatalf("unexpected session %+v", session)
	}

	send(t, host, "advance", map[string]int{"index": 0})
	readUntil(t, host, "result", nil)

	readUntil(t, player, "state", func(p json.RawMessage) bool {
		var s domain.GameState
		_ = json.Unmarshal(p, &s)
		return s.Match != nil && s.Match.Status == domain.StatusQuestionActive
	})
	readUntil(t, player, "tick", func(p json.RawMessage) bool {
		var tick tickPayload
		_ = json.Unmarshal(p, &tick)
		return tick.Remaining > 0 && tick.Remaining <= 30
	})

	send(t, player, "answer", map[string]string{"text": " paris "})
	raw = readUntil(t, player, "result", nil)
	var result struct {
		Command string          `json:"command"`
		Data    domain.Response `json:"data"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if result.Command != "answer" || !result.Data.IsCorrect || result.Data.PointsEarned != 100 {
		t.Fatalf("unexpected answer result %+v", result)
	}

	send(t, host, "reveal", nil)
	readUntil(t, host, "result", nil)
	readUntil(t, player, "state", func(p json.RawMessage) bool {
		var s domain.GameState
		_ = json.Unmarshal(p, &s)
		return len(s.Players) == 1 && s.Players[0].Score == 100 && s.Match.AnswerRevealed
	})

	send(t, host, "reveal", nil)
	readUntil(t, host, "noop", nil)
}

func TestWebSocketRejectsCommandsOutsideRole(t *testing.T) {
	server := newTestServer(t)

	observer := dial(t, server, "code=QUIZ42&role=observer")
	readUntil(t, observer, "session", nil)

	send(t, observer, "advance", map[string]int{"index": 0})
	raw := readUntil(t, observer, "error", nil)
	if !strings.Contains(string(raw), domain.ErrForbidden.Error()) {
		t.Fatalf("expected forbidden error, got %s", raw)
	}

	send(t, observer, "dance", nil)
	raw = readUntil(t, observer, "error", nil)
	if !strings.Contains(string(raw), "unsupported") {
		t.Fatalf("expected unsupported error, got %s", raw)
	}
}

func TestServeWSValidatesQuery(t *testing.T) {
	server := newTestServer(t)

	cases := []struct {
		query  string
		status int
	}{
		{"role=authority", http.StatusBadRequest},
		{"code=QUIZ42&role=host", http.StatusBadRequest},
		{"code=NOPE&role=observer", http.StatusNotFound},
		{"code=QUIZ42&role=participant&playerId=ghost", http.StatusNotFound},
		{"code=QUIZ42&role=participant", http.StatusBadRequest},
	}
	for _, tc := range cases {
		resp, err := http.Get(server.URL + "/ws?" + tc.query)
		if err != nil {
			t.Fatalf("get %s: %v", tc.query, err)
		}
		resp.Body.Close()
		if resp.StatusCode != tc.status {
			t.Fatalf("%s: got status %d, want %d", tc.query, resp.StatusCode, tc.status)
		}
	}
}
