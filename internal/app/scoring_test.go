package app_test

import (
	"testing"

	"buzzer-quiz-service/internal/app"
	"buzzer-quiz-service/internal/domain"
)

func TestEvaluateAnswer(t *testing.T) {
	capital := domain.Question{Type: domain.QuestionShortAnswer, CorrectAnswer: "Paris", Points: 100}
	buzzer := domain.Question{Type: domain.QuestionBuzzer, CorrectAnswer: "Jupiter", Points: 300}

	cases := []struct {
		name        string
		question    domain.Question
		answer      string
		wantCorrect bool
		wantPoints  int
	}{
		{"exact", capital, "Paris", true, 100},
		{"padded", capital, " Paris ", true, 100},
		{"case", capital, "pARIS", true, 100},
		{"wrong", capital, "Rome", false, 0},
		{"empty", capital, "   ", false, 0},
		{"buzzer graded but unpaid", buzzer, "jupiter", true, 0},
		{"negative points clamp", domain.Question{CorrectAnswer: "x", Points: -5}, "x", true, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			correct, points := app.EvaluateAnswer(tc.question, tc.answer)
			if correct != tc.wantCorrect || points != tc.wantPoints {
				t.Fatalf("got (%v, %d), want (%v, %d)", correct, points, tc.wantCorrect, tc.wantPoints)
			}
		})
	}
}

func TestRevealDeltasOnlyCreditsPositiveCorrect(t *testing.T) {
	deltas := app.RevealDeltas([]domain.Response{
		{PlayerID: "a", IsCorrect: true, PointsEarned: 100},
		{PlayerID: "b", IsCorrect: false, PointsEarned: 100},
		{PlayerID: "c", IsCorrect: true, PointsEarned: 0},
		{PlayerID: "d", IsCorrect: true, PointsEarned: -50},
	})
	if len(deltas) != 1 || deltas["a"] != 100 {
		t.Fatalf("unexpected deltas %+v", deltas)
	}
}

func TestBuzzerDelta(t *testing.T) {
	cases := []struct {
		slot    app.BuzzSlot
		correct bool
		want    int
	}{
		{app.SlotPrimary, true, 300},
		{app.SlotPrimary, false, -150},
		{app.SlotSecondary, true, 150},
		{app.SlotSecondary, false, -150},
	}
	for _, tc := range cases {
		got, err := app.BuzzerDelta(tc.slot, tc.correct, 300)
		if err != nil || got != tc.want {
			t.Fatalf("%s correct=%v: got %d, %v want %d", tc.slot, tc.correct, got, err, tc.want)
		}
	}
	if _, err := app.BuzzerDelta(app.SlotNone, true, 300); !domain.IsNoop(err) {
		t.Fatalf("expected invalid transition for empty slot, got %v", err)
	}
}
