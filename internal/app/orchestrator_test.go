package app_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"quiz-session-service/internal/app"
	"quiz-session-service/internal/domain"
	"quiz-session-service/internal/infra/memory"
)

func TestCreateSessionSeatsHostFirst(t *testing.T) {
	orch, _ := newTestOrchestrator(t)

	snap := mustCreate(t, orch, domain.ModeDuo, "host-1", "Alice")

	if snap.Session.State != domain.StateLobby {
		t.Fatalf("expected lobby state, got %s", snap.Session.State)
	}
	if snap.Session.AccessCode == "" {
		t.Fatalf("expected an access code")
	}
	if len(snap.Session.QuestionIDs) != 3 {
		t.Fatalf("expected 3 questions, got %d", len(snap.Session.QuestionIDs))
	}
	if len(snap.Players) != 1 || snap.Players[0].SeatOrder != 0 {
		t.Fatalf("expected host at seat 0, got %+v", snap.Players)
	}
	if snap.Session.HostUserID != "host-1" {
		t.Fatalf("expected host user id, got %q", snap.Session.HostUserID)
	}
}

func TestJoinAssignsIncreasingSeatOrders(t *testing.T) {
	ctx := context.Background()
	orch, _ := newTestOrchestrator(t)

	snap := mustCreate(t, orch, domain.ModeGroup, "host-1", "Alice")

	first, _, err := orch.JoinSession(ctx, snap.Session.AccessCode, domain.Identity{UserID: "u2", DisplayName: "Bob"})
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	second, joined, err := orch.JoinSession(ctx, snap.Session.AccessCode, domain.Identity{UserID: "u3", DisplayName: "Cara"})
	if err != nil {
		t.Fatalf("join: %v", err)
	}

	if first.SeatOrder != 1 || second.SeatOrder != 2 {
		t.Fatalf("expected seats 1 and 2, got %d and %d", first.SeatOrder, second.SeatOrder)
	}
	if len(joined.Players) != 3 {
		t.Fatalf("expected 3 players in snapshot, got %d", len(joined.Players))
	}
	seen := map[int]bool{}
	for _, p := range joined.Players {
		if seen[p.SeatOrder] {
			t.Fatalf("duplicate seat order %d", p.SeatOrder)
		}
		seen[p.SeatOrder] = true
	}
}

func TestJoinIsIdempotentForSameIdentity(t *testing.T) {
	ctx := context.Background()
	orch, _ := newTestOrchestrator(t)

	snap := mustCreate(t, orch, domain.ModeDuo, "host-1", "Alice")

	first, _, err := orch.JoinSession(ctx, snap.Session.AccessCode, domain.Identity{UserID: "u2", DisplayName: "Bob"})
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	again, snapAgain, err := orch.JoinSession(ctx, snap.Session.AccessCode, domain.Identity{UserID: "u2", DisplayName: "Bob"})
	if err != nil {
		t.Fatalf("rejoin: %v", err)
	}
	if again.ID != first.ID {
		t.Fatalf("expected the existing seat back, got %s and %s", first.ID, again.ID)
	}
	if len(snapAgain.Players) != 2 {
		t.Fatalf("expected no duplicate seat, got %d players", len(snapAgain.Players))
	}
}

func TestJoinUnknownCodeFails(t *testing.T) {
	ctx := context.Background()
	orch, _ := newTestOrchestrator(t)

	_, _, err := orch.JoinSession(ctx, "NOPE42", domain.Identity{UserID: "u2", DisplayName: "Bob"})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestJoinAfterStartFails(t *testing.T) {
	ctx := context.Background()
	orch, _ := newTestOrchestrator(t)

	snap := mustCreate(t, orch, domain.ModeDuo, "host-1", "Alice")
	mustJoin(t, orch, snap.Session.AccessCode, "u2", "Bob")
	mustStart(t, orch, snap.Session.ID, "host-1")

	_, _, err := orch.JoinSession(ctx, snap.Session.AccessCode, domain.Identity{UserID: "u3", DisplayName: "Cara"})
	if !errors.Is(err, domain.ErrAlreadyStarted) {
		t.Fatalf("expected ErrAlreadyStarted, got %v", err)
	}
}

func TestStartRequiresHost(t *testing.T) {
	ctx := context.Background()
	orch, _ := newTestOrchestrator(t)

	snap := mustCreate(t, orch, domain.ModeDuo, "host-1", "Alice")
	mustJoin(t, orch, snap.Session.AccessCode, "u2", "Bob")

	_, err := orch.StartSession(ctx, snap.Session.ID, domain.Identity{UserID: "u2"})
	if !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestStartBelowThresholdFailsThenSucceeds(t *testing.T) {
	ctx := context.Background()
	orch, _ := newTestOrchestrator(t)

	// Group mode needs 3 active players; host + 1 guest is not enough.
	snap := mustCreate(t, orch, domain.ModeGroup, "host-1", "Alice")
	mustJoin(t, orch, snap.Session.AccessCode, "u2", "Bob")

	_, err := orch.StartSession(ctx, snap.Session.ID, domain.Identity{UserID: "host-1"})
	if !errors.Is(err, domain.ErrNotEnoughPlayers) {
		t.Fatalf("expected ErrNotEnoughPlayers, got %v", err)
	}

	mustJoin(t, orch, snap.Session.AccessCode, "u3", "Cara")

	session, err := orch.StartSession(ctx, snap.Session.ID, domain.Identity{UserID: "host-1"})
	if err != nil {
		t.Fatalf("start after third join: %v", err)
	}
	if session.State != domain.StateInProgress {
		t.Fatalf("expected in_progress, got %s", session.State)
	}
}

func TestDoubleStartOnlyFirstSucceeds(t *testing.T) {
	ctx := context.Background()
	orch, _ := newTestOrchestrator(t)

	snap := mustCreate(t, orch, domain.ModeDuo, "host-1", "Alice")
	mustJoin(t, orch, snap.Session.AccessCode, "u2", "Bob")
	mustStart(t, orch, snap.Session.ID, "host-1")

	_, err := orch.StartSession(ctx, snap.Session.ID, domain.Identity{UserID: "host-1"})
	if !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState on second start, got %v", err)
	}
}

func TestSubmitAnswerScoresAndRejectsDuplicates(t *testing.T) {
	ctx := context.Background()
	orch, _ := newTestOrchestrator(t)

	snap := mustCreate(t, orch, domain.ModeDuo, "host-1", "Alice")
	guest := mustJoin(t, orch, snap.Session.AccessCode, "u2", "Bob")
	mustStart(t, orch, snap.Session.ID, "host-1")

	answer, err := orch.SubmitAnswer(ctx, app.SubmitAnswerInput{
		SessionID:     snap.Session.ID,
		PlayerID:      guest.ID,
		QuestionIndex: 0,
		Value:         "o-right",
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !answer.IsCorrect {
		t.Fatalf("expected correct answer")
	}

	_, err = orch.SubmitAnswer(ctx, app.SubmitAnswerInput{
		SessionID:     snap.Session.ID,
		PlayerID:      guest.ID,
		QuestionIndex: 0,
		Value:         "o-wrong",
	})
	if !errors.Is(err, domain.ErrDuplicateAnswer) {
		t.Fatalf("expected ErrDuplicateAnswer, got %v", err)
	}

	after, err := orch.GetSnapshot(ctx, snap.Session.ID)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	for _, p := range after.Players {
		if p.ID == guest.ID && p.Score != 1 {
			t.Fatalf("duplicate must not change score; got %d", p.Score)
		}
	}
	if len(after.Answers) != 1 {
		t.Fatalf("expected one recorded answer, got %d", len(after.Answers))
	}
}

func TestSubmitBeforeStartFails(t *testing.T) {
	ctx := context.Background()
	orch, _ := newTestOrchestrator(t)

	snap := mustCreate(t, orch, domain.ModeDuo, "host-1", "Alice")
	host := snap.Players[0]

	_, err := orch.SubmitAnswer(ctx, app.SubmitAnswerInput{
		SessionID: snap.Session.ID,
		PlayerID:  host.ID,
		Value:     "o-right",
	})
	if !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
}

func TestSessionFinishesWhenAllActivePlayersAnswered(t *testing.T) {
	ctx := context.Background()
	orch, _ := newTestOrchestrator(t)

	snap := mustCreate(t, orch, domain.ModeDuo, "host-1", "Alice")
	host := snap.Players[0]
	guest := mustJoin(t, orch, snap.Session.AccessCode, "u2", "Bob")
	mustStart(t, orch, snap.Session.ID, "host-1")

	// Alice: right, right, wrong. Bob: right on all three.
	submit(t, orch, snap.Session.ID, host.ID, 0, "o-right")
	submit(t, orch, snap.Session.ID, host.ID, 1, "o-right")
	submit(t, orch, snap.Session.ID, host.ID, 2, "o-wrong")
	submit(t, orch, snap.Session.ID, guest.ID, 0, "o-right")
	submit(t, orch, snap.Session.ID, guest.ID, 1, "o-right")
	submit(t, orch, snap.Session.ID, guest.ID, 2, "o-right")

	after, err := orch.GetSnapshot(ctx, snap.Session.ID)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if after.Session.State != domain.StateFinished {
		t.Fatalf("expected finished, got %s", after.Session.State)
	}

	summary, err := orch.Results(ctx, snap.Session.ID)
	if err != nil {
		t.Fatalf("results: %v", err)
	}
	if summary.Winner != "Bob" {
		t.Fatalf("expected Bob to win, got %q", summary.Winner)
	}
	if summary.Players[0].Score != 3 || summary.Players[1].Score != 2 {
		t.Fatalf("expected [3, 2], got %+v", summary.Players)
	}
}

func TestLeaverKeepsScoreOnBoard(t *testing.T) {
	ctx := context.Background()
	orch, _ := newTestOrchestrator(t)

	snap := mustCreate(t, orch, domain.ModeDuo, "host-1", "Alice")
	host := snap.Players[0]
	guest := mustJoin(t, orch, snap.Session.AccessCode, "u2", "Bob")
	mustStart(t, orch, snap.Session.ID, "host-1")

	submit(t, orch, snap.Session.ID, guest.ID, 0, "o-right")
	if err := orch.LeaveSession(ctx, snap.Session.ID, guest.ID); err != nil {
		t.Fatalf("leave: %v", err)
	}

	// With Bob gone, Alice finishing her three answers closes the game.
	submit(t, orch, snap.Session.ID, host.ID, 0, "o-wrong")
	submit(t, orch, snap.Session.ID, host.ID, 1, "o-wrong")
	submit(t, orch, snap.Session.ID, host.ID, 2, "o-wrong")

	after, err := orch.GetSnapshot(ctx, snap.Session.ID)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if after.Session.State != domain.StateFinished {
		t.Fatalf("expected finished, got %s", after.Session.State)
	}

	summary := domain.SummarizeSnapshot(after)
	if summary.Winner != "Bob" {
		t.Fatalf("leaver's score should remain; expected Bob to win, got %q", summary.Winner)
	}
	if len(after.Answers) != 4 {
		t.Fatalf("leaver's answers should remain; got %d", len(after.Answers))
	}
}

func TestAdvanceQuestionFinishesPastLastQuestion(t *testing.T) {
	ctx := context.Background()
	orch, _ := newTestOrchestrator(t)

	snap := mustCreate(t, orch, domain.ModeDuo, "host-1", "Alice")
	mustJoin(t, orch, snap.Session.AccessCode, "u2", "Bob")
	mustStart(t, orch, snap.Session.ID, "host-1")

	host := domain.Identity{UserID: "host-1"}
	session, err := orch.AdvanceQuestion(ctx, snap.Session.ID, host)
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if session.CurrentQuestionIndex != 1 {
		t.Fatalf("expected index 1, got %d", session.CurrentQuestionIndex)
	}

	if _, err := orch.AdvanceQuestion(ctx, snap.Session.ID, host); err != nil {
		t.Fatalf("advance: %v", err)
	}
	session, err = orch.AdvanceQuestion(ctx, snap.Session.ID, host)
	if err != nil {
		t.Fatalf("advance past last: %v", err)
	}
	if session.State != domain.StateFinished {
		t.Fatalf("expected finished after last question, got %s", session.State)
	}

	if _, err := orch.AdvanceQuestion(ctx, snap.Session.ID, domain.Identity{UserID: "u2"}); !errors.Is(err, domain.ErrForbidden) && !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("expected guest advance on finished session to fail, got %v", err)
	}
}

func TestFinishSessionIsHostOnly(t *testing.T) {
	ctx := context.Background()
	orch, _ := newTestOrchestrator(t)

	snap := mustCreate(t, orch, domain.ModeDuo, "host-1", "Alice")
	mustJoin(t, orch, snap.Session.AccessCode, "u2", "Bob")
	mustStart(t, orch, snap.Session.ID, "host-1")

	if _, err := orch.FinishSession(ctx, snap.Session.ID, domain.Identity{UserID: "u2"}); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}

	session, err := orch.FinishSession(ctx, snap.Session.ID, domain.Identity{UserID: "host-1"})
	if err != nil {
		t.Fatalf("finish: %v", err)
	}
	if session.State != domain.StateFinished {
		t.Fatalf("expected finished, got %s", session.State)
	}
}

func TestStateNeverMovesBackwards(t *testing.T) {
	ctx := context.Background()
	orch, bus := newTestOrchestrator(t)

	snap := mustCreate(t, orch, domain.ModeDuo, "host-1", "Alice")
	mustJoin(t, orch, snap.Session.AccessCode, "u2", "Bob")

	events, cancel, err := bus.Subscribe(ctx, snap.Session.ID)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()

	mustStart(t, orch, snap.Session.ID, "host-1")
	if _, err := orch.FinishSession(ctx, snap.Session.ID, domain.Identity{UserID: "host-1"}); err != nil {
		t.Fatalf("finish: %v", err)
	}

	last := domain.StateLobby
	for i := 0; i < 2; i++ {
		ev := <-events
		if ev.Kind != domain.EventSession {
			continue
		}
		if !last.CanTransition(ev.Session.State) {
			t.Fatalf("state moved backwards: %s after %s", ev.Session.State, last)
		}
		last = ev.Session.State
	}
	if last != domain.StateFinished {
		t.Fatalf("expected to observe finished, got %s", last)
	}
}

func TestJoinConcurrentIdentitiesGetDistinctSeats(t *testing.T) {
	ctx := context.Background()
	orch, _ := newTestOrchestrator(t)

	snap := mustCreate(t, orch, domain.ModeGroup, "host-1", "Alice")

	const joiners = 12
	var wg sync.WaitGroup
	for i := 0; i < joiners; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			userID := fmt.Sprintf("u%d", n)
			if _, _, err := orch.JoinSession(ctx, snap.Session.AccessCode, domain.Identity{UserID: userID, DisplayName: userID}); err != nil {
				t.Errorf("join %s: %v", userID, err)
			}
		}(i)
	}
	wg.Wait()

	final, err := orch.GetSnapshot(ctx, snap.Session.ID)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if len(final.Players) != joiners+1 {
		t.Fatalf("expected %d players, got %d", joiners+1, len(final.Players))
	}
	seats := make(map[int]string)
	for _, p := range final.Players {
		if holder, dup := seats[p.SeatOrder]; dup {
			t.Fatalf("seat %d held by both %s and %s", p.SeatOrder, holder, p.DisplayName)
		}
		seats[p.SeatOrder] = p.DisplayName
	}
}

func TestJoinConcurrentSameIdentitySeatsOnce(t *testing.T) {
	ctx := context.Background()
	orch, _ := newTestOrchestrator(t)

	snap := mustCreate(t, orch, domain.ModeGroup, "host-1", "Alice")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, _, err := orch.JoinSession(ctx, snap.Session.AccessCode, domain.Identity{UserID: "u-dup", DisplayName: "Bob"}); err != nil {
				t.Errorf("join: %v", err)
			}
		}()
	}
	wg.Wait()

	final, err := orch.GetSnapshot(ctx, snap.Session.ID)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if len(final.Players) != 2 {
		t.Fatalf("expected host plus one seat, got %d players", len(final.Players))
	}
}

func TestConsumeLifelineDecrementsUntilExhausted(t *testing.T) {
	ctx := context.Background()
	orch, _ := newTestOrchestrator(t)

	snap := mustCreate(t, orch, domain.ModeDuo, "host-1", "Alice")
	bob := mustJoin(t, orch, snap.Session.AccessCode, "u2", "Bob")
	if bob.JokersLeft != 1 || bob.HelpsLeft != 1 {
		t.Fatalf("expected fresh lifelines, got jokers=%d helps=%d", bob.JokersLeft, bob.HelpsLeft)
	}

	// Lifelines only exist during gameplay.
	if _, err := orch.ConsumeLifeline(ctx, snap.Session.ID, bob.ID, domain.LifelineJoker); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState in lobby, got %v", err)
	}

	mustStart(t, orch, snap.Session.ID, "host-1")

	after, err := orch.ConsumeLifeline(ctx, snap.Session.ID, bob.ID, domain.LifelineJoker)
	if err != nil {
		t.Fatalf("consume joker: %v", err)
	}
	if after.JokersLeft != 0 || after.HelpsLeft != 1 {
		t.Fatalf("expected jokers=0 helps=1, got jokers=%d helps=%d", after.JokersLeft, after.HelpsLeft)
	}

	if _, err := orch.ConsumeLifeline(ctx, snap.Session.ID, bob.ID, domain.LifelineJoker); !errors.Is(err, domain.ErrNoLifelines) {
		t.Fatalf("expected ErrNoLifelines, got %v", err)
	}
	if _, err := orch.ConsumeLifeline(ctx, snap.Session.ID, bob.ID, "wish"); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState for unknown kind, got %v", err)
	}

	// The help counter is independent of the joker counter.
	if _, err := orch.ConsumeLifeline(ctx, snap.Session.ID, bob.ID, domain.LifelineHelp); err != nil {
		t.Fatalf("consume help: %v", err)
	}
}

func newTestOrchestrator(t *testing.T) (*app.Orchestrator, app.EventBus) {
	t.Helper()
	store := memory.NewStore()
	bus := memory.NewBus()
	questions := memory.NewQuestionRepository(memory.NewStaticQuestionLoader(testQuestions()), 0)
	orch := app.NewOrchestrator(store, questions, memory.NewCodes(), bus, zerolog.Nop())
	return orch, bus
}

func testQuestions() map[string][]domain.Question {
	question := func(id string) domain.Question {
		return domain.Question{
			ID:     id,
			Prompt: "Pick the right option",
			Options: []domain.Option{
				{ID: "o-wrong", Text: "Wrong"},
				{ID: "o-right", Text: "Right", Correct: true},
			},
		}
	}
	return map[string][]domain.Question{
		"cat-1": {question("q1"), question("q2"), question("q3")},
	}
}

func mustCreate(t *testing.T, orch *app.Orchestrator, mode domain.Mode, hostID, hostName string) domain.Snapshot {
	t.Helper()
	snap, err := orch.CreateSession(context.Background(), app.CreateSessionInput{
		Mode:          mode,
		CategoryID:    "cat-1",
		QuestionCount: 3,
		Host:          domain.Identity{UserID: hostID, DisplayName: hostName},
	})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	return snap
}

func mustJoin(t *testing.T, orch *app.Orchestrator, code, userID, name string) domain.Player {
	t.Helper()
	player, _, err := orch.JoinSession(context.Background(), code, domain.Identity{UserID: userID, DisplayName: name})
	if err != nil {
		t.Fatalf("join session: %v", err)
	}
	return player
}

func mustStart(t *testing.T, orch *app.Orchestrator, sessionID, hostID string) {
	t.Helper()
	if _, err := orch.StartSession(context.Background(), sessionID, domain.Identity{UserID: hostID}); err != nil {
		t.Fatalf("start session: %v", err)
	}
}

func submit(t *testing.T, orch *app.Orchestrator, sessionID, playerID string, index int, value string) {
	t.Helper()
	_, err := orch.SubmitAnswer(context.Background(), app.SubmitAnswerInput{
		SessionID:     sessionID,
		PlayerID:      playerID,
		QuestionIndex: index,
		Value:         value,
	})
	if err != nil {
		t.Fatalf("submit answer q%d: %v", index, err)
	}
}
