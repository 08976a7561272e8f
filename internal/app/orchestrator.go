package app

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"quiz-session-service/internal/domain"
)

// Access codes avoid characters that read ambiguously when shared aloud
// or typed from a screen (0/O, 1/I/L).
const codeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

const (
	codeLength           = 6
	codeReserveAttempts  = 5
	defaultQuestionCount = 5
	defaultJokers        = 1
	defaultHelps         = 1
)

// Orchestrator validates and performs every session state transition. It
// is the only writer of Session.State; clients never mutate durable
// state directly.
type Orchestrator struct {
	store     Store
	questions QuestionRepository
	codes     CodeRegistry
	bus       EventBus
	clock     clockwork.Clock
	log       zerolog.Logger

	rndMu sync.Mutex
	rnd   *rand.Rand
}

func NewOrchestrator(store Store, questions QuestionRepository, codes CodeRegistry, bus EventBus, log zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		store:     store,
		questions: questions,
		codes:     codes,
		bus:       bus,
		clock:     clockwork.NewRealClock(),
		log:       log,
		rnd:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// WithClock swaps the clock for deterministic timestamps in tests.
func (o *Orchestrator) WithClock(clock clockwork.Clock) *Orchestrator {
	o.clock = clock
	return o
}

// CreateSessionInput carries everything needed to open a new room.
type CreateSessionInput struct {
	Mode          domain.Mode
	CategoryID    string
	QuestionCount int
	Host          domain.Identity
}

// CreateSession opens a lobby, fixes its question list, and seats the
// host at seat order 0.
func (o *Orchestrator) CreateSession(ctx context.Context, input CreateSessionInput) (domain.Snapshot, error) {
	if !input.Mode.Valid() {
		return domain.Snapshot{}, fmt.Errorf("%w: unknown mode %q", domain.ErrInvalidState, input.Mode)
	}

	count := input.QuestionCount
	if count <= 0 {
		count = defaultQuestionCount
	}
	questions, err := o.questions.Pick(ctx, input.CategoryID, count)
	if err != nil {
		return domain.Snapshot{}, err
	}
	questionIDs := make([]string, len(questions))
	for i, q := range questions {
		questionIDs[i] = q.ID
	}

	now := o.clock.Now()
	session := domain.Session{
		ID:          uuid.NewString(),
		Mode:        input.Mode,
		State:       domain.StateLobby,
		HostUserID:  input.Host.UserID,
		CategoryID:  input.CategoryID,
		QuestionIDs: questionIDs,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	session.AccessCode, err = o.reserveCode(ctx, session.ID)
	if err != nil {
		return domain.Snapshot{}, err
	}

	host := domain.Player{
		ID:          uuid.NewString(),
		SessionID:   session.ID,
		UserID:      optionalUserID(input.Host.UserID),
		DisplayName: input.Host.DisplayName,
		SeatOrder:   0,
		Status:      domain.PlayerActive,
		JokersLeft:  defaultJokers,
		HelpsLeft:   defaultHelps,
		JoinedAt:    now,
		UpdatedAt:   now,
	}

	if err := o.store.InsertSession(ctx, session, host); err != nil {
		_ = o.codes.Release(ctx, session.AccessCode)
		return domain.Snapshot{}, err
	}

	o.log.Info().
		Str("session_id", session.ID).
		Str("mode", string(session.Mode)).
		Str("access_code", session.AccessCode).
		Msg("session created")

	return domain.Snapshot{
		Session: session,
		Players: []domain.Player{host},
		Answers: []domain.Answer{},
	}, nil
}

// JoinSession seats an identity in the lobby matching accessCode. Joining
// twice with the same identity is idempotent and returns the existing
// seat.
func (o *Orchestrator) JoinSession(ctx context.Context, accessCode string, identity domain.Identity) (domain.Player, domain.Snapshot, error) {
	session, err := o.store.SessionByCode(ctx, accessCode)
	if err != nil {
		return domain.Player{}, domain.Snapshot{}, err
	}
	if session.State != domain.StateLobby {
		return domain.Player{}, domain.Snapshot{}, domain.ErrAlreadyStarted
	}

	now := o.clock.Now()
	player := domain.Player{
		ID:          uuid.NewString(),
		SessionID:   session.ID,
		UserID:      optionalUserID(identity.UserID),
		DisplayName: identity.DisplayName,
		Status:      domain.PlayerActive,
		JokersLeft:  defaultJokers,
		HelpsLeft:   defaultHelps,
		JoinedAt:    now,
		UpdatedAt:   now,
	}

	// The store assigns the seat inside its own critical section, so two
	// racing joins cannot share a seat and a racing duplicate identity
	// resolves to a single row.
	seated, err := o.store.SeatPlayer(ctx, player)
	if err != nil {
		return domain.Player{}, domain.Snapshot{}, err
	}

	players, err := o.store.PlayersBySession(ctx, session.ID)
	if err != nil {
		return domain.Player{}, domain.Snapshot{}, err
	}

	if seated.ID == player.ID {
		o.publish(ctx, domain.PlayersEvent(session.ID, players))
	}
	return seated, o.snapshot(session, players, nil), nil
}

// StartSession begins gameplay. Only the host may start, only from the
// lobby, and only once the mode's active-player minimum is met. The
// conditional write in the store resolves a double-start race: the
// second caller sees ErrInvalidState.
func (o *Orchestrator) StartSession(ctx context.Context, sessionID string, requester domain.Identity) (domain.Session, error) {
	session, err := o.store.SessionByID(ctx, sessionID)
	if err != nil {
		return domain.Session{}, err
	}
	if session.HostUserID == "" || session.HostUserID != requester.UserID {
		return domain.Session{}, domain.ErrForbidden
	}
	if session.State != domain.StateLobby {
		return domain.Session{}, domain.ErrInvalidState
	}

	players, err := o.store.PlayersBySession(ctx, sessionID)
	if err != nil {
		return domain.Session{}, err
	}
	if countActive(players) < session.Mode.MinPlayers() {
		return domain.Session{}, fmt.Errorf("%w: need at least %d", domain.ErrNotEnoughPlayers, session.Mode.MinPlayers())
	}

	updated, err := o.store.TransitionState(ctx, sessionID, domain.StateLobby, domain.StateInProgress, o.clock.Now())
	if err != nil {
		return domain.Session{}, err
	}

	o.log.Info().Str("session_id", sessionID).Msg("session started")
	o.publish(ctx, domain.SessionEvent(updated))
	return updated, nil
}

// SubmitAnswerInput identifies one submission.
type SubmitAnswerInput struct {
	SessionID     string
	PlayerID      string
	QuestionIndex int
	Value         string
	ResponseMS    int
}

// SubmitAnswer scores one submission. A resubmission for the same
// question fails with ErrDuplicateAnswer and never changes the score.
// When every active player has answered every question the session
// finishes.
func (o *Orchestrator) SubmitAnswer(ctx context.Context, input SubmitAnswerInput) (domain.Answer, error) {
	session, err := o.store.SessionByID(ctx, input.SessionID)
	if err != nil {
		return domain.Answer{}, err
	}
	if session.State != domain.StateInProgress {
		return domain.Answer{}, domain.ErrInvalidState
	}
	if input.QuestionIndex < 0 || input.QuestionIndex >= len(session.QuestionIDs) {
		return domain.Answer{}, domain.ErrQuestionNotFound
	}

	player, err := o.store.PlayerByID(ctx, input.SessionID, input.PlayerID)
	if err != nil {
		return domain.Answer{}, err
	}

	questions, err := o.questions.ByIDs(ctx, session.QuestionIDs)
	if err != nil {
		return domain.Answer{}, err
	}
	if input.QuestionIndex >= len(questions) {
		return domain.Answer{}, domain.ErrQuestionNotFound
	}
	question := questions[input.QuestionIndex]

	correct := input.Value == question.CorrectValue()
	awarded := 0
	if correct {
		awarded = question.Points
		if awarded == 0 {
			awarded = 1
		}
	}

	now := o.clock.Now()
	answer := domain.Answer{
		ID:             uuid.NewString(),
		SessionID:      session.ID,
		PlayerID:       player.ID,
		QuestionIndex:  input.QuestionIndex,
		SubmittedValue: input.Value,
		IsCorrect:      correct,
		ResponseMS:     input.ResponseMS,
		SubmittedAt:    now,
	}

	answer, _, err = o.store.InsertAnswer(ctx, answer, awarded)
	if err != nil {
		return domain.Answer{}, err
	}

	o.publishAnswers(ctx, session.ID)
	o.publishRoster(ctx, session.ID)

	if err := o.maybeFinish(ctx, session); err != nil {
		// The answer itself is recorded; log and let the next submission
		// or an explicit finish close the session.
		o.log.Warn().Err(err).Str("session_id", session.ID).Msg("auto-finish check failed")
	}
	return answer, nil
}

// ConsumeLifeline spends one of the player's lifelines. The store's
// conditional decrement guards the counter, so two racing consumes of a
// last lifeline resolve to one success and one ErrNoLifelines.
func (o *Orchestrator) ConsumeLifeline(ctx context.Context, sessionID, playerID string, kind domain.LifelineKind) (domain.Player, error) {
	if !kind.Valid() {
		return domain.Player{}, fmt.Errorf("%w: unknown lifeline %q", domain.ErrInvalidState, kind)
	}
	session, err := o.store.SessionByID(ctx, sessionID)
	if err != nil {
		return domain.Player{}, err
	}
	if session.State != domain.StateInProgress {
		return domain.Player{}, domain.ErrInvalidState
	}

	player, err := o.store.ConsumeLifeline(ctx, sessionID, playerID, kind, o.clock.Now())
	if err != nil {
		return domain.Player{}, err
	}
	o.publishRoster(ctx, sessionID)
	return player, nil
}

// AdvanceQuestion moves an in-progress session to the next question,
// finishing it once the last question is passed. Host-only.
func (o *Orchestrator) AdvanceQuestion(ctx context.Context, sessionID string, requester domain.Identity) (domain.Session, error) {
	session, err := o.store.SessionByID(ctx, sessionID)
	if err != nil {
		return domain.Session{}, err
	}
	if session.HostUserID != requester.UserID {
		return domain.Session{}, domain.ErrForbidden
	}
	if session.State != domain.StateInProgress {
		return domain.Session{}, domain.ErrInvalidState
	}

	if session.CurrentQuestionIndex+1 >= len(session.QuestionIDs) {
		return o.finish(ctx, session)
	}

	updated, err := o.store.BumpQuestionIndex(ctx, sessionID, o.clock.Now())
	if err != nil {
		return domain.Session{}, err
	}
	o.publish(ctx, domain.SessionEvent(updated))
	return updated, nil
}

// FinishSession ends an in-progress session early. Host-only; this is
// the hook for time-budget policies that live outside the engine.
func (o *Orchestrator) FinishSession(ctx context.Context, sessionID string, requester domain.Identity) (domain.Session, error) {
	session, err := o.store.SessionByID(ctx, sessionID)
	if err != nil {
		return domain.Session{}, err
	}
	if session.HostUserID != requester.UserID {
		return domain.Session{}, domain.ErrForbidden
	}
	if session.State != domain.StateInProgress {
		return domain.Session{}, domain.ErrInvalidState
	}
	return o.finish(ctx, session)
}

// LeaveSession soft-removes a player. Their score and answers stay in
// the record; leaving twice is a no-op.
func (o *Orchestrator) LeaveSession(ctx context.Context, sessionID, playerID string) error {
	if _, err := o.store.MarkPlayerLeft(ctx, sessionID, playerID, o.clock.Now()); err != nil {
		return err
	}
	o.publishRoster(ctx, sessionID)
	return nil
}

// GetSnapshot reads the full current view of a session.
func (o *Orchestrator) GetSnapshot(ctx context.Context, sessionID string) (domain.Snapshot, error) {
	session, err := o.store.SessionByID(ctx, sessionID)
	if err != nil {
		return domain.Snapshot{}, err
	}
	players, err := o.store.PlayersBySession(ctx, sessionID)
	if err != nil {
		return domain.Snapshot{}, err
	}
	answers, err := o.store.AnswersBySession(ctx, sessionID)
	if err != nil {
		return domain.Snapshot{}, err
	}
	return o.snapshot(session, players, answers), nil
}

// Results builds the result summary from the live store.
func (o *Orchestrator) Results(ctx context.Context, sessionID string) (domain.ResultSummary, error) {
	snap, err := o.GetSnapshot(ctx, sessionID)
	if err != nil {
		return domain.ResultSummary{}, err
	}
	return domain.SummarizeSnapshot(snap), nil
}

func (o *Orchestrator) finish(ctx context.Context, session domain.Session) (domain.Session, error) {
	updated, err := o.store.TransitionState(ctx, session.ID, domain.StateInProgress, domain.StateFinished, o.clock.Now())
	if err != nil {
		return domain.Session{}, err
	}
	_ = o.codes.Release(ctx, session.AccessCode)
	o.log.Info().Str("session_id", session.ID).Msg("session finished")
	o.publish(ctx, domain.SessionEvent(updated))
	return updated, nil
}

// maybeFinish closes the session once every active player has an answer
// for every question. A concurrent finish losing the conditional write
// is fine; the session is already closed.
func (o *Orchestrator) maybeFinish(ctx context.Context, session domain.Session) error {
	players, err := o.store.PlayersBySession(ctx, session.ID)
	if err != nil {
		return err
	}
	answers, err := o.store.AnswersBySession(ctx, session.ID)
	if err != nil {
		return err
	}

	counts := make(map[string]int, len(players))
	for _, a := range answers {
		counts[a.PlayerID]++
	}
	for _, p := range players {
		if p.Status != domain.PlayerActive {
			continue
		}
		if counts[p.ID] < len(session.QuestionIDs) {
			return nil
		}
	}

	_, err = o.finish(ctx, session)
	if errors.Is(err, domain.ErrInvalidState) {
		return nil
	}
	return err
}

func (o *Orchestrator) reserveCode(ctx context.Context, sessionID string) (string, error) {
	for attempt := 0; attempt < codeReserveAttempts; attempt++ {
		code := o.newCode()
		ok, err := o.codes.Reserve(ctx, code, sessionID)
		if err != nil {
			return "", err
		}
		if ok {
			return code, nil
		}
	}
	return "", fmt.Errorf("could not reserve a unique access code after %d attempts", codeReserveAttempts)
}

func (o *Orchestrator) newCode() string {
	o.rndMu.Lock()
	defer o.rndMu.Unlock()
	buf := make([]byte, codeLength)
	for i := range buf {
		buf[i] = codeAlphabet[o.rnd.Intn(len(codeAlphabet))]
	}
	return string(buf)
}

func (o *Orchestrator) publish(ctx context.Context, event domain.Event) {
	if err := o.bus.Publish(ctx, event); err != nil {
		o.log.Warn().Err(err).Str("session_id", event.SessionID).Str("kind", string(event.Kind)).Msg("publish failed")
	}
}

func (o *Orchestrator) publishRoster(ctx context.Context, sessionID string) {
	players, err := o.store.PlayersBySession(ctx, sessionID)
	if err != nil {
		o.log.Warn().Err(err).Str("session_id", sessionID).Msg("roster reload for publish failed")
		return
	}
	o.publish(ctx, domain.PlayersEvent(sessionID, players))
}

func (o *Orchestrator) publishAnswers(ctx context.Context, sessionID string) {
	answers, err := o.store.AnswersBySession(ctx, sessionID)
	if err != nil {
		o.log.Warn().Err(err).Str("session_id", sessionID).Msg("answer reload for publish failed")
		return
	}
	o.publish(ctx, domain.AnswersEvent(sessionID, answers))
}

func (o *Orchestrator) snapshot(session domain.Session, players []domain.Player, answers []domain.Answer) domain.Snapshot {
	if players == nil {
		players = []domain.Player{}
	}
	if answers == nil {
		answers = []domain.Answer{}
	}
	return domain.Snapshot{Session: session, Players: players, Answers: answers}
}

func countActive(players []domain.Player) int {
	n := 0
	for _, p := range players {
		if p.Status == domain.PlayerActive {
			n++
		}
	}
	return n
}

func optionalUserID(userID string) *string {
	if userID == "" {
		return nil
	}
	return &userID
}
