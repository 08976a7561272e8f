package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"quiz-session-service/internal/app"
	"quiz-session-service/internal/domain"
)

// WSHandler exposes the session command surface over a websocket. One
// connection serves one participant; after a create or join command the
// connection is bound to that session and receives its event stream.
type WSHandler struct {
	orch     *app.Orchestrator
	bus      app.EventBus
	presence app.PresenceTracker
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

func NewWSHandler(orch *app.Orchestrator, bus app.EventBus, presence app.PresenceTracker, log zerolog.Logger) *WSHandler {
	return &WSHandler{
		orch:     orch,
		bus:      bus,
		presence: presence,
		log:      log,
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

type createPayload struct {
	Mode          domain.Mode `json:"mode"`
	CategoryID    string      `json:"categoryId"`
	QuestionCount int         `json:"questionCount"`
}

type joinPayload struct {
	AccessCode string `json:"accessCode"`
}

type answerPayload struct {
	QuestionIndex int    `json:"questionIndex"`
	Value         string `json:"value"`
	ResponseMS    int    `json:"responseMs"`
}

type joinedPayload struct {
	Player   domain.Player   `json:"player"`
	Snapshot domain.Snapshot `json:"snapshot"`
}

type answerResult struct {
	QuestionIndex int  `json:"questionIndex"`
	Correct       bool `json:"correct"`
}

type lifelinePayload struct {
	Type domain.LifelineKind `json:"type"`
}

type lifelineResult struct {
	JokersLeft int `json:"jokersLeft"`
	HelpsLeft  int `json:"helpsLeft"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Healthz is a liveness endpoint.
func (h *WSHandler) Healthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// ServeWS upgrades the request and runs the connection's command loop.
// Identity comes from query params; a real deployment would resolve it
// from the auth layer instead.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	identity := domain.Identity{
		UserID:      r.URL.Query().Get("userId"),
		DisplayName: r.URL.Query().Get("name"),
	}
	if identity.UserID == "" || identity.DisplayName == "" {
		http.Error(w, "missing userId or name", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("ws upgrade failed")
		return
	}
	defer conn.Close()

	c := &wsConn{
		handler:  h,
		conn:     conn,
		identity: identity,
		send:     make(chan outboundMessage[any], 16),
		closed:   make(chan struct{}),
	}
	c.run(r.Context())
}

// wsConn is the per-connection state. A single writer goroutine owns
// the socket for writes; the read loop and the event pump both feed it
// through send.
type wsConn struct {
	handler  *WSHandler
	conn     *websocket.Conn
	identity domain.Identity

	send   chan outboundMessage[any]
	closed chan struct{}

	sessionID   string
	playerID    string
	unsubscribe func()
	pumpDone    chan struct{}
}

func (c *wsConn) run(ctx context.Context) {
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for msg := range c.send {
			if err := c.conn.WriteJSON(msg); err != nil {
				c.handler.log.Debug().Err(err).Msg("ws write failed")
				return
			}
		}
	}()

	c.readLoop(ctx)

	close(c.closed)
	c.unbind(ctx)
	close(c.send)
	<-writerDone
}

func (c *wsConn) readLoop(ctx context.Context) {
	for {
		var inbound inboundMessage
		if err := c.conn.ReadJSON(&inbound); err != nil {
			return
		}

		switch inbound.Type {
		case "create":
			c.handleCreate(ctx, inbound.Payload)
		case "join":
			c.handleJoin(ctx, inbound.Payload)
		case "start":
			c.sessionCommand(ctx, c.handler.orch.StartSession)
		case "answer":
			c.handleAnswer(ctx, inbound.Payload)
		case "lifeline":
			c.handleLifeline(ctx, inbound.Payload)
		case "advance":
			c.sessionCommand(ctx, c.handler.orch.AdvanceQuestion)
		case "finish":
			c.sessionCommand(ctx, c.handler.orch.FinishSession)
		case "leave":
			c.handleLeave(ctx)
		default:
			c.sendError(domain.ErrInvalidState, "unsupported message type")
		}
	}
}

func (c *wsConn) handleCreate(ctx context.Context, raw json.RawMessage) {
	if c.sessionID != "" {
		c.sendError(domain.ErrInvalidState, "connection already bound to a session")
		return
	}
	var payload createPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		c.sendError(domain.ErrInvalidState, "invalid create payload")
		return
	}
	snapshot, err := c.handler.orch.CreateSession(ctx, app.CreateSessionInput{
		Mode:          payload.Mode,
		CategoryID:    payload.CategoryID,
		QuestionCount: payload.QuestionCount,
		Host:          c.identity,
	})
	if err != nil {
		c.sendError(err, err.Error())
		return
	}
	c.bind(ctx, snapshot.Session.ID, snapshot.Players[0].ID)
	c.push("created", joinedPayload{Player: snapshot.Players[0], Snapshot: snapshot})
}

func (c *wsConn) handleJoin(ctx context.Context, raw json.RawMessage) {
	if c.sessionID != "" {
		c.sendError(domain.ErrInvalidState, "connection already bound to a session")
		return
	}
	var payload joinPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		c.sendError(domain.ErrInvalidState, "invalid join payload")
		return
	}
	player, snapshot, err := c.handler.orch.JoinSession(ctx, payload.AccessCode, c.identity)
	if err != nil {
		c.sendError(err, err.Error())
		return
	}
	c.bind(ctx, snapshot.Session.ID, player.ID)
	c.push("joined", joinedPayload{Player: player, Snapshot: snapshot})
}

func (c *wsConn) handleAnswer(ctx context.Context, raw json.RawMessage) {
	if c.sessionID == "" {
		c.sendError(domain.ErrNotFound, "no session bound")
		return
	}
	var payload answerPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		c.sendError(domain.ErrInvalidState, "invalid answer payload")
		return
	}
	answer, err := c.handler.orch.SubmitAnswer(ctx, app.SubmitAnswerInput{
		SessionID:     c.sessionID,
		PlayerID:      c.playerID,
		QuestionIndex: payload.QuestionIndex,
		Value:         payload.Value,
		ResponseMS:    payload.ResponseMS,
	})
	if err != nil {
		c.sendError(err, err.Error())
		return
	}
	c.push("answerResult", answerResult{QuestionIndex: answer.QuestionIndex, Correct: answer.IsCorrect})
}

func (c *wsConn) handleLifeline(ctx context.Context, raw json.RawMessage) {
	if c.sessionID == "" {
		c.sendError(domain.ErrNotFound, "no session bound")
		return
	}
	var payload lifelinePayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		c.sendError(domain.ErrInvalidState, "invalid lifeline payload")
		return
	}
	player, err := c.handler.orch.ConsumeLifeline(ctx, c.sessionID, c.playerID, payload.Type)
	if err != nil {
		c.sendError(err, err.Error())
		return
	}
	c.push("lifelineResult", lifelineResult{JokersLeft: player.JokersLeft, HelpsLeft: player.HelpsLeft})
}

func (c *wsConn) sessionCommand(ctx context.Context, fn func(context.Context, string, domain.Identity) (domain.Session, error)) {
	if c.sessionID == "" {
		c.sendError(domain.ErrNotFound, "no session bound")
		return
	}
	if _, err := fn(ctx, c.sessionID, c.identity); err != nil {
		c.sendError(err, err.Error())
	}
}

func (c *wsConn) handleLeave(ctx context.Context) {
	if c.sessionID == "" {
		c.sendError(domain.ErrNotFound, "no session bound")
		return
	}
	if err := c.handler.orch.LeaveSession(ctx, c.sessionID, c.playerID); err != nil {
		c.sendError(err, err.Error())
		return
	}
	c.unbind(ctx)
	c.push("left", struct{}{})
}

// bind attaches the connection to a session: event stream subscription
// plus a presence announcement.
func (c *wsConn) bind(ctx context.Context, sessionID, playerID string) {
	c.sessionID = sessionID
	c.playerID = playerID

	events, cancel, err := c.handler.bus.Subscribe(ctx, sessionID)
	if err != nil {
		c.handler.log.Error().Err(err).Str("session_id", sessionID).Msg("event subscribe failed")
		c.sendError(err, "subscription unavailable")
		return
	}
	c.unsubscribe = cancel
	c.pumpDone = make(chan struct{})

	go func() {
		defer close(c.pumpDone)
		for {
			select {
			case event, ok := <-events:
				if !ok {
					return
				}
				select {
				case c.send <- outboundMessage[any]{Type: string(event.Kind), Payload: event}:
				case <-c.closed:
					return
				}
			case <-c.closed:
				return
			}
		}
	}()

	c.trackPresence(ctx)
}

// unbind releases everything bind acquired. Safe to call twice; the
// second call is a no-op.
func (c *wsConn) unbind(ctx context.Context) {
	if c.sessionID == "" {
		return
	}
	sessionID := c.sessionID
	c.sessionID = ""
	c.playerID = ""

	if c.unsubscribe != nil {
		c.unsubscribe()
		c.unsubscribe = nil
	}
	if c.pumpDone != nil {
		<-c.pumpDone
		c.pumpDone = nil
	}

	if err := c.handler.presence.Untrack(ctx, sessionID, c.identity.UserID); err != nil {
		c.handler.log.Warn().Err(err).Str("session_id", sessionID).Msg("presence untrack failed")
	}
	c.publishPresence(ctx, sessionID)
}

func (c *wsConn) trackPresence(ctx context.Context) {
	user := domain.PresenceUser{
		UserID:      c.identity.UserID,
		DisplayName: c.identity.DisplayName,
		LastSeenAt:  time.Now(),
	}
	if err := c.handler.presence.Track(ctx, c.sessionID, user); err != nil {
		c.handler.log.Warn().Err(err).Str("session_id", c.sessionID).Msg("presence track failed")
		return
	}
	c.publishPresence(ctx, c.sessionID)
}

func (c *wsConn) publishPresence(ctx context.Context, sessionID string) {
	users, err := c.handler.presence.List(ctx, sessionID)
	if err != nil {
		c.handler.log.Warn().Err(err).Str("session_id", sessionID).Msg("presence list failed")
		return
	}
	if err := c.handler.bus.Publish(ctx, domain.PresenceEvent(sessionID, users)); err != nil {
		c.handler.log.Warn().Err(err).Str("session_id", sessionID).Msg("presence publish failed")
	}
}

func (c *wsConn) push(msgType string, payload any) {
	select {
	case c.send <- outboundMessage[any]{Type: msgType, Payload: payload}:
	case <-c.closed:
	}
}

func (c *wsConn) sendError(err error, message string) {
	c.push("error", errorPayload{Kind: domain.ErrorKind(err), Message: message})
}
