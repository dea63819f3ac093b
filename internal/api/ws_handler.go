package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"

	"memorial/internal/auth"
	"memorial/internal/board"
	"memorial/internal/content"
	"memorial/internal/errcode"
	"memorial/internal/metrics"
)

const (
	wsAuthTimeout  = 10 * time.Second
	wsWriteTimeout = 5 * time.Second
	wsPingInterval = 30 * time.Second
	wsOutboxSize   = 64
)

// BoardStore is what the board socket needs from the content gateway.
type BoardStore interface {
	board.CardLoader
	BoardPersister(sess *auth.Session) content.BoardPersister
}

// BoardPublisher sends broadcasts to every board connection.
type BoardPublisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// BoardBus fans final positions out to every board connection.
type BoardBus interface {
	BoardPublisher
	Subscribe(ctx context.Context, channels ...string) *redis.PubSub
}

// publishBoard sends b on board.EventsChannel. Failures are logged only; the
// change is already stored.
func publishBoard(ctx context.Context, pub BoardPublisher, b board.Broadcast, log *slog.Logger) {
	if pub == nil {
		return
	}
	data, err := b.Encode()
	if err != nil {
		log.Error("encode board broadcast failed", slog.Any("error", err))
		return
	}
	if err := pub.Publish(context.WithoutCancel(ctx), board.EventsChannel, data).Err(); err != nil {
		log.Warn("publish board broadcast failed", slog.String("type", b.Type), slog.Any("error", err))
	}
}

// WsHandler serves the admin board socket. The first frame must carry an
// access token; afterwards every frame is a pointer event for one card.
type WsHandler struct {
	bus            BoardBus
	store          BoardStore
	authService    *auth.AuthService
	logger         *slog.Logger
	upgrader       websocket.Upgrader
	allowedOrigins []string
}

// NewWsHandler builds the board socket handler. bus may be nil, in which case
// updates stay local to the connection.
func NewWsHandler(bus BoardBus, store BoardStore, authService *auth.AuthService, logger *slog.Logger, allowedOrigins []string) *WsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &WsHandler{
		bus:            bus,
		store:          store,
		authService:    authService,
		logger:         logger,
		allowedOrigins: allowedOrigins,
	}
	h.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			if len(h.allowedOrigins) == 0 {
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			}
			for _, allowed := range h.allowedOrigins {
				if origin == allowed {
					return true
				}
			}
			return false
		},
	}
	return h
}

type wsAuthMessage struct {
	Type  string `json:"type"`
	Token string `json:"token"`
}

type wsEventMessage struct {
	Type        string       `json:"type"`
	Target      board.Target `json:"target"`
	CharacterID uuid.UUID    `json:"character_id"`
	X           int          `json:"x"`
	Y           int          `json:"y"`
	Exempt      bool         `json:"exempt"`
}

type wsReadyMessage struct {
	Type     string `json:"type"`
	Username string `json:"username"`
}

type wsSavedMessage struct {
	Type        string       `json:"type"`
	Target      board.Target `json:"target"`
	CharacterID uuid.UUID    `json:"character_id"`
	X           int          `json:"x"`
	Y           int          `json:"y"`
}

type wsErrorMessage struct {
	Type         string    `json:"type"`
	CharacterID  uuid.UUID `json:"character_id,omitempty"`
	ErrorCode    int       `json:"error_code"`
	ErrorMessage string    `json:"error_message"`
}

// boardConn is one authenticated board connection.
type boardConn struct {
	h      *WsHandler
	conn   *websocket.Conn
	sess   *auth.Session
	origin string
	log    *slog.Logger
	outbox chan any

	mu      sync.Mutex
	session *board.Session
}

// HandleConnection upgrades the request and runs the board session until
// either side disconnects.
func (h *WsHandler) HandleConnection(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("upgrade websocket failed", slog.Any("error", err))
		return
	}
	defer conn.Close()

	baseLog := h.logger.With(slog.String("client_ip", c.ClientIP()))

	sess, err := h.authenticate(conn)
	if err != nil {
		baseLog.Warn("websocket authentication failed", slog.Any("error", err))
		return
	}

	ctx, cancel := context.WithCancel(auth.WithSession(c.Request.Context(), sess))
	defer cancel()

	origin := uuid.NewString()
	bc := &boardConn{
		h:      h,
		conn:   conn,
		sess:   sess,
		origin: origin,
		log:    baseLog.With(slog.String("user_id", sess.UserID.String()), slog.String("connection", origin)),
		outbox: make(chan any, wsOutboxSize),
	}
	persister := h.store.BoardPersister(sess)
	bc.session = board.NewSession(h.store, persister, persister)

	done := metrics.BoardConnected()
	defer done()
	bc.log.Info("board connected")

	errCh := make(chan error, 3)
	go func() { errCh <- bc.writeLoop(ctx) }()
	if h.bus != nil {
		go func() { errCh <- bc.subscribeLoop(ctx) }()
	}
	go func() { errCh <- bc.readLoop(ctx) }()

	bc.send(ctx, wsReadyMessage{Type: "ready", Username: sess.Username})

	err = <-errCh
	cancel()
	if err != nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		bc.log.Info("board connection closed", slog.Any("error", err))
	} else {
		bc.log.Info("board connection closed")
	}
}

func (h *WsHandler) authenticate(conn *websocket.Conn) (*auth.Session, error) {
	_ = conn.SetReadDeadline(time.Now().Add(wsAuthTimeout))
	defer conn.SetReadDeadline(time.Time{})

	_, message, err := conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("read auth message: %w", err)
	}

	var authMsg wsAuthMessage
	if err := json.Unmarshal(message, &authMsg); err != nil {
		writeClose(conn, websocket.ClosePolicyViolation, "invalid auth payload")
		return nil, fmt.Errorf("decode auth payload: %w", err)
	}
	if authMsg.Type != "auth" || authMsg.Token == "" {
		writeClose(conn, websocket.ClosePolicyViolation, "auth required")
		return nil, errors.New("invalid auth message")
	}

	sess, err := h.authService.SessionFromAccessToken(authMsg.Token)
	if err != nil {
		reason := "unauthorized"
		if errors.Is(err, auth.ErrPasswordChangeRequired) {
			reason = "password change required"
		}
		writeClose(conn, websocket.ClosePolicyViolation, reason)
		return nil, fmt.Errorf("validate token: %w", err)
	}
	return sess, nil
}

func (bc *boardConn) readLoop(ctx context.Context) error {
	for {
		_, message, err := bc.conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read message: %w", err)
		}

		var msg wsEventMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			bc.send(ctx, wsErrorMessage{Type: "error", ErrorCode: errcode.BadRequest, ErrorMessage: "invalid event payload"})
			continue
		}
		bc.handleEvent(ctx, msg)
	}
}

func (bc *boardConn) handleEvent(ctx context.Context, msg wsEventMessage) {
	target := msg.Target
	if target == "" {
		target = board.TargetCard
	}

	bc.mu.Lock()
	update, done, err := bc.session.Handle(ctx, board.Event{
		Type:        msg.Type,
		Target:      target,
		CharacterID: msg.CharacterID,
		Pointer:     board.Point{X: msg.X, Y: msg.Y},
		Exempt:      msg.Exempt,
	})
	bc.mu.Unlock()

	if update != nil {
		bc.send(ctx, update)
	}
	if err != nil {
		if errors.Is(err, board.ErrSaveInFlight) {
			metrics.ObserveBoardSave(string(target), metrics.SaveDropped)
		}
		bc.send(ctx, errorFrame(msg.CharacterID, err))
		return
	}
	if done != nil && update != nil {
		go bc.awaitSave(ctx, target, *update, done)
	}
}

// awaitSave reports the outcome of one persisted gesture and, on success,
// tells the other board connections.
func (bc *boardConn) awaitSave(ctx context.Context, target board.Target, final board.Update, done <-chan error) {
	err := <-done
	if err != nil {
		metrics.ObserveBoardSave(string(target), metrics.SaveFailed)
		bc.log.Warn("board save failed",
			slog.String("character_id", final.CharacterID.String()),
			slog.String("target", string(target)),
			slog.Any("error", err),
		)
		bc.send(ctx, errorFrame(final.CharacterID, err))
		return
	}

	metrics.ObserveBoardSave(string(target), metrics.SaveOK)
	bc.send(ctx, wsSavedMessage{Type: "saved", Target: target, CharacterID: final.CharacterID, X: final.X, Y: final.Y})

	if bc.h.bus == nil {
		return
	}
	publishBoard(ctx, bc.h.bus, board.BroadcastFromUpdate(bc.origin, final), bc.log)
}

func (bc *boardConn) subscribeLoop(ctx context.Context) error {
	pubsub := bc.h.bus.Subscribe(ctx, board.EventsChannel)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return errors.New("pubsub channel closed")
			}
			b, err := board.DecodeBroadcast([]byte(msg.Payload))
			if err != nil {
				bc.log.Warn("drop malformed board broadcast", slog.Any("error", err))
				continue
			}
			if b.Origin == bc.origin {
				continue
			}
			if b.CharacterID != uuid.Nil {
				bc.mu.Lock()
				bc.session.ForgetIdle(b.CharacterID)
				bc.mu.Unlock()
			}
			bc.send(ctx, b)
		}
	}
}

// writeLoop is the only goroutine writing to the socket.
func (bc *boardConn) writeLoop(ctx context.Context) error {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			writeClose(bc.conn, websocket.CloseNormalClosure, "bye")
			return nil
		case msg := <-bc.outbox:
			_ = bc.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := bc.conn.WriteJSON(msg); err != nil {
				return fmt.Errorf("write message: %w", err)
			}
		case <-ticker.C:
			deadline := time.Now().Add(wsWriteTimeout)
			if err := bc.conn.WriteControl(websocket.PingMessage, []byte("ping"), deadline); err != nil {
				return fmt.Errorf("write ping: %w", err)
			}
		}
	}
}

func (bc *boardConn) send(ctx context.Context, msg any) {
	select {
	case bc.outbox <- msg:
	case <-ctx.Done():
	}
}

func errorFrame(characterID uuid.UUID, err error) wsErrorMessage {
	code := errcode.SystemError
	msg := err.Error()
	switch {
	case errors.Is(err, board.ErrSaveInFlight):
		code = errcode.SaveInFlight
	case errors.Is(err, content.ErrUnauthorized):
		code = errcode.Unauthorized
	case errors.Is(err, content.ErrNotFound):
		code = errcode.NotFound
		msg = "character not found"
	case errors.Is(err, content.ErrValidation), errors.Is(err, board.ErrInvalidEvent):
		code = errcode.BadRequest
	}
	return wsErrorMessage{Type: "error", CharacterID: characterID, ErrorCode: code, ErrorMessage: msg}
}

func writeClose(conn *websocket.Conn, code int, text string) {
	deadline := time.Now().Add(wsWriteTimeout)
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), deadline)
}
