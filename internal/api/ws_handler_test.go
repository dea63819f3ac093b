package api

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"memorial/internal/auth"
	"memorial/internal/board"
	"memorial/internal/content"
	"memorial/internal/errcode"
)

type wsFrame struct {
	Type         string    `json:"type"`
	Username     string    `json:"username"`
	CharacterID  uuid.UUID `json:"character_id"`
	Target       string    `json:"target"`
	X            int       `json:"x"`
	Y            int       `json:"y"`
	Final        bool      `json:"final"`
	ErrorCode    int       `json:"error_code"`
	ErrorMessage string    `json:"error_message"`
}

func dialBoard(t *testing.T, s *testServer) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(s.router)
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv.URL, "/v1/admin/board/ws"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) wsFrame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	var f wsFrame
	require.NoError(t, json.Unmarshal(raw, &f), string(raw))
	return f
}

func sendEvent(t *testing.T, conn *websocket.Conn, typ string, target board.Target, id uuid.UUID, x, y int) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(wsEventMessage{Type: typ, Target: target, CharacterID: id, X: x, Y: y}))
}

func authenticatedBoard(t *testing.T) (*testServer, *websocket.Conn, content.Character) {
	t.Helper()
	s := newTestServer(t)
	user := s.createUser(t, "admin", "correct-horse", false)
	sess := &auth.Session{UserID: user.ID, Username: user.Username}
	character, err := s.content.CreateCharacter(context.Background(), sess, content.CharacterFields{Name: "Anne", Description: "Diarist"})
	require.NoError(t, err)

	conn := dialBoard(t, s)
	require.NoError(t, conn.WriteJSON(wsAuthMessage{Type: "auth", Token: s.token(t, user)}))
	ready := readFrame(t, conn)
	require.Equal(t, "ready", ready.Type)
	assert.Equal(t, "admin", ready.Username)
	return s, conn, character
}

func TestBoard_CardDragPersistsOnRelease(t *testing.T) {
	s, conn, character := authenticatedBoard(t)

	sendEvent(t, conn, board.EventPress, board.TargetCard, character.ID, 100, 100)
	sendEvent(t, conn, board.EventMove, board.TargetCard, character.ID, 150, 120)

	move := readFrame(t, conn)
	assert.Equal(t, board.UpdatePosition, move.Type)
	assert.Equal(t, 50, move.X)
	assert.Equal(t, 20, move.Y)
	assert.False(t, move.Final)

	sendEvent(t, conn, board.EventRelease, board.TargetCard, character.ID, 160, 120)
	final := readFrame(t, conn)
	assert.True(t, final.Final)
	assert.Equal(t, 60, final.X)

	saved := readFrame(t, conn)
	assert.Equal(t, "saved", saved.Type)
	assert.Equal(t, string(board.TargetCard), saved.Target)

	got, err := s.content.GetCharacter(context.Background(), character.ID)
	require.NoError(t, err)
	assert.Equal(t, 60, got.PositionX)
	assert.Equal(t, 20, got.PositionY)
}

func TestBoard_ImageOffsetDrag(t *testing.T) {
	s, conn, character := authenticatedBoard(t)

	sendEvent(t, conn, board.EventPress, board.TargetImage, character.ID, 0, 0)
	sendEvent(t, conn, board.EventRelease, board.TargetImage, character.ID, -3, 12)

	final := readFrame(t, conn)
	assert.Equal(t, board.UpdateOffset, final.Type)
	assert.True(t, final.Final)
	assert.Equal(t, "saved", readFrame(t, conn).Type)

	got, err := s.content.GetCharacter(context.Background(), character.ID)
	require.NoError(t, err)
	assert.Equal(t, -3, got.ImageOffsetX)
	assert.Equal(t, 12, got.ImageOffsetY)
}

func TestBoard_UnknownCardReportsError(t *testing.T) {
	_, conn, _ := authenticatedBoard(t)

	sendEvent(t, conn, board.EventPress, board.TargetCard, uuid.New(), 0, 0)
	frame := readFrame(t, conn)
	assert.Equal(t, "error", frame.Type)
	assert.Equal(t, errcode.NotFound, frame.ErrorCode)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{")))
	frame = readFrame(t, conn)
	assert.Equal(t, errcode.BadRequest, frame.ErrorCode)
}

func TestBoard_RejectsBadAuth(t *testing.T) {
	s := newTestServer(t)
	user := s.createUser(t, "admin", "correct-horse", true)

	for _, msg := range []any{
		map[string]string{"type": "press"},
		wsAuthMessage{Type: "auth", Token: "garbage"},
		wsAuthMessage{Type: "auth", Token: s.token(t, user)},
	} {
		conn := dialBoard(t, s)
		require.NoError(t, conn.WriteJSON(msg))
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
		_, _, err := conn.ReadMessage()
		var closeErr *websocket.CloseError
		require.ErrorAs(t, err, &closeErr)
		assert.Equal(t, websocket.ClosePolicyViolation, closeErr.Code)
	}
}

func TestErrorFrame_Codes(t *testing.T) {
	id := uuid.New()
	assert.Equal(t, errcode.SaveInFlight, errorFrame(id, board.ErrSaveInFlight).ErrorCode)
	assert.Equal(t, errcode.Unauthorized, errorFrame(id, content.ErrUnauthorized).ErrorCode)
	assert.Equal(t, errcode.SystemError, errorFrame(id, &content.PersistenceError{Op: "x", Err: assert.AnError}).ErrorCode)
	assert.Equal(t, assert.AnError.Error(), errorFrame(id, &content.PersistenceError{Op: "x", Err: assert.AnError}).ErrorMessage)
}
