package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"memorial/internal/auth"
	"memorial/internal/board"
	"memorial/internal/content"
	"memorial/internal/highlight"
)

type mutationResponse struct {
	Success   bool              `json:"success"`
	Error     string            `json:"error"`
	Warnings  []string          `json:"warnings"`
	Character content.Character `json:"character"`
}

func TestAdminRoutes_RequireAuth(t *testing.T) {
	s := newTestServer(t)

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/v1/admin/content"},
		{http.MethodPut, "/v1/admin/history"},
		{http.MethodPost, "/v1/admin/characters"},
		{http.MethodDelete, "/v1/admin/characters/" + uuid.NewString()},
		{http.MethodPatch, "/v1/admin/characters/" + uuid.NewString() + "/position"},
		{http.MethodPost, "/v1/admin/assets"},
	} {
		w := s.do(t, tc.method, tc.path, "", map[string]any{})
		assert.Equal(t, http.StatusUnauthorized, w.Code, tc.path)
		assert.JSONEq(t, `{"error":"unauthorized"}`, w.Body.String())
	}
}

func TestAdminRoutes_PasswordChangeGate(t *testing.T) {
	s := newTestServer(t)
	user := s.createUser(t, "admin", "initial-password", true)

	w := s.do(t, http.MethodGet, "/v1/admin/content", s.token(t, user), nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestCharacterLifecycle(t *testing.T) {
	s := newTestServer(t)
	token := s.token(t, s.createUser(t, "admin", "correct-horse", false))

	rotation := 0
	w := s.do(t, http.MethodPost, "/v1/admin/characters", token, map[string]any{
		"name":          "Anne Frank",
		"description":   "Diarist",
		"image_url":     "",
		"external_link": "https://www.annefrank.org",
		"rotation":      rotation,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decode[mutationResponse](t, w)
	assert.True(t, created.Success)
	assert.Nil(t, created.Character.ImageURL)
	assert.Zero(t, created.Character.Rotation)
	id := created.Character.ID.String()

	w = s.do(t, http.MethodPut, "/v1/admin/characters/"+id, token, map[string]any{
		"name":        "Anne Frank",
		"description": "Wrote her diary in hiding in Amsterdam",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `{"success":true}`, w.Body.String())

	w = s.do(t, http.MethodPatch, "/v1/admin/characters/"+id+"/position", token, map[string]any{"x": 120, "y": 0})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w = s.do(t, http.MethodPatch, "/v1/admin/characters/"+id+"/offset", token, map[string]any{"x": -4, "y": 30})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.do(t, http.MethodGet, "/v1/admin/content", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	payload := decode[struct {
		History    *content.History    `json:"history"`
		Characters []content.Character `json:"characters"`
	}](t, w)
	assert.Nil(t, payload.History)
	require.Len(t, payload.Characters, 1)
	got := payload.Characters[0]
	assert.Equal(t, "Wrote her diary in hiding in Amsterdam", got.Description)
	assert.Equal(t, 120, got.PositionX)
	assert.Equal(t, 30, got.ImageOffsetY)

	w = s.do(t, http.MethodDelete, "/v1/admin/characters/"+id, token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	w = s.do(t, http.MethodDelete, "/v1/admin/characters/"+id, token, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCharacterValidation(t *testing.T) {
	s := newTestServer(t)
	token := s.token(t, s.createUser(t, "admin", "correct-horse", false))

	w := s.do(t, http.MethodPost, "/v1/admin/characters", token, map[string]any{"description": "no name"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPost, "/v1/admin/characters", token, map[string]any{"name": "  ", "description": "blank"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"error":"name is required"}`, w.Body.String())

	w = s.do(t, http.MethodPost, "/v1/admin/characters", token, map[string]any{
		"name": "a", "description": "b", "image_url": "not a url",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPost, "/v1/admin/characters", token, map[string]any{
		"name": "a", "description": "b", "image_url": s.storage.PublicURL("characters/2025/01/evil.svg"),
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"error":"invalid image url"}`, w.Body.String())

	w = s.do(t, http.MethodPatch, "/v1/admin/characters/not-a-uuid/position", token, map[string]any{"x": 1, "y": 1})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPatch, "/v1/admin/characters/"+uuid.NewString()+"/position", token, map[string]any{"x": 1})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUpsertHistory_Warnings(t *testing.T) {
	s := newTestServer(t)
	token := s.token(t, s.createUser(t, "admin", "correct-horse", false))

	w := s.do(t, http.MethodPut, "/v1/admin/history", token, map[string]any{
		"content": "Never forget. never again.",
		"highlighted_words": []highlight.HighlightedWord{
			{Word: "Never", Color: "#dc2626"},
			{Word: "never", Color: "#2563eb"},
		},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode[mutationResponse](t, w)
	assert.True(t, resp.Success)
	assert.Equal(t, []string{"duplicate highlight word: Never"}, resp.Warnings)

	history, err := s.content.LatestHistory(context.Background())
	require.NoError(t, err)
	require.NotNil(t, history)
	assert.Len(t, history.HighlightedWords, 2)
}

type failingGateway struct {
	content.MutationGateway
	err error
}

func (f failingGateway) DeleteCharacter(context.Context, *auth.Session, uuid.UUID) error {
	return f.err
}

func TestMutationError_Mapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		body   string
	}{
		{"unauthorized", content.ErrUnauthorized, http.StatusUnauthorized, `{"error":"unauthorized"}`},
		{"not found", content.ErrNotFound, http.StatusNotFound, `{"error":"character not found"}`},
		{"validation", &content.ValidationError{Field: "name", Message: "is required"}, http.StatusBadRequest, `{"error":"name is required"}`},
		{"persistence verbatim", &content.PersistenceError{Op: "delete character", Err: errors.New(`violates foreign key constraint "x"`)}, http.StatusInternalServerError, `{"error":"violates foreign key constraint \"x\""}`},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, `{"error":"internal error"}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := NewContentHandler(failingGateway{err: tc.err}, nil, nil, nil, quietLogger())

			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			c.Request = httptest.NewRequest(http.MethodDelete, "/", nil)
			c.Params = gin.Params{{Key: "id", Value: uuid.NewString()}}

			h.DeleteCharacter(c)

			assert.Equal(t, tc.status, w.Code)
			assert.JSONEq(t, tc.body, w.Body.String())
		})
	}
}

func TestUpdateCharacter_KeepsImageAcrossReadEditSave(t *testing.T) {
	s := newTestServer(t)
	token := s.token(t, s.createUser(t, "admin", "correct-horse", false))

	key := "characters/2025/01/anne.png"
	s.storage.uploaded[key] = pngHeader

	w := s.do(t, http.MethodPost, "/v1/admin/characters", token, map[string]any{
		"name": "Anne Frank", "description": "Diarist", "image_url": s.storage.PublicURL(key),
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	id := decode[mutationResponse](t, w).Character.ID.String()

	w = s.do(t, http.MethodGet, "/v1/admin/content", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "image_key")
	listed := decode[struct {
		Characters []content.Character `json:"characters"`
	}](t, w)
	require.Len(t, listed.Characters, 1)
	read := listed.Characters[0]
	require.NotNil(t, read.ImageURL)

	w = s.do(t, http.MethodPut, "/v1/admin/characters/"+id, token, map[string]any{
		"name": read.Name, "description": "Wrote her diary in hiding", "image_url": *read.ImageURL,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.False(t, s.storage.deleted(key), "saving the same image must keep the object")

	replacement := "characters/2025/01/anne-portrait.png"
	s.storage.uploaded[replacement] = pngHeader
	w = s.do(t, http.MethodPut, "/v1/admin/characters/"+id, token, map[string]any{
		"name": read.Name, "description": "Wrote her diary in hiding", "image_url": s.storage.PublicURL(replacement),
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.True(t, s.storage.deleted(key))
	assert.False(t, s.storage.deleted(replacement))

	w = s.do(t, http.MethodDelete, "/v1/admin/characters/"+id, token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, s.storage.deleted(replacement))
}

func TestDeleteCharacter_ForeignImageURLLeavesBucketAlone(t *testing.T) {
	s := newTestServer(t)
	token := s.token(t, s.createUser(t, "admin", "correct-horse", false))

	key := "characters/2025/01/other.png"
	s.storage.uploaded[key] = pngHeader

	w := s.do(t, http.MethodPost, "/v1/admin/characters", token, map[string]any{
		"name": "a", "description": "b", "image_url": "https://cdn.example.org/" + key,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	id := decode[mutationResponse](t, w).Character.ID.String()

	w = s.do(t, http.MethodDelete, "/v1/admin/characters/"+id, token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, s.storage.deleted(key))
}

type acceptingGateway struct {
	content.MutationGateway
}

func (acceptingGateway) UpdateCharacterPosition(context.Context, *auth.Session, uuid.UUID, int, int) error {
	return nil
}

func (acceptingGateway) UpdateCharacterImageOffset(context.Context, *auth.Session, uuid.UUID, int, int) error {
	return nil
}

func (acceptingGateway) DeleteCharacter(context.Context, *auth.Session, uuid.UUID) error {
	return nil
}

type recordingPublisher struct {
	channels []string
	messages []board.Broadcast
}

func (p *recordingPublisher) Publish(_ context.Context, channel string, message interface{}) *redis.IntCmd {
	p.channels = append(p.channels, channel)
	if raw, ok := message.([]byte); ok {
		if b, err := board.DecodeBroadcast(raw); err == nil {
			p.messages = append(p.messages, b)
		}
	}
	return redis.NewIntResult(1, nil)
}

func TestPointAndDeleteEndpoints_NotifyBoard(t *testing.T) {
	pub := &recordingPublisher{}
	h := NewContentHandler(acceptingGateway{}, nil, nil, pub, quietLogger())
	id := uuid.New()

	run := func(handler gin.HandlerFunc, method, body string) int {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		c.Request = httptest.NewRequest(method, "/", strings.NewReader(body))
		c.Request.Header.Set("Content-Type", "application/json")
		c.Params = gin.Params{{Key: "id", Value: id.String()}}
		handler(c)
		return w.Code
	}

	require.Equal(t, http.StatusOK, run(h.UpdatePosition, http.MethodPatch, `{"x":120,"y":-8}`))
	require.Equal(t, http.StatusOK, run(h.UpdateOffset, http.MethodPatch, `{"x":3,"y":4}`))
	require.Equal(t, http.StatusOK, run(h.DeleteCharacter, http.MethodDelete, ""))

	assert.Equal(t, []string{board.EventsChannel, board.EventsChannel, board.EventsChannel}, pub.channels)
	require.Len(t, pub.messages, 3)
	assert.Equal(t, board.Broadcast{Type: board.BroadcastPosition, CharacterID: id, X: 120, Y: -8}, pub.messages[0])
	assert.Equal(t, board.Broadcast{Type: board.BroadcastOffset, CharacterID: id, X: 3, Y: 4}, pub.messages[1])
	assert.Equal(t, board.Broadcast{Type: board.BroadcastDeleted, CharacterID: id}, pub.messages[2])

	// Rejected requests publish nothing.
	assert.Equal(t, http.StatusBadRequest, run(h.UpdatePosition, http.MethodPatch, `{"x":1}`))
	assert.Len(t, pub.channels, 3)
}
