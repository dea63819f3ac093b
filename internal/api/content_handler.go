package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"memorial/internal/api/middleware"
	"memorial/internal/auth"
	"memorial/internal/board"
	"memorial/internal/content"
	"memorial/internal/highlight"
)

// imageKeyResolver maps an image URL to the bucket object it points at.
type imageKeyResolver interface {
	ObjectKeyFromURL(rawURL string) (string, bool)
}

// ContentHandler exposes the mutation and query gateways to the admin panel.
type ContentHandler struct {
	mutations content.MutationGateway
	queries   content.QueryGateway
	images    imageKeyResolver
	board     BoardPublisher
	logger    *slog.Logger
}

// NewContentHandler builds the handler. images may be nil, in which case
// image URLs are not checked against the bucket. bus may be nil when no
// board connection needs to hear about changes.
func NewContentHandler(mutations content.MutationGateway, queries content.QueryGateway, images imageKeyResolver, bus BoardPublisher, logger *slog.Logger) *ContentHandler {
	return &ContentHandler{mutations: mutations, queries: queries, images: images, board: bus, logger: logger}
}

type historyRequest struct {
	Content          string                      `json:"content"`
	HighlightedWords []highlight.HighlightedWord `json:"highlighted_words"`
}

type characterRequest struct {
	Name         string `json:"name" binding:"required"`
	Description  string `json:"description" binding:"required"`
	ImageURL     string `json:"image_url" binding:"omitempty,url"`
	ExternalLink string `json:"external_link" binding:"omitempty,url"`
	Rotation     *int   `json:"rotation" binding:"omitempty,min=-180,max=180"`
}

// bindCharacter decodes a character body. A URL into our bucket must name an
// object UploadAsset could have produced.
func (h *ContentHandler) bindCharacter(c *gin.Context) (characterRequest, bool) {
	var req characterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return req, false
	}
	if h.images != nil && req.ImageURL != "" {
		if key, ok := h.images.ObjectKeyFromURL(req.ImageURL); ok && !isValidImageObjectKey(key) {
			BadRequest(c, "invalid image url")
			return req, false
		}
	}
	return req, true
}

func (r characterRequest) fields() content.CharacterFields {
	return content.CharacterFields{
		Name:         r.Name,
		Description:  r.Description,
		ImageURL:     r.ImageURL,
		ExternalLink: r.ExternalLink,
		Rotation:     r.Rotation,
	}
}

type pointRequest struct {
	X *int `json:"x" binding:"required"`
	Y *int `json:"y" binding:"required"`
}

// GetContent returns everything the admin dashboard edits.
func (h *ContentHandler) GetContent(c *gin.Context) {
	ctx := c.Request.Context()
	logger := h.loggerFromContext(c)

	history, err := h.queries.LatestHistory(ctx)
	if err != nil {
		logger.Error("load history failed", slog.Any("error", err))
		Internal(c, "failed to load history")
		return
	}
	characters, err := h.queries.ListCharacters(ctx)
	if err != nil {
		logger.Error("load characters failed", slog.Any("error", err))
		Internal(c, "failed to load characters")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"history":    history,
		"characters": characters,
	})
}

// UpsertHistory replaces the history text and highlights. Words configured
// more than once are reported back as warnings; the first one wins.
func (h *ContentHandler) UpsertHistory(c *gin.Context) {
	var req historyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	sess, _ := middleware.SessionFromContext(c)
	if err := h.mutations.UpsertHistoryContent(c.Request.Context(), sess, req.Content, req.HighlightedWords); err != nil {
		MutationError(c, h.loggerFromContext(c), err)
		return
	}

	warnings := []string{}
	for _, w := range highlight.DuplicateWords(req.HighlightedWords) {
		warnings = append(warnings, "duplicate highlight word: "+w)
	}
	Success(c, http.StatusOK, gin.H{"warnings": warnings})
}

// CreateCharacter adds a card to the wall.
func (h *ContentHandler) CreateCharacter(c *gin.Context) {
	req, ok := h.bindCharacter(c)
	if !ok {
		return
	}

	sess, _ := middleware.SessionFromContext(c)
	created, err := h.mutations.CreateCharacter(c.Request.Context(), sess, req.fields())
	if err != nil {
		MutationError(c, h.loggerFromContext(c), err)
		return
	}
	Success(c, http.StatusCreated, gin.H{"character": created})
}

// UpdateCharacter edits a card.
func (h *ContentHandler) UpdateCharacter(c *gin.Context) {
	id, ok := characterIDParam(c)
	if !ok {
		return
	}
	req, ok := h.bindCharacter(c)
	if !ok {
		return
	}

	sess, _ := middleware.SessionFromContext(c)
	if err := h.mutations.UpdateCharacter(c.Request.Context(), sess, id, req.fields()); err != nil {
		MutationError(c, h.loggerFromContext(c), err)
		return
	}
	Success(c, http.StatusOK, nil)
}

// DeleteCharacter removes a card.
func (h *ContentHandler) DeleteCharacter(c *gin.Context) {
	id, ok := characterIDParam(c)
	if !ok {
		return
	}

	sess, _ := middleware.SessionFromContext(c)
	ctx := c.Request.Context()
	if err := h.mutations.DeleteCharacter(ctx, sess, id); err != nil {
		MutationError(c, h.loggerFromContext(c), err)
		return
	}
	h.notifyBoard(ctx, c, board.Broadcast{Type: board.BroadcastDeleted, CharacterID: id})
	Success(c, http.StatusOK, nil)
}

// UpdatePosition stores a card position. The board socket is the usual path;
// this endpoint serves clients without WebSocket support.
func (h *ContentHandler) UpdatePosition(c *gin.Context) {
	h.updatePoint(c, h.mutations.UpdateCharacterPosition, board.BroadcastPosition)
}

// UpdateOffset stores the image offset inside a card.
func (h *ContentHandler) UpdateOffset(c *gin.Context) {
	h.updatePoint(c, h.mutations.UpdateCharacterImageOffset, board.BroadcastOffset)
}

type pointMutation func(ctx context.Context, sess *auth.Session, id uuid.UUID, x, y int) error

func (h *ContentHandler) updatePoint(c *gin.Context, mutate pointMutation, kind string) {
	id, ok := characterIDParam(c)
	if !ok {
		return
	}
	var req pointRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	sess, _ := middleware.SessionFromContext(c)
	ctx := c.Request.Context()
	if err := mutate(ctx, sess, id, *req.X, *req.Y); err != nil {
		MutationError(c, h.loggerFromContext(c), err)
		return
	}
	// Open boards would otherwise start the next drag from the old anchor.
	h.notifyBoard(ctx, c, board.Broadcast{Type: kind, CharacterID: id, X: *req.X, Y: *req.Y})
	Success(c, http.StatusOK, nil)
}

func (h *ContentHandler) notifyBoard(ctx context.Context, c *gin.Context, b board.Broadcast) {
	b.CorrelationID = middleware.CorrelationIDFromContext(ctx)
	publishBoard(ctx, h.board, b, h.loggerFromContext(c))
}

func characterIDParam(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		BadRequest(c, "invalid character id")
		return uuid.Nil, false
	}
	return id, true
}

func (h *ContentHandler) loggerFromContext(c *gin.Context) *slog.Logger {
	if logger := middleware.LoggerFromContext(c); logger != nil {
		return logger
	}
	if h.logger != nil {
		return h.logger
	}
	return slog.Default()
}
