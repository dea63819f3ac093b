// Package content is the gateway between the admin panel / public page and
// the memorial content stored in PostgreSQL.
package content

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"memorial/internal/auth"
	"memorial/internal/database"
	"memorial/internal/highlight"
)

// Rotation bounds assigned to characters created without an explicit tilt.
const (
	MinRandomRotation = -3
	MaxRandomRotation = 3
)

// Revalidator refreshes the cached public page after content changed.
type Revalidator interface {
	Revalidate(ctx context.Context, reason string) error
}

// ImageStore resolves which image URLs point into our bucket and deletes
// those objects once no character uses them.
type ImageStore interface {
	ObjectKeyFromURL(rawURL string) (string, bool)
	DeleteObject(ctx context.Context, objectKey string) error
}

// MutationGateway is every write the admin panel can perform. Each call needs
// a valid session; without one it fails with ErrUnauthorized and writes
// nothing.
type MutationGateway interface {
	UpsertHistoryContent(ctx context.Context, sess *auth.Session, text string, highlights []highlight.HighlightedWord) error
	CreateCharacter(ctx context.Context, sess *auth.Session, fields CharacterFields) (Character, error)
	UpdateCharacter(ctx context.Context, sess *auth.Session, id uuid.UUID, fields CharacterFields) error
	DeleteCharacter(ctx context.Context, sess *auth.Session, id uuid.UUID) error
	UpdateCharacterPosition(ctx context.Context, sess *auth.Session, id uuid.UUID, x, y int) error
	UpdateCharacterImageOffset(ctx context.Context, sess *auth.Session, id uuid.UUID, x, y int) error
}

// QueryGateway is the read side used by the public page and the admin.
type QueryGateway interface {
	LatestHistory(ctx context.Context) (*History, error)
	ListCharacters(ctx context.Context) ([]Character, error)
	GetCharacter(ctx context.Context, id uuid.UUID) (Character, error)
}

// Service implements both gateways on top of gorm.
type Service struct {
	db          *gorm.DB
	revalidator Revalidator
	images      ImageStore
	logger      *slog.Logger
	intN        func(n int) int
}

var (
	_ MutationGateway = (*Service)(nil)
	_ QueryGateway    = (*Service)(nil)
)

// NewService wires the gateway. revalidator and images may be nil.
func NewService(db *gorm.DB, revalidator Revalidator, images ImageStore, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		db:          db,
		revalidator: revalidator,
		images:      images,
		logger:      logger,
		intN:        rand.IntN,
	}
}

func requireSession(sess *auth.Session) error {
	if !sess.Valid() {
		return ErrUnauthorized
	}
	return nil
}

// UpsertHistoryContent replaces the history text and highlights. The latest
// row is updated in place; a row is only inserted when none exists. Blank
// highlight words are dropped before saving.
func (s *Service) UpsertHistoryContent(ctx context.Context, sess *auth.Session, text string, highlights []highlight.HighlightedWord) error {
	if err := requireSession(sess); err != nil {
		return err
	}
	words := highlight.Clean(highlights)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing database.HistoryContent
		err := tx.Select("id").Order("created_at DESC").First(&existing).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			return tx.Create(&database.HistoryContent{
				Content:          text,
				HighlightedWords: words,
			}).Error
		case err != nil:
			return err
		}
		return tx.Model(&database.HistoryContent{}).
			Where("id = ?", existing.ID).
			Updates(map[string]any{
				"content":           text,
				"highlighted_words": datatypes.JSONSlice[highlight.HighlightedWord](words),
				"updated_at":        time.Now(),
			}).Error
	})
	if err != nil {
		return persistErr("upsert history", err)
	}

	s.logger.Info("history content saved",
		slog.String("user", sess.Username),
		slog.Int("highlights", len(words)),
	)
	s.revalidate(ctx, "history updated")
	return nil
}

// CreateCharacter inserts a character. Without an explicit rotation the card
// gets a random tilt in [MinRandomRotation, MaxRandomRotation].
func (s *Service) CreateCharacter(ctx context.Context, sess *auth.Session, fields CharacterFields) (Character, error) {
	if err := requireSession(sess); err != nil {
		return Character{}, err
	}
	if err := fields.validate(); err != nil {
		return Character{}, err
	}

	rotation := s.randomRotation()
	if fields.Rotation != nil {
		rotation = *fields.Rotation
	}

	model := database.Character{
		Name:         fields.Name,
		Description:  fields.Description,
		ImageURL:     optional(fields.ImageURL),
		ImageKey:     s.imageKey(optional(fields.ImageURL)),
		ExternalLink: optional(fields.ExternalLink),
		Rotation:     rotation,
	}
	if err := s.db.WithContext(ctx).Create(&model).Error; err != nil {
		return Character{}, persistErr("create character", err)
	}

	s.logger.Info("character created", slog.String("character_id", model.ID.String()), slog.String("user", sess.Username))
	s.revalidate(ctx, "character created")
	return newCharacter(model), nil
}

func (s *Service) randomRotation() int {
	return s.intN(MaxRandomRotation-MinRandomRotation+1) + MinRandomRotation
}

// UpdateCharacter overwrites the editable fields. A nil rotation leaves the
// stored tilt unchanged.
func (s *Service) UpdateCharacter(ctx context.Context, sess *auth.Session, id uuid.UUID, fields CharacterFields) error {
	if err := requireSession(sess); err != nil {
		return err
	}
	if err := fields.validate(); err != nil {
		return err
	}

	var current database.Character
	if err := s.db.WithContext(ctx).First(&current, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		return persistErr("load character", err)
	}

	imageURL := optional(fields.ImageURL)
	newKey := s.imageKey(imageURL)
	updates := map[string]any{
		"name":          fields.Name,
		"description":   fields.Description,
		"image_url":     imageURL,
		"image_key":     newKey,
		"external_link": optional(fields.ExternalLink),
		"updated_at":    time.Now(),
	}
	if fields.Rotation != nil {
		updates["rotation"] = *fields.Rotation
	}
	if err := s.db.WithContext(ctx).Model(&database.Character{}).Where("id = ?", id).Updates(updates).Error; err != nil {
		return persistErr("update character", err)
	}

	if oldKey := s.storedImageKey(current); oldKey != nil && (newKey == nil || *newKey != *oldKey) {
		s.removeImage(ctx, *oldKey)
	}
	s.revalidate(ctx, "character updated")
	return nil
}

// DeleteCharacter removes a character and its uploaded image, if any.
func (s *Service) DeleteCharacter(ctx context.Context, sess *auth.Session, id uuid.UUID) error {
	if err := requireSession(sess); err != nil {
		return err
	}

	var current database.Character
	if err := s.db.WithContext(ctx).First(&current, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		return persistErr("load character", err)
	}
	if err := s.db.WithContext(ctx).Delete(&database.Character{}, "id = ?", id).Error; err != nil {
		return persistErr("delete character", err)
	}

	if key := s.storedImageKey(current); key != nil {
		s.removeImage(ctx, *key)
	}
	s.logger.Info("character deleted", slog.String("character_id", id.String()), slog.String("user", sess.Username))
	s.revalidate(ctx, "character deleted")
	return nil
}

// UpdateCharacterPosition stores the board position of a card.
func (s *Service) UpdateCharacterPosition(ctx context.Context, sess *auth.Session, id uuid.UUID, x, y int) error {
	return s.updateCoordinates(ctx, sess, id, "position_x", "position_y", x, y, "character moved")
}

// UpdateCharacterImageOffset stores the image offset inside a card.
func (s *Service) UpdateCharacterImageOffset(ctx context.Context, sess *auth.Session, id uuid.UUID, x, y int) error {
	return s.updateCoordinates(ctx, sess, id, "image_offset_x", "image_offset_y", x, y, "character image moved")
}

func (s *Service) updateCoordinates(ctx context.Context, sess *auth.Session, id uuid.UUID, colX, colY string, x, y int, reason string) error {
	if err := requireSession(sess); err != nil {
		return err
	}
	res := s.db.WithContext(ctx).Model(&database.Character{}).
		Where("id = ?", id).
		Updates(map[string]any{
			colX:         x,
			colY:         y,
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return persistErr(reason, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	s.revalidate(ctx, reason)
	return nil
}

// LatestHistory returns the most recently created history row, or nil when
// there is none.
func (s *Service) LatestHistory(ctx context.Context) (*History, error) {
	var rows []database.HistoryContent
	if err := s.db.WithContext(ctx).Order("created_at DESC").Limit(1).Find(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return newHistory(rows[0]), nil
}

// ListCharacters returns every character, oldest first.
func (s *Service) ListCharacters(ctx context.Context) ([]Character, error) {
	var rows []database.Character
	if err := s.db.WithContext(ctx).Order("created_at ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]Character, 0, len(rows))
	for _, r := range rows {
		out = append(out, newCharacter(r))
	}
	return out, nil
}

// GetCharacter loads one character.
func (s *Service) GetCharacter(ctx context.Context, id uuid.UUID) (Character, error) {
	var row database.Character
	if err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Character{}, ErrNotFound
		}
		return Character{}, err
	}
	return newCharacter(row), nil
}

func (s *Service) revalidate(ctx context.Context, reason string) {
	if s.revalidator == nil {
		return
	}
	if err := s.revalidator.Revalidate(ctx, reason); err != nil {
		s.logger.Warn("page revalidation failed", slog.String("reason", reason), slog.Any("error", err))
	}
}

// imageKey returns the bucket object behind imageURL, or nil when the URL is
// empty or hosted elsewhere.
func (s *Service) imageKey(imageURL *string) *string {
	if s.images == nil || imageURL == nil {
		return nil
	}
	key, ok := s.images.ObjectKeyFromURL(*imageURL)
	if !ok {
		return nil
	}
	return &key
}

// storedImageKey prefers the recorded key and falls back to the URL for rows
// saved before keys were recorded.
func (s *Service) storedImageKey(row database.Character) *string {
	if row.ImageKey != nil && *row.ImageKey != "" {
		return row.ImageKey
	}
	return s.imageKey(row.ImageURL)
}

func (s *Service) removeImage(ctx context.Context, key string) {
	if s.images == nil {
		return
	}
	if err := s.images.DeleteObject(ctx, key); err != nil {
		s.logger.Warn("remove character image failed", slog.String("object_key", key), slog.Any("error", err))
	}
}
