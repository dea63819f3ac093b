package content

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"memorial/internal/database"
	"memorial/internal/highlight"
)

// History is the memorial history text as served to pages and the admin.
type History struct {
	ID               uuid.UUID                   `json:"id"`
	Content          string                      `json:"content"`
	HighlightedWords []highlight.HighlightedWord `json:"highlighted_words"`
	CreatedAt        time.Time                   `json:"created_at"`
	UpdatedAt        time.Time                   `json:"updated_at"`
}

// Character is one card of the memorial wall.
type Character struct {
	ID           uuid.UUID `json:"id"`
	Name         string    `json:"name"`
	Description  string    `json:"description"`
	ImageURL     *string   `json:"image_url"`
	ExternalLink *string   `json:"external_link"`
	PositionX    int       `json:"position_x"`
	PositionY    int       `json:"position_y"`
	Rotation     int       `json:"rotation"`
	ImageOffsetX int       `json:"image_offset_x"`
	ImageOffsetY int       `json:"image_offset_y"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// CharacterFields are the operator-editable fields of a character.
// A nil Rotation means "not specified". The storage key of an uploaded image
// is derived from ImageURL, never taken from the client.
type CharacterFields struct {
	Name         string `json:"name"`
	Description  string `json:"description"`
	ImageURL     string `json:"image_url"`
	ExternalLink string `json:"external_link"`
	Rotation     *int   `json:"rotation"`
}

func (f CharacterFields) validate() error {
	if strings.TrimSpace(f.Name) == "" {
		return &ValidationError{Field: "name", Message: "is required"}
	}
	if strings.TrimSpace(f.Description) == "" {
		return &ValidationError{Field: "description", Message: "is required"}
	}
	return nil
}

func optional(s string) *string {
	if s = strings.TrimSpace(s); s == "" {
		return nil
	}
	return &s
}

func newHistory(m database.HistoryContent) *History {
	words := []highlight.HighlightedWord(m.HighlightedWords)
	if words == nil {
		words = []highlight.HighlightedWord{}
	}
	return &History{
		ID:               m.ID,
		Content:          m.Content,
		HighlightedWords: words,
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
	}
}

func newCharacter(m database.Character) Character {
	return Character{
		ID:           m.ID,
		Name:         m.Name,
		Description:  m.Description,
		ImageURL:     m.ImageURL,
		ExternalLink: m.ExternalLink,
		PositionX:    m.PositionX,
		PositionY:    m.PositionY,
		Rotation:     m.Rotation,
		ImageOffsetX: m.ImageOffsetX,
		ImageOffsetY: m.ImageOffsetY,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}
