package database

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"memorial/internal/highlight"
)

// User is an operator allowed to sign in to the admin panel.
type User struct {
	ID                 uuid.UUID `gorm:"type:uuid;primaryKey"`
	Username           string    `gorm:"uniqueIndex;size:64"`
	PasswordHash       string    `gorm:"size:255"`
	MustChangePassword bool      `gorm:"default:false"`
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// HistoryContent holds the memorial history text and its highlighted words.
// The site reads the most recently created row only.
type HistoryContent struct {
	ID               uuid.UUID                                      `gorm:"type:uuid;primaryKey"`
	Content          string                                         `gorm:"type:text"`
	HighlightedWords datatypes.JSONSlice[highlight.HighlightedWord] `gorm:"column:highlighted_words"`
	CreatedAt        time.Time                                      `gorm:"index"`
	UpdatedAt        time.Time
}

// TableName keeps the singular table name used by the original schema.
func (HistoryContent) TableName() string { return "history_content" }

// Character is one card on the memorial wall.
type Character struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey"`
	Name         string    `gorm:"size:255;not null"`
	Description  string    `gorm:"type:text;not null"`
	ImageURL     *string   `gorm:"size:1024"`
	ImageKey     *string   `gorm:"size:512"` // set when the image lives in our bucket
	ExternalLink *string   `gorm:"size:1024"`
	PositionX    int       `gorm:"default:0"`
	PositionY    int       `gorm:"default:0"`
	Rotation     int       `gorm:"default:0"`
	ImageOffsetX int       `gorm:"default:0"`
	ImageOffsetY int       `gorm:"default:0"`
	CreatedAt    time.Time `gorm:"index"`
	UpdatedAt    time.Time
}

func assignID(id *uuid.UUID) {
	if *id == uuid.Nil {
		*id = uuid.New()
	}
}

func (u *User) BeforeCreate(*gorm.DB) error           { assignID(&u.ID); return nil }
func (h *HistoryContent) BeforeCreate(*gorm.DB) error { assignID(&h.ID); return nil }
func (c *Character) BeforeCreate(*gorm.DB) error      { assignID(&c.ID); return nil }

// Models lists every table owned by the service, in migration order.
func Models() []any {
	return []any{&User{}, &HistoryContent{}, &Character{}}
}
