// Package site builds the public memorial page.
package site

import (
	"context"
	"html/template"
	"log/slog"
	"time"

	"memorial/internal/content"
	"memorial/internal/highlight"
)

// Hero copy shown above the history section.
const (
	HeroTitle    = "HMD (Holocaust Memorial Day)"
	HeroSubtitle = "Honoring the memory of six million Jewish men, women, and children who perished during the Holocaust, and millions of others who suffered under Nazi persecution."
)

// Page is everything the public landing page shows. A nil History and an
// empty Characters slice render the placeholder copy.
type Page struct {
	Title       string              `json:"title"`
	Subtitle    string              `json:"subtitle"`
	History     *content.History    `json:"history"`
	Segments    []highlight.Segment `json:"segments"`
	Characters  []content.Character `json:"characters"`
	GeneratedAt time.Time           `json:"generated_at"`
}

// HistoryHTML renders the highlighted history text.
func (p *Page) HistoryHTML() (template.HTML, error) {
	return highlight.HTML(p.Segments)
}

// Builder assembles pages from the query gateway.
type Builder struct {
	queries content.QueryGateway
	logger  *slog.Logger
	now     func() time.Time
}

// NewBuilder returns a Builder reading through queries.
func NewBuilder(queries content.QueryGateway, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{queries: queries, logger: logger, now: time.Now}
}

// Build never fails: a history read error yields no history and a character
// read error yields an empty wall. Errors are logged.
func (b *Builder) Build(ctx context.Context) *Page {
	page := &Page{
		Title:       HeroTitle,
		Subtitle:    HeroSubtitle,
		Characters:  []content.Character{},
		GeneratedAt: b.now().UTC(),
	}

	history, err := b.queries.LatestHistory(ctx)
	if err != nil {
		b.logger.Error("load history content", slog.Any("error", err))
		history = nil
	}
	if history != nil {
		page.History = history
		page.Segments = highlight.Render(history.Content, history.HighlightedWords)
	}

	characters, err := b.queries.ListCharacters(ctx)
	if err != nil {
		b.logger.Error("load characters", slog.Any("error", err))
	} else if characters != nil {
		page.Characters = characters
	}

	return page
}
