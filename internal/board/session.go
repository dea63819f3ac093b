package board

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrInvalidEvent is returned for events the board cannot interpret.
var ErrInvalidEvent = errors.New("invalid board event")

// Target selects which controller a pointer event drives.
type Target string

const (
	TargetCard  Target = "card"
	TargetImage Target = "image"
)

// Pointer event types.
const (
	EventPress   = "press"
	EventMove    = "move"
	EventRelease = "release"
)

// Update types emitted back to the board.
const (
	UpdatePosition = "position"
	UpdateOffset   = "offset"
)

// Event is one pointer event sent by the admin board.
type Event struct {
	Type        string
	Target      Target
	CharacterID uuid.UUID
	Pointer     Point
	Exempt      bool
}

// Update is the visual state change caused by an event.
type Update struct {
	Type        string    `json:"type"`
	CharacterID uuid.UUID `json:"character_id"`
	X           int       `json:"x"`
	Y           int       `json:"y"`
	Final       bool      `json:"final"`
}

// CardState is the persisted layout of one card.
type CardState struct {
	Position Point
	Offset   Point
}

// CardLoader reads the persisted layout of a card the first time the board
// touches it.
type CardLoader interface {
	LoadCard(ctx context.Context, characterID uuid.UUID) (CardState, error)
}

// Session owns the controllers for every card touched over one board
// connection. It is driven by a single event stream and is not safe for
// concurrent Handle calls.
type Session struct {
	loader    CardLoader
	positions PositionPersister
	offsets   OffsetPersister

	cards  map[uuid.UUID]*DragController
	images map[uuid.UUID]*OffsetDragController
}

// NewSession builds an empty session.
func NewSession(loader CardLoader, positions PositionPersister, offsets OffsetPersister) *Session {
	return &Session{
		loader:    loader,
		positions: positions,
		offsets:   offsets,
		cards:     make(map[uuid.UUID]*DragController),
		images:    make(map[uuid.UUID]*OffsetDragController),
	}
}

// Forget drops the controllers of a card, for example after it was deleted or
// moved by another operator.
func (s *Session) Forget(characterID uuid.UUID) {
	delete(s.cards, characterID)
	delete(s.images, characterID)
}

// ForgetIdle drops the controllers of a card that are not mid-gesture, so the
// next press reloads the layout another operator saved. A gesture in progress
// keeps its state.
func (s *Session) ForgetIdle(characterID uuid.UUID) {
	if c, ok := s.cards[characterID]; ok && c.State() == Idle {
		delete(s.cards, characterID)
	}
	if o, ok := s.images[characterID]; ok && o.State() == Idle && !o.Saving() {
		delete(s.images, characterID)
	}
}

// Handle applies ev. It returns the update to show (nil when nothing changed
// visually) and, for a completed gesture, the channel carrying the save result.
func (s *Session) Handle(ctx context.Context, ev Event) (*Update, <-chan error, error) {
	if ev.CharacterID == uuid.Nil {
		return nil, nil, fmt.Errorf("%w: character id is required", ErrInvalidEvent)
	}
	switch ev.Target {
	case TargetCard, "":
		return s.handleCard(ctx, ev)
	case TargetImage:
		return s.handleImage(ctx, ev)
	default:
		return nil, nil, fmt.Errorf("%w: unknown drag target %q", ErrInvalidEvent, ev.Target)
	}
}

func (s *Session) handleCard(ctx context.Context, ev Event) (*Update, <-chan error, error) {
	ctrl, ok := s.cards[ev.CharacterID]
	if !ok {
		state, err := s.loader.LoadCard(ctx, ev.CharacterID)
		if err != nil {
			return nil, nil, fmt.Errorf("load card: %w", err)
		}
		ctrl = NewDragController(ev.CharacterID, state.Position, s.positions)
		s.cards[ev.CharacterID] = ctrl
	}

	switch ev.Type {
	case EventPress:
		ctrl.Press(PressEvent{Pointer: ev.Pointer, Exempt: ev.Exempt})
		return nil, nil, nil
	case EventMove:
		pos, moved := ctrl.Move(ev.Pointer)
		if !moved {
			return nil, nil, nil
		}
		return &Update{Type: UpdatePosition, CharacterID: ev.CharacterID, X: pos.X, Y: pos.Y}, nil, nil
	case EventRelease:
		pos, done := ctrl.Release(ctx, ev.Pointer)
		if done == nil {
			return nil, nil, nil
		}
		return &Update{Type: UpdatePosition, CharacterID: ev.CharacterID, X: pos.X, Y: pos.Y, Final: true}, done, nil
	default:
		return nil, nil, fmt.Errorf("%w: unknown event type %q", ErrInvalidEvent, ev.Type)
	}
}

func (s *Session) handleImage(ctx context.Context, ev Event) (*Update, <-chan error, error) {
	ctrl, ok := s.images[ev.CharacterID]
	if !ok {
		state, err := s.loader.LoadCard(ctx, ev.CharacterID)
		if err != nil {
			return nil, nil, fmt.Errorf("load card: %w", err)
		}
		ctrl = NewOffsetDragController(ev.CharacterID, state.Offset, s.offsets)
		s.images[ev.CharacterID] = ctrl
	}

	switch ev.Type {
	case EventPress:
		ctrl.Press(PressEvent{Pointer: ev.Pointer, Exempt: ev.Exempt})
		return nil, nil, nil
	case EventMove:
		off, moved := ctrl.Move(ev.Pointer)
		if !moved {
			return nil, nil, nil
		}
		return &Update{Type: UpdateOffset, CharacterID: ev.CharacterID, X: off.X, Y: off.Y}, nil, nil
	case EventRelease:
		wasDragging := ctrl.State() == Dragging
		off, done, err := ctrl.Release(ctx, ev.Pointer)
		if !wasDragging {
			return nil, nil, nil
		}
		update := &Update{Type: UpdateOffset, CharacterID: ev.CharacterID, X: off.X, Y: off.Y, Final: true}
		return update, done, err
	default:
		return nil, nil, fmt.Errorf("%w: unknown event type %q", ErrInvalidEvent, ev.Type)
	}
}
