// Package board implements the admin wall interactions: dragging a character
// card to a new position and dragging a card image inside its frame.
package board

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// ErrSaveInFlight is reported when an image offset gesture ends while the
// previous save for the same card is still outstanding. The new offset is
// dropped, not queued.
var ErrSaveInFlight = errors.New("offset save already in flight")

// Point is a pixel coordinate or offset.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Add returns p + q.
func (p Point) Add(q Point) Point { return Point{X: p.X + q.X, Y: p.Y + q.Y} }

// Sub returns p - q.
func (p Point) Sub(q Point) Point { return Point{X: p.X - q.X, Y: p.Y - q.Y} }

// State is the drag gesture state of one card.
type State int

const (
	Idle State = iota
	Dragging
)

func (s State) String() string {
	if s == Dragging {
		return "dragging"
	}
	return "idle"
}

// PressEvent is a pointer press on a card. Exempt marks presses that land on
// a sub-element that must not start a drag, such as the details button.
type PressEvent struct {
	Pointer Point
	Exempt  bool
}

// PositionPersister stores the final card position of a gesture.
type PositionPersister interface {
	PersistPosition(ctx context.Context, characterID uuid.UUID, pos Point) error
}

// OffsetPersister stores the final image offset of a gesture.
type OffsetPersister interface {
	PersistImageOffset(ctx context.Context, characterID uuid.UUID, offset Point) error
}

// DragController tracks the drag gesture of one card on the board.
//
// Moves are visual only; the position is persisted exactly once, when the
// gesture ends. A failed save does not move the card back.
type DragController struct {
	mu          sync.Mutex
	characterID uuid.UUID
	persister   PositionPersister

	state    State
	position Point
	anchor   Point // card position at press
	pressAt  Point // pointer at press
}

// NewDragController starts an idle controller at the persisted position.
func NewDragController(characterID uuid.UUID, persisted Point, persister PositionPersister) *DragController {
	return &DragController{
		characterID: characterID,
		persister:   persister,
		position:    persisted,
	}
}

// State reports whether a gesture is in progress.
func (d *DragController) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Position returns the current visual position.
func (d *DragController) Position() Point {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.position
}

// Press starts a gesture. It returns false when the press is drag-exempt or a
// gesture is already running.
func (d *DragController) Press(ev PressEvent) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if ev.Exempt || d.state == Dragging {
		return false
	}
	d.state = Dragging
	d.anchor = d.position
	d.pressAt = ev.Pointer
	return true
}

// Move follows the pointer: position = anchor + (pointer - press pointer).
// The second result is false when no gesture is running.
func (d *DragController) Move(pointer Point) (Point, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != Dragging {
		return d.position, false
	}
	d.position = d.anchor.Add(pointer.Sub(d.pressAt))
	return d.position, true
}

// Release ends the gesture at pointer and issues one asynchronous save of the
// final position. The returned channel yields the save result and is closed
// afterwards. Releasing an idle controller returns a nil channel.
//
// The save is detached from ctx cancellation: once issued it runs to
// completion.
func (d *DragController) Release(ctx context.Context, pointer Point) (Point, <-chan error) {
	d.mu.Lock()
	if d.state != Dragging {
		pos := d.position
		d.mu.Unlock()
		return pos, nil
	}
	d.position = d.anchor.Add(pointer.Sub(d.pressAt))
	d.state = Idle
	final := d.position
	d.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		done <- d.persister.PersistPosition(context.WithoutCancel(ctx), d.characterID, final)
		close(done)
	}()
	return final, done
}

// OffsetDragController moves a card image inside its frame. Moves apply the
// pointer delta since the previous sample. At most one save may be in flight
// per card; see ErrSaveInFlight.
type OffsetDragController struct {
	mu          sync.Mutex
	characterID uuid.UUID
	persister   OffsetPersister

	state  State
	offset Point
	last   Point

	saving atomic.Bool
}

// NewOffsetDragController starts an idle controller at the persisted offset.
func NewOffsetDragController(characterID uuid.UUID, persisted Point, persister OffsetPersister) *OffsetDragController {
	return &OffsetDragController{
		characterID: characterID,
		persister:   persister,
		offset:      persisted,
	}
}

// State reports whether a gesture is in progress.
func (o *OffsetDragController) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Offset returns the current visual offset.
func (o *OffsetDragController) Offset() Point {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.offset
}

// Saving reports whether a save is outstanding.
func (o *OffsetDragController) Saving() bool { return o.saving.Load() }

// Press starts a gesture.
func (o *OffsetDragController) Press(ev PressEvent) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if ev.Exempt || o.state == Dragging {
		return false
	}
	o.state = Dragging
	o.last = ev.Pointer
	return true
}

// Move shifts the offset by the pointer delta since the last sample.
func (o *OffsetDragController) Move(pointer Point) (Point, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != Dragging {
		return o.offset, false
	}
	o.offset = o.offset.Add(pointer.Sub(o.last))
	o.last = pointer
	return o.offset, true
}

// Release ends the gesture and saves the final offset unless a previous save
// is still running, in which case it returns ErrSaveInFlight and no channel.
// The visual offset is kept either way.
func (o *OffsetDragController) Release(ctx context.Context, pointer Point) (Point, <-chan error, error) {
	o.mu.Lock()
	if o.state != Dragging {
		off := o.offset
		o.mu.Unlock()
		return off, nil, nil
	}
	o.offset = o.offset.Add(pointer.Sub(o.last))
	o.last = pointer
	o.state = Idle
	final := o.offset
	o.mu.Unlock()

	if !o.saving.CompareAndSwap(false, true) {
		return final, nil, ErrSaveInFlight
	}

	done := make(chan error, 1)
	go func() {
		err := o.persister.PersistImageOffset(context.WithoutCancel(ctx), o.characterID, final)
		o.saving.Store(false)
		done <- err
		close(done)
	}()
	return final, done, nil
}
