package board

import (
	"encoding/json"

	"github.com/google/uuid"
)

// EventsChannel is the Redis pub/sub channel every board connection listens
// on. Final positions and page rebuild results are fanned out through it.
const EventsChannel = "board:events"

// Broadcast message types.
const (
	BroadcastPosition    = UpdatePosition
	BroadcastOffset      = UpdateOffset
	BroadcastDeleted     = "deleted"
	BroadcastRevalidated = "revalidated"
	BroadcastError       = "error"
)

// Broadcast is one message on EventsChannel. Origin identifies the board
// connection that caused it so the sender can skip its own echo.
type Broadcast struct {
	Type          string    `json:"type"`
	Origin        string    `json:"origin,omitempty"`
	CharacterID   uuid.UUID `json:"character_id"`
	X             int       `json:"x"`
	Y             int       `json:"y"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	ErrorCode     int       `json:"error_code,omitempty"`
	ErrorMessage  string    `json:"error_message,omitempty"`
}

// BroadcastFromUpdate converts a final drag update into a broadcast.
func BroadcastFromUpdate(origin string, u Update) Broadcast {
	return Broadcast{Type: u.Type, Origin: origin, CharacterID: u.CharacterID, X: u.X, Y: u.Y}
}

// Encode marshals b for publishing.
func (b Broadcast) Encode() ([]byte, error) {
	return json.Marshal(b)
}

// DecodeBroadcast parses a message received from EventsChannel.
func DecodeBroadcast(data []byte) (Broadcast, error) {
	var b Broadcast
	err := json.Unmarshal(data, &b)
	return b, err
}
