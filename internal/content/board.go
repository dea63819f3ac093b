package content

import (
	"context"

	"github.com/google/uuid"

	"memorial/internal/auth"
	"memorial/internal/board"
)

var _ board.CardLoader = (*Service)(nil)

// LoadCard returns the persisted layout of a character for the board.
func (s *Service) LoadCard(ctx context.Context, characterID uuid.UUID) (board.CardState, error) {
	c, err := s.GetCharacter(ctx, characterID)
	if err != nil {
		return board.CardState{}, err
	}
	return board.CardState{
		Position: board.Point{X: c.PositionX, Y: c.PositionY},
		Offset:   board.Point{X: c.ImageOffsetX, Y: c.ImageOffsetY},
	}, nil
}

// BoardPersister binds the drag controllers of one board connection to the
// operator that opened it.
type BoardPersister struct {
	svc  *Service
	sess *auth.Session
}

var (
	_ board.PositionPersister = BoardPersister{}
	_ board.OffsetPersister   = BoardPersister{}
)

// BoardPersister returns the persister for sess.
func (s *Service) BoardPersister(sess *auth.Session) BoardPersister {
	return BoardPersister{svc: s, sess: sess}
}

func (p BoardPersister) PersistPosition(ctx context.Context, characterID uuid.UUID, pos board.Point) error {
	return p.svc.UpdateCharacterPosition(ctx, p.sess, characterID, pos.X, pos.Y)
}

func (p BoardPersister) PersistImageOffset(ctx context.Context, characterID uuid.UUID, offset board.Point) error {
	return p.svc.UpdateCharacterImageOffset(ctx, p.sess, characterID, offset.X, offset.Y)
}
