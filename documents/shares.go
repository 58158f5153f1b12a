package documents

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/versafe/versafe/types"
)

// ErrInvalidAccessLevel is returned for an unknown share access level.
var ErrInvalidAccessLevel = errors.New("invalid share access level")

const defaultShareUses = 1

// ShareRequest carries the caller-supplied share parameters.
type ShareRequest struct {
	GranteeEmail string
	Access       types.AccessLevel
	Uses         int
	Expiry       *time.Time
	Message      string
}

// Share issues a bounded access grant for a document the caller owns.
// The returned grant carries the opaque redemption token; the stored
// copy never serialises it back to clients. Delivery of the token to
// the grantee is left to the external notification channel.
func (s *Service) Share(ctx context.Context, ownerID, documentID uuid.UUID, req *ShareRequest) (*types.ShareGrant, error) {
	switch req.Access {
	case types.AccessView, types.AccessComment, types.AccessEdit:
	default:
		return nil, errors.Wrapf(ErrInvalidAccessLevel, "%s", req.Access)
	}
	doc, err := s.Get(ctx, ownerID, documentID)
	if err != nil {
		return nil, err
	}
	if doc.State.Terminal() {
		return nil, errors.Wrapf(types.ErrInvalidTransition, "document is %s", doc.State)
	}

	token := make([]byte, 32)
	if _, err := rand.Read(token); err != nil {
		return nil, errors.Wrap(err, "could not generate share token")
	}
	uses := req.Uses
	if uses <= 0 {
		uses = defaultShareUses
	}
	grant := &types.ShareGrant{
		ID:           uuid.New(),
		DocumentID:   documentID,
		GranterID:    ownerID,
		GranteeEmail: req.GranteeEmail,
		Access:       req.Access,
		Token:        hex.EncodeToString(token),
		UsesLeft:     uses,
		Expiry:       req.Expiry,
		Message:      req.Message,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.cfg.Database.SaveShareGrant(ctx, grant); err != nil {
		return nil, err
	}
	s.audit(ownerID, "document.share", documentID.String(), 201)
	return grant, nil
}

// Shares lists the grants issued for a document the caller owns.
func (s *Service) Shares(ctx context.Context, ownerID, documentID uuid.UUID) ([]*types.ShareGrant, error) {
	if _, err := s.Get(ctx, ownerID, documentID); err != nil {
		return nil, err
	}
	return s.cfg.Database.ShareGrantsForDocument(ctx, documentID)
}
