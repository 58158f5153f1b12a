// Package ledger abstracts the permissioned ledger that anchors
// document integrity records. Submissions are idempotent on a
// deduplication key; when the ledger is unreachable the gateway falls
// back to a deterministic simulator and a durable outbox reconciles
// the real ledger once connectivity returns.
package ledger

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/versafe/versafe/types"
)

// ErrLedgerUnavailable is returned when a submission exhausts its
// retry ceiling. The intended operation is preserved in the outbox.
var ErrLedgerUnavailable = errors.New("ledger unavailable")

// RegisterRequest anchors a freshly ingested document.
type RegisterRequest struct {
	DocumentID uuid.UUID             `json:"document_id"`
	Digest     []byte                `json:"digest"`
	Algo       types.DigestAlgorithm `json:"algo"`
	OwnerID    uuid.UUID             `json:"owner_id"`
	FileName   string                `json:"file_name"`
	Seq        uint64                `json:"seq"`
}

// StateUpdateRequest records a document state transition.
type StateUpdateRequest struct {
	DocumentID uuid.UUID           `json:"document_id"`
	NewState   types.DocumentState `json:"new_state"`
	Metadata   map[string]string   `json:"metadata,omitempty"`
	Seq        uint64              `json:"seq"`
}

// SignatureRequest records a signature event.
type SignatureRequest struct {
	SignatureID uuid.UUID `json:"signature_id"`
	DocumentID  uuid.UUID `json:"document_id"`
	SignerID    uuid.UUID `json:"signer_id"`
	SignerHash  []byte    `json:"signer_hash"`
	Seq         uint64    `json:"seq"`
}

// Record is the ledger's current view of a document.
type Record struct {
	DocumentID uuid.UUID             `json:"document_id"`
	Digest     []byte                `json:"digest"`
	Algo       types.DigestAlgorithm `json:"algo"`
	State      types.DocumentState   `json:"state"`
	TxID       string                `json:"tx_id"`
	Block      uint64                `json:"block"`
	Simulated  bool                  `json:"simulated,omitempty"`
}

// Gateway is the interface the rest of the node uses to talk to the
// ledger. Register, UpdateState and RecordSignature are idempotent on
// the (document, kind, seq) deduplication key.
type Gateway interface {
	Register(ctx context.Context, req *RegisterRequest) (*types.LedgerTransaction, error)
	UpdateState(ctx context.Context, req *StateUpdateRequest) (*types.LedgerTransaction, error)
	RecordSignature(ctx context.Context, req *SignatureRequest) (*types.LedgerTransaction, error)
	Query(ctx context.Context, documentID uuid.UUID) (*Record, error)
	History(ctx context.Context, documentID uuid.UUID) ([]*types.LedgerTransaction, error)
	TxStatus(ctx context.Context, txID string) (types.TxStatus, error)
	NextSeq(ctx context.Context, documentID uuid.UUID) (uint64, error)
}

// DedupKey derives the deduplication key a submission is idempotent
// on. Retrying with the same key resolves to the original transaction.
func DedupKey(documentID uuid.UUID, kind types.TxKind, seq uint64) string {
	return fmt.Sprintf("%s:%s:%d", documentID, kind, seq)
}
