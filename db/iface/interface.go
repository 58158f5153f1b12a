// Package iface defines the actual database interface used by the
// VerSafe node, also containing useful, scoped interfaces such as a
// ReadOnlyDatabase.
package iface

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/versafe/versafe/db/filters"
	"github.com/versafe/versafe/types"
)

// ReadOnlyDatabase defines a struct which only has read access to database methods.
type ReadOnlyDatabase interface {
	// User related methods.
	User(ctx context.Context, id uuid.UUID) (*types.User, error)
	UserByEmail(ctx context.Context, email string) (*types.User, error)
	// Document related methods.
	Document(ctx context.Context, id uuid.UUID) (*types.Document, error)
	Documents(ctx context.Context, ownerID uuid.UUID, f *filters.QueryFilter) ([]*types.Document, int, error)
	DocumentsInState(ctx context.Context, state types.DocumentState) ([]*types.Document, error)
	// Signature related methods.
	Signature(ctx context.Context, id uuid.UUID) (*types.Signature, error)
	SignaturesForDocument(ctx context.Context, documentID uuid.UUID) ([]*types.Signature, error)
	HasSignature(ctx context.Context, documentID, signerID uuid.UUID) (bool, error)
	// Share grants.
	ShareGrantsForDocument(ctx context.Context, documentID uuid.UUID) ([]*types.ShareGrant, error)
	// Verification history.
	VerificationEventsForDocument(ctx context.Context, documentID uuid.UUID) ([]*types.VerificationEvent, error)
	// Ledger transaction records.
	LedgerTransaction(ctx context.Context, txID string) (*types.LedgerTransaction, error)
	LedgerTransactionByDedupKey(ctx context.Context, dedupKey string) (*types.LedgerTransaction, error)
	LedgerTransactionsForDocument(ctx context.Context, documentID uuid.UUID) ([]*types.LedgerTransaction, error)
	// Audit shards.
	AuditShard(ctx context.Context, service string, day time.Time) ([]*types.AuditRecord, error)
	LastAuditRecord(ctx context.Context, service string, day time.Time) (*types.AuditRecord, error)
	// Outbox.
	PeekOutbox(ctx context.Context, n int) ([]*types.OutboxEntry, error)
	OutboxDepth(ctx context.Context) (int, error)
	HasPendingOutbox(ctx context.Context, documentID uuid.UUID) (bool, error)
	OutboxEntriesForDocument(ctx context.Context, documentID uuid.UUID) ([]*types.OutboxEntry, error)
	// Utility.
	DatabasePath() string
}

// NoHeadAccessDatabase defines a struct without access to chain head data.
type NoHeadAccessDatabase interface {
	ReadOnlyDatabase

	// User related methods.
	SaveUser(ctx context.Context, user *types.User) error
	UpdateUser(ctx context.Context, user *types.User) error
	// Document related methods.
	SaveDocument(ctx context.Context, doc *types.Document) error
	UpdateDocument(ctx context.Context, doc *types.Document) error
	// Signature related methods.
	SaveSignature(ctx context.Context, sig *types.Signature) error
	SaveSignatureAndDocument(ctx context.Context, sig *types.Signature, doc *types.Document) error
	UpdateSignature(ctx context.Context, sig *types.Signature) error
	// Share grants.
	SaveShareGrant(ctx context.Context, grant *types.ShareGrant) error
	// Verification history.
	SaveVerificationEvent(ctx context.Context, ev *types.VerificationEvent) error
	// Ledger transaction records.
	SaveLedgerTransaction(ctx context.Context, tx *types.LedgerTransaction) error
	// Audit shards.
	AppendAuditRecord(ctx context.Context, rec *types.AuditRecord) error
	// Outbox.
	EnqueueOutbox(ctx context.Context, entry *types.OutboxEntry) error
	DeleteOutboxEntry(ctx context.Context, seq uint64) error
	UpdateOutboxAttempts(ctx context.Context, entry *types.OutboxEntry) error
}

// Database is the full database interface for the VerSafe node.
type Database interface {
	NoHeadAccessDatabase

	Close() error
	ClearDB() error
}
