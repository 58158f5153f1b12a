// Package types holds the VerSafe domain entities shared by every
// service: users, documents, signatures, share grants, verification
// events, ledger transactions and audit records.
package types

import (
	"time"

	"github.com/google/uuid"
)

// DigestAlgorithm identifies the hash function used to fingerprint a
// document's content.
type DigestAlgorithm string

// Supported digest algorithms.
const (
	SHA256     DigestAlgorithm = "SHA-256"
	SHA3256    DigestAlgorithm = "SHA-3-256"
	BLAKE2b256 DigestAlgorithm = "BLAKE2b-256"
)

// SecurityLevel classifies how strictly a document is handled at
// ingest and signing time.
type SecurityLevel string

// Security levels, in increasing order of strictness.
const (
	SecurityLow      SecurityLevel = "LOW"
	SecurityMedium   SecurityLevel = "MEDIUM"
	SecurityHigh     SecurityLevel = "HIGH"
	SecurityCritical SecurityLevel = "CRITICAL"
)

// SignatureType tags the variant of an electronic signature.
type SignatureType string

// Signature variants.
const (
	SignatureElectronic SignatureType = "ELECTRONIC"
	SignatureDigital    SignatureType = "DIGITAL"
	SignatureBiometric  SignatureType = "BIOMETRIC"
)

// TxKind is the kind of a ledger transaction.
type TxKind string

// Ledger transaction kinds.
const (
	TxRegister    TxKind = "REGISTER"
	TxStateUpdate TxKind = "STATE_UPDATE"
	TxSignature   TxKind = "SIGNATURE"
	TxRevoke      TxKind = "REVOKE"
)

// TxStatus is the confirmation status of a ledger transaction.
type TxStatus string

// Ledger transaction statuses. Simulated transactions carry the same
// shape as confirmed ones but are marked non-authoritative.
const (
	TxPending   TxStatus = "PENDING"
	TxConfirmed TxStatus = "CONFIRMED"
	TxRejected  TxStatus = "REJECTED"
	TxSimulated TxStatus = "SIMULATED"
)

// AccessLevel is the right conveyed by a share grant.
type AccessLevel string

// Share access levels.
const (
	AccessView    AccessLevel = "VIEW"
	AccessComment AccessLevel = "COMMENT"
	AccessEdit    AccessLevel = "EDIT"
)

// User is an account in the identity subsystem. Users are never hard
// deleted; revocation happens through the Revoked flag.
type User struct {
	ID           uuid.UUID `json:"id"`
	Email        string    `json:"email"`
	DisplayName  string    `json:"display_name"`
	PasswordHash []byte    `json:"-"`
	IsVerified   bool      `json:"is_verified"`
	Revoked      bool      `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Principal is the authenticated identity attached to a request after
// token verification.
type Principal struct {
	UserID    uuid.UUID `json:"user_id"`
	Email     string    `json:"email"`
	SessionID uuid.UUID `json:"session_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Document is the metadata record of an uploaded file. The digest is
// stable for the lifetime of the document and LedgerTxID, once set, is
// never mutated.
type Document struct {
	ID                 uuid.UUID       `json:"id"`
	OwnerID            uuid.UUID       `json:"owner_id"`
	Title              string          `json:"title"`
	FileName           string          `json:"file_name"`
	MediaType          string          `json:"media_type"`
	SizeBytes          int64           `json:"size_bytes"`
	StorageRef         string          `json:"-"`
	DigestAlgo         DigestAlgorithm `json:"digest_algo"`
	Digest             []byte          `json:"digest"`
	SecondaryAlgo      DigestAlgorithm `json:"secondary_algo,omitempty"`
	SecondaryDigest    []byte          `json:"secondary_digest,omitempty"`
	SecurityLevel      SecurityLevel   `json:"security_level"`
	SignaturesRequired int             `json:"signatures_required"`
	State              DocumentState   `json:"state"`
	ScanWarning        bool            `json:"scan_warning,omitempty"`
	LedgerTxID         string          `json:"ledger_tx_id,omitempty"`
	LedgerBlock        uint64          `json:"ledger_block,omitempty"`
	LedgerPending      bool            `json:"ledger_pending,omitempty"`
	PageCount          int             `json:"page_count,omitempty"`
	Expiry             *time.Time      `json:"expiry,omitempty"`
	RevokedReason      string          `json:"revoked_reason,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// Signature binds a signer to a document. The (DocumentID, SignerID)
// pair is unique and SignerHash is stable after creation.
type Signature struct {
	ID                 uuid.UUID     `json:"id"`
	DocumentID         uuid.UUID     `json:"document_id"`
	SignerID           uuid.UUID     `json:"signer_id"`
	Type               SignatureType `json:"type"`
	Payload            []byte        `json:"payload,omitempty"`
	SignerHash         []byte        `json:"signer_hash"`
	VerificationMethod string        `json:"verification_method"`
	Verified           bool          `json:"verified"`
	LedgerTxID         string        `json:"ledger_tx_id,omitempty"`
	CreatedAt          time.Time     `json:"created_at"`
}

// ShareGrant conveys bounded access to a document. A grant never
// elevates above the granter's own rights.
type ShareGrant struct {
	ID           uuid.UUID   `json:"id"`
	DocumentID   uuid.UUID   `json:"document_id"`
	GranterID    uuid.UUID   `json:"granter_id"`
	GranteeEmail string      `json:"grantee_email"`
	Access       AccessLevel `json:"access"`
	Token        string      `json:"-"`
	UsesLeft     int         `json:"uses_left"`
	Expiry       *time.Time  `json:"expiry,omitempty"`
	Message      string      `json:"message,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
}

// VerificationEvent is an append-only record of a verification attempt.
type VerificationEvent struct {
	ID         uuid.UUID `json:"id"`
	DocumentID uuid.UUID `json:"document_id"`
	VerifierID uuid.UUID `json:"verifier_id"`
	Verified   bool      `json:"verified"`
	Method     string    `json:"method"`
	Details    string    `json:"details,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Endorsement is an endorsing identity's signed attestation over a
// proposed ledger transaction.
type Endorsement struct {
	Identity  string `json:"identity"`
	Signature []byte `json:"signature"`
}

// LedgerTransaction mirrors a record submitted to the permissioned
// ledger. Once confirmed it is immutable.
type LedgerTransaction struct {
	TxID         string        `json:"tx_id"`
	DocumentID   uuid.UUID     `json:"document_id"`
	Kind         TxKind        `json:"kind"`
	Block        uint64        `json:"block"`
	BlockHash    []byte        `json:"block_hash,omitempty"`
	PayloadHash  []byte        `json:"payload_hash"`
	Endorsements []Endorsement `json:"endorsements,omitempty"`
	DedupKey     string        `json:"dedup_key"`
	Simulated    bool          `json:"simulated,omitempty"`
	SubmittedAt  time.Time     `json:"submitted_at"`
	ConfirmedAt  *time.Time    `json:"confirmed_at,omitempty"`
	Status       TxStatus      `json:"status"`
}

// AuditRecord is one entry of the tamper-evident audit chain. The
// EntryHash chains the log within a (service, day) shard.
type AuditRecord struct {
	ID           uuid.UUID         `json:"id"`
	Service      string            `json:"service"`
	Action       string            `json:"action"`
	UserID       uuid.UUID         `json:"user_id,omitempty"`
	ResourceKind string            `json:"resource_kind"`
	ResourceID   string            `json:"resource_id"`
	RequestMeta  map[string]string `json:"request_meta,omitempty"`
	StatusCode   int               `json:"status_code"`
	Latency      time.Duration     `json:"latency"`
	PrevHash     []byte            `json:"prev_hash"`
	EntryHash    []byte            `json:"entry_hash"`
	CreatedAt    time.Time         `json:"created_at"`
}

// OutboxEntry is a durable ledger operation awaiting submission.
// Entries drain in FIFO order by sequence.
type OutboxEntry struct {
	Seq        uint64    `json:"seq"`
	DocumentID uuid.UUID `json:"document_id"`
	Kind       TxKind    `json:"kind"`
	DedupKey   string    `json:"dedup_key"`
	Payload    []byte    `json:"payload"`
	Attempts   int       `json:"attempts"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}
