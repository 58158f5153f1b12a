package kv

// The schema will define how to store and retrieve data from the db.
// We follow a key-value store where entity buckets hold the records
// keyed by id and index buckets map secondary attributes back to ids,
// standing in for the relational indexes on (owner_id, created_at) and
// (document_id, created_at).
var (
	usersBucket              = []byte("users")
	documentsBucket          = []byte("documents")
	signaturesBucket         = []byte("signatures")
	shareGrantsBucket        = []byte("share-grants")
	verificationEventsBucket = []byte("verification-events")
	ledgerTransactionsBucket = []byte("ledger-transactions")
	auditRecordsBucket       = []byte("audit-records")
	outboxBucket             = []byte("outbox")
	metadataBucket           = []byte("db-metadata")

	// Indices buckets.
	userEmailIndexBucket            = []byte("user-email-index")
	documentOwnerIndexBucket        = []byte("document-owner-created-index")
	signatureDocumentIndexBucket    = []byte("signature-document-signer-index")
	shareDocumentIndexBucket        = []byte("share-document-index")
	verificationDocumentIndexBucket = []byte("verification-document-created-index")
	ledgerDedupIndexBucket          = []byte("ledger-dedup-index")
	ledgerDocumentIndexBucket       = []byte("ledger-document-submitted-index")
	outboxDocumentIndexBucket       = []byte("outbox-document-index")
)
