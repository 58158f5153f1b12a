// Package documents implements document ingest: upload validation,
// fingerprinting, malware gating, metadata persistence and ledger
// registration, plus retrieval, patching, revocation and the expiry
// sweep.
package documents

import (
	"context"
	"io"
	"runtime"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"
	"github.com/versafe/versafe/async"
	"github.com/versafe/versafe/audit"
	"github.com/versafe/versafe/crypto/hashing"
	"github.com/versafe/versafe/db"
	"github.com/versafe/versafe/db/filters"
	"github.com/versafe/versafe/ledger"
	"github.com/versafe/versafe/scanner"
	"github.com/versafe/versafe/storage"
	"github.com/versafe/versafe/types"
	"golang.org/x/sync/semaphore"
)

var log = logrus.WithField("prefix", "documents")

var (
	documentsIngestedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "versafe_documents_ingested_total",
		Help: "Count of documents accepted by ingest.",
	})
	uploadsRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "versafe_uploads_rejected_total",
		Help: "Count of rejected uploads by reason.",
	}, []string{"reason"})
)

// Ingest failure sentinels.
var (
	ErrMediaTypeNotAllowed = errors.New("media type not allowed")
	ErrUploadTooLarge      = errors.New("upload exceeds size cap")
	ErrSecurityRejected    = errors.New("upload rejected by security policy")
	ErrSignaturesRequired  = errors.New("signature requirement below the security level floor")
)

// minSignatures is the signer floor for a security level. CRITICAL
// documents require at least two signers.
func minSignatures(level types.SecurityLevel) int {
	if level == types.SecurityCritical {
		return 2
	}
	return 1
}

const (
	defaultMaxUploadBytes = int64(25 << 20)
	defaultSweepInterval  = time.Minute
	pdfMediaType          = "application/pdf"
)

var defaultAllowedMediaTypes = []string{
	pdfMediaType,
	"image/png",
	"image/jpeg",
	"text/plain",
}

// Config options for the document ingest service.
type Config struct {
	Database          db.Database
	Storage           *storage.Store
	Ledger            ledger.Gateway
	Scanner           *scanner.Client
	Audit             *audit.Recorder
	Locker            *async.KeyedMutex
	MaxUploadBytes    int64
	AllowedMediaTypes []string
	SweepInterval     time.Duration
}

// Service is the document ingest service.
type Service struct {
	ctx     context.Context
	cancel  context.CancelFunc
	cfg     *Config
	allowed map[string]bool
	// hashSem bounds concurrent digest computation to the core count.
	hashSem *semaphore.Weighted
}

// NewService creates the document ingest service.
func NewService(ctx context.Context, cfg *Config) *Service {
	ctx, cancel := context.WithCancel(ctx)
	if cfg.MaxUploadBytes == 0 {
		cfg.MaxUploadBytes = defaultMaxUploadBytes
	}
	if len(cfg.AllowedMediaTypes) == 0 {
		cfg.AllowedMediaTypes = defaultAllowedMediaTypes
	}
	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = defaultSweepInterval
	}
	if cfg.Locker == nil {
		cfg.Locker = async.NewKeyedMutex()
	}
	allowed := make(map[string]bool, len(cfg.AllowedMediaTypes))
	for _, mt := range cfg.AllowedMediaTypes {
		allowed[mt] = true
	}
	return &Service{
		ctx:     ctx,
		cancel:  cancel,
		cfg:     cfg,
		allowed: allowed,
		hashSem: semaphore.NewWeighted(int64(runtime.GOMAXPROCS(0))),
	}
}

// Start launches the expiry sweep and the registration reconciler.
func (s *Service) Start() {
	async.RunEvery(s.ctx, s.cfg.SweepInterval, s.sweepExpired)
	async.RunEvery(s.ctx, s.cfg.SweepInterval, s.reconcileRegistrations)
}

// Stop halts the background passes.
func (s *Service) Stop() error {
	s.cancel()
	return nil
}

// Status always reports healthy while the service runs.
func (s *Service) Status() error {
	return s.ctx.Err()
}

// UploadRequest carries the caller-supplied upload metadata.
type UploadRequest struct {
	Title              string
	FileName           string
	MediaType          string
	Algo               types.DigestAlgorithm
	SecurityLevel      types.SecurityLevel
	SignaturesRequired int
	Expiry             *time.Time
}

// Upload validates and ingests a document. The row is inserted before
// ledger registration; if registration cannot complete, the document
// is returned in REGISTRATION_PENDING and a reconciliation pass
// promotes it once the outbox drains.
func (s *Service) Upload(ctx context.Context, ownerID uuid.UUID, r io.Reader, req *UploadRequest) (*types.Document, error) {
	if !s.allowed[req.MediaType] {
		uploadsRejectedTotal.WithLabelValues("media_type").Inc()
		return nil, errors.Wrapf(ErrMediaTypeNotAllowed, "%s", req.MediaType)
	}
	ref, size, err := s.cfg.Storage.Save(io.LimitReader(r, s.cfg.MaxUploadBytes+1))
	if err != nil {
		return nil, err
	}
	if size > s.cfg.MaxUploadBytes {
		uploadsRejectedTotal.WithLabelValues("size").Inc()
		s.discard(ref)
		return nil, errors.Wrapf(ErrUploadTooLarge, "%d bytes over cap of %d", size, s.cfg.MaxUploadBytes)
	}

	now := time.Now().UTC()
	doc := &types.Document{
		ID:                 uuid.New(),
		OwnerID:            ownerID,
		Title:              req.Title,
		FileName:           req.FileName,
		MediaType:          req.MediaType,
		SizeBytes:          size,
		StorageRef:         ref,
		SecurityLevel:      req.SecurityLevel,
		SignaturesRequired: req.SignaturesRequired,
		State:              types.StateRegistrationPending,
		LedgerPending:      true,
		Expiry:             req.Expiry,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if doc.SecurityLevel == "" {
		doc.SecurityLevel = types.SecurityLow
	}
	if floor := minSignatures(doc.SecurityLevel); doc.SignaturesRequired < floor {
		doc.SignaturesRequired = floor
	}

	if err := s.fingerprint(ctx, doc, req.Algo); err != nil {
		s.discard(ref)
		return nil, err
	}
	if req.MediaType == pdfMediaType {
		if err := s.applyScanPolicy(ctx, doc); err != nil {
			s.discard(ref)
			return nil, err
		}
		s.extractPageCount(doc)
	}

	if err := s.cfg.Database.SaveDocument(ctx, doc); err != nil {
		s.discard(ref)
		return nil, err
	}
	s.register(ctx, doc)
	documentsIngestedTotal.Inc()
	s.audit(ownerID, "document.upload", doc.ID.String(), 201)
	return doc, nil
}

// fingerprint streams the stored bytes through the digest pass.
// CRITICAL documents get two independent algorithms.
func (s *Service) fingerprint(ctx context.Context, doc *types.Document, algo types.DigestAlgorithm) error {
	if algo == "" {
		algo = types.SHA256
	}
	if err := s.hashSem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer s.hashSem.Release(1)

	f, err := s.cfg.Storage.Open(doc.StorageRef)
	if err != nil {
		return err
	}
	defer func() {
		if err := f.Close(); err != nil {
			log.WithError(err).Debug("Could not close stored file")
		}
	}()

	if doc.SecurityLevel == types.SecurityCritical {
		dual, err := hashing.DualHash(f, types.SHA256, types.BLAKE2b256)
		if err != nil {
			return err
		}
		doc.DigestAlgo = dual.Primary.Algo
		doc.Digest = dual.Primary.Digest
		doc.SecondaryAlgo = dual.Secondary.Algo
		doc.SecondaryDigest = dual.Secondary.Digest
		return nil
	}
	res, err := hashing.Hash(f, algo)
	if err != nil {
		return err
	}
	doc.DigestAlgo = res.Algo
	doc.Digest = res.Digest
	return nil
}

// applyScanPolicy gates PDF uploads through the malware scanner.
func (s *Service) applyScanPolicy(ctx context.Context, doc *types.Document) error {
	if s.cfg.Scanner == nil {
		return nil
	}
	f, err := s.cfg.Storage.Open(doc.StorageRef)
	if err != nil {
		return err
	}
	verdict, err := s.cfg.Scanner.Scan(ctx, f, doc.MediaType)
	if cerr := f.Close(); cerr != nil {
		log.WithError(cerr).Debug("Could not close stored file")
	}
	if err != nil {
		return err
	}
	switch verdict.Result {
	case scanner.ResultMalicious:
		uploadsRejectedTotal.WithLabelValues("malware").Inc()
		s.audit(doc.OwnerID, "document.upload_rejected_malware", doc.ID.String(), 422)
		return errors.Wrapf(ErrSecurityRejected, "scanner verdict %s (%.2f)", verdict.Result, verdict.Confidence)
	case scanner.ResultSuspicious:
		doc.ScanWarning = true
		log.WithFields(logrus.Fields{
			"document":   doc.ID,
			"confidence": verdict.Confidence,
		}).Warn("Suspicious upload accepted with warning")
	}
	return nil
}

// register submits the document to the ledger. On success the document
// is promoted to UPLOADED; on ledger failure it stays in
// REGISTRATION_PENDING with the operation queued in the outbox.
func (s *Service) register(ctx context.Context, doc *types.Document) {
	tx, err := s.cfg.Ledger.Register(ctx, &ledger.RegisterRequest{
		DocumentID: doc.ID,
		Digest:     doc.Digest,
		Algo:       doc.DigestAlgo,
		OwnerID:    doc.OwnerID,
		FileName:   doc.FileName,
		Seq:        0,
	})
	if err != nil {
		log.WithError(err).WithField("document", doc.ID).Warn("Ledger registration deferred")
		return
	}
	doc.State = types.StateUploaded
	if tx.Simulated {
		// Simulated registrations are never promoted silently; the
		// confirmed tx id lands via the reconciler.
		doc.LedgerPending = true
	} else {
		doc.LedgerTxID = tx.TxID
		doc.LedgerBlock = tx.Block
		doc.LedgerPending = false
	}
	doc.UpdatedAt = time.Now().UTC()
	if err := s.cfg.Database.UpdateDocument(ctx, doc); err != nil {
		log.WithError(err).WithField("document", doc.ID).Error("Could not finalize registration")
	}
}

func (s *Service) discard(ref string) {
	if err := s.cfg.Storage.Delete(ref); err != nil {
		log.WithError(err).WithField("ref", ref).Error("Could not delete stored file")
	}
}

// Get returns a document owned by the caller. An absent document and a
// document owned by someone else are indistinguishable.
func (s *Service) Get(ctx context.Context, ownerID, documentID uuid.UUID) (*types.Document, error) {
	doc, err := s.cfg.Database.Document(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if doc.OwnerID != ownerID {
		return nil, db.ErrNotFound
	}
	return doc, nil
}

// List returns a page of the caller's documents and the total count.
func (s *Service) List(ctx context.Context, ownerID uuid.UUID, f *filters.QueryFilter) ([]*types.Document, int, error) {
	return s.cfg.Database.Documents(ctx, ownerID, f)
}

// UpdatePatch is the set of caller-mutable document fields.
type UpdatePatch struct {
	Title              *string
	Expiry             *time.Time
	SignaturesRequired *int
}

// Update applies a metadata patch. The signature requirement can only
// change while the document has no signatures.
func (s *Service) Update(ctx context.Context, ownerID, documentID uuid.UUID, patch *UpdatePatch) (*types.Document, error) {
	s.cfg.Locker.Lock(documentID)
	defer s.cfg.Locker.Unlock(documentID)

	doc, err := s.Get(ctx, ownerID, documentID)
	if err != nil {
		return nil, err
	}
	if doc.State.Terminal() {
		return nil, errors.Wrapf(types.ErrInvalidTransition, "document is %s", doc.State)
	}
	if patch.Title != nil {
		doc.Title = *patch.Title
	}
	if patch.Expiry != nil {
		doc.Expiry = patch.Expiry
	}
	if patch.SignaturesRequired != nil {
		if doc.State != types.StateUploaded && doc.State != types.StateRegistrationPending {
			return nil, errors.Wrap(types.ErrInvalidTransition, "signature requirement is frozen once signing begins")
		}
		if floor := minSignatures(doc.SecurityLevel); *patch.SignaturesRequired < floor {
			return nil, errors.Wrapf(ErrSignaturesRequired, "%s documents require at least %d signers", doc.SecurityLevel, floor)
		}
		doc.SignaturesRequired = *patch.SignaturesRequired
	}
	doc.UpdatedAt = time.Now().UTC()
	if err := s.cfg.Database.UpdateDocument(ctx, doc); err != nil {
		return nil, err
	}
	s.audit(ownerID, "document.update", doc.ID.String(), 200)
	return doc, nil
}

// Revoke marks a document revoked and records the revocation on the
// ledger. Revoking an already revoked document returns the existing
// record and submits nothing.
func (s *Service) Revoke(ctx context.Context, ownerID, documentID uuid.UUID, reason string) (*types.Document, error) {
	s.cfg.Locker.Lock(documentID)
	defer s.cfg.Locker.Unlock(documentID)

	doc, err := s.Get(ctx, ownerID, documentID)
	if err != nil {
		return nil, err
	}
	if doc.State == types.StateRevoked {
		return doc, nil
	}
	if !types.CanTransition(doc.State, types.StateRevoked) {
		return nil, errors.Wrapf(types.ErrInvalidTransition, "cannot revoke from %s", doc.State)
	}
	pending, err := s.cfg.Database.HasPendingOutbox(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if pending {
		// Queued ledger operations must drain before this document can
		// take another transition.
		return nil, errors.Wrap(ledger.ErrLedgerUnavailable, "ledger operations queued for this document")
	}
	doc.State = types.StateRevoked
	doc.RevokedReason = reason
	doc.UpdatedAt = time.Now().UTC()
	if err := s.cfg.Database.UpdateDocument(ctx, doc); err != nil {
		return nil, err
	}
	s.submitStateUpdate(ctx, doc, map[string]string{"reason": reason})
	s.audit(ownerID, "document.revoke", doc.ID.String(), 200)
	return doc, nil
}

// submitStateUpdate records a state transition on the ledger. Failures
// are tolerated here: the operation lands in the outbox and ledger
// state catches up when it drains.
func (s *Service) submitStateUpdate(ctx context.Context, doc *types.Document, metadata map[string]string) {
	seq, err := s.cfg.Ledger.NextSeq(ctx, doc.ID)
	if err != nil {
		log.WithError(err).WithField("document", doc.ID).Error("Could not derive submission sequence")
		return
	}
	if _, err := s.cfg.Ledger.UpdateState(ctx, &ledger.StateUpdateRequest{
		DocumentID: doc.ID,
		NewState:   doc.State,
		Metadata:   metadata,
		Seq:        seq,
	}); err != nil {
		log.WithError(err).WithField("document", doc.ID).Warn("Ledger state update deferred")
	}
}

// sweepExpired moves documents whose expiry passed into EXPIRED.
func (s *Service) sweepExpired() {
	now := time.Now().UTC()
	for _, state := range []types.DocumentState{
		types.StateRegistrationPending,
		types.StateUploaded,
		types.StateQuarantined,
		types.StatePartiallySigned,
		types.StateSigned,
		types.StateVerified,
	} {
		docs, err := s.cfg.Database.DocumentsInState(s.ctx, state)
		if err != nil {
			log.WithError(err).Error("Could not scan documents for expiry")
			return
		}
		for _, doc := range docs {
			if doc.Expiry == nil || doc.Expiry.After(now) {
				continue
			}
			s.expire(doc.ID)
		}
	}
}

func (s *Service) expire(documentID uuid.UUID) {
	s.cfg.Locker.Lock(documentID)
	defer s.cfg.Locker.Unlock(documentID)

	doc, err := s.cfg.Database.Document(s.ctx, documentID)
	if err != nil {
		log.WithError(err).WithField("document", documentID).Error("Could not load document for expiry")
		return
	}
	if doc.State.Terminal() || doc.Expiry == nil || doc.Expiry.After(time.Now().UTC()) {
		return
	}
	doc.State = types.StateExpired
	doc.UpdatedAt = time.Now().UTC()
	if err := s.cfg.Database.UpdateDocument(s.ctx, doc); err != nil {
		log.WithError(err).WithField("document", documentID).Error("Could not expire document")
		return
	}
	s.submitStateUpdate(s.ctx, doc, nil)
	s.audit(doc.OwnerID, "document.expire", doc.ID.String(), 200)
}

// reconcileRegistrations promotes documents whose deferred ledger
// registration has since confirmed through the outbox.
func (s *Service) reconcileRegistrations() {
	pending, err := s.cfg.Database.DocumentsInState(s.ctx, types.StateRegistrationPending)
	if err != nil {
		log.WithError(err).Error("Could not scan pending registrations")
		return
	}
	uploaded, err := s.cfg.Database.DocumentsInState(s.ctx, types.StateUploaded)
	if err != nil {
		log.WithError(err).Error("Could not scan uploaded documents")
		return
	}
	for _, doc := range uploaded {
		if doc.LedgerPending {
			pending = append(pending, doc)
		}
	}
	for _, doc := range pending {
		s.reconcile(doc.ID)
	}
}

func (s *Service) reconcile(documentID uuid.UUID) {
	s.cfg.Locker.Lock(documentID)
	defer s.cfg.Locker.Unlock(documentID)

	doc, err := s.cfg.Database.Document(s.ctx, documentID)
	if err != nil {
		log.WithError(err).WithField("document", documentID).Error("Could not load document for reconciliation")
		return
	}
	if doc.LedgerTxID != "" || doc.State.Terminal() {
		return
	}
	tx, err := s.cfg.Database.LedgerTransactionByDedupKey(s.ctx, ledger.DedupKey(doc.ID, types.TxRegister, 0))
	if err != nil {
		if !errors.Is(err, db.ErrNotFound) {
			log.WithError(err).WithField("document", documentID).Error("Could not resolve registration tx")
		}
		return
	}
	if tx.Status != types.TxConfirmed {
		return
	}
	if doc.State == types.StateRegistrationPending {
		doc.State = types.StateUploaded
	}
	doc.LedgerTxID = tx.TxID
	doc.LedgerBlock = tx.Block
	doc.LedgerPending = false
	doc.UpdatedAt = time.Now().UTC()
	if err := s.cfg.Database.UpdateDocument(s.ctx, doc); err != nil {
		log.WithError(err).WithField("document", documentID).Error("Could not promote registration")
		return
	}
	log.WithFields(logrus.Fields{
		"document": doc.ID,
		"tx":       tx.TxID,
	}).Info("Deferred registration confirmed")
}

func (s *Service) audit(userID uuid.UUID, action, resourceID string, status int) {
	if s.cfg.Audit == nil {
		return
	}
	s.cfg.Audit.Submit(&types.AuditRecord{
		Service:      "documents",
		Action:       action,
		UserID:       userID,
		ResourceKind: "document",
		ResourceID:   resourceID,
		StatusCode:   status,
	})
}
