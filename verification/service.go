// Package verification re-checks stored documents against their
// recorded fingerprint and the ledger's view, and records the outcome
// as append-only verification events.
package verification

import (
	"bytes"
	"context"
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
	"github.com/versafe/versafe/ledger"
	"github.com/versafe/versafe/storage"
	"github.com/versafe/versafe/types"
)

var log = logrus.WithField("prefix", "verification")

var verificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "versafe_verifications_total",
	Help: "Count of verification runs by outcome.",
}, []string{"outcome"})

// Outcome classifies a verification run.
type Outcome string

// Verification outcomes. LEDGER_UNAVAILABLE is indeterminate and
// mutates nothing.
const (
	OutcomeMatch             Outcome = "MATCH"
	OutcomeDigestMismatch    Outcome = "DIGEST_MISMATCH"
	OutcomeLedgerMismatch    Outcome = "LEDGER_MISMATCH"
	OutcomeNotFound          Outcome = "NOT_FOUND"
	OutcomeLedgerUnavailable Outcome = "LEDGER_UNAVAILABLE"
)

// Result is the outcome of one verification run.
type Result struct {
	Outcome  Outcome         `json:"outcome"`
	Document *types.Document `json:"document,omitempty"`
	Details  string          `json:"details,omitempty"`
}

// Config options for the verification service.
type Config struct {
	Database db.Database
	Storage  *storage.Store
	Ledger   ledger.Gateway
	Audit    *audit.Recorder
	Locker   *async.KeyedMutex
}

// Service is the verification service.
type Service struct {
	ctx    context.Context
	cancel context.CancelFunc
	cfg    *Config
}

// NewService creates the verification service.
func NewService(ctx context.Context, cfg *Config) *Service {
	ctx, cancel := context.WithCancel(ctx)
	if cfg.Locker == nil {
		cfg.Locker = async.NewKeyedMutex()
	}
	return &Service{ctx: ctx, cancel: cancel, cfg: cfg}
}

// Start is a no-op; verification runs on demand.
func (s *Service) Start() {}

// Stop releases the service context.
func (s *Service) Stop() error {
	s.cancel()
	return nil
}

// Status always reports healthy while the service runs.
func (s *Service) Status() error {
	return s.ctx.Err()
}

// VerifyDocument re-streams the stored bytes, recomputes the digest
// with the stored algorithm, cross-checks the ledger and records the
// outcome. A digest mismatch quarantines the document; a matching
// SIGNED document is promoted to VERIFIED.
func (s *Service) VerifyDocument(ctx context.Context, verifierID, documentID uuid.UUID) (*Result, error) {
	s.cfg.Locker.Lock(documentID)
	defer s.cfg.Locker.Unlock(documentID)

	doc, err := s.cfg.Database.Document(ctx, documentID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			verificationsTotal.WithLabelValues(string(OutcomeNotFound)).Inc()
			return &Result{Outcome: OutcomeNotFound}, nil
		}
		return nil, err
	}

	recomputed, err := s.recompute(doc)
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(recomputed, doc.Digest) {
		return s.quarantine(ctx, verifierID, doc, "stored bytes no longer match recorded digest")
	}

	pending, err := s.cfg.Database.HasPendingOutbox(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if pending {
		// Queued ledger operations mean the ledger's view is stale.
		verificationsTotal.WithLabelValues(string(OutcomeLedgerUnavailable)).Inc()
		return &Result{Outcome: OutcomeLedgerUnavailable, Document: doc, Details: "ledger operations queued for this document"}, nil
	}

	rec, err := s.cfg.Ledger.Query(ctx, documentID)
	if err != nil || rec.Simulated {
		// Indeterminate: the authoritative record cannot be consulted.
		verificationsTotal.WithLabelValues(string(OutcomeLedgerUnavailable)).Inc()
		return &Result{Outcome: OutcomeLedgerUnavailable, Document: doc}, nil
	}
	if !bytes.Equal(rec.Digest, doc.Digest) {
		s.appendEvent(ctx, verifierID, doc, false, "ledger digest disagrees with local record")
		verificationsTotal.WithLabelValues(string(OutcomeLedgerMismatch)).Inc()
		return &Result{Outcome: OutcomeLedgerMismatch, Document: doc}, nil
	}
	if doc.State.Terminal() {
		s.appendEvent(ctx, verifierID, doc, false, "document is "+string(doc.State))
		verificationsTotal.WithLabelValues(string(OutcomeLedgerMismatch)).Inc()
		return &Result{Outcome: OutcomeLedgerMismatch, Document: doc, Details: "document is " + string(doc.State)}, nil
	}

	s.appendEvent(ctx, verifierID, doc, true, "digest and ledger record agree")
	if doc.State == types.StateSigned {
		s.promote(ctx, doc)
	}
	verificationsTotal.WithLabelValues(string(OutcomeMatch)).Inc()
	s.audit(verifierID, "document.verify", doc.ID.String(), 200)
	return &Result{Outcome: OutcomeMatch, Document: doc}, nil
}

func (s *Service) recompute(doc *types.Document) ([]byte, error) {
	f, err := s.cfg.Storage.Open(doc.StorageRef)
	if err != nil {
		return nil, errors.Wrap(err, "could not open stored bytes")
	}
	defer func() {
		if err := f.Close(); err != nil {
			log.WithError(err).Debug("Could not close stored file")
		}
	}()
	res, err := hashing.Hash(f, doc.DigestAlgo)
	if err != nil {
		return nil, err
	}
	return res.Digest, nil
}

// quarantine holds a document whose stored bytes diverged from its
// digest and raises a security audit record.
func (s *Service) quarantine(ctx context.Context, verifierID uuid.UUID, doc *types.Document, details string) (*Result, error) {
	s.appendEvent(ctx, verifierID, doc, false, details)
	if types.CanTransition(doc.State, types.StateQuarantined) {
		doc.State = types.StateQuarantined
		doc.UpdatedAt = time.Now().UTC()
		if err := s.cfg.Database.UpdateDocument(ctx, doc); err != nil {
			log.WithError(err).WithField("document", doc.ID).Error("Could not quarantine document")
		}
	}
	s.audit(verifierID, "document.quarantine", doc.ID.String(), 409)
	verificationsTotal.WithLabelValues(string(OutcomeDigestMismatch)).Inc()
	return &Result{Outcome: OutcomeDigestMismatch, Document: doc, Details: details}, nil
}

// promote moves a verified SIGNED document to VERIFIED with an
// outbox-safe ledger update.
func (s *Service) promote(ctx context.Context, doc *types.Document) {
	doc.State = types.StateVerified
	doc.UpdatedAt = time.Now().UTC()
	if err := s.cfg.Database.UpdateDocument(ctx, doc); err != nil {
		log.WithError(err).WithField("document", doc.ID).Error("Could not promote document to VERIFIED")
		return
	}
	seq, err := s.cfg.Ledger.NextSeq(ctx, doc.ID)
	if err != nil {
		log.WithError(err).WithField("document", doc.ID).Error("Could not derive submission sequence")
		return
	}
	if _, err := s.cfg.Ledger.UpdateState(ctx, &ledger.StateUpdateRequest{
		DocumentID: doc.ID,
		NewState:   types.StateVerified,
		Seq:        seq,
	}); err != nil {
		log.WithError(err).WithField("document", doc.ID).Warn("Ledger state update deferred")
	}
}

func (s *Service) appendEvent(ctx context.Context, verifierID uuid.UUID, doc *types.Document, verified bool, details string) {
	ev := &types.VerificationEvent{
		ID:         uuid.New(),
		DocumentID: doc.ID,
		VerifierID: verifierID,
		Verified:   verified,
		Method:     string(doc.DigestAlgo),
		Details:    details,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.cfg.Database.SaveVerificationEvent(ctx, ev); err != nil {
		log.WithError(err).WithField("document", doc.ID).Error("Could not record verification event")
	}
}

// History returns a document's verification events in order.
func (s *Service) History(ctx context.Context, documentID uuid.UUID) ([]*types.VerificationEvent, error) {
	return s.cfg.Database.VerificationEventsForDocument(ctx, documentID)
}

func (s *Service) audit(userID uuid.UUID, action, resourceID string, status int) {
	if s.cfg.Audit == nil {
		return
	}
	s.cfg.Audit.Submit(&types.AuditRecord{
		Service:      "verification",
		Action:       action,
		UserID:       userID,
		ResourceKind: "document",
		ResourceID:   resourceID,
		StatusCode:   status,
	})
}
