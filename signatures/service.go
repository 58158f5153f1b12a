// Package signatures implements the signature engine: electronic,
// digital and biometric signing of documents, signature verification,
// and the document state advance driven by signature counts.
package signatures

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"
	"github.com/versafe/versafe/async"
	"github.com/versafe/versafe/audit"
	"github.com/versafe/versafe/crypto/keys"
	"github.com/versafe/versafe/db"
	"github.com/versafe/versafe/ledger"
	"github.com/versafe/versafe/types"
)

var log = logrus.WithField("prefix", "signatures")

var signaturesCreatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "versafe_signatures_created_total",
	Help: "Count of signatures created by type.",
}, []string{"type"})

// Signing precondition sentinels.
var (
	ErrInvalidState        = errors.New("document state does not accept signatures")
	ErrAlreadySigned       = errors.New("signer has already signed this document")
	ErrTerminalState       = errors.New("document is in a terminal state")
	ErrRegistrationPending = errors.New("document registration is still pending")
	ErrMalformedPayload    = errors.New("malformed signature payload")
)

const defaultBiometricThreshold = 0.9

// Config options for the signature engine.
type Config struct {
	Database           db.Database
	Ledger             ledger.Gateway
	Keys               *keys.Store
	Audit              *audit.Recorder
	Locker             *async.KeyedMutex
	BiometricThreshold float64
}

// Service is the signature engine.
type Service struct {
	ctx    context.Context
	cancel context.CancelFunc
	cfg    *Config
}

// NewService creates the signature engine.
func NewService(ctx context.Context, cfg *Config) *Service {
	ctx, cancel := context.WithCancel(ctx)
	if cfg.BiometricThreshold == 0 {
		cfg.BiometricThreshold = defaultBiometricThreshold
	}
	if cfg.Locker == nil {
		cfg.Locker = async.NewKeyedMutex()
	}
	return &Service{ctx: ctx, cancel: cancel, cfg: cfg}
}

// Start is a no-op; the engine has no background work.
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

// biometricPayload is the decoded form of a BIOMETRIC signature
// payload.
type biometricPayload struct {
	Features   []float64 `json:"features"`
	Confidence float64   `json:"confidence"`
}

// Sign creates a signature of the given type over a document and
// advances the document's state when the signature is valid. The
// per-document lock keeps the valid-signature count consistent under
// concurrent signers.
func (s *Service) Sign(ctx context.Context, signerID, documentID uuid.UUID, sigType types.SignatureType, payload []byte) (*types.Signature, error) {
	s.cfg.Locker.Lock(documentID)
	defer s.cfg.Locker.Unlock(documentID)

	doc, err := s.cfg.Database.Document(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if doc.State.Terminal() {
		return nil, errors.Wrapf(ErrTerminalState, "document is %s", doc.State)
	}
	if doc.State == types.StateRegistrationPending {
		return nil, ErrRegistrationPending
	}
	if !doc.State.AcceptsSignatures() {
		return nil, errors.Wrapf(ErrInvalidState, "document is %s", doc.State)
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
	already, err := s.cfg.Database.HasSignature(ctx, documentID, signerID)
	if err != nil {
		return nil, err
	}
	if already {
		return nil, ErrAlreadySigned
	}

	now := time.Now().UTC()
	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		return nil, errors.Wrap(err, "could not generate nonce")
	}
	sig := &types.Signature{
		ID:         uuid.New(),
		DocumentID: documentID,
		SignerID:   signerID,
		Type:       sigType,
		Payload:    payload,
		SignerHash: signerHash(doc.Digest, signerID, now, nonce),
		CreatedAt:  now,
	}

	switch sigType {
	case types.SignatureElectronic:
		if !wellFormedElectronic(payload) {
			return nil, errors.Wrap(ErrMalformedPayload, "expected an image or text: label")
		}
		sig.VerificationMethod = "payload-well-formed"
		sig.Verified = true
	case types.SignatureDigital:
		enrollment, err := s.cfg.Keys.Lookup(signerID)
		if err != nil {
			return nil, err
		}
		data := digitalData(doc.Digest, signerID, now)
		produced, err := keys.Sign(enrollment, data)
		if err != nil {
			return nil, err
		}
		// The binding certificate must be valid at signing time.
		if err := keys.Verify(enrollment, data, produced, now); err != nil {
			return nil, err
		}
		sig.Payload = produced
		sig.VerificationMethod = string(enrollment.Algorithm)
		sig.Verified = true
	case types.SignatureBiometric:
		decoded := &biometricPayload{}
		if err := json.Unmarshal(payload, decoded); err != nil {
			return nil, errors.Wrap(ErrMalformedPayload, err.Error())
		}
		sig.VerificationMethod = "biometric-confidence"
		sig.Verified = decoded.Confidence >= s.cfg.BiometricThreshold
		if !sig.Verified {
			log.WithFields(logrus.Fields{
				"document":   documentID,
				"confidence": decoded.Confidence,
			}).Warn("Biometric signature below confidence threshold")
		}
	default:
		return nil, errors.Wrapf(ErrMalformedPayload, "unknown signature type %s", sigType)
	}

	advanced := false
	if sig.Verified {
		next, err := s.nextState(ctx, doc)
		if err != nil {
			return nil, err
		}
		if next != doc.State {
			doc.State = next
			doc.UpdatedAt = now
			advanced = true
		}
	}
	// The signature row and the document's state advance land in the
	// same database transaction.
	if advanced {
		if err := s.cfg.Database.SaveSignatureAndDocument(ctx, sig, doc); err != nil {
			return nil, err
		}
	} else {
		if err := s.cfg.Database.SaveSignature(ctx, sig); err != nil {
			return nil, err
		}
	}
	signaturesCreatedTotal.WithLabelValues(string(sigType)).Inc()

	s.recordOnLedger(ctx, doc, sig)
	if advanced && doc.State == types.StateSigned {
		s.submitSignedUpdate(ctx, doc)
	}
	s.audit(signerID, "signature.create", sig.ID.String(), 201)
	return sig, nil
}

// recordOnLedger submits the signature event. A ledger failure is
// tolerated: the signature row is durable and the operation waits in
// the outbox.
func (s *Service) recordOnLedger(ctx context.Context, doc *types.Document, sig *types.Signature) {
	seq, err := s.cfg.Ledger.NextSeq(ctx, doc.ID)
	if err != nil {
		log.WithError(err).WithField("document", doc.ID).Error("Could not derive submission sequence")
		return
	}
	tx, err := s.cfg.Ledger.RecordSignature(ctx, &ledger.SignatureRequest{
		SignatureID: sig.ID,
		DocumentID:  doc.ID,
		SignerID:    sig.SignerID,
		SignerHash:  sig.SignerHash,
		Seq:         seq,
	})
	if err != nil {
		log.WithError(err).WithField("signature", sig.ID).Warn("Ledger signature record deferred")
		return
	}
	if !tx.Simulated {
		sig.LedgerTxID = tx.TxID
		if err := s.cfg.Database.UpdateSignature(ctx, sig); err != nil {
			log.WithError(err).WithField("signature", sig.ID).Error("Could not persist signature tx id")
		}
	}
}

// nextState derives the document's state from its count of valid
// signatures, counting the one about to be persisted.
func (s *Service) nextState(ctx context.Context, doc *types.Document) (types.DocumentState, error) {
	sigs, err := s.cfg.Database.SignaturesForDocument(ctx, doc.ID)
	if err != nil {
		return doc.State, err
	}
	valid := 1
	for _, existing := range sigs {
		if existing.Verified {
			valid++
		}
	}
	return types.NextStateOnSignature(doc.State, valid, doc.SignaturesRequired)
}

// submitSignedUpdate records the SIGNED transition on the ledger.
// Failures are tolerated: the operation waits in the outbox.
func (s *Service) submitSignedUpdate(ctx context.Context, doc *types.Document) {
	seq, err := s.cfg.Ledger.NextSeq(ctx, doc.ID)
	if err != nil {
		log.WithError(err).WithField("document", doc.ID).Error("Could not derive submission sequence")
		return
	}
	if _, err := s.cfg.Ledger.UpdateState(ctx, &ledger.StateUpdateRequest{
		DocumentID: doc.ID,
		NewState:   types.StateSigned,
		Seq:        seq,
	}); err != nil {
		log.WithError(err).WithField("document", doc.ID).Warn("Ledger state update deferred")
	}
}

// Verify re-checks a stored signature.
func (s *Service) Verify(ctx context.Context, signatureID uuid.UUID) (bool, error) {
	sig, err := s.cfg.Database.Signature(ctx, signatureID)
	if err != nil {
		return false, err
	}
	switch sig.Type {
	case types.SignatureElectronic, types.SignatureBiometric:
		return sig.Verified, nil
	case types.SignatureDigital:
		doc, err := s.cfg.Database.Document(ctx, sig.DocumentID)
		if err != nil {
			return false, err
		}
		enrollment, err := s.cfg.Keys.Lookup(sig.SignerID)
		if err != nil {
			return false, err
		}
		data := digitalData(doc.Digest, sig.SignerID, sig.CreatedAt)
		if err := keys.Verify(enrollment, data, sig.Payload, time.Now()); err != nil {
			if errors.Is(err, keys.ErrVerificationFailed) ||
				errors.Is(err, keys.ErrCertificateExpired) ||
				errors.Is(err, keys.ErrCertificateRevoked) {
				return false, nil
			}
			return false, err
		}
		return true, nil
	default:
		return false, errors.Wrapf(ErrMalformedPayload, "unknown signature type %s", sig.Type)
	}
}

// List returns a document's signatures in creation order.
func (s *Service) List(ctx context.Context, documentID uuid.UUID) ([]*types.Signature, error) {
	return s.cfg.Database.SignaturesForDocument(ctx, documentID)
}

// UploadSignatureImage records a drawn ELECTRONIC signature from a
// rasterised image.
func (s *Service) UploadSignatureImage(ctx context.Context, signerID, documentID uuid.UUID, image []byte) (*types.Signature, error) {
	if !isImage(image) {
		return nil, errors.Wrap(ErrMalformedPayload, "expected a PNG or JPEG image")
	}
	return s.Sign(ctx, signerID, documentID, types.SignatureElectronic, image)
}

func (s *Service) audit(userID uuid.UUID, action, resourceID string, status int) {
	if s.cfg.Audit == nil {
		return
	}
	s.cfg.Audit.Submit(&types.AuditRecord{
		Service:      "signatures",
		Action:       action,
		UserID:       userID,
		ResourceKind: "signature",
		ResourceID:   resourceID,
		StatusCode:   status,
	})
}

var (
	pngMagic  = []byte{0x89, 'P', 'N', 'G'}
	jpegMagic = []byte{0xff, 0xd8, 0xff}
	textLabel = []byte("text:")
)

func isImage(payload []byte) bool {
	return bytes.HasPrefix(payload, pngMagic) || bytes.HasPrefix(payload, jpegMagic)
}

// wellFormedElectronic accepts a rasterised image or a text label.
func wellFormedElectronic(payload []byte) bool {
	if isImage(payload) {
		return true
	}
	return bytes.HasPrefix(payload, textLabel) && len(payload) > len(textLabel)
}

// signerHash commits a signer to the document content at a point in
// time. It is stable after creation.
func signerHash(digest []byte, signerID uuid.UUID, ts time.Time, nonce []byte) []byte {
	h := sha256.New()
	h.Write(digest)
	h.Write(signerID[:])
	h.Write([]byte(ts.UTC().Format(time.RFC3339Nano)))
	h.Write(nonce)
	return h.Sum(nil)
}

// digitalData is the byte string a DIGITAL signature signs.
func digitalData(digest []byte, signerID uuid.UUID, ts time.Time) []byte {
	data := make([]byte, 0, len(digest)+16+35)
	data = append(data, digest...)
	data = append(data, signerID[:]...)
	data = append(data, []byte(ts.UTC().Format(time.RFC3339Nano))...)
	return data
}
