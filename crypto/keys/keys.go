// Package keys manages signer key enrollment for digital signatures.
// Key material lives only in process memory; nothing here persists
// secrets to disk.
package keys

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Algorithm identifies the asymmetric scheme of an enrolled key pair.
type Algorithm string

// Supported signing algorithms.
const (
	RSAPSSSHA256 Algorithm = "RSA-PSS-SHA256"
	ECDSAP256    Algorithm = "ECDSA-P256"
	Ed25519      Algorithm = "ED25519"
)

var (
	// ErrNoKeyMaterial is returned when a signer has no enrolled key pair.
	ErrNoKeyMaterial = errors.New("signer has no enrolled key material")
	// ErrCertificateExpired is returned when the binding certificate is
	// outside its validity window.
	ErrCertificateExpired = errors.New("signer certificate outside validity window")
	// ErrCertificateRevoked is returned when the binding certificate has
	// been revoked.
	ErrCertificateRevoked = errors.New("signer certificate revoked")
	// ErrVerificationFailed is returned when a signature does not verify
	// against the enrolled public key.
	ErrVerificationFailed = errors.New("signature verification failed")
)

// Enrollment binds a signer identity to an asymmetric key pair and the
// certificate vouching for it.
type Enrollment struct {
	SignerID    uuid.UUID
	Algorithm   Algorithm
	private     crypto.Signer
	Certificate *x509.Certificate
	revoked     bool
}

// Public returns the enrolled public key.
func (e *Enrollment) Public() crypto.PublicKey {
	return e.private.Public()
}

// Store is a process-scoped holder of signer enrollments.
type Store struct {
	mu       sync.RWMutex
	enrolled map[uuid.UUID]*Enrollment
}

// NewStore creates an empty enrollment store.
func NewStore() *Store {
	return &Store{enrolled: make(map[uuid.UUID]*Enrollment)}
}

// Enroll generates a fresh key pair for the signer under the given
// algorithm and issues a self-signed binding certificate valid for the
// supplied window.
func (s *Store) Enroll(signerID uuid.UUID, algo Algorithm, validFor time.Duration) (*Enrollment, error) {
	var signer crypto.Signer
	var err error
	switch algo {
	case RSAPSSSHA256:
		signer, err = rsa.GenerateKey(rand.Reader, 2048)
	case ECDSAP256:
		signer, err = ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	case Ed25519:
		_, signer, err = ed25519.GenerateKey(rand.Reader)
	default:
		return nil, errors.Errorf("unsupported signing algorithm: %s", algo)
	}
	if err != nil {
		return nil, errors.Wrap(err, "could not generate key pair")
	}

	cert, err := selfSign(signerID, signer, validFor)
	if err != nil {
		return nil, err
	}

	e := &Enrollment{
		SignerID:    signerID,
		Algorithm:   algo,
		private:     signer,
		Certificate: cert,
	}
	s.mu.Lock()
	s.enrolled[signerID] = e
	s.mu.Unlock()
	return e, nil
}

// Lookup returns the signer's enrollment, or ErrNoKeyMaterial.
func (s *Store) Lookup(signerID uuid.UUID) (*Enrollment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.enrolled[signerID]
	if !ok {
		return nil, ErrNoKeyMaterial
	}
	return e, nil
}

// Revoke marks the signer's certificate as revoked. Signatures made
// under it no longer verify.
func (s *Store) Revoke(signerID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.enrolled[signerID]
	if !ok {
		return ErrNoKeyMaterial
	}
	e.revoked = true
	return nil
}

func selfSign(signerID uuid.UUID, signer crypto.Signer, validFor time.Duration) (*x509.Certificate, error) {
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, errors.Wrap(err, "could not generate certificate serial")
	}
	now := time.Now()
	tmpl := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: signerID.String()},
		NotBefore:    now,
		NotAfter:     now.Add(validFor),
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, signer.Public(), signer)
	if err != nil {
		return nil, errors.Wrap(err, "could not self-sign enrollment certificate")
	}
	return x509.ParseCertificate(der)
}

// Sign produces a signature over data with the enrollment's private
// key. RSA and ECDSA sign the SHA-256 digest of data; Ed25519 signs
// the message directly.
func Sign(e *Enrollment, data []byte) ([]byte, error) {
	switch e.Algorithm {
	case RSAPSSSHA256:
		digest := sha256.Sum256(data)
		return rsa.SignPSS(rand.Reader, e.private.(*rsa.PrivateKey), crypto.SHA256, digest[:], nil)
	case ECDSAP256:
		digest := sha256.Sum256(data)
		return ecdsa.SignASN1(rand.Reader, e.private.(*ecdsa.PrivateKey), digest[:])
	case Ed25519:
		return e.private.(ed25519.PrivateKey).Sign(rand.Reader, data, crypto.Hash(0))
	default:
		return nil, errors.Errorf("unsupported signing algorithm: %s", e.Algorithm)
	}
}

// Verify checks a signature against the enrollment's public key and
// validates the binding certificate for the given instant.
func Verify(e *Enrollment, data, sig []byte, at time.Time) error {
	if e.revoked {
		return ErrCertificateRevoked
	}
	if at.Before(e.Certificate.NotBefore) || at.After(e.Certificate.NotAfter) {
		return ErrCertificateExpired
	}
	switch e.Algorithm {
	case RSAPSSSHA256:
		digest := sha256.Sum256(data)
		if err := rsa.VerifyPSS(e.Public().(*rsa.PublicKey), crypto.SHA256, digest[:], sig, nil); err != nil {
			return ErrVerificationFailed
		}
	case ECDSAP256:
		digest := sha256.Sum256(data)
		if !ecdsa.VerifyASN1(e.Public().(*ecdsa.PublicKey), digest[:], sig) {
			return ErrVerificationFailed
		}
	case Ed25519:
		if !ed25519.Verify(e.Public().(ed25519.PublicKey), data, sig) {
			return ErrVerificationFailed
		}
	default:
		return errors.Errorf("unsupported signing algorithm: %s", e.Algorithm)
	}
	return nil
}
