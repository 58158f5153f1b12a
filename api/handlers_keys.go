package api

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/versafe/versafe/crypto/keys"
)

const defaultEnrollmentWindow = 24 * time.Hour

type enrollKeyRequest struct {
	SignerID  uuid.UUID      `json:"signer_id"`
	Algorithm keys.Algorithm `json:"algorithm"`
	// ValidFor is a Go duration string; the enrollment certificate
	// expires after this window.
	ValidFor string `json:"valid_for"`
}

type enrollKeyResponse struct {
	SignerID    uuid.UUID      `json:"signer_id"`
	Algorithm   keys.Algorithm `json:"algorithm"`
	NotAfter    time.Time      `json:"not_after"`
	Certificate []byte         `json:"certificate"`
}

// handleEnrollKey enrolls a signer for digital signatures. The private
// key never leaves the node; only the binding certificate is returned.
func (s *Service) handleEnrollKey(w http.ResponseWriter, r *http.Request) {
	req := &enrollKeyRequest{}
	if err := decodeStrict(r, req); err != nil {
		writeKind(w, http.StatusBadRequest, KindValidation, "malformed request body")
		return
	}
	if req.SignerID == uuid.Nil {
		writeKind(w, http.StatusBadRequest, KindValidation, "signer_id is required")
		return
	}
	switch req.Algorithm {
	case keys.RSAPSSSHA256, keys.ECDSAP256, keys.Ed25519:
	default:
		writeKind(w, http.StatusBadRequest, KindValidation, "unsupported signing algorithm")
		return
	}
	validFor := defaultEnrollmentWindow
	if req.ValidFor != "" {
		parsed, err := time.ParseDuration(req.ValidFor)
		if err != nil || parsed <= 0 {
			writeKind(w, http.StatusBadRequest, KindValidation, "valid_for must be a positive duration")
			return
		}
		validFor = parsed
	}
	enrollment, err := s.cfg.Keys.Enroll(req.SignerID, req.Algorithm, validFor)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, &enrollKeyResponse{
		SignerID:    enrollment.SignerID,
		Algorithm:   enrollment.Algorithm,
		NotAfter:    enrollment.Certificate.NotAfter,
		Certificate: enrollment.Certificate.Raw,
	})
}

// handleRevokeKey revokes a signer's enrollment certificate.
func (s *Service) handleRevokeKey(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(r, "signer_id")
	if !ok {
		writeKind(w, http.StatusBadRequest, KindValidation, "malformed signer id")
		return
	}
	if err := s.cfg.Keys.Revoke(id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}
