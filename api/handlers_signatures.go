package api

import (
	"io"
	"net/http"

	"github.com/versafe/versafe/types"
)

type signRequest struct {
	Type     types.SignatureType `json:"type"`
	Payload  []byte              `json:"payload"`
	Metadata map[string]string   `json:"metadata"`
}

func (s *Service) handleSign(w http.ResponseWriter, r *http.Request, principal *types.Principal) {
	documentID, ok := pathUUID(r, "document_id")
	if !ok {
		writeKind(w, http.StatusBadRequest, KindValidation, "malformed document id")
		return
	}
	req := &signRequest{}
	if err := decodeStrict(r, req); err != nil {
		writeKind(w, http.StatusBadRequest, KindValidation, "malformed request body")
		return
	}
	sig, err := s.cfg.Signatures.Sign(r.Context(), principal.UserID, documentID, req.Type, req.Payload)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sig)
}

// signatureImageLimit bounds a drawn signature upload.
const signatureImageLimit = 1 << 20

func (s *Service) handleSignatureImage(w http.ResponseWriter, r *http.Request, principal *types.Principal) {
	documentID, ok := pathUUID(r, "document_id")
	if !ok {
		writeKind(w, http.StatusBadRequest, KindValidation, "malformed document id")
		return
	}
	image, err := io.ReadAll(io.LimitReader(r.Body, signatureImageLimit))
	if err != nil {
		writeKind(w, http.StatusBadRequest, KindValidation, "could not read image body")
		return
	}
	sig, err := s.cfg.Signatures.UploadSignatureImage(r.Context(), principal.UserID, documentID, image)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sig)
}

func (s *Service) handleListSignatures(w http.ResponseWriter, r *http.Request, _ *types.Principal) {
	documentID, ok := pathUUID(r, "document_id")
	if !ok {
		writeKind(w, http.StatusBadRequest, KindValidation, "malformed document id")
		return
	}
	sigs, err := s.cfg.Signatures.List(r.Context(), documentID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sigs)
}

type verifySignatureResponse struct {
	Verified bool `json:"verified"`
}

func (s *Service) handleVerifySignature(w http.ResponseWriter, r *http.Request, _ *types.Principal) {
	id, ok := pathUUID(r, "id")
	if !ok {
		writeKind(w, http.StatusBadRequest, KindValidation, "malformed signature id")
		return
	}
	verified, err := s.cfg.Signatures.Verify(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, &verifySignatureResponse{Verified: verified})
}

func (s *Service) handleVerifyDocument(w http.ResponseWriter, r *http.Request, principal *types.Principal) {
	documentID, ok := pathUUID(r, "document_id")
	if !ok {
		writeKind(w, http.StatusBadRequest, KindValidation, "malformed document id")
		return
	}
	res, err := s.cfg.Verification.VerifyDocument(r.Context(), principal.UserID, documentID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Service) handleVerificationHistory(w http.ResponseWriter, r *http.Request, _ *types.Principal) {
	documentID, ok := pathUUID(r, "document_id")
	if !ok {
		writeKind(w, http.StatusBadRequest, KindValidation, "malformed document id")
		return
	}
	events, err := s.cfg.Verification.History(r.Context(), documentID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}
