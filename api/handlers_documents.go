package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/versafe/versafe/db/filters"
	"github.com/versafe/versafe/documents"
	"github.com/versafe/versafe/types"
)

// uploadMemoryLimit bounds the multipart parts held in memory; larger
// files spool to disk.
const uploadMemoryLimit = 4 << 20

type documentListResponse struct {
	Documents []*types.Document `json:"documents"`
	Total     int               `json:"total"`
}

func pathUUID(r *http.Request, key string) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)[key])
	return id, err == nil
}

func (s *Service) handleUpload(w http.ResponseWriter, r *http.Request, principal *types.Principal) {
	if err := r.ParseMultipartForm(uploadMemoryLimit); err != nil {
		writeKind(w, http.StatusBadRequest, KindValidation, "malformed multipart body")
		return
	}
	file, header, err := r.FormFile("document")
	if err != nil {
		writeKind(w, http.StatusBadRequest, KindValidation, "missing document part")
		return
	}
	defer func() {
		if err := file.Close(); err != nil {
			log.WithError(err).Debug("Could not close upload part")
		}
	}()

	req := &documents.UploadRequest{
		Title:         r.FormValue("title"),
		FileName:      header.Filename,
		MediaType:     header.Header.Get("Content-Type"),
		Algo:          types.DigestAlgorithm(r.FormValue("algo")),
		SecurityLevel: types.SecurityLevel(r.FormValue("security_level")),
	}
	if v := r.FormValue("signatures_required"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeKind(w, http.StatusBadRequest, KindValidation, "signatures_required must be a positive integer")
			return
		}
		req.SignaturesRequired = n
	}
	if v := r.FormValue("expiry"); v != "" {
		expiry, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeKind(w, http.StatusBadRequest, KindValidation, "expiry must be RFC 3339")
			return
		}
		req.Expiry = &expiry
	}

	doc, err := s.cfg.Documents.Upload(r.Context(), principal.UserID, file, req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, doc)
}

func (s *Service) handleListDocuments(w http.ResponseWriter, r *http.Request, principal *types.Principal) {
	f := filters.NewFilter()
	q := r.URL.Query()
	if v := q.Get("state"); v != "" {
		f.SetState(types.DocumentState(v))
	}
	if v := q.Get("security_level"); v != "" {
		f.SetSecurityLevel(types.SecurityLevel(v))
	}
	if v := q.Get("page"); v != "" {
		if page, err := strconv.Atoi(v); err == nil {
			f.SetPage(page)
		}
	}
	if v := q.Get("limit"); v != "" {
		if limit, err := strconv.Atoi(v); err == nil {
			f.SetLimit(limit)
		}
	}
	docs, total, err := s.cfg.Documents.List(r.Context(), principal.UserID, f)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, &documentListResponse{Documents: docs, Total: total})
}

func (s *Service) handleGetDocument(w http.ResponseWriter, r *http.Request, principal *types.Principal) {
	id, ok := pathUUID(r, "id")
	if !ok {
		writeKind(w, http.StatusBadRequest, KindValidation, "malformed document id")
		return
	}
	doc, err := s.cfg.Documents.Get(r.Context(), principal.UserID, id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

type patchDocumentRequest struct {
	Title              *string    `json:"title"`
	Expiry             *time.Time `json:"expiry"`
	SignaturesRequired *int       `json:"signatures_required"`
}

func (s *Service) handlePatchDocument(w http.ResponseWriter, r *http.Request, principal *types.Principal) {
	id, ok := pathUUID(r, "id")
	if !ok {
		writeKind(w, http.StatusBadRequest, KindValidation, "malformed document id")
		return
	}
	req := &patchDocumentRequest{}
	if err := decodeStrict(r, req); err != nil {
		writeKind(w, http.StatusBadRequest, KindValidation, "malformed request body")
		return
	}
	doc, err := s.cfg.Documents.Update(r.Context(), principal.UserID, id, &documents.UpdatePatch{
		Title:              req.Title,
		Expiry:             req.Expiry,
		SignaturesRequired: req.SignaturesRequired,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

type revokeDocumentRequest struct {
	Reason string `json:"reason"`
}

func (s *Service) handleRevokeDocument(w http.ResponseWriter, r *http.Request, principal *types.Principal) {
	id, ok := pathUUID(r, "id")
	if !ok {
		writeKind(w, http.StatusBadRequest, KindValidation, "malformed document id")
		return
	}
	req := &revokeDocumentRequest{}
	if err := decodeStrict(r, req); err != nil {
		writeKind(w, http.StatusBadRequest, KindValidation, "malformed request body")
		return
	}
	doc, err := s.cfg.Documents.Revoke(r.Context(), principal.UserID, id, req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

type shareDocumentRequest struct {
	GranteeEmail string            `json:"grantee_email"`
	Access       types.AccessLevel `json:"access"`
	Uses         int               `json:"uses"`
	Expiry       *time.Time        `json:"expiry"`
	Message      string            `json:"message"`
}

type shareDocumentResponse struct {
	Grant *types.ShareGrant `json:"grant"`
	// Token is only disclosed at creation time.
	Token string `json:"token"`
}

func (s *Service) handleShareDocument(w http.ResponseWriter, r *http.Request, principal *types.Principal) {
	id, ok := pathUUID(r, "id")
	if !ok {
		writeKind(w, http.StatusBadRequest, KindValidation, "malformed document id")
		return
	}
	req := &shareDocumentRequest{}
	if err := decodeStrict(r, req); err != nil {
		writeKind(w, http.StatusBadRequest, KindValidation, "malformed request body")
		return
	}
	grant, err := s.cfg.Documents.Share(r.Context(), principal.UserID, id, &documents.ShareRequest{
		GranteeEmail: req.GranteeEmail,
		Access:       req.Access,
		Uses:         req.Uses,
		Expiry:       req.Expiry,
		Message:      req.Message,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, &shareDocumentResponse{Grant: grant, Token: grant.Token})
}

func (s *Service) handleListShares(w http.ResponseWriter, r *http.Request, principal *types.Principal) {
	id, ok := pathUUID(r, "id")
	if !ok {
		writeKind(w, http.StatusBadRequest, KindValidation, "malformed document id")
		return
	}
	grants, err := s.cfg.Documents.Shares(r.Context(), principal.UserID, id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, grants)
}
