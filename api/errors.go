package api

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/versafe/versafe/auth"
	"github.com/versafe/versafe/crypto/hashing"
	"github.com/versafe/versafe/crypto/keys"
	"github.com/versafe/versafe/db"
	"github.com/versafe/versafe/documents"
	"github.com/versafe/versafe/ledger"
	"github.com/versafe/versafe/signatures"
	"github.com/versafe/versafe/types"
)

// Error kinds exposed to clients. Responses never carry internal error
// strings, only a kind and a short detail.
const (
	KindValidation        = "Validation"
	KindAuth              = "Auth"
	KindNotFound          = "NotFound"
	KindConflict          = "Conflict"
	KindSecurity          = "Security"
	KindLedgerUnavailable = "LedgerUnavailable"
	KindIntegrity         = "Integrity"
	KindInternal          = "Internal"
)

type envelope struct {
	Success bool          `json:"success"`
	Message string        `json:"message,omitempty"`
	Data    interface{}   `json:"data,omitempty"`
	Error   *errorPayload `json:"error,omitempty"`
}

type errorPayload struct {
	Kind   string `json:"kind"`
	Detail string `json:"detail"`
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(&envelope{Success: true, Data: data}); err != nil {
		log.WithError(err).Error("Could not encode response")
	}
}

func writeKind(w http.ResponseWriter, status int, kind, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(&envelope{Success: false, Error: &errorPayload{Kind: kind, Detail: detail}}); err != nil {
		log.WithError(err).Error("Could not encode response")
	}
}

// writeError maps a service error to the taxonomy. Unrecognised errors
// become Internal with a correlation id; the underlying error is only
// logged.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, db.ErrNotFound):
		writeKind(w, http.StatusNotFound, KindNotFound, "resource not found")
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeKind(w, http.StatusUnauthorized, KindAuth, "invalid credentials")
	case errors.Is(err, auth.ErrExpiredToken):
		writeKind(w, http.StatusUnauthorized, KindAuth, "token expired")
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrUnknownKey):
		writeKind(w, http.StatusUnauthorized, KindAuth, "invalid token")
	case errors.Is(err, documents.ErrInvalidAccessLevel):
		writeKind(w, http.StatusBadRequest, KindValidation, err.Error())
	case errors.Is(err, documents.ErrSignaturesRequired):
		writeKind(w, http.StatusBadRequest, KindValidation, err.Error())
	case errors.Is(err, documents.ErrMediaTypeNotAllowed):
		writeKind(w, http.StatusBadRequest, KindValidation, "media type not allowed")
	case errors.Is(err, documents.ErrUploadTooLarge):
		writeKind(w, http.StatusRequestEntityTooLarge, KindValidation, "upload exceeds the size limit")
	case errors.Is(err, documents.ErrSecurityRejected):
		writeKind(w, http.StatusUnprocessableEntity, KindSecurity, "document rejected by malware scan")
	case errors.Is(err, signatures.ErrMalformedPayload):
		writeKind(w, http.StatusBadRequest, KindValidation, "malformed signature payload")
	case errors.Is(err, signatures.ErrAlreadySigned):
		writeKind(w, http.StatusConflict, KindConflict, "signer has already signed this document")
	case errors.Is(err, signatures.ErrInvalidState),
		errors.Is(err, signatures.ErrTerminalState),
		errors.Is(err, signatures.ErrRegistrationPending),
		errors.Is(err, types.ErrInvalidTransition):
		writeKind(w, http.StatusConflict, KindConflict, "document state does not permit this operation")
	case errors.Is(err, db.ErrAlreadyExists):
		writeKind(w, http.StatusConflict, KindConflict, "resource already exists")
	case errors.Is(err, keys.ErrNoKeyMaterial):
		writeKind(w, http.StatusConflict, KindConflict, "signer has no enrolled key material")
	case errors.Is(err, keys.ErrCertificateExpired), errors.Is(err, keys.ErrCertificateRevoked):
		writeKind(w, http.StatusConflict, KindConflict, "signer certificate is not valid")
	case errors.Is(err, hashing.ErrDigestDivergence):
		writeKind(w, http.StatusUnprocessableEntity, KindIntegrity, "digest computation diverged")
	case errors.Is(err, ledger.ErrLedgerUnavailable):
		writeKind(w, http.StatusServiceUnavailable, KindLedgerUnavailable, "ledger unreachable")
	default:
		correlation := uuid.New()
		log.WithError(err).WithField("correlation", correlation).Error("Internal error serving request")
		w.Header().Set("X-Correlation-Id", correlation.String())
		writeKind(w, http.StatusInternalServerError, KindInternal, "internal error, correlation id "+correlation.String())
	}
}

// decodeStrict decodes a mutating request body, rejecting unknown
// fields.
func decodeStrict(r *http.Request, into interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(into)
}
