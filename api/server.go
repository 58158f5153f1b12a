// Package api exposes the node's versioned HTTP JSON surface. Every
// response uses a common envelope and every error carries a kind from
// the error taxonomy rather than an internal error string.
package api

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"
	"github.com/versafe/versafe/audit"
	"github.com/versafe/versafe/auth"
	"github.com/versafe/versafe/crypto/keys"
	"github.com/versafe/versafe/documents"
	"github.com/versafe/versafe/ledger"
	"github.com/versafe/versafe/signatures"
	"github.com/versafe/versafe/verification"
)

var log = logrus.WithField("prefix", "api")

const shutdownTimeout = 5 * time.Second

// Config options for the HTTP API service.
type Config struct {
	Host           string
	Port           string
	AllowedOrigins []string
	InternalAPIKey string
	Auth           *auth.Service
	Documents      *documents.Service
	Signatures     *signatures.Service
	Verification   *verification.Service
	Ledger         ledger.Gateway
	Keys           *keys.Store
	Audit          *audit.Recorder
}

// Service serves the HTTP API.
type Service struct {
	ctx       context.Context
	cancel    context.CancelFunc
	cfg       *Config
	server    *http.Server
	startFail error
}

// NewService creates the HTTP API service.
func NewService(ctx context.Context, cfg *Config) *Service {
	ctx, cancel := context.WithCancel(ctx)
	s := &Service{ctx: ctx, cancel: cancel, cfg: cfg}

	router := s.Router()
	handler := cors.New(cors.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodPut, http.MethodDelete},
		AllowedHeaders: []string{"Authorization", "Content-Type", "X-API-Key"},
	}).Handler(router)
	s.server = &http.Server{
		Addr:    net.JoinHostPort(cfg.Host, cfg.Port),
		Handler: handler,
	}
	return s
}

// Router builds the versioned route table.
func (s *Service) Router() *mux.Router {
	r := mux.NewRouter()
	v1 := r.PathPrefix("/v1").Subrouter()

	v1.HandleFunc("/auth/register", s.handleRegister).Methods(http.MethodPost)
	v1.HandleFunc("/auth/login", s.handleLogin).Methods(http.MethodPost)
	v1.HandleFunc("/auth/refresh", s.handleRefresh).Methods(http.MethodPost)

	v1.HandleFunc("/documents/upload", s.authenticated(s.handleUpload)).Methods(http.MethodPost)
	v1.HandleFunc("/documents", s.authenticated(s.handleListDocuments)).Methods(http.MethodGet)
	v1.HandleFunc("/documents/{id}", s.authenticated(s.handleGetDocument)).Methods(http.MethodGet)
	v1.HandleFunc("/documents/{id}", s.authenticated(s.handlePatchDocument)).Methods(http.MethodPatch)
	v1.HandleFunc("/documents/{id}/revoke", s.authenticated(s.handleRevokeDocument)).Methods(http.MethodPost)
	v1.HandleFunc("/documents/{id}/share", s.authenticated(s.handleShareDocument)).Methods(http.MethodPost)
	v1.HandleFunc("/documents/{id}/shares", s.authenticated(s.handleListShares)).Methods(http.MethodGet)

	v1.HandleFunc("/signatures/{document_id}/sign", s.authenticated(s.handleSign)).Methods(http.MethodPost)
	v1.HandleFunc("/signatures/{document_id}/image", s.authenticated(s.handleSignatureImage)).Methods(http.MethodPost)
	v1.HandleFunc("/signatures/document/{document_id}", s.authenticated(s.handleListSignatures)).Methods(http.MethodGet)
	v1.HandleFunc("/signatures/{id}/verify", s.authenticated(s.handleVerifySignature)).Methods(http.MethodPost)

	v1.HandleFunc("/verification/{document_id}/verify", s.authenticated(s.handleVerifyDocument)).Methods(http.MethodPost)
	v1.HandleFunc("/verification/{document_id}/history", s.authenticated(s.handleVerificationHistory)).Methods(http.MethodGet)

	v1.HandleFunc("/ledger/register", s.internal(s.handleLedgerRegister)).Methods(http.MethodPost)
	v1.HandleFunc("/ledger/verify", s.internal(s.handleLedgerVerify)).Methods(http.MethodPost)
	v1.HandleFunc("/ledger/state", s.internal(s.handleLedgerState)).Methods(http.MethodPut)
	v1.HandleFunc("/ledger/history/{document_id}", s.internal(s.handleLedgerHistory)).Methods(http.MethodGet)
	v1.HandleFunc("/ledger/tx/{tx_id}", s.internal(s.handleLedgerTxStatus)).Methods(http.MethodGet)

	v1.HandleFunc("/keys/enroll", s.internal(s.handleEnrollKey)).Methods(http.MethodPost)
	v1.HandleFunc("/keys/{signer_id}/revoke", s.internal(s.handleRevokeKey)).Methods(http.MethodPost)

	return r
}

// Start begins serving requests.
func (s *Service) Start() {
	go func() {
		log.WithField("address", s.server.Addr).Info("Starting HTTP API server")
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("Could not serve HTTP API")
			s.startFail = err
		}
	}()
}

// Stop drains in-flight requests and shuts the server down.
func (s *Service) Stop() error {
	defer s.cancel()
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// Status reports a failed listener.
func (s *Service) Status() error {
	return s.startFail
}
