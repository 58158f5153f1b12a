package api

import (
	"bytes"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/versafe/versafe/ledger"
)

func (s *Service) handleLedgerRegister(w http.ResponseWriter, r *http.Request) {
	req := &ledger.RegisterRequest{}
	if err := decodeStrict(r, req); err != nil {
		writeKind(w, http.StatusBadRequest, KindValidation, "malformed request body")
		return
	}
	tx, err := s.cfg.Ledger.Register(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, tx)
}

type ledgerVerifyRequest struct {
	DocumentID uuid.UUID `json:"document_id"`
	Digest     []byte    `json:"digest"`
}

type ledgerVerifyResponse struct {
	Match  bool           `json:"match"`
	Record *ledger.Record `json:"record"`
}

// handleLedgerVerify compares a caller-supplied digest against the
// ledger's view of a document.
func (s *Service) handleLedgerVerify(w http.ResponseWriter, r *http.Request) {
	req := &ledgerVerifyRequest{}
	if err := decodeStrict(r, req); err != nil {
		writeKind(w, http.StatusBadRequest, KindValidation, "malformed request body")
		return
	}
	rec, err := s.cfg.Ledger.Query(r.Context(), req.DocumentID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, &ledgerVerifyResponse{
		Match:  bytes.Equal(rec.Digest, req.Digest),
		Record: rec,
	})
}

func (s *Service) handleLedgerState(w http.ResponseWriter, r *http.Request) {
	req := &ledger.StateUpdateRequest{}
	if err := decodeStrict(r, req); err != nil {
		writeKind(w, http.StatusBadRequest, KindValidation, "malformed request body")
		return
	}
	tx, err := s.cfg.Ledger.UpdateState(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

func (s *Service) handleLedgerHistory(w http.ResponseWriter, r *http.Request) {
	documentID, ok := pathUUID(r, "document_id")
	if !ok {
		writeKind(w, http.StatusBadRequest, KindValidation, "malformed document id")
		return
	}
	txs, err := s.cfg.Ledger.History(r.Context(), documentID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, txs)
}

type txStatusResponse struct {
	TxID   string `json:"tx_id"`
	Status string `json:"status"`
}

func (s *Service) handleLedgerTxStatus(w http.ResponseWriter, r *http.Request) {
	txID := mux.Vars(r)["tx_id"]
	status, err := s.cfg.Ledger.TxStatus(r.Context(), txID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, &txStatusResponse{TxID: txID, Status: string(status)})
}
