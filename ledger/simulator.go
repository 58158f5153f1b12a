package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/versafe/versafe/db"
	"github.com/versafe/versafe/encoding/bytesutil"
	"github.com/versafe/versafe/types"
)

// simulatedIdentity is the single endorsing identity the simulator
// stamps on its transactions.
const simulatedIdentity = "versafe-simulator"

// Simulator produces deterministic, non-authoritative ledger
// transactions when the real ledger is unreachable. The same request
// always yields the same transaction id, and every record it emits is
// marked SIMULATED.
type Simulator struct {
	db db.ReadOnlyDatabase
}

// NewSimulator returns a simulator backed by the local store for
// queries.
func NewSimulator(store db.ReadOnlyDatabase) *Simulator {
	return &Simulator{db: store}
}

func simulatedTxID(documentID uuid.UUID, kind types.TxKind, seq uint64) string {
	h := sha256.New()
	h.Write(documentID[:])
	h.Write([]byte(kind))
	h.Write(bytesutil.Bytes8(seq))
	return hex.EncodeToString(h.Sum(nil))
}

func payloadHash(req interface{}) []byte {
	enc, err := json.Marshal(req)
	if err != nil {
		return nil
	}
	sum := sha256.Sum256(enc)
	return sum[:]
}

func (s *Simulator) simulate(documentID uuid.UUID, kind types.TxKind, seq uint64, req interface{}) *types.LedgerTransaction {
	return &types.LedgerTransaction{
		TxID:        simulatedTxID(documentID, kind, seq),
		DocumentID:  documentID,
		Kind:        kind,
		PayloadHash: payloadHash(req),
		Endorsements: []types.Endorsement{
			{Identity: simulatedIdentity},
		},
		DedupKey:    DedupKey(documentID, kind, seq),
		Simulated:   true,
		SubmittedAt: time.Now().UTC(),
		Status:      types.TxSimulated,
	}
}

// Register emits a simulated registration transaction.
func (s *Simulator) Register(_ context.Context, req *RegisterRequest) (*types.LedgerTransaction, error) {
	return s.simulate(req.DocumentID, types.TxRegister, req.Seq, req), nil
}

// UpdateState emits a simulated state update transaction.
func (s *Simulator) UpdateState(_ context.Context, req *StateUpdateRequest) (*types.LedgerTransaction, error) {
	return s.simulate(req.DocumentID, types.TxStateUpdate, req.Seq, req), nil
}

// RecordSignature emits a simulated signature transaction.
func (s *Simulator) RecordSignature(_ context.Context, req *SignatureRequest) (*types.LedgerTransaction, error) {
	return s.simulate(req.DocumentID, types.TxSignature, req.Seq, req), nil
}

// Query reconstructs a record from the local store. The simulator has
// no independent view of document content, so the answer is marked
// simulated and is never treated as authoritative.
func (s *Simulator) Query(ctx context.Context, documentID uuid.UUID) (*Record, error) {
	doc, err := s.db.Document(ctx, documentID)
	if err != nil {
		return nil, err
	}
	txs, err := s.db.LedgerTransactionsForDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	rec := &Record{
		DocumentID: doc.ID,
		Digest:     doc.Digest,
		Algo:       doc.DigestAlgo,
		State:      doc.State,
		Simulated:  true,
	}
	if len(txs) > 0 {
		latest := txs[len(txs)-1]
		rec.TxID = latest.TxID
		rec.Block = latest.Block
	}
	return rec, nil
}

// History returns the locally recorded transactions for a document.
func (s *Simulator) History(ctx context.Context, documentID uuid.UUID) ([]*types.LedgerTransaction, error) {
	return s.db.LedgerTransactionsForDocument(ctx, documentID)
}

// TxStatus resolves the status of a locally recorded transaction.
func (s *Simulator) TxStatus(ctx context.Context, txID string) (types.TxStatus, error) {
	tx, err := s.db.LedgerTransaction(ctx, txID)
	if err != nil {
		return "", errors.Wrap(err, "could not resolve transaction")
	}
	return tx.Status, nil
}
