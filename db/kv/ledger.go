package kv

import (
	"bytes"
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/versafe/versafe/db/iface"
	"github.com/versafe/versafe/encoding/bytesutil"
	"github.com/versafe/versafe/types"
	bolt "go.etcd.io/bbolt"
	"go.opencensus.io/trace"
)

// SaveLedgerTransaction persists a ledger transaction record and its
// dedup-key index entry. A confirmed record is immutable; saving an
// identical record again is a no-op so that retries stay idempotent.
func (s *Store) SaveLedgerTransaction(ctx context.Context, ledgerTx *types.LedgerTransaction) error {
	ctx, span := trace.StartSpan(ctx, "versafeDB.SaveLedgerTransaction")
	defer span.End()

	enc, err := encode(ctx, ledgerTx)
	if err != nil {
		return err
	}
	txKey := []byte(ledgerTx.TxID)
	return s.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(ledgerTransactionsBucket)
		if prevEnc := bkt.Get(txKey); prevEnc != nil {
			if bytes.Equal(prevEnc, enc) {
				return nil
			}
			prev := &types.LedgerTransaction{}
			if err := decode(ctx, prevEnc, prev); err != nil {
				return err
			}
			if prev.Status == types.TxConfirmed {
				return errors.Wrap(iface.ErrImmutableRecord, "confirmed ledger transaction cannot change")
			}
		}
		if err := bkt.Put(txKey, enc); err != nil {
			return err
		}
		if ledgerTx.DedupKey != "" {
			if err := tx.Bucket(ledgerDedupIndexBucket).Put([]byte(ledgerTx.DedupKey), txKey); err != nil {
				return err
			}
		}
		idxKey := make([]byte, 0, 16+8+len(txKey))
		idxKey = append(idxKey, ledgerTx.DocumentID[:]...)
		idxKey = append(idxKey, bytesutil.Bytes8(uint64(ledgerTx.SubmittedAt.UnixNano()))...)
		idxKey = append(idxKey, txKey...)
		return tx.Bucket(ledgerDocumentIndexBucket).Put(idxKey, txKey)
	})
}

// LedgerTransaction retrieves a ledger transaction by tx id.
func (s *Store) LedgerTransaction(ctx context.Context, txID string) (*types.LedgerTransaction, error) {
	ctx, span := trace.StartSpan(ctx, "versafeDB.LedgerTransaction")
	defer span.End()

	var ledgerTx *types.LedgerTransaction
	err := s.db.View(func(tx *bolt.Tx) error {
		enc := tx.Bucket(ledgerTransactionsBucket).Get([]byte(txID))
		if enc == nil {
			return iface.ErrNotFound
		}
		ledgerTx = &types.LedgerTransaction{}
		return decode(ctx, enc, ledgerTx)
	})
	return ledgerTx, err
}

// LedgerTransactionByDedupKey resolves a client-supplied deduplication
// key to the transaction it originally produced, making retried
// submissions yield the same record.
func (s *Store) LedgerTransactionByDedupKey(ctx context.Context, dedupKey string) (*types.LedgerTransaction, error) {
	ctx, span := trace.StartSpan(ctx, "versafeDB.LedgerTransactionByDedupKey")
	defer span.End()

	var ledgerTx *types.LedgerTransaction
	err := s.db.View(func(tx *bolt.Tx) error {
		txKey := tx.Bucket(ledgerDedupIndexBucket).Get([]byte(dedupKey))
		if txKey == nil {
			return iface.ErrNotFound
		}
		enc := tx.Bucket(ledgerTransactionsBucket).Get(txKey)
		if enc == nil {
			return iface.ErrNotFound
		}
		ledgerTx = &types.LedgerTransaction{}
		return decode(ctx, enc, ledgerTx)
	})
	return ledgerTx, err
}

// LedgerTransactionsForDocument returns the document's ledger history
// ordered by submission time.
func (s *Store) LedgerTransactionsForDocument(ctx context.Context, documentID uuid.UUID) ([]*types.LedgerTransaction, error) {
	ctx, span := trace.StartSpan(ctx, "versafeDB.LedgerTransactionsForDocument")
	defer span.End()

	txs := make([]*types.LedgerTransaction, 0)
	err := s.db.View(func(tx *bolt.Tx) error {
		txBkt := tx.Bucket(ledgerTransactionsBucket)
		c := tx.Bucket(ledgerDocumentIndexBucket).Cursor()
		for k, txKey := c.Seek(documentID[:]); k != nil && bytes.HasPrefix(k, documentID[:]); k, txKey = c.Next() {
			enc := txBkt.Get(txKey)
			if enc == nil {
				continue
			}
			ledgerTx := &types.LedgerTransaction{}
			if err := decode(ctx, enc, ledgerTx); err != nil {
				return err
			}
			txs = append(txs, ledgerTx)
		}
		return nil
	})
	return txs, err
}
