package kv

import (
	"bytes"
	"context"

	"github.com/google/uuid"
	"github.com/versafe/versafe/db/iface"
	"github.com/versafe/versafe/encoding/bytesutil"
	"github.com/versafe/versafe/types"
	bolt "go.etcd.io/bbolt"
	"go.opencensus.io/trace"
)

// EnqueueOutbox appends a ledger operation to the durable outbox. The
// bolt sequence assigns the FIFO order entries drain in.
func (s *Store) EnqueueOutbox(ctx context.Context, entry *types.OutboxEntry) error {
	ctx, span := trace.StartSpan(ctx, "versafeDB.EnqueueOutbox")
	defer span.End()

	return s.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(outboxBucket)
		seq, err := bkt.NextSequence()
		if err != nil {
			return err
		}
		entry.Seq = seq
		enc, err := encode(ctx, entry)
		if err != nil {
			return err
		}
		if err := bkt.Put(bytesutil.Bytes8(seq), enc); err != nil {
			return err
		}
		idxKey := append(append([]byte{}, entry.DocumentID[:]...), bytesutil.Bytes8(seq)...)
		return tx.Bucket(outboxDocumentIndexBucket).Put(idxKey, bytesutil.Bytes8(seq))
	})
}

// PeekOutbox returns up to n entries from the head of the queue
// without removing them.
func (s *Store) PeekOutbox(ctx context.Context, n int) ([]*types.OutboxEntry, error) {
	ctx, span := trace.StartSpan(ctx, "versafeDB.PeekOutbox")
	defer span.End()

	entries := make([]*types.OutboxEntry, 0, n)
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(outboxBucket).Cursor()
		for k, enc := c.First(); k != nil && len(entries) < n; k, enc = c.Next() {
			entry := &types.OutboxEntry{}
			if err := decode(ctx, enc, entry); err != nil {
				return err
			}
			entries = append(entries, entry)
		}
		return nil
	})
	return entries, err
}

// DeleteOutboxEntry removes a drained entry and its document index.
func (s *Store) DeleteOutboxEntry(ctx context.Context, seq uint64) error {
	ctx, span := trace.StartSpan(ctx, "versafeDB.DeleteOutboxEntry")
	defer span.End()

	return s.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(outboxBucket)
		seqKey := bytesutil.Bytes8(seq)
		enc := bkt.Get(seqKey)
		if enc == nil {
			return iface.ErrNotFound
		}
		entry := &types.OutboxEntry{}
		if err := decode(ctx, enc, entry); err != nil {
			return err
		}
		if err := bkt.Delete(seqKey); err != nil {
			return err
		}
		idxKey := append(append([]byte{}, entry.DocumentID[:]...), seqKey...)
		return tx.Bucket(outboxDocumentIndexBucket).Delete(idxKey)
	})
}

// UpdateOutboxAttempts overwrites an entry after a failed submission
// attempt.
func (s *Store) UpdateOutboxAttempts(ctx context.Context, entry *types.OutboxEntry) error {
	ctx, span := trace.StartSpan(ctx, "versafeDB.UpdateOutboxAttempts")
	defer span.End()

	enc, err := encode(ctx, entry)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(outboxBucket)
		if bkt.Get(bytesutil.Bytes8(entry.Seq)) == nil {
			return iface.ErrNotFound
		}
		return bkt.Put(bytesutil.Bytes8(entry.Seq), enc)
	})
}

// OutboxDepth reports the number of pending entries.
func (s *Store) OutboxDepth(ctx context.Context) (int, error) {
	_, span := trace.StartSpan(ctx, "versafeDB.OutboxDepth")
	defer span.End()

	depth := 0
	err := s.db.View(func(tx *bolt.Tx) error {
		depth = tx.Bucket(outboxBucket).Stats().KeyN
		return nil
	})
	return depth, err
}

// OutboxEntriesForDocument returns the queued operations referencing a
// document in FIFO order.
func (s *Store) OutboxEntriesForDocument(ctx context.Context, documentID uuid.UUID) ([]*types.OutboxEntry, error) {
	ctx, span := trace.StartSpan(ctx, "versafeDB.OutboxEntriesForDocument")
	defer span.End()

	entries := make([]*types.OutboxEntry, 0)
	err := s.db.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(outboxBucket)
		c := tx.Bucket(outboxDocumentIndexBucket).Cursor()
		for k, seqKey := c.Seek(documentID[:]); k != nil && bytes.HasPrefix(k, documentID[:]); k, seqKey = c.Next() {
			enc := bkt.Get(seqKey)
			if enc == nil {
				continue
			}
			entry := &types.OutboxEntry{}
			if err := decode(ctx, enc, entry); err != nil {
				return err
			}
			entries = append(entries, entry)
		}
		return nil
	})
	return entries, err
}

// HasPendingOutbox reports whether any queued operation references the
// document. Pending entries block further state transitions for it.
func (s *Store) HasPendingOutbox(ctx context.Context, documentID uuid.UUID) (bool, error) {
	_, span := trace.StartSpan(ctx, "versafeDB.HasPendingOutbox")
	defer span.End()

	var has bool
	err := s.db.View(func(tx *bolt.Tx) error {
		k, _ := tx.Bucket(outboxDocumentIndexBucket).Cursor().Seek(documentID[:])
		has = k != nil && bytes.HasPrefix(k, documentID[:])
		return nil
	})
	return has, err
}
