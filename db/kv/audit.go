package kv

import (
	"context"
	"fmt"
	"time"

	"github.com/versafe/versafe/encoding/bytesutil"
	"github.com/versafe/versafe/types"
	bolt "go.etcd.io/bbolt"
	"go.opencensus.io/trace"
)

// auditShardName keys the per (service, day) sub-bucket that scopes a
// hash chain.
func auditShardName(service string, day time.Time) []byte {
	return []byte(fmt.Sprintf("%s/%s", service, day.UTC().Format("2006-01-02")))
}

// AppendAuditRecord appends a record to its (service, day) shard. The
// shard's bolt sequence assigns the total order the hash chain covers.
func (s *Store) AppendAuditRecord(ctx context.Context, rec *types.AuditRecord) error {
	ctx, span := trace.StartSpan(ctx, "versafeDB.AppendAuditRecord")
	defer span.End()

	enc, err := encode(ctx, rec)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		shard, err := tx.Bucket(auditRecordsBucket).CreateBucketIfNotExists(auditShardName(rec.Service, rec.CreatedAt))
		if err != nil {
			return err
		}
		seq, err := shard.NextSequence()
		if err != nil {
			return err
		}
		return shard.Put(bytesutil.Bytes8(seq), enc)
	})
}

// AuditShard returns a shard's records in chain order.
func (s *Store) AuditShard(ctx context.Context, service string, day time.Time) ([]*types.AuditRecord, error) {
	ctx, span := trace.StartSpan(ctx, "versafeDB.AuditShard")
	defer span.End()

	records := make([]*types.AuditRecord, 0)
	err := s.db.View(func(tx *bolt.Tx) error {
		shard := tx.Bucket(auditRecordsBucket).Bucket(auditShardName(service, day))
		if shard == nil {
			return nil
		}
		return shard.ForEach(func(_, enc []byte) error {
			rec := &types.AuditRecord{}
			if err := decode(ctx, enc, rec); err != nil {
				return err
			}
			records = append(records, rec)
			return nil
		})
	})
	return records, err
}

// LastAuditRecord returns the newest record of a shard, or nil for an
// empty shard. Its entry hash seeds the chain for the next append.
func (s *Store) LastAuditRecord(ctx context.Context, service string, day time.Time) (*types.AuditRecord, error) {
	ctx, span := trace.StartSpan(ctx, "versafeDB.LastAuditRecord")
	defer span.End()

	var rec *types.AuditRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		shard := tx.Bucket(auditRecordsBucket).Bucket(auditShardName(service, day))
		if shard == nil {
			return nil
		}
		_, enc := shard.Cursor().Last()
		if enc == nil {
			return nil
		}
		rec = &types.AuditRecord{}
		return decode(ctx, enc, rec)
	})
	return rec, err
}
