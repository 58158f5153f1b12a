// Package audit implements the tamper-evident audit log. Records are
// chained per (service, day) shard: every entry hash commits to the
// previous one, so any mutation, insertion or deletion inside a shard
// is detectable by recomputing the chain.
package audit

import (
	"bytes"
	"crypto/sha256"
	"sort"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/versafe/versafe/types"
)

// ErrChainBroken is returned by VerifyShard when a shard's hash chain
// does not re-verify.
var ErrChainBroken = errors.New("audit chain broken")

// Canonical serialises a record into the deterministic byte form the
// entry hash commits to. Chain fields are excluded; request metadata
// is emitted in sorted key order.
func Canonical(rec *types.AuditRecord) []byte {
	var b bytes.Buffer
	b.WriteString(rec.ID.String())
	b.WriteByte(0)
	b.WriteString(rec.Service)
	b.WriteByte(0)
	b.WriteString(rec.Action)
	b.WriteByte(0)
	b.WriteString(rec.UserID.String())
	b.WriteByte(0)
	b.WriteString(rec.ResourceKind)
	b.WriteByte(0)
	b.WriteString(rec.ResourceID)
	b.WriteByte(0)
	keys := make([]string, 0, len(rec.RequestMeta))
	for k := range rec.RequestMeta {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(rec.RequestMeta[k])
		b.WriteByte(0)
	}
	b.WriteString(strconv.Itoa(rec.StatusCode))
	b.WriteByte(0)
	b.WriteString(strconv.FormatInt(int64(rec.Latency), 10))
	b.WriteByte(0)
	b.WriteString(rec.CreatedAt.UTC().Format(time.RFC3339Nano))
	return b.Bytes()
}

// EntryHash computes the chained hash of a record given the previous
// entry hash of its shard. The first record of a shard chains from an
// empty previous hash.
func EntryHash(prevHash []byte, rec *types.AuditRecord) []byte {
	h := sha256.New()
	h.Write(prevHash)
	h.Write(Canonical(rec))
	return h.Sum(nil)
}

// VerifyShard recomputes a shard's chain in order. It returns -1 and a
// nil error when every record re-verifies, otherwise the index of the
// first broken record and ErrChainBroken.
func VerifyShard(records []*types.AuditRecord) (int, error) {
	var prev []byte
	for i, rec := range records {
		if !bytes.Equal(rec.PrevHash, prev) {
			return i, errors.Wrapf(ErrChainBroken, "record %d prev hash mismatch", i)
		}
		if want := EntryHash(prev, rec); !bytes.Equal(rec.EntryHash, want) {
			return i, errors.Wrapf(ErrChainBroken, "record %d entry hash mismatch", i)
		}
		prev = rec.EntryHash
	}
	return -1, nil
}
