package kv

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/versafe/versafe/testing/assert"
	"github.com/versafe/versafe/testing/require"
	"github.com/versafe/versafe/types"
)

func TestAuditShard_AppendAndOrder(t *testing.T) {
	s := setupDB(t)
	ctx := context.Background()
	day := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		rec := &types.AuditRecord{
			ID:        uuid.New(),
			Service:   "documents",
			Action:    "document.upload",
			CreatedAt: day.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, s.AppendAuditRecord(ctx, rec))
	}

	records, err := s.AuditShard(ctx, "documents", day)
	require.NoError(t, err)
	require.Equal(t, 3, len(records))
	for i := 1; i < len(records); i++ {
		assert.Equal(t, true, records[i].CreatedAt.After(records[i-1].CreatedAt))
	}
}

func TestAuditShard_ScopedByServiceAndDay(t *testing.T) {
	s := setupDB(t)
	ctx := context.Background()
	day := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	rec := &types.AuditRecord{ID: uuid.New(), Service: "documents", Action: "document.upload", CreatedAt: day}
	require.NoError(t, s.AppendAuditRecord(ctx, rec))

	other, err := s.AuditShard(ctx, "signatures", day)
	require.NoError(t, err)
	assert.Equal(t, 0, len(other))

	nextDay, err := s.AuditShard(ctx, "documents", day.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 0, len(nextDay))
}

func TestLastAuditRecord(t *testing.T) {
	s := setupDB(t)
	ctx := context.Background()
	day := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	last, err := s.LastAuditRecord(ctx, "documents", day)
	require.NoError(t, err)
	assert.Equal(t, (*types.AuditRecord)(nil), last)

	first := &types.AuditRecord{ID: uuid.New(), Service: "documents", Action: "document.upload", CreatedAt: day}
	require.NoError(t, s.AppendAuditRecord(ctx, first))
	second := &types.AuditRecord{ID: uuid.New(), Service: "documents", Action: "document.sign", CreatedAt: day.Add(time.Minute)}
	require.NoError(t, s.AppendAuditRecord(ctx, second))

	last, err = s.LastAuditRecord(ctx, "documents", day)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, second.ID, last.ID)
}
