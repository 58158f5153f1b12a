package kv

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/versafe/versafe/db/iface"
	"github.com/versafe/versafe/types"
	bolt "go.etcd.io/bbolt"
	"go.opencensus.io/trace"
)

// SaveUser persists a new user. Emails are unique case-insensitively.
func (s *Store) SaveUser(ctx context.Context, user *types.User) error {
	ctx, span := trace.StartSpan(ctx, "versafeDB.SaveUser")
	defer span.End()

	enc, err := encode(ctx, user)
	if err != nil {
		return err
	}
	emailKey := []byte(strings.ToLower(user.Email))
	return s.db.Update(func(tx *bolt.Tx) error {
		emailIdx := tx.Bucket(userEmailIndexBucket)
		if emailIdx.Get(emailKey) != nil {
			return iface.ErrAlreadyExists
		}
		if err := tx.Bucket(usersBucket).Put(user.ID[:], enc); err != nil {
			return err
		}
		return emailIdx.Put(emailKey, user.ID[:])
	})
}

// User retrieves a user by id.
func (s *Store) User(ctx context.Context, id uuid.UUID) (*types.User, error) {
	ctx, span := trace.StartSpan(ctx, "versafeDB.User")
	defer span.End()

	var user *types.User
	err := s.db.View(func(tx *bolt.Tx) error {
		enc := tx.Bucket(usersBucket).Get(id[:])
		if enc == nil {
			return iface.ErrNotFound
		}
		user = &types.User{}
		return decode(ctx, enc, user)
	})
	return user, err
}

// UserByEmail retrieves a user through the case-insensitive email index.
func (s *Store) UserByEmail(ctx context.Context, email string) (*types.User, error) {
	ctx, span := trace.StartSpan(ctx, "versafeDB.UserByEmail")
	defer span.End()

	var user *types.User
	err := s.db.View(func(tx *bolt.Tx) error {
		id := tx.Bucket(userEmailIndexBucket).Get([]byte(strings.ToLower(email)))
		if id == nil {
			return iface.ErrNotFound
		}
		enc := tx.Bucket(usersBucket).Get(id)
		if enc == nil {
			return iface.ErrNotFound
		}
		user = &types.User{}
		return decode(ctx, enc, user)
	})
	return user, err
}

// UpdateUser overwrites an existing user record, re-pointing the email
// index if the address changed.
func (s *Store) UpdateUser(ctx context.Context, user *types.User) error {
	ctx, span := trace.StartSpan(ctx, "versafeDB.UpdateUser")
	defer span.End()

	enc, err := encode(ctx, user)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(usersBucket)
		prevEnc := bkt.Get(user.ID[:])
		if prevEnc == nil {
			return iface.ErrNotFound
		}
		prev := &types.User{}
		if err := decode(ctx, prevEnc, prev); err != nil {
			return err
		}
		if !strings.EqualFold(prev.Email, user.Email) {
			emailIdx := tx.Bucket(userEmailIndexBucket)
			newKey := []byte(strings.ToLower(user.Email))
			if emailIdx.Get(newKey) != nil {
				return iface.ErrAlreadyExists
			}
			if err := emailIdx.Delete([]byte(strings.ToLower(prev.Email))); err != nil {
				return err
			}
			if err := emailIdx.Put(newKey, user.ID[:]); err != nil {
				return err
			}
		}
		return bkt.Put(user.ID[:], enc)
	})
}
