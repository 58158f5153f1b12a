package auth

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	dbtest "github.com/versafe/versafe/db/testing"
	"github.com/versafe/versafe/testing/assert"
	"github.com/versafe/versafe/testing/require"
)

func writeKeySet(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "keys.json")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0600))
	return path
}

func setupService(t *testing.T) *Service {
	path := writeKeySet(t, `{"2026-01": "aabbccddeeff00112233445566778899"}`)
	ks, err := LoadKeySet(path)
	require.NoError(t, err)
	s := NewService(context.Background(), &Config{
		Database: dbtest.SetupDB(t),
		KeySet:   ks,
	})
	t.Cleanup(func() {
		require.NoError(t, s.Stop())
	})
	return s
}

func TestKeySet_SigningKeyIsNewest(t *testing.T) {
	path := writeKeySet(t, `{"2025-11": "00", "2026-01": "11", "2025-12": "22"}`)
	ks, err := LoadKeySet(path)
	require.NoError(t, err)
	kid, secret := ks.SigningKey()
	assert.Equal(t, "2026-01", kid)
	assert.DeepEqual(t, []byte{0x11}, secret)

	_, ok := ks.Lookup("2025-11")
	assert.Equal(t, true, ok)
	_, ok = ks.Lookup("2024-01")
	assert.Equal(t, false, ok)
}

func TestKeySet_RejectsMalformed(t *testing.T) {
	path := writeKeySet(t, `{"kid": "not hex"}`)
	_, err := LoadKeySet(path)
	require.NotNil(t, err)

	path = writeKeySet(t, `{}`)
	_, err = LoadKeySet(path)
	require.NotNil(t, err)
}

func TestPassword_RoundTrip(t *testing.T) {
	hash, err := HashPassword("correct horse battery staple")
	require.NoError(t, err)
	require.NoError(t, VerifyPassword(hash, "correct horse battery staple"))
	require.ErrorIs(t, VerifyPassword(hash, "wrong"), ErrInvalidCredentials)
}

func TestIssueAndVerify(t *testing.T) {
	s := setupService(t)
	ctx := context.Background()

	user, err := s.Register(ctx, "alice@versafe.io", "hunter22", "Alice")
	require.NoError(t, err)

	token, refresh, err := s.Issue(ctx, user, time.Minute)
	require.NoError(t, err)
	require.NotEqual(t, "", refresh)

	principal, err := s.Verify(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, user.ID, principal.UserID)
	assert.Equal(t, user.Email, principal.Email)

	// Second verification is served from the cache.
	again, err := s.Verify(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, principal.SessionID, again.SessionID)
}

func TestVerify_ExpiredToken(t *testing.T) {
	s := setupService(t)
	ctx := context.Background()

	user, err := s.Register(ctx, "bob@versafe.io", "hunter22", "Bob")
	require.NoError(t, err)
	token, _, err := s.Issue(ctx, user, -time.Minute)
	require.NoError(t, err)

	_, err = s.Verify(ctx, token)
	require.ErrorIs(t, err, ErrExpiredToken)
}

func TestVerify_UnknownKey(t *testing.T) {
	s := setupService(t)
	ctx := context.Background()
	user, err := s.Register(ctx, "carol@versafe.io", "hunter22", "Carol")
	require.NoError(t, err)
	token, _, err := s.Issue(ctx, user, time.Minute)
	require.NoError(t, err)

	// A verifier with a rotated-away key set no longer accepts it.
	otherPath := writeKeySet(t, `{"2026-02": "ffff"}`)
	otherKS, err := LoadKeySet(otherPath)
	require.NoError(t, err)
	other := NewService(context.Background(), &Config{Database: dbtest.SetupDB(t), KeySet: otherKS})
	_, err = other.Verify(ctx, token)
	require.ErrorIs(t, err, ErrUnknownKey)
}

func TestVerify_GarbageToken(t *testing.T) {
	s := setupService(t)
	_, err := s.Verify(context.Background(), "not-a-token")
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestRefresh_RotatesToken(t *testing.T) {
	s := setupService(t)
	ctx := context.Background()

	user, err := s.Register(ctx, "dave@versafe.io", "hunter22", "Dave")
	require.NoError(t, err)
	_, refresh, err := s.Issue(ctx, user, time.Minute)
	require.NoError(t, err)

	token2, refresh2, err := s.Refresh(ctx, refresh)
	require.NoError(t, err)
	require.NotEqual(t, "", token2)
	require.NotEqual(t, refresh, refresh2)

	principal, err := s.Verify(ctx, token2)
	require.NoError(t, err)
	assert.Equal(t, user.ID, principal.UserID)
}

func TestRefresh_ReuseRevokesSession(t *testing.T) {
	s := setupService(t)
	ctx := context.Background()

	user, err := s.Register(ctx, "eve@versafe.io", "hunter22", "Eve")
	require.NoError(t, err)
	_, refresh, err := s.Issue(ctx, user, time.Minute)
	require.NoError(t, err)

	_, refresh2, err := s.Refresh(ctx, refresh)
	require.NoError(t, err)

	// Presenting the consumed token again burns the whole session.
	_, _, err = s.Refresh(ctx, refresh)
	require.ErrorIs(t, err, ErrInvalidToken)

	_, _, err = s.Refresh(ctx, refresh2)
	require.ErrorIs(t, err, ErrExpiredToken)
}

func TestLogin(t *testing.T) {
	s := setupService(t)
	ctx := context.Background()

	user, err := s.Register(ctx, "frank@versafe.io", "hunter22", "Frank")
	require.NoError(t, err)

	got, token, _, err := s.Login(ctx, "frank@versafe.io", "hunter22")
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)
	require.NotEqual(t, "", token)

	_, _, _, err = s.Login(ctx, "frank@versafe.io", "wrong")
	require.ErrorIs(t, err, ErrInvalidCredentials)
	_, _, _, err = s.Login(ctx, "nobody@versafe.io", "hunter22")
	require.ErrorIs(t, err, ErrInvalidCredentials)
}
