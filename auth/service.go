package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/versafe/versafe/audit"
	"github.com/versafe/versafe/db"
	"github.com/versafe/versafe/types"
)

var log = logrus.WithField("prefix", "auth")

// Verification failure sentinels.
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrUnknownKey   = errors.New("token signed by unknown key")
)

const (
	defaultTokenTTL   = 15 * time.Minute
	defaultRefreshTTL = 720 * time.Hour
	// principalCacheCeiling bounds cached verification results; an
	// entry never outlives its token.
	principalCacheCeiling = 5 * time.Minute
)

// Config options for the identity verifier.
type Config struct {
	Database   db.Database
	KeySet     *KeySet
	Audit      *audit.Recorder
	TokenTTL   time.Duration
	RefreshTTL time.Duration
}

// session tracks a login's refresh token chain. The current hash is
// the only one that rotates; any consumed hash seen again means the
// token leaked and the whole session is revoked.
type session struct {
	userID      uuid.UUID
	currentHash string
	consumed    map[string]struct{}
	expiresAt   time.Time
	revoked     bool
}

// Service verifies and issues bearer tokens. Sessions and refresh
// token hashes are process-scoped and never persisted to disk.
type Service struct {
	ctx       context.Context
	cancel    context.CancelFunc
	cfg       *Config
	cache     *gocache.Cache
	mu        sync.Mutex
	sessions  map[uuid.UUID]*session
	refreshIx map[string]uuid.UUID
}

// NewService creates the identity verifier.
func NewService(ctx context.Context, cfg *Config) *Service {
	ctx, cancel := context.WithCancel(ctx)
	if cfg.TokenTTL == 0 {
		cfg.TokenTTL = defaultTokenTTL
	}
	if cfg.RefreshTTL == 0 {
		cfg.RefreshTTL = defaultRefreshTTL
	}
	return &Service{
		ctx:       ctx,
		cancel:    cancel,
		cfg:       cfg,
		cache:     gocache.New(principalCacheCeiling, 10*time.Minute),
		sessions:  make(map[uuid.UUID]*session),
		refreshIx: make(map[string]uuid.UUID),
	}
}

// Start begins watching the key set file for rotation.
func (s *Service) Start() {
	if err := s.cfg.KeySet.Watch(s.ctx); err != nil {
		log.WithError(err).Error("Could not watch key set file")
	}
}

// Stop halts the key set watcher.
func (s *Service) Stop() error {
	s.cancel()
	return nil
}

// Status always reports healthy while the service runs.
func (s *Service) Status() error {
	return s.ctx.Err()
}

type claims struct {
	jwt.RegisteredClaims
	Email     string `json:"email"`
	SessionID string `json:"sid"`
}

// Issue signs a new token pair for a user. The returned refresh token
// is opaque and single-use; Refresh rotates it.
func (s *Service) Issue(ctx context.Context, user *types.User, ttl time.Duration) (string, string, error) {
	if ttl == 0 {
		ttl = s.cfg.TokenTTL
	}
	sessionID := uuid.New()
	token, err := s.signToken(user, sessionID, ttl)
	if err != nil {
		return "", "", err
	}
	refresh, err := randomToken()
	if err != nil {
		return "", "", err
	}
	s.mu.Lock()
	s.sessions[sessionID] = &session{
		userID:      user.ID,
		currentHash: hashToken(refresh),
		consumed:    make(map[string]struct{}),
		expiresAt:   time.Now().Add(s.cfg.RefreshTTL),
	}
	s.refreshIx[hashToken(refresh)] = sessionID
	s.mu.Unlock()
	return token, refresh, nil
}

func (s *Service) signToken(user *types.User, sessionID uuid.UUID, ttl time.Duration) (string, error) {
	kid, secret := s.cfg.KeySet.SigningKey()
	if secret == nil {
		return "", errors.New("no signing key available")
	}
	now := time.Now()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, &claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Email:     user.Email,
		SessionID: sessionID.String(),
	})
	tok.Header["kid"] = kid
	return tok.SignedString(secret)
}

// Verify validates a bearer token and returns its principal. Results
// are cached for at most five minutes and never beyond the token's
// own expiry.
func (s *Service) Verify(ctx context.Context, token string) (*types.Principal, error) {
	if cached, ok := s.cache.Get(token); ok {
		principal := cached.(*types.Principal)
		if s.sessionRevoked(principal.SessionID) {
			s.cache.Delete(token)
			return nil, ErrInvalidToken
		}
		return principal, nil
	}

	parsed := &claims{}
	_, err := jwt.ParseWithClaims(token, parsed, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		kid, _ := t.Header["kid"].(string)
		secret, ok := s.cfg.KeySet.Lookup(kid)
		if !ok {
			return nil, ErrUnknownKey
		}
		return secret, nil
	})
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, ErrExpiredToken
		case errors.Is(err, ErrUnknownKey):
			return nil, ErrUnknownKey
		default:
			return nil, errors.Wrap(ErrInvalidToken, err.Error())
		}
	}
	userID, err := uuid.Parse(parsed.Subject)
	if err != nil {
		return nil, ErrInvalidToken
	}
	sessionID, err := uuid.Parse(parsed.SessionID)
	if err != nil {
		return nil, ErrInvalidToken
	}
	if s.sessionRevoked(sessionID) {
		return nil, ErrInvalidToken
	}
	principal := &types.Principal{
		UserID:    userID,
		Email:     parsed.Email,
		SessionID: sessionID,
		ExpiresAt: parsed.ExpiresAt.Time,
	}
	ttl := principalCacheCeiling
	if until := time.Until(principal.ExpiresAt); until < ttl {
		ttl = until
	}
	if ttl > 0 {
		s.cache.Set(token, principal, ttl)
	}
	return principal, nil
}

func (s *Service) sessionRevoked(sessionID uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	// Sessions created before a restart are unknown here; the token
	// itself still carries the authority.
	if !ok {
		return false
	}
	return sess.revoked
}

// Refresh exchanges a refresh token for a new token pair, rotating the
// refresh token. Presenting an already consumed refresh token revokes
// the session and raises a security audit record.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (string, string, error) {
	hash := hashToken(refreshToken)

	s.mu.Lock()
	sessionID, ok := s.refreshIx[hash]
	if !ok {
		s.mu.Unlock()
		return "", "", ErrInvalidToken
	}
	sess := s.sessions[sessionID]
	if sess.revoked || time.Now().After(sess.expiresAt) {
		s.mu.Unlock()
		return "", "", ErrExpiredToken
	}
	if _, consumed := sess.consumed[hash]; consumed {
		sess.revoked = true
		userID := sess.userID
		s.mu.Unlock()
		s.auditRefreshReuse(userID, sessionID)
		return "", "", ErrInvalidToken
	}
	if sess.currentHash != hash {
		s.mu.Unlock()
		return "", "", ErrInvalidToken
	}
	userID := sess.userID
	s.mu.Unlock()

	user, err := s.cfg.Database.User(ctx, userID)
	if err != nil {
		return "", "", errors.Wrap(err, "could not load user")
	}
	if user.Revoked {
		return "", "", ErrInvalidToken
	}
	token, err := s.signToken(user, sessionID, s.cfg.TokenTTL)
	if err != nil {
		return "", "", err
	}
	next, err := randomToken()
	if err != nil {
		return "", "", err
	}

	s.mu.Lock()
	sess.consumed[hash] = struct{}{}
	sess.currentHash = hashToken(next)
	s.refreshIx[hashToken(next)] = sessionID
	s.mu.Unlock()
	return token, next, nil
}

func (s *Service) auditRefreshReuse(userID, sessionID uuid.UUID) {
	log.WithFields(logrus.Fields{
		"user":    userID,
		"session": sessionID,
	}).Warn("Refresh token re-use detected, session revoked")
	if s.cfg.Audit == nil {
		return
	}
	s.cfg.Audit.Submit(&types.AuditRecord{
		Service:      "auth",
		Action:       "auth.refresh_reuse",
		UserID:       userID,
		ResourceKind: "session",
		ResourceID:   sessionID.String(),
		StatusCode:   401,
	})
}

// Register creates a user account with an argon2id password hash.
func (s *Service) Register(ctx context.Context, email, password, displayName string) (*types.User, error) {
	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	user := &types.User{
		ID:           uuid.New(),
		Email:        email,
		DisplayName:  displayName,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.cfg.Database.SaveUser(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// Login checks credentials and issues a token pair. A missing account
// and a wrong password are indistinguishable to the caller.
func (s *Service) Login(ctx context.Context, email, password string) (*types.User, string, string, error) {
	user, err := s.cfg.Database.UserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, "", "", ErrInvalidCredentials
		}
		return nil, "", "", err
	}
	if user.Revoked {
		return nil, "", "", ErrInvalidCredentials
	}
	if err := VerifyPassword(user.PasswordHash, password); err != nil {
		return nil, "", "", ErrInvalidCredentials
	}
	token, refresh, err := s.Issue(ctx, user, s.cfg.TokenTTL)
	if err != nil {
		return nil, "", "", err
	}
	return user, token, refresh, nil
}

func randomToken() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", errors.Wrap(err, "could not generate token")
	}
	return hex.EncodeToString(raw), nil
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
