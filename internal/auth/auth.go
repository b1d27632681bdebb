// Package auth covers credentials, session tokens and the session
// lifecycle. Tokens are HMAC-signed and verified on two paths: the full
// path hits the session store, the quick path used for moves serves from a
// cache kept consistent with revocation.
package auth

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/hailam/chessnet/internal/config"
	"github.com/hailam/chessnet/internal/store"
	"github.com/seekerror/logw"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidUsername    = errors.New("username must be 3-20 characters: letters, digits, underscore")
	ErrInvalidEmail       = errors.New("invalid email address")
	ErrWeakPassword       = errors.New("password must be at least 8 characters")
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrInvalidToken       = errors.New("invalid or expired token")
	ErrAccountBanned      = errors.New("account is banned")
)

var usernameRE = regexp.MustCompile(`^[A-Za-z0-9_]{3,20}$`)

// HashPassword derives a bcrypt hash from a plaintext password.
func HashPassword(password string) ([]byte, error) {
	return bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
}

// CheckPassword reports whether the password matches the stored hash.
func CheckPassword(hash []byte, password string) bool {
	return bcrypt.CompareHashAndPassword(hash, []byte(password)) == nil
}

// NewSecret returns a random token-signing secret for ephemeral use.
func NewSecret() string {
	var b [32]byte
	rand.Read(b[:])
	return hex.EncodeToString(b[:])
}

// Manager mints, verifies and revokes sessions.
type Manager struct {
	secret      []byte
	players     store.PlayerStore
	sessions    store.SessionStore
	tokenTTL    time.Duration
	maxSessions int
	defaultElo  int

	// quick-path cache: token hash -> player id
	cache *ristretto.Cache[string, string]
}

func NewManager(cfg *config.Config, st store.Store) (*Manager, error) {
	if cfg.Security.TokenSecret == "" {
		return nil, errors.New("token secret is required")
	}
	cache, err := ristretto.NewCache(&ristretto.Config[string, string]{
		NumCounters: 10_000,
		MaxCost:     1 << 20,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("session cache: %w", err)
	}
	return &Manager{
		secret:      []byte(cfg.Security.TokenSecret),
		players:     st.Players(),
		sessions:    st.Sessions(),
		tokenTTL:    time.Duration(cfg.Security.TokenExpirationHours) * time.Hour,
		maxSessions: cfg.Security.MaxSessionsPerPlayer,
		defaultElo:  cfg.Rating.DefaultRating,
		cache:       cache,
	}, nil
}

// Register validates and creates a new player account.
func (m *Manager) Register(ctx context.Context, username, email, password string) (*store.Player, error) {
	if !usernameRE.MatchString(username) {
		return nil, ErrInvalidUsername
	}
	at := strings.Index(email, "@")
	if at < 1 || at == len(email)-1 || strings.ContainsAny(email, " \t\n") {
		return nil, ErrInvalidEmail
	}
	if len(password) < 8 {
		return nil, ErrWeakPassword
	}

	hash, err := HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	return m.players.Create(ctx, username, email, hash, m.defaultElo)
}

// Login checks credentials and mints a session token. When the player is at
// the session limit, the oldest active session is revoked to make room.
func (m *Manager) Login(ctx context.Context, username, password, origin string) (*store.Player, string, error) {
	p, err := m.players.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, "", ErrInvalidCredentials
		}
		return nil, "", err
	}
	if !CheckPassword(p.PasswordHash, password) {
		return nil, "", ErrInvalidCredentials
	}
	if p.Banned {
		return nil, "", fmt.Errorf("%w: %s", ErrAccountBanned, p.BanReason)
	}

	if m.maxSessions > 0 {
		active, err := m.sessions.ListActive(ctx, p.ID)
		if err != nil {
			return nil, "", err
		}
		for len(active) >= m.maxSessions {
			oldest := active[0]
			if err := m.sessions.Revoke(ctx, oldest.ID, "session limit"); err != nil {
				return nil, "", err
			}
			m.cache.Del(oldest.TokenHash)
			active = active[1:]
			logw.Debugf(ctx, "revoked oldest session %v of %v (limit %d)", oldest.ID, p.Username, m.maxSessions)
		}
	}

	expires := time.Now().Add(m.tokenTTL)
	token := m.mint(p.ID, expires)
	hash := TokenHash(token)
	if _, err := m.sessions.Create(ctx, p.ID, hash, expires, origin); err != nil {
		return nil, "", err
	}
	m.cache.Set(hash, p.ID, 1)

	if err := m.players.UpdateLastLogin(ctx, p.ID); err != nil {
		logw.Warningf(ctx, "update last login %v: %v", p.ID, err)
	}
	return p, token, nil
}

// mint signs playerID and expiry into a two-part base64url token.
func (m *Manager) mint(playerID string, expires time.Time) string {
	var nonce [8]byte
	rand.Read(nonce[:])

	payload := fmt.Sprintf("%s.%d.%s", playerID, expires.Unix(), hex.EncodeToString(nonce[:]))
	enc := base64.RawURLEncoding.EncodeToString([]byte(payload))

	mac := hmac.New(sha256.New, m.secret)
	mac.Write([]byte(enc))
	sig := base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
	return enc + "." + sig
}

// parse checks the signature and expiry, returning the embedded player id.
func (m *Manager) parse(token string) (string, error) {
	enc, sig, ok := strings.Cut(token, ".")
	if !ok {
		return "", ErrInvalidToken
	}
	wantSig, err := base64.RawURLEncoding.DecodeString(sig)
	if err != nil {
		return "", ErrInvalidToken
	}
	mac := hmac.New(sha256.New, m.secret)
	mac.Write([]byte(enc))
	if !hmac.Equal(mac.Sum(nil), wantSig) {
		return "", ErrInvalidToken
	}

	raw, err := base64.RawURLEncoding.DecodeString(enc)
	if err != nil {
		return "", ErrInvalidToken
	}
	parts := strings.SplitN(string(raw), ".", 3)
	if len(parts) != 3 {
		return "", ErrInvalidToken
	}
	exp, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || time.Now().Unix() >= exp {
		return "", ErrInvalidToken
	}
	return parts[0], nil
}

// TokenHash is the digest under which a token is persisted. Raw tokens
// never reach the store.
func TokenHash(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// VerifyFull validates the signature and the stored session record,
// touching its activity timestamp. Returns the player and session ids.
func (m *Manager) VerifyFull(ctx context.Context, token string) (string, string, error) {
	playerID, err := m.parse(token)
	if err != nil {
		return "", "", err
	}

	hash := TokenHash(token)
	sess, err := m.sessions.GetByTokenHash(ctx, hash)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", "", ErrInvalidToken
		}
		return "", "", err
	}
	if sess.PlayerID != playerID || !sess.Active(time.Now()) {
		return "", "", ErrInvalidToken
	}

	if err := m.sessions.UpdateActivity(ctx, sess.ID); err != nil {
		logw.Warningf(ctx, "update session activity %v: %v", sess.ID, err)
	}
	m.cache.Set(hash, playerID, 1)
	return playerID, sess.ID, nil
}

// VerifyQuick validates the signature and serves the session lookup from
// the cache when possible. Used on the per-move hot path.
func (m *Manager) VerifyQuick(ctx context.Context, token string) (string, error) {
	playerID, err := m.parse(token)
	if err != nil {
		return "", err
	}
	if cached, ok := m.cache.Get(TokenHash(token)); ok && cached == playerID {
		return playerID, nil
	}
	playerID, _, err = m.VerifyFull(ctx, token)
	return playerID, err
}

// Revoke invalidates one token. The cache entry is removed synchronously so
// the quick path cannot accept the token afterwards.
func (m *Manager) Revoke(ctx context.Context, token, reason string) error {
	hash := TokenHash(token)
	m.cache.Del(hash)

	sess, err := m.sessions.GetByTokenHash(ctx, hash)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrInvalidToken
		}
		return err
	}
	return m.sessions.Revoke(ctx, sess.ID, reason)
}

// RevokeAll invalidates every active session of a player.
func (m *Manager) RevokeAll(ctx context.Context, playerID, reason string) (int, error) {
	active, err := m.sessions.ListActive(ctx, playerID)
	if err != nil {
		return 0, err
	}
	for _, sess := range active {
		m.cache.Del(sess.TokenHash)
	}
	return m.sessions.RevokeAll(ctx, playerID, reason)
}

// CleanupExpired prunes expired session records.
func (m *Manager) CleanupExpired(ctx context.Context) (int, error) {
	return m.sessions.CleanupExpired(ctx)
}
