package store

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"sort"
	"strings"
	"sync"
	"time"
)

// newID returns a 16-hex-char random identifier.
func newID() string {
	var b [8]byte
	rand.Read(b[:])
	return hex.EncodeToString(b[:])
}

// Memory is a Store backed by process memory. Used in development mode;
// behavior matches the Badger store except for durability.
type Memory struct {
	players  *memPlayers
	sessions *memSessions
	games    *memGames
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		players:  &memPlayers{byID: map[string]*Player{}},
		sessions: &memSessions{byID: map[string]*Session{}},
		games:    &memGames{byID: map[uint64]*Game{}, moves: map[uint64][]*Move{}},
	}
}

func (m *Memory) Players() PlayerStore   { return m.players }
func (m *Memory) Sessions() SessionStore { return m.sessions }
func (m *Memory) Games() GameStore       { return m.games }
func (m *Memory) Close() error           { return nil }

// memPlayers implements PlayerStore.
type memPlayers struct {
	mu   sync.RWMutex
	byID map[string]*Player
}

func (s *memPlayers) Create(ctx context.Context, username, email string, passwordHash []byte, rating int) (*Player, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range s.byID {
		if strings.EqualFold(p.Username, username) {
			return nil, ErrUsernameTaken
		}
		if strings.EqualFold(p.Email, email) {
			return nil, ErrEmailTaken
		}
	}

	now := time.Now()
	p := &Player{
		ID:           newID(),
		Username:     username,
		Email:        email,
		PasswordHash: passwordHash,
		Rating:       rating,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	s.byID[p.ID] = p
	return clonePlayer(p), nil
}

func (s *memPlayers) GetByID(ctx context.Context, id string) (*Player, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clonePlayer(p), nil
}

func (s *memPlayers) GetByUsername(ctx context.Context, username string) (*Player, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.byID {
		if strings.EqualFold(p.Username, username) {
			return clonePlayer(p), nil
		}
	}
	return nil, ErrNotFound
}

func (s *memPlayers) GetByEmail(ctx context.Context, email string) (*Player, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.byID {
		if strings.EqualFold(p.Email, email) {
			return clonePlayer(p), nil
		}
	}
	return nil, ErrNotFound
}

func (s *memPlayers) update(id string, f func(*Player)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	f(p)
	p.UpdatedAt = time.Now()
	return nil
}

func (s *memPlayers) UpdateLastLogin(ctx context.Context, id string) error {
	return s.update(id, func(p *Player) { p.LastLoginAt = time.Now() })
}

func (s *memPlayers) UpdateGameStats(ctx context.Context, id string, result StatResult) error {
	return s.update(id, func(p *Player) { applyStat(p, result) })
}

func (s *memPlayers) UpdateRating(ctx context.Context, id string, rating int) error {
	return s.update(id, func(p *Player) { p.Rating = rating })
}

func (s *memPlayers) UpdatePassword(ctx context.Context, id string, passwordHash []byte) error {
	return s.update(id, func(p *Player) { p.PasswordHash = passwordHash })
}

func (s *memPlayers) SetBanned(ctx context.Context, id string, banned bool, reason string) error {
	return s.update(id, func(p *Player) {
		p.Banned = banned
		p.BanReason = reason
	})
}

func (s *memPlayers) IsUsernameAvailable(ctx context.Context, username string) (bool, error) {
	_, err := s.GetByUsername(ctx, username)
	if err == ErrNotFound {
		return true, nil
	}
	return false, err
}

func (s *memPlayers) IsEmailAvailable(ctx context.Context, email string) (bool, error) {
	_, err := s.GetByEmail(ctx, email)
	if err == ErrNotFound {
		return true, nil
	}
	return false, err
}

func (s *memPlayers) Leaderboard(ctx context.Context, limit int) ([]*Player, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return leaderboardOf(s.byID, limit), nil
}

func (s *memPlayers) Rank(ctx context.Context, id string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	me, ok := s.byID[id]
	if !ok {
		return 0, ErrNotFound
	}
	rank := 1
	for _, p := range s.byID {
		if p.Rating > me.Rating {
			rank++
		}
	}
	return rank, nil
}

func (s *memPlayers) TotalCount(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID), nil
}

// memSessions implements SessionStore.
type memSessions struct {
	mu   sync.RWMutex
	byID map[string]*Session
}

func (s *memSessions) Create(ctx context.Context, playerID, tokenHash string, expiresAt time.Time, origin string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	sess := &Session{
		ID:           newID(),
		PlayerID:     playerID,
		TokenHash:    tokenHash,
		CreatedAt:    now,
		ExpiresAt:    expiresAt,
		LastActivity: now,
		Origin:       origin,
	}
	s.byID[sess.ID] = sess
	return cloneSession(sess), nil
}

func (s *memSessions) GetByTokenHash(ctx context.Context, tokenHash string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sess := range s.byID {
		if sess.TokenHash == tokenHash {
			return cloneSession(sess), nil
		}
	}
	return nil, ErrNotFound
}

func (s *memSessions) UpdateActivity(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	sess.LastActivity = time.Now()
	return nil
}

func (s *memSessions) Revoke(ctx context.Context, id, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	sess.Revoked = true
	sess.RevokeReason = reason
	return nil
}

func (s *memSessions) RevokeAll(ctx context.Context, playerID, reason string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, sess := range s.byID {
		if sess.PlayerID == playerID && !sess.Revoked {
			sess.Revoked = true
			sess.RevokeReason = reason
			n++
		}
	}
	return n, nil
}

func (s *memSessions) ListActive(ctx context.Context, playerID string) ([]*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	now := time.Now()
	var out []*Session
	for _, sess := range s.byID {
		if sess.PlayerID == playerID && sess.Active(now) {
			out = append(out, cloneSession(sess))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *memSessions) ActiveCount(ctx context.Context, playerID string) (int, error) {
	list, err := s.ListActive(ctx, playerID)
	return len(list), err
}

func (s *memSessions) CleanupExpired(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	n := 0
	for id, sess := range s.byID {
		if now.After(sess.ExpiresAt) {
			delete(s.byID, id)
			n++
		}
	}
	return n, nil
}

// memGames implements GameStore.
type memGames struct {
	mu     sync.RWMutex
	nextID uint64
	byID   map[uint64]*Game
	moves  map[uint64][]*Move
}

func (s *memGames) Create(ctx context.Context, whiteID, blackID, timeControl string, initialMs, incrementMs int64, whiteRating, blackRating int) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	g := &Game{
		ID:          s.nextID,
		WhiteID:     whiteID,
		BlackID:     blackID,
		TimeControl: timeControl,
		InitialMs:   initialMs,
		IncrementMs: incrementMs,
		WhiteRating: whiteRating,
		BlackRating: blackRating,
		CreatedAt:   time.Now(),
	}
	s.byID[g.ID] = g
	return g.ID, nil
}

func (s *memGames) Complete(ctx context.Context, id uint64, result GameResult, endReason, pgn, finalFEN string, whiteDelta, blackDelta int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	g.Result = result
	g.EndReason = endReason
	g.PGN = pgn
	g.FinalFEN = finalFEN
	g.WhiteDelta = whiteDelta
	g.BlackDelta = blackDelta
	g.CompletedAt = time.Now()
	return nil
}

func (s *memGames) Abort(ctx context.Context, id uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	g.Aborted = true
	g.CompletedAt = time.Now()
	return nil
}

func (s *memGames) RecordMove(ctx context.Context, mv *Move) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[mv.GameID]; !ok {
		return ErrNotFound
	}
	cp := *mv
	s.moves[mv.GameID] = append(s.moves[mv.GameID], &cp)
	return nil
}

func (s *memGames) ListByPlayer(ctx context.Context, playerID string, limit, offset int) ([]*Game, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var all []*Game
	for _, g := range s.byID {
		if g.WhiteID == playerID || g.BlackID == playerID {
			cp := *g
			all = append(all, &cp)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })

	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all, nil
}

func (s *memGames) ListMoves(ctx context.Context, id uint64) ([]*Move, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.moves[id]
	out := make([]*Move, len(list))
	for i, mv := range list {
		cp := *mv
		out[i] = &cp
	}
	return out, nil
}

func clonePlayer(p *Player) *Player {
	cp := *p
	cp.PasswordHash = append([]byte(nil), p.PasswordHash...)
	return &cp
}

func cloneSession(s *Session) *Session {
	cp := *s
	return &cp
}

func applyStat(p *Player, result StatResult) {
	p.GamesPlayed++
	switch result {
	case StatWin:
		p.GamesWon++
	case StatLoss:
		p.GamesLost++
	case StatDraw:
		p.GamesDrawn++
	}
}

func leaderboardOf(byID map[string]*Player, limit int) []*Player {
	out := make([]*Player, 0, len(byID))
	for _, p := range byID {
		out = append(out, clonePlayer(p))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Rating != out[j].Rating {
			return out[i].Rating > out[j].Rating
		}
		return out[i].Username < out[j].Username
	})
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out
}
