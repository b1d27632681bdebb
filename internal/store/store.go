// Package store defines the persistence interfaces consumed by the server
// core, with a durable BadgerDB implementation and an in-memory
// implementation for development mode. Behavior is identical except for
// durability.
package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrUsernameTaken is returned when the username is already registered.
	ErrUsernameTaken = errors.New("store: username taken")
	// ErrEmailTaken is returned when the email is already registered.
	ErrEmailTaken = errors.New("store: email taken")
)

// GameResult is the persisted outcome of a completed game.
type GameResult string

const (
	ResultWhiteWin GameResult = "white_win"
	ResultBlackWin GameResult = "black_win"
	ResultDraw     GameResult = "draw"
)

// StatResult is one player's outcome, used for win/loss/draw counters.
type StatResult string

const (
	StatWin  StatResult = "win"
	StatDraw StatResult = "draw"
	StatLoss StatResult = "loss"
)

// Player is a persistent player record.
type Player struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash []byte    `json:"password_hash"`
	Rating       int       `json:"rating"`
	GamesPlayed  int       `json:"games_played"`
	GamesWon     int       `json:"games_won"`
	GamesLost    int       `json:"games_lost"`
	GamesDrawn   int       `json:"games_drawn"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	LastLoginAt  time.Time `json:"last_login_at"`
	Banned       bool      `json:"banned"`
	BanReason    string    `json:"ban_reason,omitempty"`
}

// Session is a persistent session record. The raw token is never stored,
// only its hash.
type Session struct {
	ID           string    `json:"id"`
	PlayerID     string    `json:"player_id"`
	TokenHash    string    `json:"token_hash"`
	CreatedAt    time.Time `json:"created_at"`
	ExpiresAt    time.Time `json:"expires_at"`
	LastActivity time.Time `json:"last_activity"`
	Origin       string    `json:"origin,omitempty"`
	Revoked      bool      `json:"revoked"`
	RevokeReason string    `json:"revoke_reason,omitempty"`
}

// Active reports whether the session is usable at the given instant.
func (s *Session) Active(now time.Time) bool {
	return !s.Revoked && now.Before(s.ExpiresAt)
}

// Game is a persistent game record.
type Game struct {
	ID          uint64     `json:"id"`
	WhiteID     string     `json:"white_id"`
	BlackID     string     `json:"black_id"`
	TimeControl string     `json:"time_control"`
	InitialMs   int64      `json:"initial_ms"`
	IncrementMs int64      `json:"increment_ms"`
	WhiteRating int        `json:"white_rating"`
	BlackRating int        `json:"black_rating"`
	Result      GameResult `json:"result,omitempty"`
	EndReason   string     `json:"end_reason,omitempty"`
	PGN         string     `json:"pgn,omitempty"`
	FinalFEN    string     `json:"final_fen,omitempty"`
	WhiteDelta  int        `json:"white_delta"`
	BlackDelta  int        `json:"black_delta"`
	Aborted     bool       `json:"aborted"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt time.Time  `json:"completed_at,omitzero"`
}

// Move is one persisted ply of a game.
type Move struct {
	GameID          uint64 `json:"game_id"`
	MoveNumber      int    `json:"move_number"`
	Color           string `json:"color"`
	FromSquare      string `json:"from"`
	ToSquare        string `json:"to"`
	Promotion       string `json:"promotion,omitempty"`
	SAN             string `json:"san,omitempty"`
	FENAfter        string `json:"fen_after"`
	TimeRemainingMs int64  `json:"time_remaining_ms"`
	MoveTimeMs      int64  `json:"move_time_ms"`
}

// PlayerStore is the credential, rating and statistics DAO.
type PlayerStore interface {
	Create(ctx context.Context, username, email string, passwordHash []byte, rating int) (*Player, error)
	GetByID(ctx context.Context, id string) (*Player, error)
	GetByUsername(ctx context.Context, username string) (*Player, error)
	GetByEmail(ctx context.Context, email string) (*Player, error)
	UpdateLastLogin(ctx context.Context, id string) error
	UpdateGameStats(ctx context.Context, id string, result StatResult) error
	UpdateRating(ctx context.Context, id string, rating int) error
	UpdatePassword(ctx context.Context, id string, passwordHash []byte) error
	SetBanned(ctx context.Context, id string, banned bool, reason string) error
	IsUsernameAvailable(ctx context.Context, username string) (bool, error)
	IsEmailAvailable(ctx context.Context, email string) (bool, error)
	Leaderboard(ctx context.Context, limit int) ([]*Player, error)
	Rank(ctx context.Context, id string) (int, error)
	TotalCount(ctx context.Context) (int, error)
}

// SessionStore is the token-session lifecycle DAO.
type SessionStore interface {
	Create(ctx context.Context, playerID, tokenHash string, expiresAt time.Time, origin string) (*Session, error)
	GetByTokenHash(ctx context.Context, tokenHash string) (*Session, error)
	UpdateActivity(ctx context.Context, id string) error
	Revoke(ctx context.Context, id, reason string) error
	RevokeAll(ctx context.Context, playerID, reason string) (int, error)
	ListActive(ctx context.Context, playerID string) ([]*Session, error)
	ActiveCount(ctx context.Context, playerID string) (int, error)
	CleanupExpired(ctx context.Context) (int, error)
}

// GameStore is the game history DAO.
type GameStore interface {
	Create(ctx context.Context, whiteID, blackID, timeControl string, initialMs, incrementMs int64, whiteRating, blackRating int) (uint64, error)
	Complete(ctx context.Context, id uint64, result GameResult, endReason, pgn, finalFEN string, whiteDelta, blackDelta int) error
	Abort(ctx context.Context, id uint64) error
	RecordMove(ctx context.Context, mv *Move) error
	ListByPlayer(ctx context.Context, playerID string, limit, offset int) ([]*Game, error)
	ListMoves(ctx context.Context, id uint64) ([]*Move, error)
}

// Store bundles the three DAOs behind one lifecycle.
type Store interface {
	Players() PlayerStore
	Sessions() SessionStore
	Games() GameStore
	Close() error
}
