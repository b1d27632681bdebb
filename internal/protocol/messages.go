// Package protocol defines the wire message taxonomy and the framed JSON
// codec. Frames are newline-delimited UTF-8 JSON objects carrying a numeric
// type discriminator.
package protocol

import (
	"crypto/rand"
	"encoding/hex"
	"time"
)

// Type discriminates message payloads. The code space is stable.
type Type int

const (
	TypeConnect         Type = 0
	TypeConnectResponse Type = 1
	TypeDisconnect      Type = 2
	TypeHeartbeat       Type = 3
	TypeHeartbeatAck    Type = 4

	TypeLogin            Type = 10
	TypeLoginResponse    Type = 11
	TypeLogout           Type = 12
	TypeRegister         Type = 13
	TypeRegisterResponse Type = 14

	TypeFindMatch       Type = 20
	TypeCancelFindMatch Type = 21
	TypeMatchFound      Type = 22
	TypeQueueStatus     Type = 23

	TypeGameStart Type = 30
	TypeGameState Type = 31
	TypeGameEnd   Type = 32

	TypeMoveRequest      Type = 40
	TypeMoveResponse     Type = 41
	TypeMoveNotification Type = 42

	TypeResign      Type = 50
	TypeOfferDraw   Type = 51
	TypeDrawOffered Type = 52
	TypeAcceptDraw  Type = 53
	TypeDeclineDraw Type = 54

	TypeTimeUpdate     Type = 60
	TypeTimeoutWarning Type = 61

	TypeError Type = 99
)

// Error codes carried by Error payloads.
const (
	CodeUnknownMessage     = "UNKNOWN_MESSAGE"
	CodeRateLimited        = "RATE_LIMITED"
	CodeInvalidCredentials = "INVALID_CREDENTIALS"
	CodeInvalidToken       = "INVALID_TOKEN"
	CodeNotLoggedIn        = "NOT_LOGGED_IN"
	CodePlayerNotFound     = "PLAYER_NOT_FOUND"
	CodeSessionReplaced    = "SESSION_REPLACED"
	CodeSessionError       = "SESSION_ERROR"
	CodeInvalidUsername    = "INVALID_USERNAME"
	CodeInvalidEmail       = "INVALID_EMAIL"
	CodeUsernameTaken      = "USERNAME_TAKEN"
	CodeEmailTaken         = "EMAIL_TAKEN"
	CodeDatabaseError      = "DATABASE_ERROR"
	CodeDrawDeclined       = "DRAW_DECLINED"
	CodeInternalError      = "INTERNAL_ERROR"
	CodeAccountBanned      = "ACCOUNT_BANNED"
	CodeDisconnected       = "DISCONNECTED"
)

// Header is common to every message.
type Header struct {
	Type      Type   `json:"type"`
	MessageID string `json:"messageId"`
	Timestamp int64  `json:"timestamp"`
}

// NewHeader stamps a fresh header for an outgoing message.
func NewHeader(t Type) Header {
	var b [8]byte
	rand.Read(b[:])
	return Header{
		Type:      t,
		MessageID: hex.EncodeToString(b[:]),
		Timestamp: time.Now().UnixMilli(),
	}
}

// PlayerSummary is the public view of a player carried in responses.
type PlayerSummary struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	Rating      int    `json:"rating"`
	GamesPlayed int    `json:"gamesPlayed,omitempty"`
	GamesWon    int    `json:"gamesWon,omitempty"`
	GamesLost   int    `json:"gamesLost,omitempty"`
	GamesDrawn  int    `json:"gamesDrawn,omitempty"`
	Rank        int    `json:"rank,omitempty"`
}

type Connect struct {
	Header
	ClientName    string `json:"clientName,omitempty"`
	ClientVersion string `json:"clientVersion,omitempty"`
}

type ConnectResponse struct {
	Header
	ServerName    string `json:"serverName"`
	ServerVersion string `json:"serverVersion"`
	InMemory      bool   `json:"inMemory"`
}

type Disconnect struct {
	Header
	Reason string `json:"reason,omitempty"`
}

type Heartbeat struct {
	Header
}

type HeartbeatAck struct {
	Header
	ServerTime int64 `json:"serverTime"`
}

type Login struct {
	Header
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Header
	Success bool           `json:"success"`
	Token   string         `json:"token,omitempty"`
	Player  *PlayerSummary `json:"player,omitempty"`
	Message string         `json:"message,omitempty"`
}

type Logout struct {
	Header
	Token string `json:"token"`
}

type Register struct {
	Header
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type RegisterResponse struct {
	Header
	Success  bool   `json:"success"`
	PlayerID string `json:"playerId,omitempty"`
	Message  string `json:"message,omitempty"`
}

type FindMatch struct {
	Header
	TimeControl string `json:"timeControl"`
	InitialMs   int64  `json:"initialMs"`
	IncrementMs int64  `json:"incrementMs"`
}

type CancelFindMatch struct {
	Header
}

type MatchFound struct {
	Header
	GameID      string        `json:"gameId"`
	Color       string        `json:"color"`
	Opponent    PlayerSummary `json:"opponent"`
	TimeControl string        `json:"timeControl"`
	InitialMs   int64         `json:"initialMs"`
	IncrementMs int64         `json:"incrementMs"`
}

type QueueStatus struct {
	Header
	InQueue   bool `json:"inQueue"`
	Position  int  `json:"position,omitempty"`
	QueueSize int  `json:"queueSize,omitempty"`
}

type GameStart struct {
	Header
	GameID      string        `json:"gameId"`
	White       PlayerSummary `json:"white"`
	Black       PlayerSummary `json:"black"`
	YourColor   string        `json:"yourColor"`
	FEN         string        `json:"fen"`
	TimeControl string        `json:"timeControl"`
	InitialMs   int64         `json:"initialMs"`
	IncrementMs int64         `json:"incrementMs"`
}

type GameState struct {
	Header
	GameID      string `json:"gameId"`
	FEN         string `json:"fen"`
	SideToMove  string `json:"sideToMove"`
	WhiteTimeMs int64  `json:"whiteTimeMs"`
	BlackTimeMs int64  `json:"blackTimeMs"`
	Sequence    uint64 `json:"sequence"`
	Status      string `json:"status"`
}

type GameEnd struct {
	Header
	GameID      string `json:"gameId"`
	Status      string `json:"status"`
	Winner      string `json:"winner,omitempty"` // "white", "black" or empty for draws
	Reason      string `json:"reason"`
	FinalFEN    string `json:"finalFen"`
	PGN         string `json:"pgn,omitempty"`
	WhiteTimeMs int64  `json:"whiteTimeMs"`
	BlackTimeMs int64  `json:"blackTimeMs"`
	WhiteDelta  int    `json:"whiteDelta"`
	BlackDelta  int    `json:"blackDelta"`
}

type MoveRequest struct {
	Header
	Token     string `json:"token"`
	GameID    string `json:"gameId"`
	From      string `json:"from"`
	To        string `json:"to"`
	Promotion string `json:"promotion,omitempty"`
	Sequence  uint64 `json:"sequence"`
}

type MoveResponse struct {
	Header
	Success     bool   `json:"success"`
	GameID      string `json:"gameId"`
	SAN         string `json:"san,omitempty"`
	FEN         string `json:"fen,omitempty"`
	IsCheck     bool   `json:"isCheck,omitempty"`
	IsCheckmate bool   `json:"isCheckmate,omitempty"`
	WhiteTimeMs int64  `json:"whiteTimeMs,omitempty"`
	BlackTimeMs int64  `json:"blackTimeMs,omitempty"`
	Sequence    uint64 `json:"sequence,omitempty"`
	Reason      string `json:"reason,omitempty"`
	Message     string `json:"message,omitempty"`
}

type MoveNotification struct {
	Header
	GameID      string `json:"gameId"`
	Move        string `json:"move"`
	SAN         string `json:"san"`
	FEN         string `json:"fen"`
	IsCheck     bool   `json:"isCheck,omitempty"`
	IsCheckmate bool   `json:"isCheckmate,omitempty"`
	WhiteTimeMs int64  `json:"whiteTimeMs"`
	BlackTimeMs int64  `json:"blackTimeMs"`
	Sequence    uint64 `json:"sequence"`
}

type Resign struct {
	Header
	GameID string `json:"gameId"`
}

type OfferDraw struct {
	Header
	GameID string `json:"gameId"`
}

type DrawOffered struct {
	Header
	GameID string `json:"gameId"`
	From   string `json:"from"`
}

type AcceptDraw struct {
	Header
	GameID string `json:"gameId"`
}

type DeclineDraw struct {
	Header
	GameID string `json:"gameId"`
}

type TimeUpdate struct {
	Header
	GameID      string `json:"gameId"`
	WhiteTimeMs int64  `json:"whiteTimeMs"`
	BlackTimeMs int64  `json:"blackTimeMs"`
	SideToMove  string `json:"sideToMove"`
}

type TimeoutWarning struct {
	Header
	GameID      string `json:"gameId"`
	Color       string `json:"color"`
	RemainingMs int64  `json:"remainingMs"`
}

type Error struct {
	Header
	Code             string `json:"code"`
	Message          string `json:"message"`
	Details          string `json:"details,omitempty"`
	RelatedMessageID string `json:"relatedMessageId,omitempty"`
}
