package game

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hailam/chessnet/internal/board"
)

// Status is the lifecycle state of a game session.
type Status int

const (
	StatusWaiting Status = iota
	StatusInProgress
	StatusWhiteWon
	StatusBlackWon
	StatusDraw
	StatusAborted
)

func (s Status) String() string {
	switch s {
	case StatusWaiting:
		return "Waiting"
	case StatusInProgress:
		return "InProgress"
	case StatusWhiteWon:
		return "WhiteWon"
	case StatusBlackWon:
		return "BlackWon"
	case StatusDraw:
		return "Draw"
	case StatusAborted:
		return "Aborted"
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// Terminal reports whether the status is absorbing.
func (s Status) Terminal() bool {
	return s != StatusWaiting && s != StatusInProgress
}

// EndReason names why a game reached a terminal status.
type EndReason string

const (
	ReasonCheckmate            EndReason = "Checkmate"
	ReasonStalemate            EndReason = "Stalemate"
	ReasonInsufficientMaterial EndReason = "InsufficientMaterial"
	ReasonFiftyMoveRule        EndReason = "FiftyMoveRule"
	ReasonThreefoldRepetition  EndReason = "ThreefoldRepetition"
	ReasonResignation          EndReason = "Resignation"
	ReasonAgreement            EndReason = "Agreement"
	ReasonTimeout              EndReason = "Timeout"
	ReasonDisconnection        EndReason = "Disconnection"
)

// PlayerInfo is the immutable snapshot of a participant taken at game start.
type PlayerInfo struct {
	ID       string
	Username string
	Rating   int
}

var (
	ErrGameNotInProgress = errors.New("game is not in progress")
	ErrNotYourTurn       = errors.New("not your turn")
)

// Session is the authoritative state of one game. All mutators and snapshots
// serialize on the session mutex; terminal transitions are absorbing.
type Session struct {
	mu sync.Mutex

	id          string
	white       PlayerInfo
	black       PlayerInfo
	timeControl string

	pos       *board.Position
	status    Status
	endReason EndReason
	winner    board.Color // NoColor unless decisive

	whiteTimeMs int64
	blackTimeMs int64
	incrementMs int64
	startedAt   time.Time
	lastMoveAt  time.Time

	moveSeq       uint64
	history       []board.MoveRecord
	repetitions   map[uint64]int
	drawOfferFrom board.Color // NoColor when no offer is pending
}

// NewSession creates a session in the Waiting state.
func NewSession(id string, white, black PlayerInfo, initialMs, incrementMs int64, timeControl string) *Session {
	return &Session{
		id:            id,
		white:         white,
		black:         black,
		timeControl:   timeControl,
		pos:           board.NewPosition(),
		status:        StatusWaiting,
		winner:        board.NoColor,
		whiteTimeMs:   initialMs,
		blackTimeMs:   initialMs,
		incrementMs:   incrementMs,
		repetitions:   map[uint64]int{},
		drawOfferFrom: board.NoColor,
	}
}

func (s *Session) ID() string          { return s.id }
func (s *Session) White() PlayerInfo   { return s.white }
func (s *Session) Black() PlayerInfo   { return s.black }
func (s *Session) TimeControl() string { return s.timeControl }

// ColorOf maps a player id to a side, or NoColor for non-participants.
func (s *Session) ColorOf(playerID string) board.Color {
	switch playerID {
	case s.white.ID:
		return board.White
	case s.black.ID:
		return board.Black
	}
	return board.NoColor
}

// Player returns the participant playing the given color.
func (s *Session) Player(c board.Color) PlayerInfo {
	if c == board.White {
		return s.white
	}
	return s.black
}

// Start moves the session from Waiting to InProgress.
func (s *Session) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusWaiting {
		return
	}
	now := time.Now()
	s.status = StatusInProgress
	s.startedAt = now
	s.lastMoveAt = now
	s.repetitions[s.pos.RepetitionKey()] = 1
}

// RemainingMs returns the given side's clock as of now, charging the side to
// move for the time elapsed since the last move.
func (s *Session) RemainingMs(c board.Color, now time.Time) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remainingLocked(c, now)
}

func (s *Session) remainingLocked(c board.Color, now time.Time) int64 {
	t := s.whiteTimeMs
	if c == board.Black {
		t = s.blackTimeMs
	}
	if s.status == StatusInProgress && c == s.pos.SideToMove && !s.lastMoveAt.IsZero() {
		t -= now.Sub(s.lastMoveAt).Milliseconds()
	}
	if t < 0 {
		t = 0
	}
	return t
}

// ApplyMove validates and applies one ply by the given player. On success the
// mover's clock is charged for the elapsed time and credited the increment,
// any pending draw offer is cleared, and terminal conditions are detected.
func (s *Session) ApplyMove(playerID string, from, to board.Square, promotion board.PieceType) (*board.MoveRecord, Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != StatusInProgress {
		return nil, s.snapshotLocked(), ErrGameNotInProgress
	}
	mover := s.ColorOf(playerID)
	if mover == board.NoColor {
		return nil, s.snapshotLocked(), fmt.Errorf("player %s is not in game %s", playerID, s.id)
	}
	if mover != s.pos.SideToMove {
		return nil, s.snapshotLocked(), ErrNotYourTurn
	}

	rec, next, err := board.Validate(s.pos, from, to, promotion, mover)
	if err != nil {
		return nil, s.snapshotLocked(), err
	}

	now := time.Now()
	elapsed := now.Sub(s.lastMoveAt).Milliseconds()
	if mover == board.White {
		s.whiteTimeMs = maxInt64(0, s.whiteTimeMs-elapsed+s.incrementMs)
	} else {
		s.blackTimeMs = maxInt64(0, s.blackTimeMs-elapsed+s.incrementMs)
	}
	s.lastMoveAt = now

	s.pos = next
	s.moveSeq++
	s.history = append(s.history, *rec)
	s.drawOfferFrom = board.NoColor
	s.repetitions[next.RepetitionKey()]++

	s.detectTerminalLocked(rec)
	return rec, s.snapshotLocked(), nil
}

func (s *Session) detectTerminalLocked(rec *board.MoveRecord) {
	switch {
	case rec.Flags.Has(board.FlagCheckmate):
		s.endLocked(winnerStatus(rec.Color), ReasonCheckmate, rec.Color)
	case s.pos.IsStalemate():
		s.endLocked(StatusDraw, ReasonStalemate, board.NoColor)
	case s.pos.IsInsufficientMaterial():
		s.endLocked(StatusDraw, ReasonInsufficientMaterial, board.NoColor)
	case s.pos.HalfMoveClock >= 100:
		s.endLocked(StatusDraw, ReasonFiftyMoveRule, board.NoColor)
	case s.repetitions[s.pos.RepetitionKey()] >= 3:
		s.endLocked(StatusDraw, ReasonThreefoldRepetition, board.NoColor)
	}
}

func winnerStatus(c board.Color) Status {
	if c == board.White {
		return StatusWhiteWon
	}
	return StatusBlackWon
}

// endLocked performs the terminal transition; it is a no-op when already
// terminal so every end path is idempotent.
func (s *Session) endLocked(st Status, reason EndReason, winner board.Color) bool {
	if s.status.Terminal() {
		return false
	}
	s.status = st
	s.endReason = reason
	s.winner = winner
	return true
}

// Resign ends the game in the opponent's favor.
func (s *Session) Resign(c board.Color) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endLocked(winnerStatus(c.Other()), ReasonResignation, c.Other())
}

// OfferDraw records a pending draw offer. Returns false if the game is not
// in progress or the same side already has an offer out.
func (s *Session) OfferDraw(c board.Color) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusInProgress || s.drawOfferFrom == c {
		return false
	}
	s.drawOfferFrom = c
	return true
}

// DeclineDraw clears a pending offer, returning the side that made it.
func (s *Session) DeclineDraw() (board.Color, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	from := s.drawOfferFrom
	if from == board.NoColor {
		return board.NoColor, false
	}
	s.drawOfferFrom = board.NoColor
	return from, true
}

// AcceptDraw ends the game by agreement. The accepting side must not be the
// side that made the offer.
func (s *Session) AcceptDraw(c board.Color) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.drawOfferFrom == board.NoColor || s.drawOfferFrom == c {
		return false
	}
	return s.endLocked(StatusDraw, ReasonAgreement, board.NoColor)
}

// TimeoutOf ends the game on flag fall, zeroing the flagged side's clock.
func (s *Session) TimeoutOf(c board.Color) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.endLocked(winnerStatus(c.Other()), ReasonTimeout, c.Other()) {
		return false
	}
	if c == board.White {
		s.whiteTimeMs = 0
	} else {
		s.blackTimeMs = 0
	}
	return true
}

// Disconnect ends the game against the departed side.
func (s *Session) Disconnect(c board.Color) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endLocked(winnerStatus(c.Other()), ReasonDisconnection, c.Other())
}

// Abort ends the game without a result.
func (s *Session) Abort() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endLocked(StatusAborted, "", board.NoColor)
}

// IsThreefoldRepetition reports whether the current position has occurred
// three or more times.
func (s *Session) IsThreefoldRepetition() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.repetitions[s.pos.RepetitionKey()] >= 3
}

// IsFiftyMoveRule reports whether fifty full moves have passed without a
// capture or pawn move.
func (s *Session) IsFiftyMoveRule() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pos.HalfMoveClock >= 100
}

// History returns a copy of the move records played so far.
func (s *Session) History() []board.MoveRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]board.MoveRecord, len(s.history))
	copy(out, s.history)
	return out
}

// Snapshot is a consistent read of the session state.
type Snapshot struct {
	ID           string
	White        PlayerInfo
	Black        PlayerInfo
	TimeControl  string
	Status       Status
	EndReason    EndReason
	Winner       board.Color // NoColor for draws and unfinished games
	FEN          string
	SideToMove   board.Color
	WhiteTimeMs  int64
	BlackTimeMs  int64
	IncrementMs  int64
	MoveSequence uint64
	LastSAN      string
	DrawOffer    board.Color
	StartedAt    time.Time
	LastMoveAt   time.Time
}

// Snapshot returns a consistent view of all session fields.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() Snapshot {
	snap := Snapshot{
		ID:           s.id,
		White:        s.white,
		Black:        s.black,
		TimeControl:  s.timeControl,
		Status:       s.status,
		EndReason:    s.endReason,
		Winner:       s.winner,
		FEN:          s.pos.ToFEN(),
		SideToMove:   s.pos.SideToMove,
		WhiteTimeMs:  s.whiteTimeMs,
		BlackTimeMs:  s.blackTimeMs,
		IncrementMs:  s.incrementMs,
		MoveSequence: s.moveSeq,
		DrawOffer:    s.drawOfferFrom,
		StartedAt:    s.startedAt,
		LastMoveAt:   s.lastMoveAt,
	}
	if n := len(s.history); n > 0 {
		snap.LastSAN = s.history[n-1].SAN
	}
	return snap
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
