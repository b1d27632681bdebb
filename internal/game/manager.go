package game

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hailam/chessnet/internal/board"
	"github.com/hailam/chessnet/internal/config"
	"github.com/hailam/chessnet/internal/store"
	"github.com/seekerror/logw"
)

var (
	ErrGameNotFound   = errors.New("game not found")
	ErrAlreadyInGame  = errors.New("player is already in a game")
	ErrNotParticipant = errors.New("player is not in this game")
	ErrNoPendingOffer = errors.New("no draw offer is pending")
)

// timeoutWarningMs is the threshold under which TimeWarning fires for the
// side to move.
const timeoutWarningMs = 10_000

// Listener receives push notifications from the manager. The hub implements
// it to broadcast to the two participants' live connections.
type Listener interface {
	// GameEnded fires once per game with the player ids captured before the
	// session left the registry.
	GameEnded(whiteID, blackID string, snap Snapshot)
	// ClockUpdate fires from the timeout monitor for every running game.
	ClockUpdate(whiteID, blackID string, snap Snapshot)
	// TimeWarning fires when the side to move drops under the warning
	// threshold.
	TimeWarning(playerID string, snap Snapshot, remainingMs int64)
}

// Manager owns every active session: creation, move application, the
// timeout monitor, rating updates and the persistence hand-off.
type Manager struct {
	cfg      *config.Config
	st       store.Store
	listener Listener

	mu         sync.Mutex
	games      map[string]*Session
	playerGame map[string]string
	gameDB     map[string]uint64
}

func NewManager(cfg *config.Config, st store.Store, listener Listener) *Manager {
	return &Manager{
		cfg:        cfg,
		st:         st,
		listener:   listener,
		games:      map[string]*Session{},
		playerGame: map[string]string{},
		gameDB:     map[string]uint64{},
	}
}

func newGameID() string {
	var b [8]byte
	rand.Read(b[:])
	return hex.EncodeToString(b[:])
}

// CreateGame registers and starts a new session. Both players must be free;
// the double-map insert is atomic.
func (m *Manager) CreateGame(ctx context.Context, white, black PlayerInfo, initialMs, incrementMs int64, timeControl string) (*Session, error) {
	s := NewSession(newGameID(), white, black, initialMs, incrementMs, timeControl)

	m.mu.Lock()
	if gid, busy := m.playerGame[white.ID]; busy {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s in %s", ErrAlreadyInGame, white.ID, gid)
	}
	if gid, busy := m.playerGame[black.ID]; busy {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s in %s", ErrAlreadyInGame, black.ID, gid)
	}
	m.games[s.ID()] = s
	m.playerGame[white.ID] = s.ID()
	m.playerGame[black.ID] = s.ID()
	m.mu.Unlock()

	if m.st != nil {
		dbID, err := m.st.Games().Create(ctx, white.ID, black.ID, timeControl, initialMs, incrementMs, white.Rating, black.Rating)
		if err != nil {
			logw.Errorf(ctx, "persist game creation %v: %v", s.ID(), err)
		} else {
			m.mu.Lock()
			m.gameDB[s.ID()] = dbID
			m.mu.Unlock()
		}
	}

	s.Start()
	logw.Infof(ctx, "game %v started: %v vs %v (%v)", s.ID(), white.Username, black.Username, timeControl)
	return s, nil
}

// Game returns the active session with the given id.
func (m *Manager) Game(gameID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.games[gameID]
	return s, ok
}

// GameOf returns the active session the player participates in.
func (m *Manager) GameOf(playerID string) (*Session, bool) {
	m.mu.Lock()
	gid, ok := m.playerGame[playerID]
	if !ok {
		m.mu.Unlock()
		return nil, false
	}
	s, ok := m.games[gid]
	m.mu.Unlock()
	return s, ok
}

// MoveResult is the outcome of a successfully applied move.
type MoveResult struct {
	Record   board.MoveRecord
	Snapshot Snapshot
	Ended    bool
}

// ProcessMove validates and applies one ply. The clock is checked first: if
// the mover's flag already fell, the timeout path fires instead and the move
// is rejected. A sequence mismatch is logged but not fatal; the session's
// own sequence is authoritative.
func (m *Manager) ProcessMove(ctx context.Context, gameID, playerID, fromAlg, toAlg, promotion string, expectedSeq uint64) (*MoveResult, error) {
	s, ok := m.Game(gameID)
	if !ok {
		return nil, ErrGameNotFound
	}
	color := s.ColorOf(playerID)
	if color == board.NoColor {
		return nil, ErrNotParticipant
	}

	snap := s.Snapshot()
	if snap.Status != StatusInProgress {
		return nil, ErrGameNotInProgress
	}
	if snap.SideToMove == color && s.RemainingMs(color, time.Now()) <= 0 {
		m.HandleTimeout(ctx, gameID, color)
		return nil, ErrGameNotInProgress
	}
	if expectedSeq != snap.MoveSequence {
		logw.Warningf(ctx, "game %v: client sequence %d, server %d", gameID, expectedSeq, snap.MoveSequence)
	}

	from, err := board.ParseSquare(fromAlg)
	if err != nil {
		return nil, &board.ValidationError{Reason: board.ReasonInvalidDestination, Detail: err.Error()}
	}
	to, err := board.ParseSquare(toAlg)
	if err != nil {
		return nil, &board.ValidationError{Reason: board.ReasonInvalidDestination, Detail: err.Error()}
	}
	promo := board.NoPieceType
	if promotion != "" {
		promo = board.PromotionFromChar(promotion[0])
	}

	rec, snap, err := s.ApplyMove(playerID, from, to, promo)
	if err != nil {
		return nil, err
	}

	m.persistMove(ctx, gameID, rec, snap)

	res := &MoveResult{Record: *rec, Snapshot: snap, Ended: snap.Status.Terminal()}
	if res.Ended {
		m.endGame(ctx, s)
		res.Snapshot = s.Snapshot()
	}
	return res, nil
}

// persistMove records the ply best-effort; a store failure never fails the
// move.
func (m *Manager) persistMove(ctx context.Context, gameID string, rec *board.MoveRecord, snap Snapshot) {
	if m.st == nil {
		return
	}
	m.mu.Lock()
	dbID, ok := m.gameDB[gameID]
	m.mu.Unlock()
	if !ok {
		return
	}

	remaining := snap.WhiteTimeMs
	colorName := "white"
	if rec.Color == board.Black {
		remaining = snap.BlackTimeMs
		colorName = "black"
	}
	mv := &store.Move{
		GameID:          dbID,
		MoveNumber:      int(snap.MoveSequence+1) / 2,
		Color:           colorName,
		FromSquare:      rec.From.String(),
		ToSquare:        rec.To.String(),
		SAN:             rec.SAN,
		FENAfter:        rec.FENAfter,
		TimeRemainingMs: remaining,
	}
	if rec.Flags.Has(board.FlagPawnPromotion) {
		mv.Promotion = string("pnbrqk"[rec.PromotionType])
	}
	if err := m.st.Games().RecordMove(ctx, mv); err != nil {
		logw.Errorf(ctx, "persist move %v/%d: %v", gameID, snap.MoveSequence, err)
	}
}

// HandleResignation ends the game against the resigning player.
func (m *Manager) HandleResignation(ctx context.Context, gameID, playerID string) error {
	s, ok := m.Game(gameID)
	if !ok {
		return ErrGameNotFound
	}
	color := s.ColorOf(playerID)
	if color == board.NoColor {
		return ErrNotParticipant
	}
	if s.Resign(color) {
		m.endGame(ctx, s)
	}
	return nil
}

// HandleDrawAccepted ends the game by agreement, provided the opponent has
// an offer pending.
func (m *Manager) HandleDrawAccepted(ctx context.Context, gameID, playerID string) error {
	s, ok := m.Game(gameID)
	if !ok {
		return ErrGameNotFound
	}
	color := s.ColorOf(playerID)
	if color == board.NoColor {
		return ErrNotParticipant
	}
	if !s.AcceptDraw(color) {
		return ErrNoPendingOffer
	}
	m.endGame(ctx, s)
	return nil
}

// HandleDisconnection forfeits the game for the player who never returned
// within the grace period.
func (m *Manager) HandleDisconnection(ctx context.Context, gameID, playerID string) error {
	s, ok := m.Game(gameID)
	if !ok {
		return ErrGameNotFound
	}
	color := s.ColorOf(playerID)
	if color == board.NoColor {
		return ErrNotParticipant
	}
	if s.Disconnect(color) {
		logw.Infof(ctx, "game %v: %v forfeits by disconnection", gameID, s.Player(color).Username)
		m.endGame(ctx, s)
	}
	return nil
}

// HandleTimeout forfeits the game on flag fall.
func (m *Manager) HandleTimeout(ctx context.Context, gameID string, color board.Color) error {
	s, ok := m.Game(gameID)
	if !ok {
		return ErrGameNotFound
	}
	if s.TimeoutOf(color) {
		logw.Infof(ctx, "game %v: %v flag fell", gameID, s.Player(color).Username)
		m.endGame(ctx, s)
	}
	return nil
}

// endGame runs the end-of-game pipeline: Elo, stats, persistence, registry
// cleanup, then the listener notification with the captured player ids.
func (m *Manager) endGame(ctx context.Context, s *Session) {
	snap := s.Snapshot()
	white, black := snap.White, snap.Black

	var whiteDelta, blackDelta int
	if snap.Status != StatusAborted {
		whiteScore := ScoreDraw
		switch snap.Status {
		case StatusWhiteWon:
			whiteScore = ScoreWin
		case StatusBlackWon:
			whiteScore = ScoreLoss
		}
		r := m.cfg.Rating
		whiteDelta = EloDelta(white.Rating, black.Rating, whiteScore, r.KFactor)
		blackDelta = EloDelta(black.Rating, white.Rating, 1-whiteScore, r.KFactor)

		newWhite := ClampRating(white.Rating+whiteDelta, r.MinRating, r.MaxRating)
		newBlack := ClampRating(black.Rating+blackDelta, r.MinRating, r.MaxRating)
		whiteDelta = newWhite - white.Rating
		blackDelta = newBlack - black.Rating

		m.updatePlayers(ctx, snap, newWhite, newBlack)
	}

	m.persistCompletion(ctx, snap, whiteDelta, blackDelta)

	m.mu.Lock()
	delete(m.games, snap.ID)
	delete(m.playerGame, white.ID)
	delete(m.playerGame, black.ID)
	delete(m.gameDB, snap.ID)
	m.mu.Unlock()

	logw.Infof(ctx, "game %v ended: %v (%v)", snap.ID, snap.Status, snap.EndReason)
	if m.listener != nil {
		m.listener.GameEnded(white.ID, black.ID, snap)
	}
}

func (m *Manager) updatePlayers(ctx context.Context, snap Snapshot, newWhite, newBlack int) {
	if m.st == nil {
		return
	}
	players := m.st.Players()

	statOf := func(c board.Color) store.StatResult {
		switch snap.Status {
		case StatusDraw:
			return store.StatDraw
		case winnerStatus(c):
			return store.StatWin
		}
		return store.StatLoss
	}

	for _, u := range []struct {
		id     string
		rating int
		stat   store.StatResult
	}{
		{snap.White.ID, newWhite, statOf(board.White)},
		{snap.Black.ID, newBlack, statOf(board.Black)},
	} {
		if err := players.UpdateRating(ctx, u.id, u.rating); err != nil {
			logw.Errorf(ctx, "update rating %v: %v", u.id, err)
		}
		if err := players.UpdateGameStats(ctx, u.id, u.stat); err != nil {
			logw.Errorf(ctx, "update stats %v: %v", u.id, err)
		}
	}
}

func (m *Manager) persistCompletion(ctx context.Context, snap Snapshot, whiteDelta, blackDelta int) {
	if m.st == nil {
		return
	}
	m.mu.Lock()
	dbID, ok := m.gameDB[snap.ID]
	m.mu.Unlock()
	if !ok {
		return
	}

	if snap.Status == StatusAborted {
		if err := m.st.Games().Abort(ctx, dbID); err != nil {
			logw.Errorf(ctx, "persist abort %v: %v", snap.ID, err)
		}
		return
	}

	var result store.GameResult
	switch snap.Status {
	case StatusWhiteWon:
		result = store.ResultWhiteWin
	case StatusBlackWon:
		result = store.ResultBlackWin
	default:
		result = store.ResultDraw
	}

	pgn := GeneratePGN(snap.White, snap.Black, snap.Status, snap.EndReason, m.historyOf(snap.ID), snap.StartedAt)
	if err := m.st.Games().Complete(ctx, dbID, result, string(snap.EndReason), pgn, snap.FEN, whiteDelta, blackDelta); err != nil {
		logw.Errorf(ctx, "persist completion %v: %v", snap.ID, err)
	}
}

// historyOf reads the move history while the session is still registered;
// after cleanup it falls back to empty.
func (m *Manager) historyOf(gameID string) []board.MoveRecord {
	m.mu.Lock()
	s, ok := m.games[gameID]
	m.mu.Unlock()
	if !ok {
		return nil
	}
	return s.History()
}

// Run drives the timeout monitor until ctx is cancelled. Every second it
// checks each running session for flag fall and publishes clock updates.
func (m *Manager) Run(ctx context.Context) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			m.sweep(ctx, now)
		}
	}
}

// sweep is one monitor pass. Sessions may end concurrently; every path it
// takes is idempotent against that.
func (m *Manager) sweep(ctx context.Context, now time.Time) {
	m.mu.Lock()
	active := make([]*Session, 0, len(m.games))
	for _, s := range m.games {
		active = append(active, s)
	}
	m.mu.Unlock()

	for _, s := range active {
		snap := s.Snapshot()
		if snap.Status != StatusInProgress || snap.LastMoveAt.IsZero() {
			continue
		}

		remaining := s.RemainingMs(snap.SideToMove, now)
		if remaining <= 0 {
			m.HandleTimeout(ctx, snap.ID, snap.SideToMove)
			continue
		}

		if m.listener != nil {
			m.listener.ClockUpdate(snap.White.ID, snap.Black.ID, snap)
			if remaining < timeoutWarningMs {
				m.listener.TimeWarning(s.Player(snap.SideToMove).ID, snap, remaining)
			}
		}
	}
}
