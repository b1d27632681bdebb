package game

import (
	"context"
	"testing"
	"time"

	"github.com/hailam/chessnet/internal/board"
	"github.com/hailam/chessnet/internal/config"
	"github.com/hailam/chessnet/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder captures listener notifications.
type recorder struct {
	ended    []Snapshot
	clock    int
	warnings []string
}

func (r *recorder) GameEnded(whiteID, blackID string, snap Snapshot) { r.ended = append(r.ended, snap) }
func (r *recorder) ClockUpdate(whiteID, blackID string, snap Snapshot) { r.clock++ }
func (r *recorder) TimeWarning(playerID string, snap Snapshot, remainingMs int64) {
	r.warnings = append(r.warnings, playerID)
}

func newTestManager(t *testing.T) (*Manager, store.Store, *recorder, PlayerInfo, PlayerInfo) {
	t.Helper()
	st := store.NewMemory()
	ctx := context.Background()

	pw, err := st.Players().Create(ctx, "walter", "w@example.com", []byte("h"), 1500)
	require.NoError(t, err)
	pb, err := st.Players().Create(ctx, "bella", "b@example.com", []byte("h"), 1500)
	require.NoError(t, err)

	rec := &recorder{}
	m := NewManager(config.Default(), st, rec)
	white := PlayerInfo{ID: pw.ID, Username: pw.Username, Rating: pw.Rating}
	black := PlayerInfo{ID: pb.ID, Username: pb.Username, Rating: pb.Rating}
	return m, st, rec, white, black
}

func processMoves(t *testing.T, m *Manager, gameID string, s *Session, moves ...string) *MoveResult {
	t.Helper()
	ctx := context.Background()
	var res *MoveResult
	for _, ms := range moves {
		snap := s.Snapshot()
		player := s.Player(snap.SideToMove).ID
		promo := ""
		if len(ms) == 5 {
			promo = ms[4:5]
		}
		var err error
		res, err = m.ProcessMove(ctx, gameID, player, ms[0:2], ms[2:4], promo, snap.MoveSequence)
		require.NoError(t, err, "move %s", ms)
	}
	return res
}

func TestCreateGameRejectsBusyPlayers(t *testing.T) {
	m, _, _, white, black := newTestManager(t)
	ctx := context.Background()

	s, err := m.CreateGame(ctx, white, black, 300_000, 2_000, "blitz")
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, s.Snapshot().Status)

	_, err = m.CreateGame(ctx, white, PlayerInfo{ID: "c1", Username: "carol", Rating: 1400}, 300_000, 2_000, "blitz")
	assert.ErrorIs(t, err, ErrAlreadyInGame)

	got, ok := m.GameOf(white.ID)
	require.True(t, ok)
	assert.Equal(t, s.ID(), got.ID())
}

func TestCheckmateRunsEndPipeline(t *testing.T) {
	m, st, rec, white, black := newTestManager(t)
	ctx := context.Background()

	s, err := m.CreateGame(ctx, white, black, 300_000, 2_000, "blitz")
	require.NoError(t, err)

	res := processMoves(t, m, s.ID(), s, "e2e4", "e7e5", "f1c4", "b8c6", "d1h5", "g8f6", "h5f7")
	require.True(t, res.Ended)
	assert.True(t, res.Record.Flags.Has(board.FlagCheckmate))
	assert.Equal(t, StatusWhiteWon, res.Snapshot.Status)
	assert.Equal(t, ReasonCheckmate, res.Snapshot.EndReason)

	// Registry cleaned up.
	_, ok := m.Game(s.ID())
	assert.False(t, ok)
	_, ok = m.GameOf(white.ID)
	assert.False(t, ok)

	// Listener saw the end exactly once.
	require.Len(t, rec.ended, 1)
	assert.Equal(t, board.White, rec.ended[0].Winner)

	// Equal ratings, K=32: winner +16, loser -16.
	pw, err := st.Players().GetByID(ctx, white.ID)
	require.NoError(t, err)
	pb, err := st.Players().GetByID(ctx, black.ID)
	require.NoError(t, err)
	assert.Equal(t, 1516, pw.Rating)
	assert.Equal(t, 1484, pb.Rating)
	assert.Equal(t, 1, pw.GamesWon)
	assert.Equal(t, 1, pb.GamesLost)

	// Game record completed with PGN and final FEN.
	games, err := st.Games().ListByPlayer(ctx, white.ID, 10, 0)
	require.NoError(t, err)
	require.Len(t, games, 1)
	g := games[0]
	assert.Equal(t, store.ResultWhiteWin, g.Result)
	assert.Equal(t, "Checkmate", g.EndReason)
	assert.Equal(t, 16, g.WhiteDelta)
	assert.Equal(t, -16, g.BlackDelta)
	assert.Contains(t, g.PGN, "Qxf7#")
	assert.Contains(t, g.PGN, "1-0")
	assert.Contains(t, g.FinalFEN, "r1bqkb1r/pppp1Qpp/2n2n2/4p3/2B1P3/8/PPPP1PPP/RNB1K1NR b KQkq -")

	// Every ply was recorded.
	moves, err := st.Games().ListMoves(ctx, g.ID)
	require.NoError(t, err)
	require.Len(t, moves, 7)
	assert.Equal(t, "e4", moves[0].SAN)
	assert.Equal(t, "Qxf7#", moves[6].SAN)
}

func TestThreefoldRepetitionDraw(t *testing.T) {
	m, st, _, white, black := newTestManager(t)
	ctx := context.Background()

	s, err := m.CreateGame(ctx, white, black, 300_000, 0, "blitz")
	require.NoError(t, err)

	res := processMoves(t, m, s.ID(), s,
		"g1f3", "g8f6", "f3g1", "f6g8", "g1f3", "g8f6", "f3g1", "f6g8")
	require.True(t, res.Ended)
	assert.Equal(t, StatusDraw, res.Snapshot.Status)
	assert.Equal(t, ReasonThreefoldRepetition, res.Snapshot.EndReason)

	// Draw leaves ratings untouched and counts a draw for both.
	pw, err := st.Players().GetByID(ctx, white.ID)
	require.NoError(t, err)
	assert.Equal(t, 1500, pw.Rating)
	assert.Equal(t, 1, pw.GamesDrawn)
}

func TestFlagFall(t *testing.T) {
	m, _, rec, white, black := newTestManager(t)
	ctx := context.Background()

	s, err := m.CreateGame(ctx, white, black, 1_000, 0, "bullet")
	require.NoError(t, err)

	// No moves; one monitor pass after the clock has run out.
	m.sweep(ctx, time.Now().Add(1500*time.Millisecond))

	snap := s.Snapshot()
	assert.Equal(t, StatusBlackWon, snap.Status)
	assert.Equal(t, ReasonTimeout, snap.EndReason)
	assert.Equal(t, int64(0), snap.WhiteTimeMs)
	assert.Equal(t, int64(1_000), snap.BlackTimeMs)

	require.Len(t, rec.ended, 1)
	_, ok := m.Game(s.ID())
	assert.False(t, ok)
}

func TestSweepWarnsLowClock(t *testing.T) {
	m, _, rec, white, black := newTestManager(t)
	ctx := context.Background()

	s, err := m.CreateGame(ctx, white, black, 12_000, 0, "bullet")
	require.NoError(t, err)

	m.sweep(ctx, time.Now().Add(3*time.Second))
	assert.Equal(t, StatusInProgress, s.Snapshot().Status)
	assert.Greater(t, rec.clock, 0)
	require.NotEmpty(t, rec.warnings)
	assert.Equal(t, white.ID, rec.warnings[0])
}

func TestMoveAfterFlagFallPreempts(t *testing.T) {
	m, _, _, white, black := newTestManager(t)
	ctx := context.Background()

	s, err := m.CreateGame(ctx, white, black, 1, 0, "bullet")
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)

	_, err = m.ProcessMove(ctx, s.ID(), white.ID, "e2", "e4", "", 0)
	assert.ErrorIs(t, err, ErrGameNotInProgress)
	assert.Equal(t, StatusBlackWon, s.Snapshot().Status)
	assert.Equal(t, ReasonTimeout, s.Snapshot().EndReason)
}

func TestResignationPipeline(t *testing.T) {
	m, st, rec, white, black := newTestManager(t)
	ctx := context.Background()

	s, err := m.CreateGame(ctx, white, black, 300_000, 2_000, "blitz")
	require.NoError(t, err)

	require.NoError(t, m.HandleResignation(ctx, s.ID(), black.ID))
	assert.Equal(t, StatusWhiteWon, s.Snapshot().Status)
	assert.Equal(t, ReasonResignation, s.Snapshot().EndReason)
	require.Len(t, rec.ended, 1)

	pw, err := st.Players().GetByID(ctx, white.ID)
	require.NoError(t, err)
	assert.Equal(t, 1516, pw.Rating)

	assert.ErrorIs(t, m.HandleResignation(ctx, s.ID(), black.ID), ErrGameNotFound)
}

func TestDrawAgreementPipeline(t *testing.T) {
	m, _, _, white, black := newTestManager(t)
	ctx := context.Background()

	s, err := m.CreateGame(ctx, white, black, 300_000, 2_000, "blitz")
	require.NoError(t, err)

	assert.ErrorIs(t, m.HandleDrawAccepted(ctx, s.ID(), black.ID), ErrNoPendingOffer)

	require.True(t, s.OfferDraw(board.White))
	require.NoError(t, m.HandleDrawAccepted(ctx, s.ID(), black.ID))
	assert.Equal(t, StatusDraw, s.Snapshot().Status)
	assert.Equal(t, ReasonAgreement, s.Snapshot().EndReason)
}

func TestProcessMoveRejections(t *testing.T) {
	m, _, _, white, black := newTestManager(t)
	ctx := context.Background()

	_, err := m.ProcessMove(ctx, "missing", white.ID, "e2", "e4", "", 0)
	assert.ErrorIs(t, err, ErrGameNotFound)

	s, err := m.CreateGame(ctx, white, black, 300_000, 2_000, "blitz")
	require.NoError(t, err)

	_, err = m.ProcessMove(ctx, s.ID(), "stranger", "e2", "e4", "", 0)
	assert.ErrorIs(t, err, ErrNotParticipant)

	_, err = m.ProcessMove(ctx, s.ID(), white.ID, "e2", "xx", "", 0)
	var ve *board.ValidationError
	require.ErrorAs(t, err, &ve)

	_, err = m.ProcessMove(ctx, s.ID(), white.ID, "e2", "e5", "", 0)
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, board.ReasonInvalidDestination, ve.Reason)
}
