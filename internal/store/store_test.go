package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// forEachStore runs f against both implementations; behavior must match
// except for durability.
func forEachStore(t *testing.T, f func(t *testing.T, st Store)) {
	t.Run("memory", func(t *testing.T) {
		f(t, NewMemory())
	})
	t.Run("badger", func(t *testing.T) {
		st, err := OpenBadger("")
		require.NoError(t, err)
		t.Cleanup(func() { st.Close() })
		f(t, st)
	})
}

func TestPlayerLifecycle(t *testing.T) {
	forEachStore(t, func(t *testing.T, st Store) {
		ctx := context.Background()
		players := st.Players()

		p, err := players.Create(ctx, "alice", "alice@example.com", []byte("hash"), 1200)
		require.NoError(t, err)
		require.NotEmpty(t, p.ID)
		assert.Equal(t, 1200, p.Rating)

		// Uniqueness is case-insensitive.
		_, err = players.Create(ctx, "ALICE", "other@example.com", []byte("h"), 1200)
		assert.ErrorIs(t, err, ErrUsernameTaken)
		_, err = players.Create(ctx, "bob", "Alice@Example.com", []byte("h"), 1200)
		assert.ErrorIs(t, err, ErrEmailTaken)

		got, err := players.GetByID(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, "alice", got.Username)

		got, err = players.GetByUsername(ctx, "Alice")
		require.NoError(t, err)
		assert.Equal(t, p.ID, got.ID)

		got, err = players.GetByEmail(ctx, "ALICE@example.com")
		require.NoError(t, err)
		assert.Equal(t, p.ID, got.ID)

		_, err = players.GetByID(ctx, "nope")
		assert.ErrorIs(t, err, ErrNotFound)

		ok, err := players.IsUsernameAvailable(ctx, "alice")
		require.NoError(t, err)
		assert.False(t, ok)
		ok, err = players.IsUsernameAvailable(ctx, "carol")
		require.NoError(t, err)
		assert.True(t, ok)

		require.NoError(t, players.UpdateRating(ctx, p.ID, 1250))
		require.NoError(t, players.UpdateGameStats(ctx, p.ID, StatWin))
		require.NoError(t, players.UpdateGameStats(ctx, p.ID, StatDraw))
		require.NoError(t, players.UpdatePassword(ctx, p.ID, []byte("hash2")))
		require.NoError(t, players.UpdateLastLogin(ctx, p.ID))
		require.NoError(t, players.SetBanned(ctx, p.ID, true, "abuse"))

		got, err = players.GetByID(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, 1250, got.Rating)
		assert.Equal(t, 2, got.GamesPlayed)
		assert.Equal(t, 1, got.GamesWon)
		assert.Equal(t, 1, got.GamesDrawn)
		assert.Equal(t, []byte("hash2"), got.PasswordHash)
		assert.False(t, got.LastLoginAt.IsZero())
		assert.True(t, got.Banned)
		assert.Equal(t, "abuse", got.BanReason)
	})
}

func TestLeaderboardAndRank(t *testing.T) {
	forEachStore(t, func(t *testing.T, st Store) {
		ctx := context.Background()
		players := st.Players()

		ids := map[string]string{}
		for name, rating := range map[string]int{"low": 1100, "mid": 1500, "top": 1900} {
			p, err := players.Create(ctx, name, name+"@example.com", []byte("h"), rating)
			require.NoError(t, err)
			ids[name] = p.ID
		}

		board, err := players.Leaderboard(ctx, 2)
		require.NoError(t, err)
		require.Len(t, board, 2)
		assert.Equal(t, "top", board[0].Username)
		assert.Equal(t, "mid", board[1].Username)

		rank, err := players.Rank(ctx, ids["mid"])
		require.NoError(t, err)
		assert.Equal(t, 2, rank)

		n, err := players.TotalCount(ctx)
		require.NoError(t, err)
		assert.Equal(t, 3, n)
	})
}

func TestSessionLifecycle(t *testing.T) {
	forEachStore(t, func(t *testing.T, st Store) {
		ctx := context.Background()
		sessions := st.Sessions()
		expires := time.Now().Add(time.Hour)

		s1, err := sessions.Create(ctx, "p1", "tok1", expires, "10.0.0.1")
		require.NoError(t, err)
		s2, err := sessions.Create(ctx, "p1", "tok2", expires, "")
		require.NoError(t, err)
		_, err = sessions.Create(ctx, "p2", "tok3", expires, "")
		require.NoError(t, err)

		got, err := sessions.GetByTokenHash(ctx, "tok1")
		require.NoError(t, err)
		assert.Equal(t, s1.ID, got.ID)
		assert.Equal(t, "p1", got.PlayerID)

		_, err = sessions.GetByTokenHash(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)

		require.NoError(t, sessions.UpdateActivity(ctx, s1.ID))

		active, err := sessions.ListActive(ctx, "p1")
		require.NoError(t, err)
		require.Len(t, active, 2)
		// Oldest first.
		assert.Equal(t, s1.ID, active[0].ID)

		require.NoError(t, sessions.Revoke(ctx, s1.ID, "replaced"))
		n, err := sessions.ActiveCount(ctx, "p1")
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		got, err = sessions.GetByTokenHash(ctx, "tok1")
		require.NoError(t, err)
		assert.True(t, got.Revoked)
		assert.Equal(t, "replaced", got.RevokeReason)

		count, err := sessions.RevokeAll(ctx, "p1", "logout everywhere")
		require.NoError(t, err)
		assert.Equal(t, 1, count)
		assert.Equal(t, s2.ID, mustActive(t, sessions, "p2")[0].PlayerID, "p2 untouched")
	})
}

func mustActive(t *testing.T, sessions SessionStore, playerID string) []*Session {
	t.Helper()
	list, err := sessions.ListActive(context.Background(), playerID)
	require.NoError(t, err)
	require.NotEmpty(t, list)
	return list
}

func TestSessionCleanupExpired(t *testing.T) {
	forEachStore(t, func(t *testing.T, st Store) {
		ctx := context.Background()
		sessions := st.Sessions()

		_, err := sessions.Create(ctx, "p1", "old", time.Now().Add(-time.Minute), "")
		require.NoError(t, err)
		_, err = sessions.Create(ctx, "p1", "fresh", time.Now().Add(time.Hour), "")
		require.NoError(t, err)

		n, err := sessions.CleanupExpired(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		_, err = sessions.GetByTokenHash(ctx, "old")
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = sessions.GetByTokenHash(ctx, "fresh")
		assert.NoError(t, err)
	})
}

func TestGameLifecycle(t *testing.T) {
	forEachStore(t, func(t *testing.T, st Store) {
		ctx := context.Background()
		games := st.Games()

		id1, err := games.Create(ctx, "w1", "b1", "blitz", 300000, 2000, 1500, 1480)
		require.NoError(t, err)
		id2, err := games.Create(ctx, "w1", "b2", "blitz", 300000, 2000, 1500, 1520)
		require.NoError(t, err)
		assert.Greater(t, id2, id1)

		require.NoError(t, games.RecordMove(ctx, &Move{
			GameID: id1, MoveNumber: 1, Color: "white",
			FromSquare: "e2", ToSquare: "e4", SAN: "e4",
			FENAfter: "rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR b KQkq e3 0 1",
		}))
		require.NoError(t, games.RecordMove(ctx, &Move{
			GameID: id1, MoveNumber: 1, Color: "black",
			FromSquare: "e7", ToSquare: "e5", SAN: "e5",
		}))
		require.NoError(t, games.RecordMove(ctx, &Move{
			GameID: id1, MoveNumber: 2, Color: "white",
			FromSquare: "g1", ToSquare: "f3", SAN: "Nf3",
		}))
		err = games.RecordMove(ctx, &Move{GameID: 9999, MoveNumber: 1, Color: "white"})
		assert.ErrorIs(t, err, ErrNotFound)

		moves, err := games.ListMoves(ctx, id1)
		require.NoError(t, err)
		require.Len(t, moves, 3)
		assert.Equal(t, "e4", moves[0].SAN)
		assert.Equal(t, "e5", moves[1].SAN)
		assert.Equal(t, "Nf3", moves[2].SAN)

		require.NoError(t, games.Complete(ctx, id1, ResultWhiteWin, "Checkmate", "1. e4 e5 2. Nf3 1-0", "fen", 12, -12))
		require.NoError(t, games.Abort(ctx, id2))

		list, err := games.ListByPlayer(ctx, "w1", 10, 0)
		require.NoError(t, err)
		require.Len(t, list, 2)

		list, err = games.ListByPlayer(ctx, "w1", 1, 1)
		require.NoError(t, err)
		require.Len(t, list, 1)

		list, err = games.ListByPlayer(ctx, "b2", 10, 0)
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.True(t, list[0].Aborted)

		list, err = games.ListByPlayer(ctx, "b1", 10, 0)
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, ResultWhiteWin, list[0].Result)
		assert.Equal(t, "Checkmate", list[0].EndReason)
		assert.Equal(t, 12, list[0].WhiteDelta)
		assert.Equal(t, -12, list[0].BlackDelta)
	})
}
