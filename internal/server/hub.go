// Package server implements the connection hub: the TCP accept loop,
// per-connection framed I/O, heartbeat supervision, single-session
// enforcement and message dispatch.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/hailam/chessnet/internal/auth"
	"github.com/hailam/chessnet/internal/board"
	"github.com/hailam/chessnet/internal/config"
	"github.com/hailam/chessnet/internal/game"
	"github.com/hailam/chessnet/internal/matchmaking"
	"github.com/hailam/chessnet/internal/protocol"
	"github.com/hailam/chessnet/internal/store"
	"github.com/seekerror/logw"
	"golang.org/x/sync/errgroup"
)

const (
	serverName    = "chessnet"
	serverVersion = "1.0.0"

	// delay before closing a connection replaced by a newer login, so the
	// SESSION_REPLACED error can flush.
	replacedFlushDelay = 250 * time.Millisecond

	writeTimeout = 30 * time.Second
)

// Hub owns every live connection and routes messages between clients, the
// matchmaker and the game manager.
type Hub struct {
	cfg  *config.Config
	st   store.Store
	auth *auth.Manager
	mm   *matchmaking.Matchmaker
	gm   *game.Manager

	mu       sync.Mutex
	conns    map[*conn]struct{}
	byPlayer map[string]*conn
	grace    map[string]*time.Timer
}

func New(cfg *config.Config, st store.Store, am *auth.Manager) *Hub {
	h := &Hub{
		cfg:      cfg,
		st:       st,
		auth:     am,
		conns:    map[*conn]struct{}{},
		byPlayer: map[string]*conn{},
		grace:    map[string]*time.Timer{},
	}
	h.mm = matchmaking.New(cfg.Matchmaking, h.startGame)
	h.gm = game.NewManager(cfg, st, h)
	return h
}

// Run listens on the configured address and serves until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", h.cfg.Server.BindAddress, h.cfg.Server.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	logw.Infof(ctx, "listening on %v", ln.Addr())
	return h.Serve(ctx, ln)
}

// Serve runs the accept loop and the background tasks over an existing
// listener. On cancellation everything shuts down within the 5 s bound.
func (h *Hub) Serve(ctx context.Context, ln net.Listener) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return h.accept(ctx, ln) })
	g.Go(func() error { return h.gm.Run(ctx) })
	g.Go(func() error { return h.mm.Run(ctx) })
	g.Go(func() error { return h.supervise(ctx) })
	g.Go(func() error {
		<-ctx.Done()
		ln.Close()
		h.closeAll()
		return nil
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) || errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

func (h *Hub) accept(ctx context.Context, ln net.Listener) error {
	for {
		sock, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}

		if h.connCount() >= h.cfg.Server.MaxConnections {
			logw.Warningf(ctx, "connection limit reached, refusing %v", sock.RemoteAddr())
			sock.Close()
			continue
		}

		tr := newTCPTransport(sock, writeTimeout)
		go h.serve(ctx, tr)
	}
}

// serve runs one connection's read loop: frames are processed sequentially,
// so ordering within a connection is preserved.
func (h *Hub) serve(ctx context.Context, tr transport) {
	c := &conn{
		id:           newConnID(),
		tr:           tr,
		hub:          h,
		lastActivity: time.Now(),
		limiter:      newRateLimiter(h.cfg.Server.MaxRequestsPerMinute, time.Minute),
	}

	h.mu.Lock()
	h.conns[c] = struct{}{}
	h.mu.Unlock()
	logw.Debugf(ctx, "conn %v accepted from %v", c.id, tr.RemoteAddr())

	defer h.dropConn(ctx, c)

	for {
		frame, err := tr.ReadFrame()
		if err != nil {
			logw.Debugf(ctx, "conn %v read: %v", c.id, err)
			return
		}
		if len(frame) == 0 {
			continue
		}
		c.touch()

		if !c.limiter.Allow(time.Now()) {
			c.sendError(protocol.CodeRateLimited, "rate limit exceeded", "")
			continue
		}
		h.dispatch(ctx, c, frame)
	}
}

// dropConn unregisters a closed connection, dequeues the player and starts
// the disconnect-grace task if they were in a game.
func (h *Hub) dropConn(ctx context.Context, c *conn) {
	c.close()
	playerID, username, _ := c.identity()

	h.mu.Lock()
	delete(h.conns, c)
	wasLive := playerID != "" && h.byPlayer[playerID] == c
	if wasLive {
		delete(h.byPlayer, playerID)
	}
	h.mu.Unlock()

	if !wasLive {
		return
	}
	logw.Infof(ctx, "player %v disconnected", username)
	h.mm.Cancel(playerID)

	s, ok := h.gm.GameOf(playerID)
	if !ok {
		return
	}
	gameID := s.ID()
	grace := time.Duration(h.cfg.Server.DisconnectionGracePeriodSeconds) * time.Second

	timer := time.AfterFunc(grace, func() {
		h.mu.Lock()
		_, returned := h.byPlayer[playerID]
		delete(h.grace, playerID)
		h.mu.Unlock()
		if returned {
			return
		}
		if err := h.gm.HandleDisconnection(context.Background(), gameID, playerID); err != nil {
			logw.Debugf(ctx, "disconnect grace %v: %v", playerID, err)
		}
	})

	h.mu.Lock()
	if old := h.grace[playerID]; old != nil {
		old.Stop()
	}
	h.grace[playerID] = timer
	h.mu.Unlock()
}

// bindPlayer makes c the single live connection for the player. Any older
// connection is told SESSION_REPLACED and closed after a flush delay; its
// queue entries and games are untouched.
func (h *Hub) bindPlayer(ctx context.Context, c *conn, playerID string) {
	h.mu.Lock()
	old := h.byPlayer[playerID]
	h.byPlayer[playerID] = c
	if t := h.grace[playerID]; t != nil {
		t.Stop()
		delete(h.grace, playerID)
	}
	h.mu.Unlock()

	if old != nil && old != c {
		logw.Infof(ctx, "player %v session replaced", playerID)
		old.clearIdentity()
		old.sendError(protocol.CodeSessionReplaced, "logged in from another connection", "")
		time.AfterFunc(replacedFlushDelay, old.close)
	}
}

// supervise closes stale connections and prunes expired sessions.
func (h *Hub) supervise(ctx context.Context) error {
	interval := time.Duration(h.cfg.Server.HeartbeatIntervalSeconds) * time.Second
	timeout := time.Duration(h.cfg.Server.ConnectionTimeoutSeconds) * time.Second

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			h.mu.Lock()
			stale := make([]*conn, 0)
			for c := range h.conns {
				if now.Sub(c.idleSince()) > timeout {
					stale = append(stale, c)
				}
			}
			h.mu.Unlock()

			for _, c := range stale {
				logw.Infof(ctx, "conn %v timed out", c.id)
				c.sendError(protocol.CodeDisconnected, "connection timed out", "")
				c.close()
			}

			if n, err := h.auth.CleanupExpired(ctx); err != nil {
				logw.Warningf(ctx, "session cleanup: %v", err)
			} else if n > 0 {
				logw.Debugf(ctx, "pruned %d expired sessions", n)
			}
		}
	}
}

func (h *Hub) connCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	conns := make([]*conn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()
	for _, c := range conns {
		c.close()
	}
}

// sendToPlayer delivers a message to the player's live connection, if any.
func (h *Hub) sendToPlayer(playerID string, msg any) {
	h.mu.Lock()
	c := h.byPlayer[playerID]
	h.mu.Unlock()
	if c != nil {
		c.send(msg)
	}
}

// startGame consumes one matchmaker pairing: it creates the session and
// notifies both players.
func (h *Hub) startGame(p matchmaking.Pairing) {
	ctx := context.Background()

	white := game.PlayerInfo{ID: p.White.PlayerID, Username: p.White.Username, Rating: p.White.Rating}
	black := game.PlayerInfo{ID: p.Black.PlayerID, Username: p.Black.Username, Rating: p.Black.Rating}

	s, err := h.gm.CreateGame(ctx, white, black, p.White.InitialMs, p.White.IncrementMs, p.White.TimeControl)
	if err != nil {
		logw.Errorf(ctx, "create game for pairing %v/%v: %v", white.Username, black.Username, err)
		return
	}
	snap := s.Snapshot()

	whiteSummary := protocol.PlayerSummary{ID: white.ID, Username: white.Username, Rating: white.Rating}
	blackSummary := protocol.PlayerSummary{ID: black.ID, Username: black.Username, Rating: black.Rating}

	for _, side := range []struct {
		me       game.PlayerInfo
		opponent protocol.PlayerSummary
		color    string
	}{
		{white, blackSummary, "white"},
		{black, whiteSummary, "black"},
	} {
		h.sendToPlayer(side.me.ID, &protocol.MatchFound{
			Header:      protocol.NewHeader(protocol.TypeMatchFound),
			GameID:      snap.ID,
			Color:       side.color,
			Opponent:    side.opponent,
			TimeControl: snap.TimeControl,
			InitialMs:   p.White.InitialMs,
			IncrementMs: p.White.IncrementMs,
		})
		h.sendToPlayer(side.me.ID, &protocol.GameStart{
			Header:      protocol.NewHeader(protocol.TypeGameStart),
			GameID:      snap.ID,
			White:       whiteSummary,
			Black:       blackSummary,
			YourColor:   side.color,
			FEN:         snap.FEN,
			TimeControl: snap.TimeControl,
			InitialMs:   p.White.InitialMs,
			IncrementMs: p.White.IncrementMs,
		})
	}
}

func colorName(c board.Color) string {
	switch c {
	case board.White:
		return "white"
	case board.Black:
		return "black"
	}
	return ""
}

// GameEnded implements game.Listener. The ids were captured before the
// session left the registry, so the broadcast reaches both players even if
// one is mid-disconnect.
func (h *Hub) GameEnded(whiteID, blackID string, snap game.Snapshot) {
	msg := &protocol.GameEnd{
		Header:      protocol.NewHeader(protocol.TypeGameEnd),
		GameID:      snap.ID,
		Status:      snap.Status.String(),
		Winner:      colorName(snap.Winner),
		Reason:      string(snap.EndReason),
		FinalFEN:    snap.FEN,
		WhiteTimeMs: snap.WhiteTimeMs,
		BlackTimeMs: snap.BlackTimeMs,
	}
	h.sendToPlayer(whiteID, msg)
	h.sendToPlayer(blackID, msg)
}

// ClockUpdate implements game.Listener.
func (h *Hub) ClockUpdate(whiteID, blackID string, snap game.Snapshot) {
	msg := &protocol.TimeUpdate{
		Header:      protocol.NewHeader(protocol.TypeTimeUpdate),
		GameID:      snap.ID,
		WhiteTimeMs: snap.WhiteTimeMs,
		BlackTimeMs: snap.BlackTimeMs,
		SideToMove:  colorName(snap.SideToMove),
	}
	h.sendToPlayer(whiteID, msg)
	h.sendToPlayer(blackID, msg)
}

// TimeWarning implements game.Listener.
func (h *Hub) TimeWarning(playerID string, snap game.Snapshot, remainingMs int64) {
	h.sendToPlayer(playerID, &protocol.TimeoutWarning{
		Header:      protocol.NewHeader(protocol.TypeTimeoutWarning),
		GameID:      snap.ID,
		Color:       colorName(snap.SideToMove),
		RemainingMs: remainingMs,
	})
}
