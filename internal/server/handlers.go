package server

import (
	"context"
	"errors"
	"runtime/debug"
	"time"

	"github.com/hailam/chessnet/internal/auth"
	"github.com/hailam/chessnet/internal/board"
	"github.com/hailam/chessnet/internal/game"
	"github.com/hailam/chessnet/internal/matchmaking"
	"github.com/hailam/chessnet/internal/protocol"
	"github.com/hailam/chessnet/internal/store"
	"github.com/seekerror/logw"
)

// dispatch decodes one frame and routes it. Panics are contained here: the
// client sees INTERNAL_ERROR and the connection survives.
func (h *Hub) dispatch(ctx context.Context, c *conn, frame []byte) {
	defer func() {
		if r := recover(); r != nil {
			logw.Errorf(ctx, "handler panic: %v\n%s", r, debug.Stack())
			c.sendError(protocol.CodeInternalError, "internal server error", "")
		}
	}()

	msg, err := protocol.Decode(frame)
	if err != nil {
		var unknown *protocol.UnknownTypeError
		if errors.As(err, &unknown) {
			c.sendError(protocol.CodeUnknownMessage, err.Error(), unknown.MessageID)
		} else {
			c.sendError(protocol.CodeUnknownMessage, "malformed frame", "")
		}
		return
	}

	switch m := msg.(type) {
	case *protocol.Connect:
		h.handleConnect(c, m)
	case *protocol.Heartbeat:
		h.handleHeartbeat(c, m)
	case *protocol.Disconnect:
		c.close()
	case *protocol.Register:
		h.handleRegister(ctx, c, m)
	case *protocol.Login:
		h.handleLogin(ctx, c, m)
	case *protocol.Logout:
		h.handleLogout(ctx, c, m)
	case *protocol.FindMatch:
		h.handleFindMatch(ctx, c, m)
	case *protocol.CancelFindMatch:
		h.handleCancelFindMatch(c, m)
	case *protocol.MoveRequest:
		h.handleMoveRequest(ctx, c, m)
	case *protocol.Resign:
		h.handleResign(ctx, c, m)
	case *protocol.OfferDraw:
		h.handleOfferDraw(ctx, c, m)
	case *protocol.AcceptDraw:
		h.handleAcceptDraw(ctx, c, m)
	case *protocol.DeclineDraw:
		h.handleDeclineDraw(ctx, c, m)
	default:
		// Known type code, but not one a client may send.
		c.sendError(protocol.CodeUnknownMessage, "unexpected message direction", "")
	}
}

// requireLogin returns the connection's player id or answers NOT_LOGGED_IN.
func (h *Hub) requireLogin(c *conn, relatedID string) (string, bool) {
	playerID, _, _ := c.identity()
	if playerID == "" {
		c.sendError(protocol.CodeNotLoggedIn, "login required", relatedID)
		return "", false
	}
	return playerID, true
}

func (h *Hub) handleConnect(c *conn, m *protocol.Connect) {
	c.send(&protocol.ConnectResponse{
		Header:        protocol.NewHeader(protocol.TypeConnectResponse),
		ServerName:    serverName,
		ServerVersion: serverVersion,
		InMemory:      h.cfg.Database.UseInMemory,
	})
}

func (h *Hub) handleHeartbeat(c *conn, m *protocol.Heartbeat) {
	c.send(&protocol.HeartbeatAck{
		Header:     protocol.NewHeader(protocol.TypeHeartbeatAck),
		ServerTime: time.Now().UnixMilli(),
	})
}

func (h *Hub) handleRegister(ctx context.Context, c *conn, m *protocol.Register) {
	p, err := h.auth.Register(ctx, m.Username, m.Email, m.Password)
	if err != nil {
		code := protocol.CodeDatabaseError
		switch {
		case errors.Is(err, auth.ErrInvalidUsername):
			code = protocol.CodeInvalidUsername
		case errors.Is(err, auth.ErrWeakPassword):
			code = protocol.CodeInvalidCredentials
		case errors.Is(err, auth.ErrInvalidEmail):
			code = protocol.CodeInvalidEmail
		case errors.Is(err, store.ErrUsernameTaken):
			code = protocol.CodeUsernameTaken
		case errors.Is(err, store.ErrEmailTaken):
			code = protocol.CodeEmailTaken
		}
		c.sendError(code, err.Error(), m.MessageID)
		return
	}

	logw.Infof(ctx, "registered player %v", p.Username)
	c.send(&protocol.RegisterResponse{
		Header:   protocol.NewHeader(protocol.TypeRegisterResponse),
		Success:  true,
		PlayerID: p.ID,
	})
}

func (h *Hub) handleLogin(ctx context.Context, c *conn, m *protocol.Login) {
	p, token, err := h.auth.Login(ctx, m.Username, m.Password, c.tr.RemoteAddr())
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrAccountBanned):
			c.sendError(protocol.CodeAccountBanned, err.Error(), m.MessageID)
		case errors.Is(err, auth.ErrInvalidCredentials):
			c.sendError(protocol.CodeInvalidCredentials, "invalid username or password", m.MessageID)
		default:
			logw.Errorf(ctx, "login %v: %v", m.Username, err)
			c.sendError(protocol.CodeDatabaseError, "login failed", m.MessageID)
		}
		return
	}

	c.setIdentity(p.ID, p.Username, p.Rating, token)
	h.bindPlayer(ctx, c, p.ID)
	logw.Infof(ctx, "player %v logged in", p.Username)

	summary := &protocol.PlayerSummary{
		ID:          p.ID,
		Username:    p.Username,
		Rating:      p.Rating,
		GamesPlayed: p.GamesPlayed,
		GamesWon:    p.GamesWon,
		GamesLost:   p.GamesLost,
		GamesDrawn:  p.GamesDrawn,
	}
	if rank, err := h.st.Players().Rank(ctx, p.ID); err == nil {
		summary.Rank = rank
	}

	c.send(&protocol.LoginResponse{
		Header:  protocol.NewHeader(protocol.TypeLoginResponse),
		Success: true,
		Token:   token,
		Player:  summary,
	})
}

func (h *Hub) handleLogout(ctx context.Context, c *conn, m *protocol.Logout) {
	playerID, ok := h.requireLogin(c, m.MessageID)
	if !ok {
		return
	}

	token := m.Token
	if token == "" {
		c.mu.Lock()
		token = c.token
		c.mu.Unlock()
	}
	if err := h.auth.Revoke(ctx, token, "logout"); err != nil {
		logw.Debugf(ctx, "logout %v: %v", playerID, err)
	}

	h.mm.Cancel(playerID)
	h.mu.Lock()
	if h.byPlayer[playerID] == c {
		delete(h.byPlayer, playerID)
	}
	h.mu.Unlock()
	c.clearIdentity()
}

func (h *Hub) handleFindMatch(ctx context.Context, c *conn, m *protocol.FindMatch) {
	playerID, ok := h.requireLogin(c, m.MessageID)
	if !ok {
		return
	}
	if _, busy := h.gm.GameOf(playerID); busy {
		c.sendError(protocol.CodeSessionError, "already in a game", m.MessageID)
		return
	}

	_, username, rating := c.identity()
	initial := m.InitialMs
	if initial <= 0 {
		initial = 300_000
	}
	tc := m.TimeControl
	if tc == "" {
		tc = "blitz"
	}

	h.mm.Enqueue(matchmaking.Request{
		PlayerID:    playerID,
		Username:    username,
		Rating:      rating,
		TimeControl: tc,
		InitialMs:   initial,
		IncrementMs: m.IncrementMs,
		InitialBand: h.cfg.Matchmaking.DefaultRatingRange,
	})
	logw.Debugf(ctx, "player %v queued for %v", username, tc)

	c.send(&protocol.QueueStatus{
		Header:    protocol.NewHeader(protocol.TypeQueueStatus),
		InQueue:   true,
		Position:  h.mm.PositionOf(playerID),
		QueueSize: h.mm.Len(),
	})
}

func (h *Hub) handleCancelFindMatch(c *conn, m *protocol.CancelFindMatch) {
	playerID, ok := h.requireLogin(c, m.MessageID)
	if !ok {
		return
	}
	h.mm.Cancel(playerID)
	c.send(&protocol.QueueStatus{
		Header:  protocol.NewHeader(protocol.TypeQueueStatus),
		InQueue: false,
	})
}

func (h *Hub) handleMoveRequest(ctx context.Context, c *conn, m *protocol.MoveRequest) {
	playerID, ok := h.requireLogin(c, m.MessageID)
	if !ok {
		return
	}
	if m.Token != "" {
		if _, err := h.auth.VerifyQuick(ctx, m.Token); err != nil {
			c.sendError(protocol.CodeInvalidToken, "session token rejected", m.MessageID)
			return
		}
	}

	gameID := m.GameID
	if gameID == "" {
		if s, ok := h.gm.GameOf(playerID); ok {
			gameID = s.ID()
		}
	}

	res, err := h.gm.ProcessMove(ctx, gameID, playerID, m.From, m.To, m.Promotion, m.Sequence)
	if err != nil {
		h.sendMoveFailure(c, m, gameID, err)
		return
	}

	rec, snap := res.Record, res.Snapshot
	c.send(&protocol.MoveResponse{
		Header:      protocol.NewHeader(protocol.TypeMoveResponse),
		Success:     true,
		GameID:      gameID,
		SAN:         rec.SAN,
		FEN:         rec.FENAfter,
		IsCheck:     rec.Flags.Has(board.FlagCheck),
		IsCheckmate: rec.Flags.Has(board.FlagCheckmate),
		WhiteTimeMs: snap.WhiteTimeMs,
		BlackTimeMs: snap.BlackTimeMs,
		Sequence:    snap.MoveSequence,
	})

	opponent := snap.White.ID
	if opponent == playerID {
		opponent = snap.Black.ID
	}
	h.sendToPlayer(opponent, &protocol.MoveNotification{
		Header:      protocol.NewHeader(protocol.TypeMoveNotification),
		GameID:      gameID,
		Move:        rec.Notation(),
		SAN:         rec.SAN,
		FEN:         rec.FENAfter,
		IsCheck:     rec.Flags.Has(board.FlagCheck),
		IsCheckmate: rec.Flags.Has(board.FlagCheckmate),
		WhiteTimeMs: snap.WhiteTimeMs,
		BlackTimeMs: snap.BlackTimeMs,
		Sequence:    snap.MoveSequence,
	})
}

func (h *Hub) sendMoveFailure(c *conn, m *protocol.MoveRequest, gameID string, err error) {
	var ve *board.ValidationError
	switch {
	case errors.As(err, &ve):
		c.send(&protocol.MoveResponse{
			Header:  protocol.NewHeader(protocol.TypeMoveResponse),
			GameID:  gameID,
			Reason:  string(ve.Reason),
			Message: ve.Error(),
		})
	case errors.Is(err, game.ErrNotYourTurn):
		c.send(&protocol.MoveResponse{
			Header:  protocol.NewHeader(protocol.TypeMoveResponse),
			GameID:  gameID,
			Reason:  string(board.ReasonNotYourTurn),
			Message: err.Error(),
		})
	case errors.Is(err, game.ErrGameNotInProgress):
		c.send(&protocol.MoveResponse{
			Header:  protocol.NewHeader(protocol.TypeMoveResponse),
			GameID:  gameID,
			Reason:  "GameNotInProgress",
			Message: err.Error(),
		})
	case errors.Is(err, game.ErrGameNotFound), errors.Is(err, game.ErrNotParticipant):
		c.sendError(protocol.CodeSessionError, err.Error(), m.MessageID)
	default:
		c.sendError(protocol.CodeInternalError, err.Error(), m.MessageID)
	}
}

// gameFor resolves the session an action applies to, preferring the
// explicit id and falling back to the player's active game.
func (h *Hub) gameFor(c *conn, playerID, gameID, relatedID string) (*game.Session, bool) {
	if gameID != "" {
		if s, ok := h.gm.Game(gameID); ok && s.ColorOf(playerID) != board.NoColor {
			return s, true
		}
		c.sendError(protocol.CodeSessionError, "game not found", relatedID)
		return nil, false
	}
	s, ok := h.gm.GameOf(playerID)
	if !ok {
		c.sendError(protocol.CodeSessionError, "not in a game", relatedID)
		return nil, false
	}
	return s, true
}

func (h *Hub) handleResign(ctx context.Context, c *conn, m *protocol.Resign) {
	playerID, ok := h.requireLogin(c, m.MessageID)
	if !ok {
		return
	}
	s, ok := h.gameFor(c, playerID, m.GameID, m.MessageID)
	if !ok {
		return
	}
	if err := h.gm.HandleResignation(ctx, s.ID(), playerID); err != nil {
		c.sendError(protocol.CodeSessionError, err.Error(), m.MessageID)
	}
}

func (h *Hub) handleOfferDraw(ctx context.Context, c *conn, m *protocol.OfferDraw) {
	playerID, ok := h.requireLogin(c, m.MessageID)
	if !ok {
		return
	}
	s, ok := h.gameFor(c, playerID, m.GameID, m.MessageID)
	if !ok {
		return
	}

	color := s.ColorOf(playerID)
	if !s.OfferDraw(color) {
		c.sendError(protocol.CodeSessionError, "cannot offer a draw now", m.MessageID)
		return
	}
	h.sendToPlayer(s.Player(color.Other()).ID, &protocol.DrawOffered{
		Header: protocol.NewHeader(protocol.TypeDrawOffered),
		GameID: s.ID(),
		From:   colorName(color),
	})
}

func (h *Hub) handleAcceptDraw(ctx context.Context, c *conn, m *protocol.AcceptDraw) {
	playerID, ok := h.requireLogin(c, m.MessageID)
	if !ok {
		return
	}
	s, ok := h.gameFor(c, playerID, m.GameID, m.MessageID)
	if !ok {
		return
	}
	if err := h.gm.HandleDrawAccepted(ctx, s.ID(), playerID); err != nil {
		c.sendError(protocol.CodeSessionError, err.Error(), m.MessageID)
	}
}

func (h *Hub) handleDeclineDraw(ctx context.Context, c *conn, m *protocol.DeclineDraw) {
	playerID, ok := h.requireLogin(c, m.MessageID)
	if !ok {
		return
	}
	s, ok := h.gameFor(c, playerID, m.GameID, m.MessageID)
	if !ok {
		return
	}

	from, had := s.DeclineDraw()
	if !had {
		c.sendError(protocol.CodeSessionError, "no draw offer to decline", m.MessageID)
		return
	}
	h.sendToPlayer(s.Player(from).ID, &protocol.Error{
		Header:  protocol.NewHeader(protocol.TypeError),
		Code:    protocol.CodeDrawDeclined,
		Message: "draw offer declined",
	})
}
