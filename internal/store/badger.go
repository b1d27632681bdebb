package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// Key prefixes. Records are JSON values under a primary key; secondary
// indexes are small keys whose value is the primary id.
const (
	keyPlayerByID    = "player:id:"
	keyPlayerByName  = "player:name:"
	keyPlayerByEmail = "player:email:"
	keySessionByID   = "session:id:"
	keySessionByTok  = "session:tok:"
	keySessionByOwn  = "session:player:"
	keyGameByID      = "game:id:"
	keyGameByPlayer  = "game:player:"
	keyGameMove      = "game:move:"
	keyGameSeq       = "seq:game"
)

// Badger is a Store backed by BadgerDB.
type Badger struct {
	db      *badger.DB
	gameSeq *badger.Sequence

	players  *badgerPlayers
	sessions *badgerSessions
	games    *badgerGames
}

// OpenBadger opens (or creates) the database in dir. An empty dir opens a
// purely in-memory database, useful for tests.
func OpenBadger(dir string) (*Badger, error) {
	opts := badger.DefaultOptions(dir)
	opts.Logger = nil // Badger's own logging is too chatty for a server log
	if dir == "" {
		opts = opts.WithInMemory(true)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}

	seq, err := db.GetSequence([]byte(keyGameSeq), 128)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("game id sequence: %w", err)
	}

	b := &Badger{db: db, gameSeq: seq}
	b.players = &badgerPlayers{db: db}
	b.sessions = &badgerSessions{db: db}
	b.games = &badgerGames{db: db, seq: seq}
	return b, nil
}

func (b *Badger) Players() PlayerStore   { return b.players }
func (b *Badger) Sessions() SessionStore { return b.sessions }
func (b *Badger) Games() GameStore       { return b.games }

// Close releases the id sequence and closes the database.
func (b *Badger) Close() error {
	if b.gameSeq != nil {
		b.gameSeq.Release()
	}
	return b.db.Close()
}

// getJSON loads and decodes the value at key into out.
func getJSON(txn *badger.Txn, key string, out any) error {
	item, err := txn.Get([]byte(key))
	if err == badger.ErrKeyNotFound {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, out)
	})
}

// setJSON encodes v and stores it at key.
func setJSON(txn *badger.Txn, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return txn.Set([]byte(key), data)
}

func keyExists(txn *badger.Txn, key string) (bool, error) {
	_, err := txn.Get([]byte(key))
	if err == badger.ErrKeyNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// forPrefix iterates all keys under prefix.
func forPrefix(txn *badger.Txn, prefix string, f func(item *badger.Item) error) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(prefix)
	it := txn.NewIterator(opts)
	defer it.Close()

	for it.Rewind(); it.Valid(); it.Next() {
		if err := f(it.Item()); err != nil {
			return err
		}
	}
	return nil
}

// badgerPlayers implements PlayerStore.
type badgerPlayers struct {
	db *badger.DB
}

func (s *badgerPlayers) Create(ctx context.Context, username, email string, passwordHash []byte, rating int) (*Player, error) {
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

	err := s.db.Update(func(txn *badger.Txn) error {
		nameKey := keyPlayerByName + strings.ToLower(username)
		emailKey := keyPlayerByEmail + strings.ToLower(email)

		if taken, err := keyExists(txn, nameKey); err != nil {
			return err
		} else if taken {
			return ErrUsernameTaken
		}
		if taken, err := keyExists(txn, emailKey); err != nil {
			return err
		} else if taken {
			return ErrEmailTaken
		}

		if err := setJSON(txn, keyPlayerByID+p.ID, p); err != nil {
			return err
		}
		if err := txn.Set([]byte(nameKey), []byte(p.ID)); err != nil {
			return err
		}
		return txn.Set([]byte(emailKey), []byte(p.ID))
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (s *badgerPlayers) GetByID(ctx context.Context, id string) (*Player, error) {
	var p Player
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, keyPlayerByID+id, &p)
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// getByIndex resolves a secondary index key to its player record.
func (s *badgerPlayers) getByIndex(key string) (*Player, error) {
	var p Player
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err == badger.ErrKeyNotFound {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		id, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		return getJSON(txn, keyPlayerByID+string(id), &p)
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *badgerPlayers) GetByUsername(ctx context.Context, username string) (*Player, error) {
	return s.getByIndex(keyPlayerByName + strings.ToLower(username))
}

func (s *badgerPlayers) GetByEmail(ctx context.Context, email string) (*Player, error) {
	return s.getByIndex(keyPlayerByEmail + strings.ToLower(email))
}

func (s *badgerPlayers) update(id string, f func(*Player)) error {
	return s.db.Update(func(txn *badger.Txn) error {
		var p Player
		if err := getJSON(txn, keyPlayerByID+id, &p); err != nil {
			return err
		}
		f(&p)
		p.UpdatedAt = time.Now()
		return setJSON(txn, keyPlayerByID+id, &p)
	})
}

func (s *badgerPlayers) UpdateLastLogin(ctx context.Context, id string) error {
	return s.update(id, func(p *Player) { p.LastLoginAt = time.Now() })
}

func (s *badgerPlayers) UpdateGameStats(ctx context.Context, id string, result StatResult) error {
	return s.update(id, func(p *Player) { applyStat(p, result) })
}

func (s *badgerPlayers) UpdateRating(ctx context.Context, id string, rating int) error {
	return s.update(id, func(p *Player) { p.Rating = rating })
}

func (s *badgerPlayers) UpdatePassword(ctx context.Context, id string, passwordHash []byte) error {
	return s.update(id, func(p *Player) { p.PasswordHash = passwordHash })
}

func (s *badgerPlayers) SetBanned(ctx context.Context, id string, banned bool, reason string) error {
	return s.update(id, func(p *Player) {
		p.Banned = banned
		p.BanReason = reason
	})
}

func (s *badgerPlayers) IsUsernameAvailable(ctx context.Context, username string) (bool, error) {
	var taken bool
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		taken, err = keyExists(txn, keyPlayerByName+strings.ToLower(username))
		return err
	})
	return !taken, err
}

func (s *badgerPlayers) IsEmailAvailable(ctx context.Context, email string) (bool, error) {
	var taken bool
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		taken, err = keyExists(txn, keyPlayerByEmail+strings.ToLower(email))
		return err
	})
	return !taken, err
}

// all loads every player record. Leaderboard and rank sort in memory; the
// player population of a single server stays small enough for that.
func (s *badgerPlayers) all() (map[string]*Player, error) {
	out := map[string]*Player{}
	err := s.db.View(func(txn *badger.Txn) error {
		return forPrefix(txn, keyPlayerByID, func(item *badger.Item) error {
			return item.Value(func(val []byte) error {
				var p Player
				if err := json.Unmarshal(val, &p); err != nil {
					return err
				}
				out[p.ID] = &p
				return nil
			})
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *badgerPlayers) Leaderboard(ctx context.Context, limit int) ([]*Player, error) {
	byID, err := s.all()
	if err != nil {
		return nil, err
	}
	return leaderboardOf(byID, limit), nil
}

func (s *badgerPlayers) Rank(ctx context.Context, id string) (int, error) {
	byID, err := s.all()
	if err != nil {
		return 0, err
	}
	me, ok := byID[id]
	if !ok {
		return 0, ErrNotFound
	}
	rank := 1
	for _, p := range byID {
		if p.Rating > me.Rating {
			rank++
		}
	}
	return rank, nil
}

func (s *badgerPlayers) TotalCount(ctx context.Context) (int, error) {
	byID, err := s.all()
	if err != nil {
		return 0, err
	}
	return len(byID), nil
}

// badgerSessions implements SessionStore.
type badgerSessions struct {
	db *badger.DB
}

func ownKey(playerID, sessionID string) string {
	return keySessionByOwn + playerID + ":" + sessionID
}

func (s *badgerSessions) Create(ctx context.Context, playerID, tokenHash string, expiresAt time.Time, origin string) (*Session, error) {
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

	err := s.db.Update(func(txn *badger.Txn) error {
		if err := setJSON(txn, keySessionByID+sess.ID, sess); err != nil {
			return err
		}
		if err := txn.Set([]byte(keySessionByTok+tokenHash), []byte(sess.ID)); err != nil {
			return err
		}
		return txn.Set([]byte(ownKey(playerID, sess.ID)), nil)
	})
	if err != nil {
		return nil, err
	}
	return sess, nil
}

func (s *badgerSessions) GetByTokenHash(ctx context.Context, tokenHash string) (*Session, error) {
	var sess Session
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keySessionByTok + tokenHash))
		if err == badger.ErrKeyNotFound {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		id, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		return getJSON(txn, keySessionByID+string(id), &sess)
	})
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

func (s *badgerSessions) update(id string, f func(*Session)) error {
	return s.db.Update(func(txn *badger.Txn) error {
		var sess Session
		if err := getJSON(txn, keySessionByID+id, &sess); err != nil {
			return err
		}
		f(&sess)
		return setJSON(txn, keySessionByID+id, &sess)
	})
}

func (s *badgerSessions) UpdateActivity(ctx context.Context, id string) error {
	return s.update(id, func(sess *Session) { sess.LastActivity = time.Now() })
}

func (s *badgerSessions) Revoke(ctx context.Context, id, reason string) error {
	return s.update(id, func(sess *Session) {
		sess.Revoked = true
		sess.RevokeReason = reason
	})
}

func (s *badgerSessions) RevokeAll(ctx context.Context, playerID, reason string) (int, error) {
	list, err := s.ListActive(ctx, playerID)
	if err != nil {
		return 0, err
	}
	for _, sess := range list {
		if err := s.Revoke(ctx, sess.ID, reason); err != nil {
			return 0, err
		}
	}
	return len(list), nil
}

func (s *badgerSessions) ListActive(ctx context.Context, playerID string) ([]*Session, error) {
	now := time.Now()
	var out []*Session

	err := s.db.View(func(txn *badger.Txn) error {
		return forPrefix(txn, keySessionByOwn+playerID+":", func(item *badger.Item) error {
			key := string(item.Key())
			sid := key[strings.LastIndex(key, ":")+1:]

			var sess Session
			if err := getJSON(txn, keySessionByID+sid, &sess); err != nil {
				if err == ErrNotFound {
					return nil // index entry outlived the record
				}
				return err
			}
			if sess.Active(now) {
				out = append(out, &sess)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *badgerSessions) ActiveCount(ctx context.Context, playerID string) (int, error) {
	list, err := s.ListActive(ctx, playerID)
	return len(list), err
}

func (s *badgerSessions) CleanupExpired(ctx context.Context) (int, error) {
	now := time.Now()
	type victim struct {
		id, playerID, tokenHash string
	}
	var victims []victim

	err := s.db.View(func(txn *badger.Txn) error {
		return forPrefix(txn, keySessionByID, func(item *badger.Item) error {
			return item.Value(func(val []byte) error {
				var sess Session
				if err := json.Unmarshal(val, &sess); err != nil {
					return err
				}
				if now.After(sess.ExpiresAt) {
					victims = append(victims, victim{sess.ID, sess.PlayerID, sess.TokenHash})
				}
				return nil
			})
		})
	})
	if err != nil {
		return 0, err
	}

	for _, v := range victims {
		err := s.db.Update(func(txn *badger.Txn) error {
			if err := txn.Delete([]byte(keySessionByID + v.id)); err != nil {
				return err
			}
			if err := txn.Delete([]byte(keySessionByTok + v.tokenHash)); err != nil {
				return err
			}
			return txn.Delete([]byte(ownKey(v.playerID, v.id)))
		})
		if err != nil {
			return 0, err
		}
	}
	return len(victims), nil
}

// badgerGames implements GameStore.
type badgerGames struct {
	db  *badger.DB
	seq *badger.Sequence
}

func gameKey(id uint64) string {
	return fmt.Sprintf("%s%020d", keyGameByID, id)
}

func moveKey(gameID uint64, moveNumber int, color string) string {
	// Color is part of the key: white and black share a move number.
	return fmt.Sprintf("%s%020d:%05d:%s", keyGameMove, gameID, moveNumber, color)
}

func (s *badgerGames) Create(ctx context.Context, whiteID, blackID, timeControl string, initialMs, incrementMs int64, whiteRating, blackRating int) (uint64, error) {
	n, err := s.seq.Next()
	if err != nil {
		return 0, err
	}
	id := n + 1 // sequence starts at zero

	g := &Game{
		ID:          id,
		WhiteID:     whiteID,
		BlackID:     blackID,
		TimeControl: timeControl,
		InitialMs:   initialMs,
		IncrementMs: incrementMs,
		WhiteRating: whiteRating,
		BlackRating: blackRating,
		CreatedAt:   time.Now(),
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		if err := setJSON(txn, gameKey(id), g); err != nil {
			return err
		}
		if err := txn.Set([]byte(keyGameByPlayer+whiteID+":"+gameKey(id)), nil); err != nil {
			return err
		}
		return txn.Set([]byte(keyGameByPlayer+blackID+":"+gameKey(id)), nil)
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (s *badgerGames) update(id uint64, f func(*Game)) error {
	return s.db.Update(func(txn *badger.Txn) error {
		var g Game
		if err := getJSON(txn, gameKey(id), &g); err != nil {
			return err
		}
		f(&g)
		return setJSON(txn, gameKey(id), &g)
	})
}

func (s *badgerGames) Complete(ctx context.Context, id uint64, result GameResult, endReason, pgn, finalFEN string, whiteDelta, blackDelta int) error {
	return s.update(id, func(g *Game) {
		g.Result = result
		g.EndReason = endReason
		g.PGN = pgn
		g.FinalFEN = finalFEN
		g.WhiteDelta = whiteDelta
		g.BlackDelta = blackDelta
		g.CompletedAt = time.Now()
	})
}

func (s *badgerGames) Abort(ctx context.Context, id uint64) error {
	return s.update(id, func(g *Game) {
		g.Aborted = true
		g.CompletedAt = time.Now()
	})
}

func (s *badgerGames) RecordMove(ctx context.Context, mv *Move) error {
	return s.db.Update(func(txn *badger.Txn) error {
		if exists, err := keyExists(txn, gameKey(mv.GameID)); err != nil {
			return err
		} else if !exists {
			return ErrNotFound
		}
		return setJSON(txn, moveKey(mv.GameID, mv.MoveNumber, mv.Color), mv)
	})
}

func (s *badgerGames) ListByPlayer(ctx context.Context, playerID string, limit, offset int) ([]*Game, error) {
	var all []*Game

	err := s.db.View(func(txn *badger.Txn) error {
		return forPrefix(txn, keyGameByPlayer+playerID+":", func(item *badger.Item) error {
			key := string(item.Key())
			gk := key[strings.LastIndex(key, ":")+1:]

			var g Game
			if err := getJSON(txn, keyGameByID+gk, &g); err != nil {
				if err == ErrNotFound {
					return nil
				}
				return err
			}
			all = append(all, &g)
			return nil
		})
	})
	if err != nil {
		return nil, err
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

func (s *badgerGames) ListMoves(ctx context.Context, id uint64) ([]*Move, error) {
	var out []*Move
	err := s.db.View(func(txn *badger.Txn) error {
		return forPrefix(txn, fmt.Sprintf("%s%020d:", keyGameMove, id), func(item *badger.Item) error {
			return item.Value(func(val []byte) error {
				var mv Move
				if err := json.Unmarshal(val, &mv); err != nil {
					return err
				}
				out = append(out, &mv)
				return nil
			})
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].MoveNumber != out[j].MoveNumber {
			return out[i].MoveNumber < out[j].MoveNumber
		}
		return out[i].Color == "white" && out[j].Color == "black"
	})
	return out, nil
}
