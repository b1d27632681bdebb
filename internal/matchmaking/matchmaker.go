// Package matchmaking implements the rating-banded FIFO queue. A single
// sweep loop expands each request's rating band over time and pairs the
// closest-rated compatible players within a time-control bucket.
package matchmaking

import (
	"context"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/hailam/chessnet/internal/config"
	"github.com/seekerror/logw"
)

// Request is one in-queue entry. A player holds at most one.
type Request struct {
	PlayerID    string
	Username    string
	Rating      int
	TimeControl string
	InitialMs   int64
	IncrementMs int64
	InitialBand int
	QueuedAt    time.Time
}

// band returns the request's rating band at the given instant, grown by one
// expansion amount per elapsed interval and capped at the maximum.
func (r *Request) band(now time.Time, cfg config.Matchmaking) int {
	interval := time.Duration(cfg.RatingExpansionIntervalSeconds) * time.Second
	if interval <= 0 {
		return r.InitialBand
	}
	expansions := int(now.Sub(r.QueuedAt) / interval)
	b := r.InitialBand + expansions*cfg.RatingExpansionAmount
	if b > cfg.MaxRatingRange {
		b = cfg.MaxRatingRange
	}
	return b
}

// Pairing is an emitted match with colors already assigned.
type Pairing struct {
	White Request
	Black Request
}

// Matchmaker pairs queued players. The consumer callback runs on the sweep
// goroutine and must not block for long.
type Matchmaker struct {
	cfg     config.Matchmaking
	onMatch func(Pairing)

	mu    sync.Mutex
	queue map[string]*Request
}

func New(cfg config.Matchmaking, onMatch func(Pairing)) *Matchmaker {
	return &Matchmaker{
		cfg:     cfg,
		onMatch: onMatch,
		queue:   map[string]*Request{},
	}
}

// Enqueue adds a request, replacing any earlier request by the same player.
func (m *Matchmaker) Enqueue(req Request) {
	if req.QueuedAt.IsZero() {
		req.QueuedAt = time.Now()
	}
	if req.InitialBand <= 0 {
		req.InitialBand = m.cfg.DefaultRatingRange
	}

	m.mu.Lock()
	m.queue[req.PlayerID] = &req
	m.mu.Unlock()
}

// Cancel removes the player's request if present.
func (m *Matchmaker) Cancel(playerID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.queue[playerID]; !ok {
		return false
	}
	delete(m.queue, playerID)
	return true
}

// PositionOf returns the player's 1-based rank among requests queued no
// later than theirs, or 0 if not queued.
func (m *Matchmaker) PositionOf(playerID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	mine, ok := m.queue[playerID]
	if !ok {
		return 0
	}
	pos := 1
	for id, r := range m.queue {
		if id != playerID && !r.QueuedAt.After(mine.QueuedAt) {
			pos++
		}
	}
	return pos
}

// Len returns the number of queued requests.
func (m *Matchmaker) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

// Run sweeps the queue every second until ctx is cancelled.
func (m *Matchmaker) Run(ctx context.Context) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			for _, p := range m.sweep(now) {
				logw.Infof(ctx, "matched %v (%d) vs %v (%d) at %v",
					p.White.Username, p.White.Rating, p.Black.Username, p.Black.Rating, p.White.TimeControl)
				if m.onMatch != nil {
					m.onMatch(p)
				}
			}
		}
	}
}

// sweep performs one pairing pass over a snapshot of the queue. Both sides
// of a pairing are removed only if still present, so a request cancelled
// mid-sweep is never paired.
func (m *Matchmaker) sweep(now time.Time) []Pairing {
	m.mu.Lock()
	snapshot := make([]*Request, 0, len(m.queue))
	for _, r := range m.queue {
		snapshot = append(snapshot, r)
	}
	m.mu.Unlock()

	// Partition by time control, oldest first within each bucket.
	buckets := map[string][]*Request{}
	for _, r := range snapshot {
		buckets[r.TimeControl] = append(buckets[r.TimeControl], r)
	}

	var out []Pairing
	for _, bucket := range buckets {
		sort.Slice(bucket, func(i, j int) bool { return bucket[i].QueuedAt.Before(bucket[j].QueuedAt) })

		matched := make([]bool, len(bucket))
		for i, a := range bucket {
			if matched[i] {
				continue
			}
			bandA := a.band(now, m.cfg)

			best := -1
			bestDiff := 0
			for j := i + 1; j < len(bucket); j++ {
				if matched[j] {
					continue
				}
				b := bucket[j]
				diff := abs(a.Rating - b.Rating)
				limit := min(bandA, b.band(now, m.cfg))
				if diff > limit {
					continue
				}
				if best < 0 || diff < bestDiff {
					best, bestDiff = j, diff
				}
			}
			if best < 0 {
				continue
			}

			if p, ok := m.take(a, bucket[best]); ok {
				matched[i], matched[best] = true, true
				out = append(out, p)
			}
		}
	}
	return out
}

// take removes both requests from the live queue, failing if either was
// cancelled or replaced since the snapshot. Colors are assigned at random.
func (m *Matchmaker) take(a, b *Request) (Pairing, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.queue[a.PlayerID] != a || m.queue[b.PlayerID] != b {
		return Pairing{}, false
	}
	delete(m.queue, a.PlayerID)
	delete(m.queue, b.PlayerID)

	if rand.Intn(2) == 0 {
		a, b = b, a
	}
	return Pairing{White: *a, Black: *b}, true
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
