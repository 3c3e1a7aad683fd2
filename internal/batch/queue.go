// Package batch stages processed price updates and flushes them to storage
// and the broadcast bus on fixed timers.
package batch

import (
	"sort"
	"sync"

	"github.com/callmedraxx/mevu-sub004/internal/domain"
)

// Queues are the two latest-wins staging maps between the ingestion engine
// and the flusher: game quotes keyed by game ID and market quotes keyed by
// ticker. A repeated key overwrites the staged entry rather than appending.
type Queues struct {
	mu      sync.Mutex
	games   map[string]domain.GameQuote
	markets map[string]domain.PriceUpdate

	maxPending int
	force      chan struct{}
}

// NewQueues builds empty queues that signal a forced flush once the combined
// staged count reaches maxPending.
func NewQueues(maxPending int) *Queues {
	return &Queues{
		games:      make(map[string]domain.GameQuote),
		markets:    make(map[string]domain.PriceUpdate),
		maxPending: maxPending,
		force:      make(chan struct{}, 1),
	}
}

// PutGame stages a game quote, replacing any staged quote for the same game.
func (q *Queues) PutGame(g domain.GameQuote) {
	q.mu.Lock()
	q.games[g.GameID] = g
	over := q.overCeilingLocked()
	q.mu.Unlock()
	if over {
		q.signalForce()
	}
}

// PutMarket stages a market quote, replacing any staged quote for the same
// ticker.
func (q *Queues) PutMarket(u domain.PriceUpdate) {
	q.mu.Lock()
	q.markets[u.Ticker] = u
	over := q.overCeilingLocked()
	q.mu.Unlock()
	if over {
		q.signalForce()
	}
}

func (q *Queues) overCeilingLocked() bool {
	return len(q.games) >= q.maxPending || len(q.markets) >= q.maxPending
}

func (q *Queues) signalForce() {
	select {
	case q.force <- struct{}{}:
	default:
	}
}

// Force is pulsed when either staging map crosses the ceiling. The flusher
// answers with a combined flush of both queues.
func (q *Queues) Force() <-chan struct{} {
	return q.force
}

// Pending reports the staged counts per queue.
func (q *Queues) Pending() (games, markets int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.games), len(q.markets)
}

// TakeGames snapshots and clears the game queue in one step under the lock.
// Entries are returned in game-ID order so concurrent flushers touch rows in
// a consistent order.
func (q *Queues) TakeGames() []domain.GameQuote {
	q.mu.Lock()
	staged := q.games
	q.games = make(map[string]domain.GameQuote)
	q.mu.Unlock()

	out := make([]domain.GameQuote, 0, len(staged))
	for _, g := range staged {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GameID < out[j].GameID })
	return out
}

// TakeMarkets snapshots and clears the market queue in one step under the
// lock, returning entries in ticker order.
func (q *Queues) TakeMarkets() []domain.PriceUpdate {
	q.mu.Lock()
	staged := q.markets
	q.markets = make(map[string]domain.PriceUpdate)
	q.mu.Unlock()

	out := make([]domain.PriceUpdate, 0, len(staged))
	for _, u := range staged {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ticker < out[j].Ticker })
	return out
}
