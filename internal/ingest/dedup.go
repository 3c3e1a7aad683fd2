package ingest

import (
	"sync"
	"time"
)

type lastQuote struct {
	yesBid int
	yesAsk int
	seenAt time.Time
}

// Dedup suppresses re-publication of a quote the upstream feed repeats
// without change. Keyed by ticker, it remembers the last rounded bid/ask
// pair and reports whether a new tick actually moves the price.
type Dedup struct {
	mu   sync.Mutex
	seen map[string]lastQuote
	ttl  time.Duration
}

// NewDedup builds a dedup table whose entries expire after ttl of silence.
func NewDedup(ttl time.Duration) *Dedup {
	return &Dedup{
		seen: make(map[string]lastQuote),
		ttl:  ttl,
	}
}

// Changed reports whether the quote differs from the last one recorded for
// the ticker, recording it as a side effect. The first quote for a ticker
// always counts as changed.
func (d *Dedup) Changed(ticker string, yesBid, yesAsk int) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	prev, ok := d.seen[ticker]
	d.seen[ticker] = lastQuote{yesBid: yesBid, yesAsk: yesAsk, seenAt: time.Now()}
	if !ok {
		return true
	}
	return prev.yesBid != yesBid || prev.yesAsk != yesAsk
}

// Cleanup evicts tickers that have been silent longer than the TTL. Call it
// periodically to keep the table bounded as games finish.
func (d *Dedup) Cleanup() {
	d.mu.Lock()
	defer d.mu.Unlock()

	cutoff := time.Now().Add(-d.ttl)
	for ticker, q := range d.seen {
		if q.seenAt.Before(cutoff) {
			delete(d.seen, ticker)
		}
	}
}

// Len reports the number of tracked tickers.
func (d *Dedup) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}
