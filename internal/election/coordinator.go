// Package election decides which process in the cluster owns the exclusive
// upstream feed connection. The lease lives in the coordination store; it
// expires on its own if the holder crashes, so leadership self-heals without
// operator intervention.
package election

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/callmedraxx/mevu-sub004/internal/domain"
	"github.com/google/uuid"
)

// storeTimeout bounds a single lock command against the store.
const storeTimeout = 5 * time.Second

// Role is the process's standing in the cluster.
type Role string

const (
	RoleUnelected Role = "unelected"
	RoleLeader    Role = "leader"
	RoleFollower  Role = "follower"
)

// Coordinator runs the lease state machine: one initial election, then a
// fixed cadence on which a leader renews its lease and a follower re-attempts
// the acquire. A leader that cannot renew logs a warning but keeps its role;
// demotion only happens on restart, because the TTL already guarantees the
// cluster elects a replacement once the lease expires.
type Coordinator struct {
	lock        domain.LeaderLock // nil when no coordination store is configured
	key         string
	ttl         time.Duration
	renewBefore time.Duration
	holderID    string
	logger      *slog.Logger

	mu        sync.Mutex
	role      Role
	onPromote []func()
}

// New creates a Coordinator. A nil lock means no coordination store is
// configured; Run then assumes leadership unconditionally so single-process
// deployments keep working.
func New(lock domain.LeaderLock, key string, ttl, renewBefore time.Duration, logger *slog.Logger) *Coordinator {
	host, _ := os.Hostname()
	return &Coordinator{
		lock:        lock,
		key:         key,
		ttl:         ttl,
		renewBefore: renewBefore,
		holderID:    host + "-" + uuid.NewString(),
		logger:      logger.With(slog.String("component", "election")),
		role:        RoleUnelected,
	}
}

// HolderID returns this process's lease identifier.
func (c *Coordinator) HolderID() string { return c.holderID }

// Role returns the current role.
func (c *Coordinator) Role() Role {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.role
}

// IsLeader reports whether this process currently holds the lease.
func (c *Coordinator) IsLeader() bool { return c.Role() == RoleLeader }

// OnPromote registers a callback fired once when this process becomes leader,
// whether at startup or by winning a later election. Registering after
// promotion invokes the callback immediately.
func (c *Coordinator) OnPromote(fn func()) {
	c.mu.Lock()
	already := c.role == RoleLeader
	if !already {
		c.onPromote = append(c.onPromote, fn)
	}
	c.mu.Unlock()

	if already {
		fn()
	}
}

// Run performs the initial election and then holds the renewal/retry loop
// until ctx is cancelled. On the way out it releases the lease, but only if
// this process is the recorded leader.
func (c *Coordinator) Run(ctx context.Context) error {
	if c.lock == nil {
		c.logger.Info("no coordination store configured, assuming leadership")
		c.promote()
		<-ctx.Done()
		return nil
	}

	c.attempt(ctx)

	// Renew strictly before the lease expires; followers retry the acquire
	// on the same cadence so a vacated lease is picked up within one TTL.
	interval := c.ttl - c.renewBefore
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.release()
			return nil
		case <-ticker.C:
			if c.IsLeader() {
				c.renew(ctx)
			} else {
				c.attempt(ctx)
			}
		}
	}
}

// attempt runs one conditional acquire. Contention is not an error; it just
// resolves the role to follower.
func (c *Coordinator) attempt(ctx context.Context) {
	opCtx, cancelFn := context.WithTimeout(ctx, storeTimeout)
	defer cancelFn()

	won, err := c.lock.Acquire(opCtx, c.key, c.holderID, c.ttl)
	if err != nil {
		c.logger.Warn("lease acquire failed, remaining follower", slog.Any("error", err))
		c.follow()
		return
	}
	if won {
		c.promote()
		return
	}
	c.follow()
}

func (c *Coordinator) renew(ctx context.Context) {
	opCtx, cancelFn := context.WithTimeout(ctx, storeTimeout)
	defer cancelFn()

	held, err := c.lock.Renew(opCtx, c.key, c.holderID, c.ttl)
	if err != nil {
		c.logger.Warn("lease renewal failed", slog.Any("error", err))
		return
	}
	if !held {
		// Keep the role: the TTL has already let someone else win, and a
		// mid-process demotion would tear down the feed for nothing.
		c.logger.Warn("lease no longer held by this process", slog.String("holder_id", c.holderID))
	}
}

func (c *Coordinator) promote() {
	c.mu.Lock()
	if c.role == RoleLeader {
		c.mu.Unlock()
		return
	}
	c.role = RoleLeader
	callbacks := c.onPromote
	c.onPromote = nil
	c.mu.Unlock()

	c.logger.Info("elected leader", slog.String("holder_id", c.holderID), slog.Duration("ttl", c.ttl))
	for _, fn := range callbacks {
		fn()
	}
}

func (c *Coordinator) follow() {
	c.mu.Lock()
	changed := c.role != RoleFollower
	if c.role != RoleLeader {
		c.role = RoleFollower
	}
	c.mu.Unlock()

	if changed {
		c.logger.Info("following existing leader")
	}
}

// release deletes the lease on graceful shutdown, only while this process is
// the recorded leader. A fresh context is used because the run context is
// already cancelled by the time this runs.
func (c *Coordinator) release() {
	if !c.IsLeader() {
		return
	}
	opCtx, cancelFn := context.WithTimeout(context.Background(), storeTimeout)
	defer cancelFn()

	if err := c.lock.Release(opCtx, c.key, c.holderID); err != nil {
		c.logger.Warn("lease release failed", slog.Any("error", err))
		return
	}
	c.logger.Info("released leadership", slog.String("holder_id", c.holderID))
}
