package redis

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/callmedraxx/mevu-sub004/internal/domain"
	"github.com/redis/go-redis/v9"
)

// publishTimeout bounds a single outbound publish or probe command.
const publishTimeout = 5 * time.Second

// Bus implements domain.BroadcastBus over Redis Pub/Sub. One pooled client
// carries outbound publishes; one dedicated PubSub connection carries the
// inbound subscription to the fixed channel set. High-frequency channels are
// micro-batched: keyed messages buffer in a per-channel map and flush as a
// single frame every batch window.
//
// Publishing is best-effort. When no store is configured, or the readiness
// probe has marked the connection down, messages are dropped rather than
// queued; the next flush window carries fresher data anyway.
type Bus struct {
	client        *Client // nil when clustering is disabled
	logger        *slog.Logger
	batchWindow   time.Duration
	probeInterval time.Duration

	mu          sync.Mutex
	initialized bool
	usable      bool
	pubsub      *redis.PubSub
	cancel      context.CancelFunc
	wg          sync.WaitGroup

	ready atomic.Bool

	subMu  sync.RWMutex
	nextID int
	subs   map[string]map[int]func(domain.Envelope)

	batchMu sync.Mutex
	pending map[string]map[string]domain.PriceMessage
	timers  map[string]*time.Timer
}

// NewBus creates a Bus backed by the given Client. A nil client yields a
// disabled bus whose operations are all no-ops.
func NewBus(c *Client, batchWindow, probeInterval time.Duration, logger *slog.Logger) *Bus {
	return &Bus{
		client:        c,
		logger:        logger.With(slog.String("component", "broadcast_bus")),
		batchWindow:   batchWindow,
		probeInterval: probeInterval,
		subs:          make(map[string]map[int]func(domain.Envelope)),
		pending:       make(map[string]map[string]domain.PriceMessage),
		timers:        make(map[string]*time.Timer),
	}
}

// Init establishes the publisher and subscriber connections and subscribes to
// the full fixed channel set. It is idempotent: repeated calls return the
// cached result. The boolean reports whether broadcast is usable; false means
// no coordination store is configured (or the subscription failed) and every
// publish will silently drop.
func (b *Bus) Init(ctx context.Context) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.initialized {
		return b.usable
	}
	b.initialized = true

	if b.client == nil {
		b.logger.Info("no coordination store configured, broadcast disabled")
		return false
	}

	runCtx, cancel := context.WithCancel(context.Background())
	pubsub := b.client.Underlying().Subscribe(runCtx, domain.BroadcastChannels()...)

	// Confirm the subscription before declaring the bus usable.
	if _, err := pubsub.Receive(ctx); err != nil {
		b.logger.Error("broadcast subscription failed", slog.Any("error", err))
		_ = pubsub.Close()
		cancel()
		return false
	}

	b.pubsub = pubsub
	b.cancel = cancel
	b.usable = true
	b.ready.Store(true)

	b.wg.Add(2)
	go b.receiveLoop(runCtx)
	go b.probeLoop(runCtx)

	b.logger.Info("broadcast bus initialized",
		slog.Int("channels", len(domain.BroadcastChannels())),
		slog.Duration("batch_window", b.batchWindow))
	return true
}

// Ready reports whether publishes currently reach the store.
func (b *Bus) Ready() bool {
	return b.ready.Load()
}

// Publish sends one message immediately. It never returns an error: failures
// are logged and the message is dropped.
func (b *Bus) Publish(ctx context.Context, channel string, msg domain.PriceMessage) {
	if !b.ready.Load() {
		return
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		b.logger.Warn("marshal broadcast message", slog.Any("error", err))
		return
	}
	b.publishRaw(ctx, channel, raw)
}

// PublishKeyed buffers a message in the channel's micro-batch under dedupKey;
// a later message with the same key supersedes it before the window flushes.
func (b *Bus) PublishKeyed(ctx context.Context, channel, dedupKey string, msg domain.PriceMessage) {
	if !b.ready.Load() {
		return
	}

	b.batchMu.Lock()
	if b.pending[channel] == nil {
		b.pending[channel] = make(map[string]domain.PriceMessage)
	}
	b.pending[channel][dedupKey] = msg
	if b.timers[channel] == nil {
		ch := channel
		b.timers[ch] = time.AfterFunc(b.batchWindow, func() { b.flushChannel(ch) })
	}
	b.batchMu.Unlock()
}

// flushChannel drains one channel's micro-batch: a single pending message
// publishes as-is, several publish as one batch frame.
func (b *Bus) flushChannel(channel string) {
	b.batchMu.Lock()
	msgs := b.pending[channel]
	delete(b.pending, channel)
	delete(b.timers, channel)
	b.batchMu.Unlock()

	if len(msgs) == 0 {
		return
	}

	ctx, cancelFn := context.WithTimeout(context.Background(), publishTimeout)
	defer cancelFn()

	if len(msgs) == 1 {
		for _, m := range msgs {
			raw, err := json.Marshal(m)
			if err != nil {
				b.logger.Warn("marshal broadcast message", slog.Any("error", err))
				return
			}
			b.publishRaw(ctx, channel, raw)
		}
		return
	}

	items := make([]domain.PriceMessage, 0, len(msgs))
	for _, m := range msgs {
		items = append(items, m)
	}
	raw, err := domain.EncodeBatch(items)
	if err != nil {
		b.logger.Warn("encode batch frame", slog.Any("error", err))
		return
	}
	b.publishRaw(ctx, channel, raw)
}

func (b *Bus) publishRaw(ctx context.Context, channel string, raw []byte) {
	if !b.ready.Load() {
		return
	}
	if err := b.client.Underlying().Publish(ctx, channel, raw).Err(); err != nil {
		b.logger.Warn("publish failed, marking bus down",
			slog.String("channel", channel), slog.Any("error", err))
		b.ready.Store(false)
	}
}

// Subscribe registers a process-local callback for one channel and returns
// its unsubscribe handle. Callbacks run on the receive loop; a panic in one
// callback is isolated from the others.
func (b *Bus) Subscribe(channel string, fn func(domain.Envelope)) func() {
	b.subMu.Lock()
	id := b.nextID
	b.nextID++
	if b.subs[channel] == nil {
		b.subs[channel] = make(map[int]func(domain.Envelope))
	}
	b.subs[channel][id] = fn
	b.subMu.Unlock()

	return func() {
		b.subMu.Lock()
		if set, ok := b.subs[channel]; ok {
			delete(set, id)
			if len(set) == 0 {
				delete(b.subs, channel)
			}
		}
		b.subMu.Unlock()
	}
}

func (b *Bus) receiveLoop(ctx context.Context) {
	defer b.wg.Done()

	ch := b.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			env, err := domain.DecodeEnvelope([]byte(msg.Payload))
			if err != nil {
				b.logger.Warn("dropping malformed broadcast payload",
					slog.String("channel", msg.Channel), slog.Any("error", err))
				continue
			}
			b.dispatch(msg.Channel, env)
		}
	}
}

func (b *Bus) dispatch(channel string, env domain.Envelope) {
	b.subMu.RLock()
	fns := make([]func(domain.Envelope), 0, len(b.subs[channel]))
	for _, fn := range b.subs[channel] {
		fns = append(fns, fn)
	}
	b.subMu.RUnlock()

	for _, fn := range fns {
		b.invoke(channel, fn, env)
	}
}

func (b *Bus) invoke(channel string, fn func(domain.Envelope), env domain.Envelope) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("subscriber panicked",
				slog.String("channel", channel), slog.Any("panic", r))
		}
	}()
	fn(env)
}

func (b *Bus) probeLoop(ctx context.Context) {
	defer b.wg.Done()

	ticker := time.NewTicker(b.probeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancelFn := context.WithTimeout(ctx, publishTimeout)
			err := b.client.Ping(pingCtx)
			cancelFn()
			if err != nil {
				if b.ready.Swap(false) {
					b.logger.Warn("coordination store unreachable, publishes suspended",
						slog.Any("error", err))
				}
				continue
			}
			if !b.ready.Swap(true) {
				b.logger.Info("coordination store reachable again, publishes resumed")
			}
		}
	}
}

// Close stops the pumps, closes the subscriber connection, and clears every
// callback registry and pending batch. The shared Client is owned by the
// caller and stays open.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.usable {
		b.cancel()
		_ = b.pubsub.Close()
		b.wg.Wait()
		b.usable = false
	}
	b.ready.Store(false)

	b.batchMu.Lock()
	for _, t := range b.timers {
		t.Stop()
	}
	b.pending = make(map[string]map[string]domain.PriceMessage)
	b.timers = make(map[string]*time.Timer)
	b.batchMu.Unlock()

	b.subMu.Lock()
	b.subs = make(map[string]map[int]func(domain.Envelope))
	b.subMu.Unlock()

	return nil
}

// Compile-time interface check.
var _ domain.BroadcastBus = (*Bus)(nil)
