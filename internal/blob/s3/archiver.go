package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/callmedraxx/mevu-sub004/internal/domain"
	"github.com/google/uuid"
)

const (
	// uploadTimeout bounds a single object upload.
	uploadTimeout = 30 * time.Second

	// multipartThreshold switches an upload to the multipart manager.
	multipartThreshold = 5 * 1024 * 1024

	// defaultQueueSize is the snapshot buffer depth.
	defaultQueueSize = 64
)

// archiveRecord is one JSONL line of an archived snapshot.
type archiveRecord struct {
	Ticker    string `json:"ticker"`
	GameID    string `json:"game_id"`
	Slug      string `json:"slug,omitempty"`
	Sport     string `json:"sport,omitempty"`
	YesBid    int    `json:"yes_bid"`
	YesAsk    int    `json:"yes_ask"`
	NoBid     int    `json:"no_bid"`
	NoAsk     int    `json:"no_ask"`
	Volume    int64  `json:"volume"`
	Timestamp int64  `json:"ts"`
}

// Stats counts archiver activity since start.
type Stats struct {
	Uploads int64 `json:"uploads"`
	Dropped int64 `json:"dropped"`
	Errors  int64 `json:"errors"`
	Queued  int   `json:"queued"`
}

// Archiver drains flushed market snapshots to object storage as JSONL, one
// object per flush. Archival is best-effort: Enqueue never blocks the flush
// path, and a full buffer drops the snapshot.
type Archiver struct {
	writer domain.BlobWriter
	prefix string
	logger *slog.Logger

	queue   chan []domain.PriceUpdate
	uploads atomic.Int64
	dropped atomic.Int64
	errors  atomic.Int64
}

// NewArchiver creates an archiver writing date-partitioned objects under
// prefix.
func NewArchiver(writer domain.BlobWriter, prefix string, queueSize int, logger *slog.Logger) *Archiver {
	if prefix == "" {
		prefix = "prices"
	}
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}

	return &Archiver{
		writer: writer,
		prefix: prefix,
		logger: logger.With(slog.String("component", "archiver")),
		queue:  make(chan []domain.PriceUpdate, queueSize),
	}
}

// Enqueue hands a flushed snapshot to the upload loop without blocking.
func (a *Archiver) Enqueue(updates []domain.PriceUpdate) {
	if len(updates) == 0 {
		return
	}

	select {
	case a.queue <- updates:
	default:
		a.dropped.Add(1)
		a.logger.Debug("archive buffer full, snapshot dropped", slog.Int("updates", len(updates)))
	}
}

// Run uploads queued snapshots until ctx is cancelled, then drains whatever
// is still buffered.
func (a *Archiver) Run(ctx context.Context) error {
	a.logger.Info("archiver started", slog.String("prefix", a.prefix))
	defer a.logger.Info("archiver stopped")

	for {
		select {
		case <-ctx.Done():
			a.drain()
			return nil
		case updates := <-a.queue:
			a.upload(ctx, updates)
		}
	}
}

// Stats reports activity counters.
func (a *Archiver) Stats() Stats {
	return Stats{
		Uploads: a.uploads.Load(),
		Dropped: a.dropped.Load(),
		Errors:  a.errors.Load(),
		Queued:  len(a.queue),
	}
}

// drain uploads buffered snapshots at shutdown, bounded by one upload
// timeout overall.
func (a *Archiver) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), uploadTimeout)
	defer cancel()

	for {
		select {
		case updates := <-a.queue:
			a.upload(ctx, updates)
		default:
			return
		}
	}
}

func (a *Archiver) upload(ctx context.Context, updates []domain.PriceUpdate) {
	buf, err := encodeJSONL(updates)
	if err != nil {
		a.errors.Add(1)
		a.logger.Error("archive encode failed", slog.Any("error", err))
		return
	}

	key := a.objectKey(time.Now().UTC())

	uctx, cancel := context.WithTimeout(ctx, uploadTimeout)
	defer cancel()

	if int64(len(buf)) >= multipartThreshold {
		err = a.writer.PutMultipart(uctx, key, bytes.NewReader(buf), multipartThreshold)
	} else {
		err = a.writer.Put(uctx, key, bytes.NewReader(buf), "application/x-ndjson")
	}
	if err != nil {
		a.errors.Add(1)
		a.logger.Warn("archive upload failed", slog.String("key", key), slog.Any("error", err))
		return
	}

	a.uploads.Add(1)
	a.logger.Debug("snapshot archived",
		slog.String("key", key),
		slog.Int("updates", len(updates)),
	)
}

// objectKey builds the date-partitioned object name, e.g.
// prices/2026/08/23/203344-5f3a9c1e.jsonl.
func (a *Archiver) objectKey(now time.Time) string {
	id := uuid.NewString()[:8]
	return fmt.Sprintf("%s/%s/%s-%s.jsonl", a.prefix, now.Format("2006/01/02"), now.Format("150405"), id)
}

// encodeJSONL serializes updates as newline-delimited JSON, one compact
// record per line.
func encodeJSONL(updates []domain.PriceUpdate) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, u := range updates {
		rec := archiveRecord{
			Ticker:    u.Ticker,
			GameID:    u.GameID,
			Slug:      u.Slug,
			Sport:     u.Sport,
			YesBid:    u.YesBid,
			YesAsk:    u.YesAsk,
			NoBid:     u.NoBid,
			NoAsk:     u.NoAsk,
			Volume:    u.Volume,
			Timestamp: u.Timestamp,
		}
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("encode record %d: %w", i, err)
		}
	}

	return buf.Bytes(), nil
}
