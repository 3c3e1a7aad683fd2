package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/callmedraxx/mevu-sub004/internal/domain"
)

type putCall struct {
	path        string
	contentType string
	body        []byte
	multipart   bool
}

type fakeBlobWriter struct {
	mu   sync.Mutex
	err  error
	puts []putCall
}

func (w *fakeBlobWriter) Put(ctx context.Context, path string, data io.Reader, contentType string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	b, _ := io.ReadAll(data)
	w.puts = append(w.puts, putCall{path: path, contentType: contentType, body: b})
	return nil
}

func (w *fakeBlobWriter) PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	b, _ := io.ReadAll(data)
	w.puts = append(w.puts, putCall{path: path, body: b, multipart: true})
	return nil
}

func (w *fakeBlobWriter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.puts)
}

func sampleUpdate(ticker string) domain.PriceUpdate {
	return domain.PriceUpdate{
		Ticker:    ticker,
		GameID:    "nba-cha-hou-0205",
		Slug:      "cha-hou",
		Sport:     "basketball",
		YesBid:    54,
		YesAsk:    56,
		NoBid:     44,
		NoAsk:     46,
		Moneyline: true,
		Volume:    1200,
		Timestamp: 1700000000000,
	}
}

func waitUploads(t *testing.T, w *fakeBlobWriter, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if w.count() >= n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %d uploads, got %d", n, w.count())
}

var keyPattern = regexp.MustCompile(`^prices/\d{4}/\d{2}/\d{2}/\d{6}-[0-9a-f]{8}\.jsonl$`)

func TestArchiverUploadsSnapshot(t *testing.T) {
	writer := &fakeBlobWriter{}
	a := NewArchiver(writer, "prices", 8, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	a.Enqueue([]domain.PriceUpdate{
		sampleUpdate("KXNBAGAME-26FEB05CHAHOU-CHA"),
		sampleUpdate("KXNBAGAME-26FEB05CHAHOU-HOU"),
	})
	waitUploads(t, writer, 1)

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run() error = %v", err)
	}

	writer.mu.Lock()
	put := writer.puts[0]
	writer.mu.Unlock()

	if !keyPattern.MatchString(put.path) {
		t.Errorf("object key = %q, want match %q", put.path, keyPattern)
	}
	if put.contentType != "application/x-ndjson" {
		t.Errorf("content type = %q, want application/x-ndjson", put.contentType)
	}
	if put.multipart {
		t.Error("small snapshot used multipart upload")
	}

	var lines int
	scanner := bufio.NewScanner(bytes.NewReader(put.body))
	for scanner.Scan() {
		lines++
		var rec archiveRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			t.Fatalf("line %d not valid JSON: %v", lines, err)
		}
		if rec.YesBid != 54 || rec.NoAsk != 46 {
			t.Errorf("record = %+v", rec)
		}
	}
	if lines != 2 {
		t.Errorf("JSONL lines = %d, want 2", lines)
	}

	if got := a.Stats().Uploads; got != 1 {
		t.Errorf("Stats().Uploads = %d, want 1", got)
	}
}

func TestArchiverDropsWhenFull(t *testing.T) {
	writer := &fakeBlobWriter{}
	a := NewArchiver(writer, "prices", 1, slog.Default())

	// No Run loop draining; the second snapshot cannot fit.
	a.Enqueue([]domain.PriceUpdate{sampleUpdate("KXNBAGAME-A")})
	a.Enqueue([]domain.PriceUpdate{sampleUpdate("KXNBAGAME-B")})

	stats := a.Stats()
	if stats.Dropped != 1 {
		t.Errorf("Stats().Dropped = %d, want 1", stats.Dropped)
	}
	if stats.Queued != 1 {
		t.Errorf("Stats().Queued = %d, want 1", stats.Queued)
	}
}

func TestArchiverEmptySnapshotIgnored(t *testing.T) {
	writer := &fakeBlobWriter{}
	a := NewArchiver(writer, "prices", 1, slog.Default())

	a.Enqueue(nil)
	if got := a.Stats().Queued; got != 0 {
		t.Errorf("Stats().Queued = %d, want 0", got)
	}
}

func TestArchiverDrainsOnShutdown(t *testing.T) {
	writer := &fakeBlobWriter{}
	a := NewArchiver(writer, "prices", 8, slog.Default())

	a.Enqueue([]domain.PriceUpdate{sampleUpdate("KXNBAGAME-A")})
	a.Enqueue([]domain.PriceUpdate{sampleUpdate("KXNBAGAME-B")})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := a.Run(ctx); err != nil {
		t.Errorf("Run() error = %v", err)
	}

	if got := writer.count(); got != 2 {
		t.Errorf("uploads after drain = %d, want 2", got)
	}
}

func TestArchiverCountsUploadErrors(t *testing.T) {
	writer := &fakeBlobWriter{err: errors.New("bucket gone")}
	a := NewArchiver(writer, "prices", 8, slog.Default())

	a.Enqueue([]domain.PriceUpdate{sampleUpdate("KXNBAGAME-A")})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = a.Run(ctx)

	stats := a.Stats()
	if stats.Errors != 1 {
		t.Errorf("Stats().Errors = %d, want 1", stats.Errors)
	}
	if stats.Uploads != 0 {
		t.Errorf("Stats().Uploads = %d, want 0", stats.Uploads)
	}
}

func TestArchiverUsesMultipartForLargeSnapshots(t *testing.T) {
	writer := &fakeBlobWriter{}
	a := NewArchiver(writer, "prices", 8, slog.Default())

	// Enough records to cross the multipart threshold.
	big := make([]domain.PriceUpdate, 30000)
	for i := range big {
		big[i] = sampleUpdate("KXNBAGAME-26FEB05CHAHOU-CHA")
	}

	a.Enqueue(big)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = a.Run(ctx)

	writer.mu.Lock()
	defer writer.mu.Unlock()
	if len(writer.puts) != 1 {
		t.Fatalf("uploads = %d, want 1", len(writer.puts))
	}
	if !writer.puts[0].multipart {
		t.Errorf("snapshot of %d bytes did not use multipart", len(writer.puts[0].body))
	}
}

func TestEncodeJSONLRoundTrip(t *testing.T) {
	buf, err := encodeJSONL([]domain.PriceUpdate{sampleUpdate("KXNBAGAME-26FEB05CHAHOU-CHA")})
	if err != nil {
		t.Fatalf("encodeJSONL() error = %v", err)
	}

	var rec archiveRecord
	if err := json.Unmarshal(bytes.TrimSpace(buf), &rec); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if rec.Ticker != "KXNBAGAME-26FEB05CHAHOU-CHA" {
		t.Errorf("Ticker = %q", rec.Ticker)
	}
	if rec.GameID != "nba-cha-hou-0205" {
		t.Errorf("GameID = %q", rec.GameID)
	}
	if rec.Timestamp != 1700000000000 {
		t.Errorf("Timestamp = %d", rec.Timestamp)
	}
}
