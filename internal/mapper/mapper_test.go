package mapper

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/callmedraxx/mevu-sub004/internal/domain"
)

type fakeStore struct {
	mappings []domain.TickerMapping
	err      error
	loads    int
}

func (s *fakeStore) LoadAll(context.Context) ([]domain.TickerMapping, error) {
	s.loads++
	return s.mappings, s.err
}

func (s *fakeStore) Upsert(context.Context, domain.TickerMapping) error { return nil }

func TestMapper_RefreshAndLookup(t *testing.T) {
	store := &fakeStore{mappings: []domain.TickerMapping{
		{Ticker: "KX-A", GameID: "g1", AwayAbbr: "CHA", HomeAbbr: "HOU"},
		{Ticker: "KX-B", GameID: "g2", AwayAbbr: "BOS", HomeAbbr: "LAL"},
	}}
	m := New(store, slog.Default())

	if got := m.MappingFor("KX-A"); got != nil {
		t.Errorf("lookup before refresh = %+v, want nil", got)
	}

	if err := m.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	got := m.MappingFor("KX-A")
	if got == nil || got.GameID != "g1" {
		t.Fatalf("MappingFor(KX-A) = %+v, want game g1", got)
	}
	if m.MappingFor("KX-MISSING") != nil {
		t.Error("unknown ticker should resolve to nil")
	}
	if m.Size() != 2 {
		t.Errorf("Size = %d, want 2", m.Size())
	}
}

func TestMapper_LookupReturnsCopy(t *testing.T) {
	store := &fakeStore{mappings: []domain.TickerMapping{{Ticker: "KX-A", GameID: "g1"}}}
	m := New(store, slog.Default())
	if err := m.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	first := m.MappingFor("KX-A")
	first.GameID = "mutated"

	if got := m.MappingFor("KX-A"); got.GameID != "g1" {
		t.Errorf("snapshot mutated through a lookup result: GameID = %s", got.GameID)
	}
}

func TestMapper_AllTickersSorted(t *testing.T) {
	store := &fakeStore{mappings: []domain.TickerMapping{
		{Ticker: "KX-C"}, {Ticker: "KX-A"}, {Ticker: "KX-B"},
	}}
	m := New(store, slog.Default())
	if err := m.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	got := m.AllTickers()
	want := []string{"KX-A", "KX-B", "KX-C"}
	if len(got) != len(want) {
		t.Fatalf("AllTickers len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("AllTickers[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestMapper_FailedRefreshKeepsSnapshot(t *testing.T) {
	store := &fakeStore{mappings: []domain.TickerMapping{{Ticker: "KX-A", GameID: "g1"}}}
	m := New(store, slog.Default())
	if err := m.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	store.err = errors.New("connection refused")
	if err := m.Refresh(context.Background()); err == nil {
		t.Fatal("expected refresh error")
	}

	if got := m.MappingFor("KX-A"); got == nil || got.GameID != "g1" {
		t.Errorf("previous snapshot lost after failed refresh: %+v", got)
	}
}

func TestMapper_OnRefreshFires(t *testing.T) {
	store := &fakeStore{}
	m := New(store, slog.Default())

	fired := 0
	m.OnRefresh(func() { fired++ })

	if err := m.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if fired != 1 {
		t.Errorf("callback fired %d times, want 1", fired)
	}

	store.err = errors.New("down")
	_ = m.Refresh(context.Background())
	if fired != 1 {
		t.Errorf("callback fired on failed refresh: %d", fired)
	}
}
