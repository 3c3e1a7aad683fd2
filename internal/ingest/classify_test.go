package ingest

import (
	"testing"

	"github.com/callmedraxx/mevu-sub004/internal/domain"
)

func TestIsMoneyline(t *testing.T) {
	tests := []struct {
		name   string
		ticker string
		want   bool
	}{
		{"bare team code", "KXNBAGAME-26FEB05CHAHOU-CHA", true},
		{"bare four letter code", "KXNCAAFGAME-26SEP05OSUMICH-MICH", true},
		{"spread marker", "KXNBASPREAD-26FEB05CHAHOU-CHA4", false},
		{"total marker", "KXNBATOTAL-26FEB05CHAHOU-T220", false},
		{"total marker beats binary prefix", "KXUFCTOTAL-26FEB07DOEROE-R2", false},
		{"binary series prefix", "KXUFC-26FEB07-DOEROE", true},
		{"binary prefix beats long suffix", "KXBOXING-26MAR01-ALVAREZ", true},
		{"code with digits is a line", "KXNBAGAME-26FEB05CHAHOU-CHA4", false},
		{"draw outcome", "KXEPLGAME-26FEB05ARSCHE-DRAW", false},
		{"tie outcome", "KXNFLGAME-26FEB05DALPHI-TIE", false},
		{"five letter suffix", "KXNBAGAME-26FEB05CHAHOU-HOUST", false},
		{"single letter suffix", "KXNBAGAME-26FEB05CHAHOU-C", false},
		{"no separator", "KXNBAGAME", false},
		{"trailing separator", "KXNBAGAME-26FEB05CHAHOU-", false},
		{"lowercase input", "kxnbagame-26feb05chahou-cha", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsMoneyline(tt.ticker); got != tt.want {
				t.Errorf("IsMoneyline(%q) = %v, want %v", tt.ticker, got, tt.want)
			}
		})
	}
}

func TestTrailingCode(t *testing.T) {
	tests := []struct {
		ticker string
		want   string
	}{
		{"KXNBAGAME-26FEB05CHAHOU-CHA", "CHA"},
		{"KXNBAGAME-26FEB05CHAHOU-CHA4", ""},
		{"KXEPLGAME-26FEB05ARSCHE-DRAW", ""},
		{"KXNFLGAME-26FEB05DALPHI-TIE", ""},
		{"kxnbagame-26feb05chahou-hou", "HOU"},
		{"KXNBAGAME", ""},
		{"KXUFC-26FEB07-ALVAREZ", ""},
	}

	for _, tt := range tests {
		if got := TrailingCode(tt.ticker); got != tt.want {
			t.Errorf("TrailingCode(%q) = %q, want %q", tt.ticker, got, tt.want)
		}
	}
}

func TestNormalizeAbbr(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"WSH", "WAS"},
		{"JAX", "JAC"},
		{"CHO", "CHA"},
		{"PHX", "PHO"},
		{"NOP", "NO"},
		{"gsw", "GS"},
		{"SAS", "SA"},
		{"CHA", "CHA"},
		{" hou ", "HOU"},
	}

	for _, tt := range tests {
		if got := NormalizeAbbr(tt.in); got != tt.want {
			t.Errorf("NormalizeAbbr(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestResolveSide(t *testing.T) {
	m := &domain.TickerMapping{AwayAbbr: "CHA", HomeAbbr: "HOU"}

	tests := []struct {
		name     string
		mapping  *domain.TickerMapping
		code     string
		wantAway bool
		wantHome bool
		wantOK   bool
	}{
		{"away match", m, "CHA", true, false, true},
		{"home match", m, "HOU", false, true, true},
		{"no match", m, "BOS", false, false, false},
		{"empty code", m, "", false, false, false},
		{"alias resolves", &domain.TickerMapping{AwayAbbr: "WAS", HomeAbbr: "DAL"}, "WSH", true, false, true},
		{"alias in mapping", &domain.TickerMapping{AwayAbbr: "CHO", HomeAbbr: "HOU"}, "CHA", true, false, true},
		{"identical abbrs ambiguous", &domain.TickerMapping{AwayAbbr: "SMI", HomeAbbr: "SMI"}, "SMI", false, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			away, home, ok := ResolveSide(tt.mapping, tt.code)
			if away != tt.wantAway || home != tt.wantHome || ok != tt.wantOK {
				t.Errorf("ResolveSide(%q) = (%v, %v, %v), want (%v, %v, %v)",
					tt.code, away, home, ok, tt.wantAway, tt.wantHome, tt.wantOK)
			}
		})
	}
}

func TestIsTwoTickerSport(t *testing.T) {
	if !IsTwoTickerSport("tennis") {
		t.Error("tennis should be a two-ticker sport")
	}
	if !IsTwoTickerSport("Boxing") {
		t.Error("sport check should be case-insensitive")
	}
	if IsTwoTickerSport("basketball") {
		t.Error("basketball is not a two-ticker sport")
	}
}
