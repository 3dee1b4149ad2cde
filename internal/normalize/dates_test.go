package normalize

import (
	"testing"
	"time"
)

func d(s string) time.Time {
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestParseDate(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"2025-03-01", "2025-03-01", true},
		{"2025/3/1", "2025-03-01", true},
		{"2025.03.01", "2025-03-01", true},
		{"2025年3月1日", "2025-03-01", true},
		{"2025-03-01T19:00:00+09:00", "2025-03-01", true},
		{"2025-02-30", "", false},
		{"2025-13-01", "", false},
		{"March 1", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := ParseDate(tt.in)
		if ok != tt.ok {
			t.Errorf("ParseDate(%q) ok = %v, want %v", tt.in, ok, tt.ok)
			continue
		}
		if ok && !got.Equal(d(tt.want)) {
			t.Errorf("ParseDate(%q) = %s, want %s", tt.in, got.Format(time.DateOnly), tt.want)
		}
	}
}

func TestParseDateRange(t *testing.T) {
	tests := []struct {
		name      string
		in        string
		wantStart string
		wantEnd   string
		ok        bool
	}{
		{"en dash with days", "2025.03.01 (SAT) – 03.05 (WED)", "2025-03-01", "2025-03-05", true},
		{"em dash", "2025.03.01 (SAT) — 03.05 (WED)", "2025-03-01", "2025-03-05", true},
		{"hyphen", "2025.03.01 - 03.05", "2025-03-01", "2025-03-05", true},
		{"tilde", "2025.03.01~03.05", "2025-03-01", "2025-03-05", true},
		{"wave dash", "2025.03.01（土）〜03.05（水）", "2025-03-01", "2025-03-05", true},
		{"explicit end year", "2025.12.28 (SUN) – 2026.01.04 (SUN)", "2025-12-28", "2026-01-04", true},
		{"end without year keeps start year", "2025.12.28 (SUN) – 01.04 (SUN)", "2025-12-28", "2025-01-04", true},
		{"single date", "2025.03.01 (SAT)", "2025-03-01", "2025-03-01", true},
		{"embedded in prose", "Exhibition period: 2025.04.10 (THU) – 05.06 (TUE) closed Mondays", "2025-04-10", "2025-05-06", true},
		{"kanji range", "2025年3月1日（土）〜3月5日（水）", "2025-03-01", "2025-03-05", true},
		{"kanji same month", "2025年3月1日〜5日", "2025-03-01", "2025-03-05", true},
		{"kanji single", "2025年3月1日（土）", "2025-03-01", "2025-03-01", true},
		{"no date", "every weekend", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start, end, ok := ParseDateRange(tt.in)
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if !ok {
				return
			}
			if !start.Equal(d(tt.wantStart)) || !end.Equal(d(tt.wantEnd)) {
				t.Errorf("got %s..%s, want %s..%s", start.Format(time.DateOnly), end.Format(time.DateOnly), tt.wantStart, tt.wantEnd)
			}
		})
	}
}
