package normalize

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	dps "github.com/markusmobius/go-dateparser"

	"github.com/Togather-Foundation/catalog/internal/domain/events"
)

var (
	// 2025-03-01, 2025/3/1, 2025.03.01, 2025年3月1日, optionally followed by a time.
	isoishDate = regexp.MustCompile(`^\s*(\d{4})\s*[-/.年]\s*(\d{1,2})\s*[-/.月]\s*(\d{1,2})\s*日?`)

	// 2025.03.01 (SAT) – 03.05 (WED), with an optional year on the second date.
	dottedRange = regexp.MustCompile(
		`(\d{4})[./-](\d{1,2})[./-](\d{1,2})\s*(?:[(（][^)）]*[)）])?` +
			`(?:\s*[–—\-~〜～]\s*(?:(\d{4})[./-])?(\d{1,2})[./-](\d{1,2})\s*(?:[(（][^)）]*[)）])?)?`)

	// 2025年3月1日（土）〜3月5日（水）, or 〜5日 for a same-month end.
	kanjiRange = regexp.MustCompile(
		`(\d{4})年\s*(\d{1,2})月\s*(\d{1,2})日\s*(?:[(（][^)）]*[)）])?` +
			`(?:\s*[–—\-~〜～]\s*(?:(\d{4})年)?\s*(?:(\d{1,2})月)?\s*(\d{1,2})日)?`)
)

// ParseDate reads a calendar date in one of the direct-field layouts.
func ParseDate(raw string) (time.Time, bool) {
	m := isoishDate.FindStringSubmatch(raw)
	if m == nil {
		return time.Time{}, false
	}
	return makeDate(m[1], m[2], m[3])
}

// ParseDateRange applies the free-text range rule. The end date takes the
// start year unless it names its own, so "12.28 – 01.04" yields an end
// before the start and is left for validation to reject. A single date
// yields start == end.
func ParseDateRange(raw string) (start, end time.Time, ok bool) {
	for _, pattern := range []*regexp.Regexp{dottedRange, kanjiRange} {
		m := pattern.FindStringSubmatch(raw)
		if m == nil {
			continue
		}
		start, ok = makeDate(m[1], m[2], m[3])
		if !ok {
			continue
		}
		if m[6] == "" {
			return start, start, true
		}
		year := m[4]
		if year == "" {
			year = strconv.Itoa(start.Year())
		}
		month := m[5]
		if month == "" {
			month = strconv.Itoa(int(start.Month()))
		}
		end, ok = makeDate(year, month, m[6])
		if !ok {
			return start, start, true
		}
		return start, end, true
	}
	return time.Time{}, time.Time{}, false
}

func makeDate(y, m, d string) (time.Time, bool) {
	year, err1 := strconv.Atoi(y)
	month, err2 := strconv.Atoi(m)
	day, err3 := strconv.Atoi(d)
	if err1 != nil || err2 != nil || err3 != nil {
		return time.Time{}, false
	}
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return time.Time{}, false
	}
	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	// Reject normalized overflow such as Feb 30.
	if t.Month() != time.Month(month) || t.Day() != day {
		return time.Time{}, false
	}
	return t, true
}

// fallbackDateParser resolves a single natural-language date expression
// when neither layout rule matches and no collaborator is configured.
type fallbackDateParser struct {
	now func() time.Time
}

func (p fallbackDateParser) Parse(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	cfg := &dps.Configuration{
		Languages:       []string{"en", "ja"},
		CurrentTime:     p.now(),
		DefaultTimezone: time.UTC,
	}
	dt, err := dps.Parse(cfg, raw)
	if err != nil || dt.Time.IsZero() {
		return time.Time{}, false
	}
	return events.DateOf(dt.Time), true
}
