package normalize

import (
	"regexp"
	"strings"
	"time"

	"github.com/Togather-Foundation/catalog/internal/domain/events"
)

var (
	// ¥3,000 / ￥3000 / 3,000円 / 3000 yen / 3000 JPY
	priceAmount = regexp.MustCompile(
		`(?i)(?:[¥￥]\s*([0-9０-９][0-9０-９,，]*(?:\.\d+)?))|(?:([0-9０-９][0-9０-９,，]*(?:\.\d+)?)\s*(?:円|yen\b|jpy\b))`)
	freePrice    = regexp.MustCompile(`(?i)(無料|free)`)
	trailingNote = regexp.MustCompile(`^\s*[(（]([^)）]*)[)）]`)
	tierTrim     = regexp.MustCompile(`^[\s/／|:：・,、;；]+|[\s/／|:：・,、;；]+$`)

	clockTime  = regexp.MustCompile(`(\d{1,2})[:：](\d{2})`)
	startLabel = regexp.MustCompile(`(?i)(start|開演|開始)\s*[:：]?\s*(\d{1,2}[:：]\d{2})`)
	timeRange  = regexp.MustCompile(`(\d{1,2}[:：]\d{2})\s*[–—\-~〜～]\s*(\d{1,2}[:：]\d{2})`)
)

// ParsePriceText extracts tier/amount pairs from text such as
// "一般 3,000円 / 学生 2,000円" or "General ¥3,000". The text preceding each
// amount names its tier; a parenthesised note right after the amount becomes
// the discount info. Amounts are normalized to plain digits.
func ParsePriceText(text string) []events.Price {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	matches := priceAmount.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		if loc := freePrice.FindStringIndex(text); loc != nil {
			tier := tierTrim.ReplaceAllString(text[:loc[0]], "")
			return []events.Price{{Tier: tier, Amount: "0"}}
		}
		// A bare number is treated as a single General amount.
		if amount, ok := events.NormalizeAmount(text); ok {
			return []events.Price{{Amount: amount}}
		}
		return nil
	}

	prices := make([]events.Price, 0, len(matches))
	cursor := 0
	for _, m := range matches {
		raw := ""
		if m[2] >= 0 {
			raw = text[m[2]:m[3]]
		} else if m[4] >= 0 {
			raw = text[m[4]:m[5]]
		}
		amount, ok := events.NormalizeAmount(raw)
		tier := tierTrim.ReplaceAllString(text[cursor:m[0]], "")
		cursor = m[1]
		if !ok {
			continue
		}
		p := events.Price{Tier: tier, Amount: amount}
		if note := trailingNote.FindStringSubmatchIndex(text[cursor:]); note != nil {
			p.DiscountInfo = strings.TrimSpace(text[cursor+note[2] : cursor+note[3]])
			cursor += note[1]
		}
		prices = append(prices, p)
	}
	return prices
}

// ParseScheduleText reads start and end times from text such as
// "OPEN 18:00 / START 19:00" or "19:00〜21:00" for a single date.
func ParseScheduleText(text string, date time.Time) (events.Schedule, bool) {
	text = strings.TrimSpace(text)
	if text == "" || date.IsZero() {
		return events.Schedule{}, false
	}
	s := events.Schedule{Date: date, SpecialNotes: text}

	if m := timeRange.FindStringSubmatch(text); m != nil {
		s.TimeStart = clock(m[1])
		end := clock(m[2])
		s.TimeEnd = &end
	}
	if m := startLabel.FindStringSubmatch(text); m != nil {
		s.TimeStart = clock(m[2])
	}
	if s.TimeStart == "" {
		if m := clockTime.FindString(text); m != "" {
			s.TimeStart = clock(m)
		}
	}
	if s.TimeStart == "" {
		return events.Schedule{}, false
	}
	return s, true
}

// clock renders 9:00 or 9：00 as 09:00.
func clock(raw string) string {
	m := clockTime.FindStringSubmatch(raw)
	if m == nil {
		return ""
	}
	hour := m[1]
	if len(hour) == 1 {
		hour = "0" + hour
	}
	return hour + ":" + m[2]
}
