package normalize

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Togather-Foundation/catalog/internal/domain/events"
	"github.com/Togather-Foundation/catalog/internal/textanalysis"
)

// Closed vocabularies the collaborator must choose from.
var (
	CategoryVocabulary = []string{
		"Concert", "Live Music", "Jazz", "Classical", "Rock", "Pop", "Electronic",
		"Theater", "Dance", "Musical", "Opera", "Exhibition", "Art", "Photography",
		"Comedy", "Festival", "Film", "Workshop", "Talk", "Other",
	}
	TagVocabulary = []string{
		"Free", "Family Friendly", "All Night", "Outdoor", "Seated", "Standing",
		"Streaming", "Sold Out", "Limited", "Premiere", "Tour", "Matinee",
		"Drink Charge", "Reservation Required",
	}
)

const directiveTemplate = `You convert scraped event listings into structured JSON.
Reply with a single JSON object and nothing else, shaped as:
{"events":[{"title":"","date_start":"YYYY-MM-DD","date_end":"YYYY-MM-DD",
"schedule":[{"date":"YYYY-MM-DD","time_start":"HH:MM","time_end":"HH:MM","special_notes":"","status":"upcoming"}],
"categories":[],"tags":[],
"prices":[{"price_tier":"","amount":"","currency":"JPY","discount_info":""}]}]}

Rules:
- categories must be chosen only from: %s
- tags must be chosen only from: %s
- amounts are plain digit strings without separators or currency symbols, e.g. "3000"
- currency defaults to "JPY" when the text does not name one
- use "General" as price_tier when no tier is named
- omit time_end when the text gives no end time
- a range written as "YYYY.MM.DD – MM.DD" ends in the same year as it starts

Event data:
%s`

// BuildDirective renders the collaborator prompt for one raw record.
func BuildDirective(raw RawEvent) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(raw); err != nil {
		return "", fmt.Errorf("encode event data: %w", err)
	}
	return fmt.Sprintf(directiveTemplate,
		strings.Join(CategoryVocabulary, ", "),
		strings.Join(TagVocabulary, ", "),
		strings.TrimSpace(buf.String()),
	), nil
}

// flexString accepts either a JSON string or number.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

type analysisReply struct {
	Events []analysisEvent `json:"events"`
}

type analysisEvent struct {
	Title      string             `json:"title"`
	DateStart  string             `json:"date_start"`
	DateEnd    string             `json:"date_end"`
	Schedule   []analysisSchedule `json:"schedule"`
	Categories []string           `json:"categories"`
	Tags       []string           `json:"tags"`
	Prices     []analysisPrice    `json:"prices"`
}

type analysisSchedule struct {
	Date         string `json:"date"`
	TimeStart    string `json:"time_start"`
	TimeEnd      string `json:"time_end"`
	SpecialNotes string `json:"special_notes"`
	Status       string `json:"status"`
}

type analysisPrice struct {
	PriceTier    string     `json:"price_tier"`
	Amount       flexString `json:"amount"`
	Currency     string     `json:"currency"`
	DiscountInfo string     `json:"discount_info"`
}

// DecodeReply extracts the first balanced JSON object from the collaborator
// text and decodes it. Any failure is a *events.MalformedResponseError.
func DecodeReply(text string) (analysisReply, error) {
	block, err := textanalysis.ExtractJSONObject(text)
	if err != nil {
		return analysisReply{}, &events.MalformedResponseError{Raw: text, Err: err}
	}
	var reply analysisReply
	if err := json.Unmarshal([]byte(block), &reply); err != nil {
		return analysisReply{}, &events.MalformedResponseError{Raw: text, Err: err}
	}
	return reply, nil
}

// restrictVocabulary keeps only entries from vocab, mapped to their
// canonical spelling.
func restrictVocabulary(values, vocab []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		for _, allowed := range vocab {
			if strings.EqualFold(strings.TrimSpace(v), allowed) {
				out = append(out, allowed)
				break
			}
		}
	}
	return out
}
