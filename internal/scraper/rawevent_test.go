package scraper

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromJSONLD_FullEvent(t *testing.T) {
	raw := json.RawMessage(`{
		"@context": "https://schema.org",
		"@type": "MusicEvent",
		"@id": "https://bluenote.example/e/42",
		"name": " Late Set ",
		"description": "Trio night",
		"url": "https://bluenote.example/events/late-set",
		"startDate": "2025-06-01T19:30:00+09:00",
		"endDate": "2025-06-01T22:00:00+09:00",
		"image": {"@type": "ImageObject", "url": "https://cdn.example/late.jpg"},
		"performer": [{"@type": "MusicGroup", "name": "The Trio"}],
		"location": {
			"@type": "Place",
			"name": "Blue Note",
			"address": {
				"@type": "PostalAddress",
				"streetAddress": "6-3-16 Minami-Aoyama",
				"addressLocality": "Tokyo",
				"postalCode": "107-0062",
				"addressCountry": {"@type": "Country", "name": "JP"}
			}
		},
		"offers": [
			{"@type": "Offer", "name": "Advance", "price": 4500, "priceCurrency": "JPY"},
			{"@type": "Offer", "name": "Door", "price": "5000"},
			{"@type": "Offer", "name": "Free list"}
		],
		"keywords": "jazz, trio ,"
	}`)

	got, err := FromJSONLD(raw)
	require.NoError(t, err)

	assert.Equal(t, "Late Set", got["title"])
	assert.Equal(t, "Trio night", got["description"])
	assert.Equal(t, "https://bluenote.example/events/late-set", got["url"])
	assert.Equal(t, "https://bluenote.example/e/42", got["external_id"])
	assert.Equal(t, "https://cdn.example/late.jpg", got["image"])
	assert.Equal(t, "The Trio", got["organization"])
	assert.Equal(t, "2025-06-01", got["date_start"])
	assert.Equal(t, "2025-06-01", got["date_end"])
	assert.Equal(t, []any{map[string]any{"date": "2025-06-01", "time_start": "19:30", "time_end": "22:00"}}, got["schedule"])
	assert.Equal(t, "Blue Note", got["venue"])
	assert.Equal(t, "6-3-16 Minami-Aoyama", got["address"])
	assert.Equal(t, "Tokyo", got["city"])
	assert.Equal(t, "107-0062", got["postal_code"])
	assert.Equal(t, "JP", got["country"])
	assert.Equal(t, []any{
		map[string]any{"amount": "4500", "price_tier": "Advance", "currency": "JPY"},
		map[string]any{"amount": "5000", "price_tier": "Door"},
	}, got["prices"])
	assert.Equal(t, []any{"jazz", "trio"}, got["tags"])
}

func TestFromJSONLD_Variants(t *testing.T) {
	tests := []struct {
		name  string
		input string
		check func(t *testing.T, got map[string]any)
	}{
		{
			name:  "date only start",
			input: `{"@type":"Event","name":"Fair","startDate":"2025-07-04"}`,
			check: func(t *testing.T, got map[string]any) {
				assert.Equal(t, "2025-07-04", got["date_start"])
				assert.NotContains(t, got, "schedule")
			},
		},
		{
			name:  "free text date passes through",
			input: `{"@type":"Event","name":"Fair","startDate":"July 4th"}`,
			check: func(t *testing.T, got map[string]any) {
				assert.Equal(t, "July 4th", got["date_start"])
			},
		},
		{
			name:  "string location and address",
			input: `{"@type":"Event","name":"Gig","location":{"name":"Quattro","address":"Shibuya 1-2"}}`,
			check: func(t *testing.T, got map[string]any) {
				assert.Equal(t, "Quattro", got["venue"])
				assert.Equal(t, "Shibuya 1-2", got["address"])
			},
		},
		{
			name:  "plain string location",
			input: `{"@type":"Event","name":"Gig","location":"Somewhere Hall"}`,
			check: func(t *testing.T, got map[string]any) {
				assert.Equal(t, "Somewhere Hall", got["venue"])
			},
		},
		{
			name:  "aggregate offer",
			input: `{"@type":"Event","name":"Gig","offers":{"@type":"AggregateOffer","lowPrice":"10.50","priceCurrency":"USD"}}`,
			check: func(t *testing.T, got map[string]any) {
				assert.Equal(t, []any{map[string]any{"amount": "10.50", "currency": "USD"}}, got["prices"])
			},
		},
		{
			name:  "image array and organizer",
			input: `{"@type":"Event","name":"Gig","image":["https://a.example/1.png","https://a.example/2.png"],"organizer":{"name":"Promoter Co"}}`,
			check: func(t *testing.T, got map[string]any) {
				assert.Equal(t, "https://a.example/1.png", got["image"])
				assert.Equal(t, "Promoter Co", got["organization"])
			},
		},
		{
			name:  "keyword array",
			input: `{"@type":"Event","name":"Gig","keywords":["rock"," ","indie"]}`,
			check: func(t *testing.T, got map[string]any) {
				assert.Equal(t, []any{"rock", "indie"}, got["tags"])
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FromJSONLD(json.RawMessage(tt.input))
			require.NoError(t, err)
			tt.check(t, got)
		})
	}
}

func TestFromJSONLD_InvalidJSON(t *testing.T) {
	_, err := FromJSONLD(json.RawMessage(`{"name":`))
	require.Error(t, err)
}
