package scraper

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Togather-Foundation/catalog/internal/normalize"
)

// FromJSONLD flattens a schema.org Event into the loose record shape the
// ingestion boundary accepts. Nested objects (location, offers, organizer,
// image) become plain fields; dates are passed through for the normalizer.
func FromJSONLD(raw json.RawMessage) (normalize.RawEvent, error) {
	var obj map[string]any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&obj); err != nil {
		return nil, fmt.Errorf("decode JSON-LD event: %w", err)
	}

	out := normalize.RawEvent{}
	setString(out, "title", text(obj["name"]))
	setString(out, "description", text(obj["description"]))
	setString(out, "url", text(obj["url"]))
	setString(out, "external_id", text(obj["@id"]))
	setString(out, "image", imageURL(obj["image"]))
	setString(out, "organization", firstName(obj["organizer"], obj["performer"]))

	start, end := text(obj["startDate"]), text(obj["endDate"])
	if day, clock := splitDateTime(start); day != "" {
		out["date_start"] = day
		if clock != "" {
			sched := map[string]any{"date": day, "time_start": clock}
			if endDay, endClock := splitDateTime(end); endDay == day && endClock != "" {
				sched["time_end"] = endClock
			}
			out["schedule"] = []any{sched}
		}
	}
	if day, _ := splitDateTime(end); day != "" {
		out["date_end"] = day
	}

	if place := objectOf(firstOf(obj["location"])); place != nil {
		setString(out, "venue", text(place["name"]))
		switch addr := place["address"].(type) {
		case string:
			setString(out, "address", addr)
		case map[string]any:
			setString(out, "address", text(addr["streetAddress"]))
			setString(out, "city", text(addr["addressLocality"]))
			setString(out, "postal_code", text(addr["postalCode"]))
			setString(out, "country", text(countryName(addr["addressCountry"])))
		}
	} else {
		setString(out, "venue", text(obj["location"]))
	}

	if prices := offers(obj["offers"]); len(prices) > 0 {
		out["prices"] = prices
	}
	if keywords := keywordList(obj["keywords"]); len(keywords) > 0 {
		out["tags"] = keywords
	}
	return out, nil
}

func setString(out normalize.RawEvent, key, value string) {
	if value = strings.TrimSpace(value); value != "" {
		out[key] = value
	}
}

func text(v any) string {
	switch value := v.(type) {
	case string:
		return strings.TrimSpace(value)
	case json.Number:
		return value.String()
	case []any:
		if len(value) > 0 {
			return text(value[0])
		}
	case map[string]any:
		if name := text(value["name"]); name != "" {
			return name
		}
		return text(value["@value"])
	}
	return ""
}

func firstOf(v any) any {
	if items, ok := v.([]any); ok {
		if len(items) == 0 {
			return nil
		}
		return items[0]
	}
	return v
}

func objectOf(v any) map[string]any {
	obj, _ := v.(map[string]any)
	return obj
}

func firstName(candidates ...any) string {
	for _, c := range candidates {
		if name := text(firstOf(c)); name != "" {
			return name
		}
	}
	return ""
}

func imageURL(v any) string {
	switch value := firstOf(v).(type) {
	case string:
		return value
	case map[string]any:
		if u := text(value["url"]); u != "" {
			return u
		}
		return text(value["contentUrl"])
	}
	return ""
}

func countryName(v any) any {
	if obj := objectOf(v); obj != nil {
		return obj["name"]
	}
	return v
}

// splitDateTime cuts an ISO 8601 value into its date and HH:MM parts.
// Anything else is returned whole as the date for the normalizer to parse.
func splitDateTime(s string) (string, string) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", ""
	}
	day, rest, hasTime := strings.Cut(s, "T")
	if len(day) != len("2006-01-02") {
		return s, ""
	}
	if !hasTime || len(rest) < len("15:04") {
		return day, ""
	}
	return day, rest[:5]
}

func offers(v any) []any {
	var list []any
	switch value := v.(type) {
	case []any:
		list = value
	case map[string]any:
		if value["@type"] == "AggregateOffer" {
			if nested, ok := value["offers"]; ok {
				return offers(nested)
			}
			value = map[string]any{"price": value["lowPrice"], "priceCurrency": value["priceCurrency"], "name": value["name"]}
		}
		list = []any{value}
	}

	var out []any
	for _, item := range list {
		offer := objectOf(item)
		if offer == nil {
			continue
		}
		amount := text(offer["price"])
		if amount == "" {
			continue
		}
		price := map[string]any{"amount": amount}
		if tier := text(offer["name"]); tier != "" {
			price["price_tier"] = tier
		}
		if currency := text(offer["priceCurrency"]); currency != "" {
			price["currency"] = currency
		}
		out = append(out, price)
	}
	return out
}

func keywordList(v any) []any {
	var out []any
	switch value := v.(type) {
	case string:
		for _, part := range strings.Split(value, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	case []any:
		for _, item := range value {
			if s := text(item); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}
