package normalize

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
)

// Field aliases observed across source shapes. The first key holding a
// non-empty value wins.
var (
	titleKeys        = []string{"title", "name", "event_name", "event_title"}
	siteKeys         = []string{"site", "source"}
	organizationKeys = []string{"organization", "organizer", "artist", "performer", "presenter"}
	descriptionKeys  = []string{"description", "details", "summary", "content"}
	dateStartKeys    = []string{"date_start", "start_date", "startDate"}
	dateEndKeys      = []string{"date_end", "end_date", "endDate"}
	venueKeys        = []string{"venue", "venue_name", "place", "location"}
	addressKeys      = []string{"address", "venue_address"}
	cityKeys         = []string{"city", "locality"}
	postalKeys       = []string{"postal_code", "zip", "postcode"}
	countryKeys      = []string{"country"}
	imageKeys        = []string{"image", "image_url", "img", "thumbnail"}
	pageURLKeys      = []string{"url", "link", "event_url", "page_url"}
	ticketURLKeys    = []string{"ticket_url", "tickets"}
	externalIDKeys   = []string{"external_id", "event_id", "id"}
	categoryKeys     = []string{"categories", "category", "genre", "genres"}
	tagKeys          = []string{"tags", "keywords"}
	scheduleKeys     = []string{"schedule", "schedules"}
	priceKeys        = []string{"prices", "price"}
	linkKeys         = []string{"links"}

	rawDateKeys      = []string{"raw_date", "date_text", "date"}
	rawScheduleKeys  = []string{"raw_schedule", "schedule_text"}
	rawPriceTextKeys = []string{"raw_price_text", "price_text"}
)

var listSeparator = regexp.MustCompile(`\s*[,、，/／]\s*`)

func (r RawEvent) lookup(keys []string) (any, bool) {
	for _, key := range keys {
		v, ok := r[key]
		if !ok || v == nil {
			continue
		}
		if s, isString := v.(string); isString && strings.TrimSpace(s) == "" {
			continue
		}
		return v, true
	}
	return nil, false
}

func (r RawEvent) str(keys []string) string {
	v, ok := r.lookup(keys)
	if !ok {
		return ""
	}
	return stringValue(v)
}

// Title returns the raw title under any known alias, for log context.
func (r RawEvent) Title() string {
	return r.str(titleKeys)
}

// Site returns the per-record source tag of the multi-source request form.
func (r RawEvent) Site() string {
	return r.str(siteKeys)
}

func (r RawEvent) list(keys []string) []string {
	v, ok := r.lookup(keys)
	if !ok {
		return nil
	}
	return stringList(v)
}

func stringValue(v any) string {
	switch value := v.(type) {
	case string:
		return strings.TrimSpace(value)
	case json.Number:
		return value.String()
	case float64:
		return strconv.FormatFloat(value, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(value), 'f', -1, 32)
	case int:
		return strconv.Itoa(value)
	case int64:
		return strconv.FormatInt(value, 10)
	case map[string]any:
		// Some sources nest the venue or image as an object.
		for _, key := range []string{"name", "url", "src", "value"} {
			if inner, ok := value[key]; ok {
				return stringValue(inner)
			}
		}
	}
	return ""
}

func stringList(v any) []string {
	switch value := v.(type) {
	case []any:
		out := make([]string, 0, len(value))
		for _, item := range value {
			if s := stringValue(item); s != "" {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return value
	case string:
		if strings.TrimSpace(value) == "" {
			return nil
		}
		return listSeparator.Split(strings.TrimSpace(value), -1)
	}
	if s := stringValue(v); s != "" {
		return []string{s}
	}
	return nil
}

func objects(v any) []map[string]any {
	items, ok := v.([]any)
	if !ok {
		if m, isMap := v.(map[string]any); isMap {
			return []map[string]any{m}
		}
		return nil
	}
	out := make([]map[string]any, 0, len(items))
	for _, item := range items {
		if m, isMap := item.(map[string]any); isMap {
			out = append(out, m)
		}
	}
	return out
}
