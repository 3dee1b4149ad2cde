package events

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Togather-Foundation/catalog/internal/domain/ids"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// Service serves the read side of the catalog.
type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) List(ctx context.Context, filters Filters, pagination Pagination) (ListResult, error) {
	return s.repo.List(ctx, filters, pagination)
}

func (s *Service) GetByULID(ctx context.Context, ulid string) (*EventDetail, error) {
	id, err := ids.Canonical(ulid)
	if err != nil {
		return nil, FilterError{Field: "id", Message: "must be a ULID"}
	}
	return s.repo.GetByULID(ctx, id)
}

type FilterError struct {
	Field   string
	Message string
}

func (e FilterError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// ParseFilters reads listing filters from query values
// (site, from, to, category, tag, limit, offset).
func ParseFilters(values url.Values) (Filters, Pagination, error) {
	filters := Filters{
		Site:     strings.TrimSpace(values.Get("site")),
		Category: strings.TrimSpace(values.Get("category")),
		Tag:      strings.TrimSpace(values.Get("tag")),
	}
	pagination := Pagination{Limit: defaultListLimit}

	from, err := parseDate("from", values.Get("from"))
	if err != nil {
		return filters, pagination, err
	}
	to, err := parseDate("to", values.Get("to"))
	if err != nil {
		return filters, pagination, err
	}
	if from != nil && to != nil && to.Before(*from) {
		return filters, pagination, FilterError{Field: "to", Message: "must be on or after from"}
	}
	filters.From = from
	filters.To = to

	if raw := strings.TrimSpace(values.Get("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 || limit > maxListLimit {
			return filters, pagination, FilterError{Field: "limit", Message: fmt.Sprintf("must be between 1 and %d", maxListLimit)}
		}
		pagination.Limit = limit
	}
	if raw := strings.TrimSpace(values.Get("offset")); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 {
			return filters, pagination, FilterError{Field: "offset", Message: "must be a non-negative integer"}
		}
		pagination.Offset = offset
	}
	return filters, pagination, nil
}

func parseDate(field, raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	parsed, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return nil, FilterError{Field: field, Message: "must be YYYY-MM-DD"}
	}
	return &parsed, nil
}
