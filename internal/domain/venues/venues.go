package venues

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

var ErrNotFound = errors.New("venue not found")

type Venue struct {
	ID             int64
	Name           string
	NormalizedName string
	Address        string
	City           string
	PostalCode     string
	Country        string
	CreatedAt      time.Time
}

// Input is a free-text venue reference from a scraped record.
type Input struct {
	Name       string
	Address    string
	City       string
	PostalCode string
	Country    string
}

type UpsertParams struct {
	Name           string
	NormalizedName string
	Address        string
	City           string
	PostalCode     string
	Country        string
}

type Repository interface {
	// Upsert finds or creates a venue by normalized name and returns its id.
	// Concurrent calls for the same key converge on one row.
	Upsert(ctx context.Context, params UpsertParams) (int64, error)
	GetByID(ctx context.Context, id int64) (*Venue, error)
}

// Source-specific labels that precede venue names in scraped markup.
var prefixPattern = regexp.MustCompile(`(?i)^\s*(venue\s*[:：]|会場\s*[:：]|place\s*[:：]|場所\s*[:：])\s*`)

var collapseSpaces = regexp.MustCompile(`[\s\x{3000}]+`)

// CleanName strips a source label prefix and collapses whitespace.
func CleanName(raw string) string {
	name := prefixPattern.ReplaceAllString(raw, "")
	return strings.TrimSpace(collapseSpaces.ReplaceAllString(name, " "))
}

// NormalizeName is the lookup key: the cleaned name, lowercased.
func NormalizeName(raw string) string {
	return strings.ToLower(CleanName(raw))
}

// Resolver finds or creates venues by exact normalized name. Near-duplicate
// spellings stay distinct venues.
type Resolver struct {
	repo Repository
}

func NewResolver(repo Repository) *Resolver {
	return &Resolver{repo: repo}
}

// Resolve returns the venue id, or nil when the input carries no name.
func (r *Resolver) Resolve(ctx context.Context, in Input) (*int64, error) {
	name := CleanName(in.Name)
	if name == "" {
		return nil, nil
	}
	if r == nil || r.repo == nil {
		return nil, fmt.Errorf("resolve venue: repository not configured")
	}
	id, err := r.repo.Upsert(ctx, UpsertParams{
		Name:           name,
		NormalizedName: strings.ToLower(name),
		Address:        strings.TrimSpace(in.Address),
		City:           strings.TrimSpace(in.City),
		PostalCode:     strings.TrimSpace(in.PostalCode),
		Country:        strings.TrimSpace(in.Country),
	})
	if err != nil {
		return nil, fmt.Errorf("resolve venue %q: %w", name, err)
	}
	return &id, nil
}
