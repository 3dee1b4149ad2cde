package events

import (
	"context"
	"fmt"
	"strings"
)

// Associations synchronizes the category and tag sets of an event. Every
// call replaces the stored set with exactly the supplied names.
type Associations struct {
	repo AssociationRepository
}

func NewAssociations(repo AssociationRepository) *Associations {
	return &Associations{repo: repo}
}

type SyncResult struct {
	Categories int
	Tags       int
}

// Sync replaces both axes. An empty list clears that axis.
func (a *Associations) Sync(ctx context.Context, eventID int64, categories, tags []string) (SyncResult, error) {
	if a == nil || a.repo == nil {
		return SyncResult{}, fmt.Errorf("sync associations: repository not configured")
	}

	categoryNames := CleanNames(categories)
	categoryIDs, err := a.repo.EnsureCategories(ctx, categoryNames)
	if err != nil {
		return SyncResult{}, fmt.Errorf("ensure categories: %w", err)
	}
	if err := a.repo.ReplaceCategories(ctx, eventID, categoryIDs); err != nil {
		return SyncResult{}, fmt.Errorf("replace categories: %w", err)
	}

	tagNames := CleanNames(tags)
	tagIDs, err := a.repo.EnsureTags(ctx, tagNames)
	if err != nil {
		return SyncResult{}, fmt.Errorf("ensure tags: %w", err)
	}
	if err := a.repo.ReplaceTags(ctx, eventID, tagIDs); err != nil {
		return SyncResult{}, fmt.Errorf("replace tags: %w", err)
	}

	return SyncResult{Categories: len(categoryIDs), Tags: len(tagIDs)}, nil
}

// CleanNames trims each name, drops empties and removes exact duplicates
// while keeping first-seen order.
func CleanNames(names []string) []string {
	out := make([]string, 0, len(names))
	seen := make(map[string]struct{}, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	return out
}
