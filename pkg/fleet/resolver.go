package fleet

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// SkippedTarget records a selector entry that could not be resolved.
type SkippedTarget struct {
	SiteID string `json:"site_id"`
	Reason string `json:"reason"`
}

// Resolution is the outcome of resolving a selector: the resolvable subset
// plus the entries that were skipped.
type Resolution struct {
	Targets []Target        `json:"targets"`
	Skipped []SkippedTarget `json:"skipped,omitempty"`
}

// Resolver turns selectors into concrete executable targets.
//
// Resolution is best-effort: a partially-resolvable explicit selector still
// yields targets for the resolvable subset, with the misses reported in
// Resolution.Skipped rather than aborting the whole request.
type Resolver struct {
	registry Registry
	now      func() time.Time
}

// NewResolver creates a resolver backed by the given site registry.
func NewResolver(registry Registry) *Resolver {
	return &Resolver{registry: registry, now: time.Now}
}

// Resolve evaluates the selector against the current registry contents.
//
// An explicit selector that resolves to zero targets (every id gone) returns
// a Resolution with an empty target list, not an error; the caller decides
// whether an empty batch is acceptable. An invalid selector is an error.
func (r *Resolver) Resolve(sel Selector) (*Resolution, error) {
	if err := sel.Validate(); err != nil {
		return nil, fmt.Errorf("invalid selector: %w", err)
	}

	if sel.IsExplicit() {
		return r.resolveExplicit(sel.SiteIDs)
	}
	return r.resolveFilter(sel)
}

func (r *Resolver) resolveExplicit(ids []string) (*Resolution, error) {
	res := &Resolution{}
	seen := make(map[string]bool, len(ids))
	now := r.now().UTC()

	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true

		site, err := r.registry.Get(id)
		if err != nil {
			var nf *NotFoundError
			if errors.As(err, &nf) {
				res.Skipped = append(res.Skipped, SkippedTarget{SiteID: id, Reason: "site no longer exists"})
				continue
			}
			return nil, fmt.Errorf("look up site %s: %w", id, err)
		}
		if site.Status == SiteSuspended {
			res.Skipped = append(res.Skipped, SkippedTarget{SiteID: id, Reason: "site is suspended"})
			continue
		}
		res.Targets = append(res.Targets, targetFromSite(site, now))
	}
	return res, nil
}

func (r *Resolver) resolveFilter(sel Selector) (*Resolution, error) {
	sites, err := r.registry.List()
	if err != nil {
		return nil, fmt.Errorf("list sites: %w", err)
	}

	now := r.now().UTC()
	res := &Resolution{}
	for _, site := range sites {
		if sel.matches(site) {
			res.Targets = append(res.Targets, targetFromSite(site, now))
		}
	}

	// Stable output order regardless of registry iteration order.
	sort.Slice(res.Targets, func(i, j int) bool {
		return res.Targets[i].SiteID < res.Targets[j].SiteID
	})
	return res, nil
}

func targetFromSite(site Site, now time.Time) Target {
	return Target{
		SiteID:     site.ID,
		Name:       site.Name,
		URL:        site.URL,
		ResolvedAt: now,
	}
}
