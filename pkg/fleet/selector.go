package fleet

import (
	"errors"
	"fmt"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Selector names a set of sites either explicitly by id or by filter
// criteria. Filters are re-evaluated on every resolution, so scheduled runs
// always see the current fleet, not a snapshot from schedule creation time.
type Selector struct {
	// SiteIDs is an explicit id list. When set, filter fields are ignored.
	SiteIDs []string `json:"site_ids,omitempty" yaml:"site_ids,omitempty"`

	// All selects every site regardless of status.
	All bool `json:"all,omitempty" yaml:"all,omitempty"`

	// Status restricts filter matches to sites in this status.
	// Empty defaults to active for filter-based selectors.
	Status SiteStatus `json:"status,omitempty" yaml:"status,omitempty"`

	// Tags requires every listed tag to be present on the site.
	Tags []string `json:"tags,omitempty" yaml:"tags,omitempty"`

	// NameGlob matches site names with doublestar glob syntax,
	// e.g. "*.example.com" or "shop-*".
	NameGlob string `json:"name_glob,omitempty" yaml:"name_glob,omitempty"`

	// Environment restricts matches to one environment (e.g. "production").
	Environment string `json:"environment,omitempty" yaml:"environment,omitempty"`
}

// IsExplicit reports whether the selector names sites by id.
func (s Selector) IsExplicit() bool {
	return len(s.SiteIDs) > 0
}

// Validate rejects selectors that can never match anything.
func (s Selector) Validate() error {
	if s.IsExplicit() {
		for _, id := range s.SiteIDs {
			if strings.TrimSpace(id) == "" {
				return errors.New("selector contains an empty site id")
			}
		}
		return nil
	}
	if !s.All && len(s.Tags) == 0 && s.NameGlob == "" && s.Environment == "" && s.Status == "" {
		return errors.New("selector is empty: set site_ids, all, or at least one filter")
	}
	if s.NameGlob != "" {
		if !doublestar.ValidatePattern(s.NameGlob) {
			return fmt.Errorf("invalid name glob: %q", s.NameGlob)
		}
	}
	return nil
}

// matches applies the filter criteria to one site. Only meaningful for
// non-explicit selectors.
func (s Selector) matches(site Site) bool {
	status := s.Status
	if status == "" && !s.All {
		status = SiteActive
	}
	if status != "" && site.Status != status {
		return false
	}
	if s.Environment != "" && site.Environment != s.Environment {
		return false
	}
	for _, want := range s.Tags {
		if !hasTag(site.Tags, want) {
			return false
		}
	}
	if s.NameGlob != "" {
		ok, err := doublestar.Match(s.NameGlob, site.Name)
		if err != nil || !ok {
			return false
		}
	}
	return true
}

func hasTag(tags []string, want string) bool {
	for _, t := range tags {
		if t == want {
			return true
		}
	}
	return false
}
