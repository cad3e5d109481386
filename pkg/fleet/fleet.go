// Package fleet models the managed WordPress site inventory and resolves
// operation target selectors against it.
//
// The orchestrator only depends on the narrow Registry interface; the
// YAML-file-backed implementation in this package exists so the system is
// runnable end to end without an external inventory service.
package fleet

import (
	"fmt"
	"time"
)

// SiteStatus is the registry's view of a site's health.
type SiteStatus string

const (
	SiteActive      SiteStatus = "active"
	SiteSuspended   SiteStatus = "suspended"
	SiteMaintenance SiteStatus = "maintenance"
)

// Site describes one managed WordPress deployment.
type Site struct {
	ID          string     `json:"id" yaml:"id"`
	Name        string     `json:"name" yaml:"name"`
	URL         string     `json:"url" yaml:"url"`
	Environment string     `json:"environment" yaml:"environment"`
	Tags        []string   `json:"tags,omitempty" yaml:"tags,omitempty"`
	Status      SiteStatus `json:"status" yaml:"status"`
}

// Target is the resolved execution target a Task runs against. It carries a
// metadata snapshot taken at resolution time; tasks hold a reference, the
// resolver owns the data.
type Target struct {
	SiteID     string    `json:"site_id"`
	Name       string    `json:"name"`
	URL        string    `json:"url"`
	ResolvedAt time.Time `json:"resolved_at"`
}

// Registry is the external site inventory collaborator.
type Registry interface {
	// Get returns the site with the given id, or NotFoundError.
	Get(id string) (Site, error)

	// List returns all known sites.
	List() ([]Site, error)
}

// NotFoundError reports a site id absent from the registry.
type NotFoundError struct {
	SiteID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("site not found: %s", e.SiteID)
}
