package fleet

import (
	"fmt"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"
)

// FileRegistry is a Registry loaded from a YAML inventory file.
//
// File layout:
//
//	sites:
//	  - id: site-001
//	    name: shop.example.com
//	    url: https://shop.example.com
//	    environment: production
//	    tags: [woocommerce, production]
//	    status: active
//
// The registry is reloadable; Reload swaps the inventory atomically so
// in-flight reads never observe a partial state.
type FileRegistry struct {
	path string

	mu    sync.RWMutex
	sites map[string]Site
	order []string
}

type inventoryFile struct {
	Sites []Site `yaml:"sites"`
}

// LoadFileRegistry reads the inventory file at path.
func LoadFileRegistry(path string) (*FileRegistry, error) {
	r := &FileRegistry{path: path}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// NewStaticRegistry builds an in-memory registry from the given sites.
// Intended for tests and embedded use.
func NewStaticRegistry(sites []Site) (*FileRegistry, error) {
	r := &FileRegistry{}
	if err := r.replace(sites); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload re-reads the inventory file and atomically replaces the site set.
func (r *FileRegistry) Reload() error {
	if r.path == "" {
		return fmt.Errorf("registry has no backing file")
	}
	data, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("inventory file not found: %s", r.path)
		}
		return fmt.Errorf("read inventory file: %w", err)
	}

	var file inventoryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse inventory: %w", err)
	}
	return r.replace(file.Sites)
}

func (r *FileRegistry) replace(sites []Site) error {
	next := make(map[string]Site, len(sites))
	order := make([]string, 0, len(sites))
	for i, site := range sites {
		if site.ID == "" {
			return fmt.Errorf("site %d: id is required", i)
		}
		if _, dup := next[site.ID]; dup {
			return fmt.Errorf("duplicate site id: %s", site.ID)
		}
		if site.Status == "" {
			site.Status = SiteActive
		}
		next[site.ID] = site
		order = append(order, site.ID)
	}
	sort.Strings(order)

	r.mu.Lock()
	r.sites = next
	r.order = order
	r.mu.Unlock()
	return nil
}

// Get implements Registry.
func (r *FileRegistry) Get(id string) (Site, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	site, ok := r.sites[id]
	if !ok {
		return Site{}, &NotFoundError{SiteID: id}
	}
	return site, nil
}

// List implements Registry. Sites are returned in id order.
func (r *FileRegistry) List() ([]Site, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Site, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.sites[id])
	}
	return out, nil
}
