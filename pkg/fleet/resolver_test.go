package fleet

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRegistry(t *testing.T) *FileRegistry {
	t.Helper()
	r, err := NewStaticRegistry([]Site{
		{ID: "site-001", Name: "shop.example.com", URL: "https://shop.example.com", Environment: "production", Tags: []string{"woocommerce"}, Status: SiteActive},
		{ID: "site-002", Name: "blog.example.com", URL: "https://blog.example.com", Environment: "production", Status: SiteActive},
		{ID: "site-003", Name: "staging.example.com", URL: "https://staging.example.com", Environment: "staging", Status: SiteActive},
		{ID: "site-004", Name: "old.example.com", URL: "https://old.example.com", Environment: "production", Status: SiteSuspended},
	})
	require.NoError(t, err)
	return r
}

func TestResolveExplicit(t *testing.T) {
	res, err := NewResolver(testRegistry(t)).Resolve(Selector{
		SiteIDs: []string{"site-001", "site-003", "site-001"},
	})
	require.NoError(t, err)

	// Duplicates collapse; each target carries a metadata snapshot.
	require.Len(t, res.Targets, 2)
	assert.Equal(t, "site-001", res.Targets[0].SiteID)
	assert.Equal(t, "shop.example.com", res.Targets[0].Name)
	assert.False(t, res.Targets[0].ResolvedAt.IsZero())
	assert.Empty(t, res.Skipped)
}

func TestResolveExplicitBestEffort(t *testing.T) {
	res, err := NewResolver(testRegistry(t)).Resolve(Selector{
		SiteIDs: []string{"site-001", "site-999", "site-004"},
	})
	require.NoError(t, err)

	// Missing and suspended sites are skipped, not fatal.
	require.Len(t, res.Targets, 1)
	assert.Equal(t, "site-001", res.Targets[0].SiteID)

	require.Len(t, res.Skipped, 2)
	assert.Equal(t, "site-999", res.Skipped[0].SiteID)
	assert.Contains(t, res.Skipped[0].Reason, "no longer exists")
	assert.Equal(t, "site-004", res.Skipped[1].SiteID)
	assert.Contains(t, res.Skipped[1].Reason, "suspended")
}

func TestResolveFilter(t *testing.T) {
	r := NewResolver(testRegistry(t))

	tests := []struct {
		name    string
		sel     Selector
		wantIDs []string
	}{
		{
			name:    "all active sites",
			sel:     Selector{Status: SiteActive},
			wantIDs: []string{"site-001", "site-002", "site-003"},
		},
		{
			name:    "all including suspended",
			sel:     Selector{All: true},
			wantIDs: []string{"site-001", "site-002", "site-003", "site-004"},
		},
		{
			name:    "production environment defaults to active",
			sel:     Selector{Environment: "production"},
			wantIDs: []string{"site-001", "site-002"},
		},
		{
			name:    "tag filter",
			sel:     Selector{Tags: []string{"woocommerce"}},
			wantIDs: []string{"site-001"},
		},
		{
			name:    "name glob",
			sel:     Selector{NameGlob: "s*.example.com"},
			wantIDs: []string{"site-001", "site-003"},
		},
		{
			name:    "glob with no matches",
			sel:     Selector{NameGlob: "nothing-*"},
			wantIDs: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := r.Resolve(tt.sel)
			require.NoError(t, err)

			var got []string
			for _, tgt := range res.Targets {
				got = append(got, tgt.SiteID)
			}
			assert.Equal(t, tt.wantIDs, got)
		})
	}
}

func TestResolveInvalidSelector(t *testing.T) {
	r := NewResolver(testRegistry(t))

	_, err := r.Resolve(Selector{})
	assert.ErrorContains(t, err, "selector is empty")

	_, err = r.Resolve(Selector{SiteIDs: []string{" "}})
	assert.ErrorContains(t, err, "empty site id")

	_, err = r.Resolve(Selector{NameGlob: "[unterminated"})
	assert.ErrorContains(t, err, "invalid name glob")
}

func TestFileRegistryRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sites.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
sites:
  - id: site-001
    name: shop.example.com
    url: https://shop.example.com
    environment: production
    tags: [woocommerce]
  - id: site-002
    name: blog.example.com
    url: https://blog.example.com
    environment: production
    status: suspended
`), 0644))

	reg, err := LoadFileRegistry(path)
	require.NoError(t, err)

	// Status defaults to active when omitted.
	site, err := reg.Get("site-001")
	require.NoError(t, err)
	assert.Equal(t, SiteActive, site.Status)

	site, err = reg.Get("site-002")
	require.NoError(t, err)
	assert.Equal(t, SiteSuspended, site.Status)

	sites, err := reg.List()
	require.NoError(t, err)
	assert.Len(t, sites, 2)

	_, err = reg.Get("site-404")
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "site-404", nf.SiteID)
}

func TestFileRegistryDuplicateID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sites.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
sites:
  - id: site-001
    name: a
  - id: site-001
    name: b
`), 0644))

	_, err := LoadFileRegistry(path)
	assert.ErrorContains(t, err, "duplicate site id")
}
