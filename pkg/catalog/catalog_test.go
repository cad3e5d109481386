package catalog

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewValidation(t *testing.T) {
	tests := []struct {
		name    string
		ops     []Operation
		wantErr string
	}{
		{
			name:    "missing id",
			ops:     []Operation{{Category: CategoryBackups, Impact: ImpactLow}},
			wantErr: "id is required",
		},
		{
			name:    "unknown category",
			ops:     []Operation{{ID: "x", Category: "billing", Impact: ImpactLow}},
			wantErr: "unknown category",
		},
		{
			name:    "unknown impact",
			ops:     []Operation{{ID: "x", Category: CategoryBackups, Impact: "extreme"}},
			wantErr: "unknown impact level",
		},
		{
			name: "duplicate id",
			ops: []Operation{
				{ID: "x", Category: CategoryBackups, Impact: ImpactLow},
				{ID: "x", Category: CategorySecurity, Impact: ImpactLow},
			},
			wantErr: "duplicate operation id",
		},
		{
			name: "min exceeds max",
			ops: []Operation{{
				ID: "x", Category: CategoryBackups, Impact: ImpactLow,
				EstimatedDuration: DurationRange{Min: 2 * time.Minute, Max: time.Minute},
			}},
			wantErr: "exceeds max",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.ops)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestGetNotFound(t *testing.T) {
	c := Default()

	_, err := c.Get("does_not_exist")
	require.Error(t, err)

	var nf *NotFoundError
	require.True(t, errors.As(err, &nf))
	assert.Equal(t, "does_not_exist", nf.OperationID)
}

func TestDefaultCatalog(t *testing.T) {
	c := Default()
	require.NotZero(t, c.Len())

	// The core update must be gated behind confirmation and capped as high impact.
	op, err := c.Get("update_wp_core")
	require.NoError(t, err)
	assert.True(t, op.RequiresConfirmation)
	assert.Equal(t, ImpactHigh, op.Impact)
	assert.Equal(t, CategoryUpdates, op.Category)

	// Cache clears run unconfirmed.
	op, err = c.Get("clear_cache")
	require.NoError(t, err)
	assert.False(t, op.RequiresConfirmation)
	assert.Equal(t, ImpactLow, op.Impact)
}

func TestListByCategory(t *testing.T) {
	c := Default()

	all := c.List()
	assert.Len(t, all, c.Len())

	updates := c.List(CategoryUpdates)
	require.NotEmpty(t, updates)
	for _, op := range updates {
		assert.Equal(t, CategoryUpdates, op.Category)
	}

	both := c.List(CategoryUpdates, CategoryBackups)
	assert.Greater(t, len(both), len(updates))
}

func TestOperationTimeout(t *testing.T) {
	op := Operation{EstimatedDuration: DurationRange{Min: time.Minute, Max: 10 * time.Minute}}

	assert.Equal(t, 30*time.Minute, op.Timeout(3))
	assert.Equal(t, 20*time.Minute, op.Timeout(2))

	// Non-positive multiplier falls back to the default multiplier.
	assert.Equal(t, 30*time.Minute, op.Timeout(0))

	// Missing estimate falls back to the default timeout.
	none := Operation{}
	assert.Equal(t, DefaultTimeout, none.Timeout(3))
}

func TestLoadBytes(t *testing.T) {
	data := []byte(`
version: "1.0"
operations:
  - id: update_wp_core
    name: WordPress core update
    category: updates
    impact_level: high
    requires_confirmation: true
    estimated_duration: {min: 2m, max: 10m}
    executor_ref: wpcli.core-update
  - id: clear_cache
    name: Cache clear
    category: performance
    impact_level: low
    estimated_duration: {min: 5s, max: 1m}
    executor_ref: wpcli.cache-flush
`)

	c, err := LoadBytes(data)
	require.NoError(t, err)
	assert.Equal(t, 2, c.Len())

	op, err := c.Get("update_wp_core")
	require.NoError(t, err)
	assert.True(t, op.RequiresConfirmation)
	assert.Equal(t, 10*time.Minute, op.EstimatedDuration.Max)
	assert.Equal(t, 2*time.Minute, op.EstimatedDuration.Min)
}

func TestLoadBytesErrors(t *testing.T) {
	_, err := LoadBytes(nil)
	assert.ErrorContains(t, err, "empty")

	_, err = LoadBytes([]byte("version: \"1.0\"\noperations: []\n"))
	assert.ErrorContains(t, err, "no operations")

	_, err = LoadBytes([]byte("{{not yaml"))
	assert.ErrorContains(t, err, "parse catalog")

	_, err = LoadBytes([]byte(`
operations:
  - id: x
    category: updates
    impact_level: low
    estimated_duration: {min: nonsense}
`))
	assert.ErrorContains(t, err, "invalid min duration")
}
