package cmd

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pressfleet/pressfleet/pkg/catalog"
	"github.com/pressfleet/pressfleet/pkg/fleet"
	"github.com/pressfleet/pressfleet/pkg/orchestrator"
)

func TestSetVersionInfo(t *testing.T) {
	origVersion := versionInfo.Version
	origCommit := versionInfo.Commit
	origBuildDate := versionInfo.BuildDate
	defer func() {
		versionInfo.Version = origVersion
		versionInfo.Commit = origCommit
		versionInfo.BuildDate = origBuildDate
	}()

	SetVersionInfo("1.0.0", "abc123", "2026-01-15")

	assert.Equal(t, "1.0.0", versionInfo.Version)
	assert.Equal(t, "abc123", versionInfo.Commit)
	assert.Equal(t, "2026-01-15", versionInfo.BuildDate)
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 0, exitCode(nil))
	assert.Equal(t, 1, exitCode(errors.New("plain failure")))
	assert.Equal(t, foundry.ExitInvalidArgument,
		exitCode(exitError(foundry.ExitInvalidArgument, "bad flag", errors.New("nope"))))

	// Wrapped exit errors still surface their code.
	wrapped := exitError(foundry.ExitFileNotFound, "missing", errors.New("enoent"))
	assert.Equal(t, foundry.ExitFileNotFound, exitCode(wrapped))
}

func TestRegisterSiteExecutorsCoversCatalog(t *testing.T) {
	executors := orchestrator.NewExecutorRegistry()
	cat := catalog.Default()
	require.NoError(t, registerSiteExecutors(executors, cat))

	for _, op := range cat.List() {
		_, err := executors.Lookup(op.ExecutorRef)
		assert.NoError(t, err, "operation %s has no executor", op.ID)
	}
}

func TestSiteExecutorClassifiesResponses(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		wantReason orchestrator.FailureReason
		wantOK     bool
	}{
		{name: "success", status: http.StatusOK, wantOK: true},
		{name: "server error is transient", status: http.StatusBadGateway, wantReason: orchestrator.ReasonTransient},
		{name: "throttled is transient", status: http.StatusTooManyRequests, wantReason: orchestrator.ReasonTransient},
		{name: "gone site", status: http.StatusGone, wantReason: orchestrator.ReasonTargetGone},
		{name: "rejected request is permanent", status: http.StatusForbidden, wantReason: orchestrator.ReasonPermanent},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
			}))
			defer srv.Close()

			exec := &siteExecutor{client: srv.Client(), action: "core-update"}
			_, err := exec.Execute(context.Background(), fleet.Target{SiteID: "s1", URL: srv.URL})

			if tc.wantOK {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tc.wantReason, orchestrator.Classify(err))
		})
	}
}

func TestSiteExecutorRequiresURL(t *testing.T) {
	exec := &siteExecutor{client: http.DefaultClient, action: "core-update"}
	_, err := exec.Execute(context.Background(), fleet.Target{SiteID: "s1"})
	require.Error(t, err)
	assert.Equal(t, orchestrator.ReasonPermanent, orchestrator.Classify(err))
}
