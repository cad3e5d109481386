package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/pressfleet/pressfleet/pkg/catalog"
	"github.com/pressfleet/pressfleet/pkg/fleet"
	"github.com/pressfleet/pressfleet/pkg/orchestrator"
)

// siteExecutor drives one maintenance action through a site's management
// endpoint. Each site runs a companion plugin exposing
// /wp-json/pressfleet/v1/<action>; the executor POSTs the action and waits
// for the site to finish, honoring the context deadline.
type siteExecutor struct {
	client *http.Client
	action string
}

type siteResponse struct {
	Message string            `json:"message"`
	Detail  map[string]string `json:"detail,omitempty"`
}

func (e *siteExecutor) Execute(ctx context.Context, target fleet.Target) (orchestrator.Result, error) {
	if target.URL == "" {
		return orchestrator.Result{}, orchestrator.Permanent(fmt.Errorf("site %s has no management URL", target.SiteID))
	}

	endpoint := strings.TrimRight(target.URL, "/") + "/wp-json/pressfleet/v1/" + e.action
	body, _ := json.Marshal(map[string]string{"site_id": target.SiteID})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return orchestrator.Result{}, orchestrator.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			// Deadline or cancellation: let the engine classify it.
			return orchestrator.Result{}, ctx.Err()
		}
		// Connection-level failures are usually transient hosting hiccups.
		return orchestrator.Result{}, orchestrator.Transient(err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		var sr siteResponse
		if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
			sr.Message = "completed"
		}
		return orchestrator.Result{Message: sr.Message, Detail: sr.Detail}, nil
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return orchestrator.Result{}, orchestrator.ErrTargetGone
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return orchestrator.Result{}, orchestrator.Transient(fmt.Errorf("site returned %s", resp.Status))
	default:
		return orchestrator.Result{}, orchestrator.Permanent(fmt.Errorf("site returned %s", resp.Status))
	}
}

// registerSiteExecutors binds every catalog operation's executor reference
// to the management-endpoint executor. The action path is the executor ref
// with its scheme prefix dropped: "wpcli.core-update" -> "core-update".
func registerSiteExecutors(executors *orchestrator.ExecutorRegistry, cat *catalog.Catalog) error {
	client := &http.Client{
		// Per-attempt deadlines come from the engine's context; the client
		// itself stays unbounded so long operations are not cut short.
		Timeout: 0,
		Transport: &http.Transport{
			MaxIdleConnsPerHost:   4,
			ResponseHeaderTimeout: 0,
			IdleConnTimeout:       90 * time.Second,
		},
	}

	for _, op := range cat.List() {
		action := op.ExecutorRef
		if i := strings.IndexByte(action, '.'); i >= 0 {
			action = action[i+1:]
		}
		if err := executors.Register(op.ExecutorRef, &siteExecutor{client: client, action: action}); err != nil {
			return err
		}
	}
	return nil
}
