package github

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/sirupsen/logrus"
)

// ListWorkflowRunsOpts contains options for listing workflow runs.
type ListWorkflowRunsOpts struct {
	Branch  string
	Event   string
	Status  string
	PerPage int
}

// GetWorkflowRun gets details of a workflow run.
func (c *client) GetWorkflowRun(ctx context.Context, owner, repo string, runID int64) (*WorkflowRun, error) {
	c.log.WithFields(logrus.Fields{
		"owner":  owner,
		"repo":   repo,
		"run_id": runID,
	}).Debug("Getting workflow run")

	var run WorkflowRun

	path := fmt.Sprintf("/repos/%s/%s/actions/runs/%d", owner, repo, runID)
	if err := c.do(ctx, "get_workflow_run", http.MethodGet, path, nil, nil, &run); err != nil {
		return nil, fmt.Errorf("getting workflow run: %w", err)
	}

	return &run, nil
}

// ListWorkflowRuns lists runs for a specific workflow.
func (c *client) ListWorkflowRuns(
	ctx context.Context,
	owner, repo, workflowID string,
	opts ListWorkflowRunsOpts,
) ([]*WorkflowRun, error) {
	c.log.WithFields(logrus.Fields{
		"owner":    owner,
		"repo":     repo,
		"workflow": workflowID,
	}).Debug("Listing workflow runs")

	query := url.Values{}

	if opts.Branch != "" {
		query.Set("branch", opts.Branch)
	}

	if opts.Event != "" {
		query.Set("event", opts.Event)
	}

	if opts.Status != "" {
		query.Set("status", opts.Status)
	}

	perPage := opts.PerPage
	if perPage <= 0 {
		perPage = 10
	}

	query.Set("per_page", strconv.Itoa(perPage))

	var result struct {
		WorkflowRuns []*WorkflowRun `json:"workflow_runs"`
	}

	path := fmt.Sprintf("/repos/%s/%s/actions/workflows/%s/runs", owner, repo, workflowID)
	if err := c.do(ctx, "list_workflow_runs", http.MethodGet, path, query, nil, &result); err != nil {
		return nil, fmt.Errorf("listing workflow runs: %w", err)
	}

	c.log.WithFields(logrus.Fields{
		"owner":    owner,
		"repo":     repo,
		"workflow": workflowID,
		"count":    len(result.WorkflowRuns),
	}).Debug("Listed workflow runs")

	return result.WorkflowRuns, nil
}
