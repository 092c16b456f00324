package github

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

// ListIssuesOpts contains options for listing issues.
type ListIssuesOpts struct {
	State   string // open, closed, all
	Labels  []string
	PerPage int
	Page    int
}

// ListIssues lists issues in a repository.
func (c *client) ListIssues(ctx context.Context, owner, repo string, opts ListIssuesOpts) ([]*Issue, error) {
	c.log.WithFields(logrus.Fields{
		"owner": owner,
		"repo":  repo,
	}).Debug("Listing issues")

	query := url.Values{}

	if opts.State != "" {
		query.Set("state", opts.State)
	}

	if len(opts.Labels) > 0 {
		query.Set("labels", strings.Join(opts.Labels, ","))
	}

	perPage := opts.PerPage
	if perPage <= 0 {
		perPage = 30
	}

	query.Set("per_page", strconv.Itoa(perPage))

	if opts.Page > 0 {
		query.Set("page", strconv.Itoa(opts.Page))
	}

	var issues []*Issue

	path := fmt.Sprintf("/repos/%s/%s/issues", owner, repo)
	if err := c.do(ctx, "list_issues", http.MethodGet, path, query, nil, &issues); err != nil {
		return nil, fmt.Errorf("listing issues: %w", err)
	}

	c.log.WithFields(logrus.Fields{
		"owner": owner,
		"repo":  repo,
		"count": len(issues),
	}).Debug("Listed issues")

	return issues, nil
}

// CreateIssueComment posts a comment on an issue.
func (c *client) CreateIssueComment(ctx context.Context, owner, repo string, number int, body string) (*IssueComment, error) {
	c.log.WithFields(logrus.Fields{
		"owner":  owner,
		"repo":   repo,
		"number": number,
	}).Info("Creating issue comment")

	payload := map[string]string{"body": body}

	var comment IssueComment

	path := fmt.Sprintf("/repos/%s/%s/issues/%d/comments", owner, repo, number)
	if err := c.do(ctx, "create_issue_comment", http.MethodPost, path, nil, payload, &comment); err != nil {
		return nil, fmt.Errorf("creating issue comment: %w", err)
	}

	return &comment, nil
}
