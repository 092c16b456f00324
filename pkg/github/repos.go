package github

import (
	"context"
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"
)

// GetRepository fetches a single repository.
func (c *client) GetRepository(ctx context.Context, owner, repo string) (*Repository, error) {
	c.log.WithFields(logrus.Fields{
		"owner": owner,
		"repo":  repo,
	}).Debug("Getting repository")

	var repository Repository

	path := fmt.Sprintf("/repos/%s/%s", owner, repo)
	if err := c.do(ctx, "get_repository", http.MethodGet, path, nil, nil, &repository); err != nil {
		return nil, fmt.Errorf("getting repository: %w", err)
	}

	return &repository, nil
}
