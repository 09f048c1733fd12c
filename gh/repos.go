package gh

import (
	"context"
	"fmt"

	"github.com/justapithecus/prospector/types"
)

type repoResponse struct {
	FullName        string `json:"full_name"`
	Name            string `json:"name"`
	Description     string `json:"description"`
	HTMLURL         string `json:"html_url"`
	StargazersCount int64  `json:"stargazers_count"`
	ForksCount      int64  `json:"forks_count"`
	WatchersCount   int64  `json:"watchers_count"`
	Language        string `json:"language"`
	CreatedAt       string `json:"created_at"`
	UpdatedAt       string `json:"updated_at"`
	PushedAt        string `json:"pushed_at"`
	OpenIssuesCount int64  `json:"open_issues_count"`
	HasIssues       bool   `json:"has_issues"`
	Fork            bool   `json:"fork"`
	Archived        bool   `json:"archived"`
	Owner           struct {
		Login string `json:"login"`
	} `json:"owner"`
}

// ListRepos fetches every owned repository for one account, skipping forks
// and archived repositories. Pagination follows the same rate-limit
// discipline and page cap as search. A 404 surfaces as ErrNotFound.
func (c *Client) ListRepos(ctx context.Context, login string) ([]types.Repo, error) {
	var repos []types.Repo
	page := 1
	maxPages := ResultWindowCap / c.config.PerPage

	for {
		u := fmt.Sprintf("%s/users/%s/repos?type=owner&sort=pushed&per_page=%d&page=%d",
			c.config.BaseURL, login, c.config.PerPage, page)

		var items []repoResponse
		if err := c.get(ctx, u, &items); err != nil {
			return nil, err
		}

		for _, item := range items {
			if item.Fork || item.Archived {
				continue
			}
			owner := item.Owner.Login
			if owner == "" {
				owner = login
			}
			repos = append(repos, types.Repo{
				NameWithOwner: item.FullName,
				Name:          item.Name,
				Description:   item.Description,
				URL:           item.HTMLURL,
				Stars:         item.StargazersCount,
				Forks:         item.ForksCount,
				Watchers:      item.WatchersCount,
				Language:      item.Language,
				CreatedAt:     item.CreatedAt,
				UpdatedAt:     item.UpdatedAt,
				PushedAt:      item.PushedAt,
				OpenIssues:    item.OpenIssuesCount,
				HasIssues:     item.HasIssues,
				Owner:         types.Owner{Login: owner},
			})
		}

		if len(items) < c.config.PerPage || page >= maxPages {
			break
		}
		page++

		if err := c.sleep(ctx, c.config.PageDelay); err != nil {
			return repos, err
		}
	}

	return repos, nil
}
