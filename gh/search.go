package gh

import (
	"context"
	"fmt"
	"net/url"
)

// UserPage is one page of a paginated user search.
type UserPage struct {
	// Logins are the account identifiers on this page.
	Logins []string
	// TotalCount is the API's reported total for the query, which may
	// exceed the result window cap.
	TotalCount int
	// HasMore reports whether another page is retrievable. It is false at
	// the result-window boundary even when the API offers more pages.
	HasMore bool
	// NextPage is the page number to request next when HasMore is true.
	NextPage int
}

type searchUsersResponse struct {
	TotalCount        int  `json:"total_count"`
	IncompleteResults bool `json:"incomplete_results"`
	Items             []struct {
		Login string `json:"login"`
	} `json:"items"`
}

// SearchUsers executes one page of a user search query.
func (c *Client) SearchUsers(ctx context.Context, query string, page int) (UserPage, error) {
	if page < 1 {
		page = 1
	}
	u := fmt.Sprintf("%s/search/users?q=%s&per_page=%d&page=%d",
		c.config.BaseURL, url.QueryEscape(query), c.config.PerPage, page)

	var resp searchUsersResponse
	if err := c.get(ctx, u, &resp); err != nil {
		return UserPage{}, err
	}

	logins := make([]string, 0, len(resp.Items))
	for _, item := range resp.Items {
		if item.Login != "" {
			logins = append(logins, item.Login)
		}
	}

	retrievable := resp.TotalCount
	if retrievable > ResultWindowCap {
		retrievable = ResultWindowCap
	}
	seen := (page-1)*c.config.PerPage + len(logins)

	return UserPage{
		Logins:     logins,
		TotalCount: resp.TotalCount,
		HasMore:    len(logins) == c.config.PerPage && seen < retrievable,
		NextPage:   page + 1,
	}, nil
}

// SearchAllUsers executes a query to exhaustion, capped at the result
// window. Partial results are returned alongside any error so the caller
// can keep best-effort data from a query that aborted mid-sweep.
func (c *Client) SearchAllUsers(ctx context.Context, query string) ([]string, error) {
	var logins []string
	page := 1
	pages := int64(0)

	for {
		userPage, err := c.SearchUsers(ctx, query, page)
		if err != nil {
			c.collector.AddSearchPages(pages)
			return logins, err
		}
		pages++
		logins = append(logins, userPage.Logins...)

		if userPage.TotalCount >= ResultWindowCap {
			c.logger.Warn("query at result-window boundary, results may be incomplete", map[string]any{
				"query":       query,
				"total_count": userPage.TotalCount,
			})
		}

		if !userPage.HasMore {
			break
		}
		page = userPage.NextPage

		if err := c.sleep(ctx, c.config.PageDelay); err != nil {
			c.collector.AddSearchPages(pages)
			return logins, err
		}
	}

	c.collector.AddSearchPages(pages)
	return logins, nil
}
