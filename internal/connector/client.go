package connector

import (
	"context"
	stderrors "errors"
	"net/http"
	"strings"

	"github.com/google/go-github/v57/github"
	"golang.org/x/time/rate"

	"github.com/rohankatakam/devgraph/internal/errors"
)

// Client wraps the GitHub API client with rate limiting
type Client struct {
	client      *github.Client
	rateLimiter *rate.Limiter
	perPage     int
}

// ClientOptions configures the API client
type ClientOptions struct {
	// RateLimit is the number of requests per second
	RateLimit float64
	PerPage   int
	// BaseURL targets a GitHub Enterprise server or a test server
	BaseURL string
}

// NewClient creates a new GitHub client with rate limiting
func NewClient(token string, opts ClientOptions) (*Client, error) {
	client := github.NewClient(nil)
	if token != "" {
		client = client.WithAuthToken(token)
	}
	if opts.BaseURL != "" {
		var err error
		client, err = client.WithEnterpriseURLs(opts.BaseURL, opts.BaseURL)
		if err != nil {
			return nil, errors.ConfigErrorf("invalid GitHub base URL %q: %v", opts.BaseURL, err)
		}
	}

	limit := opts.RateLimit
	if limit <= 0 {
		limit = 10
	}
	perPage := opts.PerPage
	if perPage <= 0 || perPage > 100 {
		perPage = 100
	}

	return &Client{
		client:      client,
		rateLimiter: rate.NewLimiter(rate.Limit(limit), 1),
		perPage:     perPage,
	}, nil
}

// FetchCommitFiles returns the changed files of one commit
func (c *Client) FetchCommitFiles(ctx context.Context, repository, sha string) ([]Record, error) {
	owner, name, err := splitRepository(repository)
	if err != nil {
		return nil, err
	}

	files, err := paginate(ctx, c, "commit files", func(page int) ([]*github.CommitFile, *github.Response, error) {
		commit, resp, err := c.client.Repositories.GetCommit(ctx, owner, name, sha, &github.ListOptions{Page: page, PerPage: c.perPage})
		if err != nil {
			return nil, resp, err
		}
		return commit.Files, resp, nil
	})
	if err != nil {
		return nil, err
	}

	records := make([]Record, 0, len(files))
	for _, f := range files {
		r, err := ToRecord(f, map[string]any{"repository": repository, "commit_sha": sha})
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, nil
}

func (c *Client) wait(ctx context.Context) error {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return errors.ConnectorError(err, "rate limiter")
	}
	return nil
}

// paginate calls fetch for every page, waiting on the rate limiter before each request
func paginate[T any](ctx context.Context, c *Client, what string, fetch func(page int) ([]T, *github.Response, error)) ([]T, error) {
	var all []T
	page := 0
	for {
		if err := c.wait(ctx); err != nil {
			return nil, err
		}
		items, resp, err := fetch(page)
		if err != nil {
			return nil, classifyAPIError(err, what)
		}
		all = append(all, items...)
		if resp == nil || resp.NextPage == 0 {
			return all, nil
		}
		page = resp.NextPage
	}
}

// classifyAPIError marks authentication and not-found failures as permanent.
// Rate limiting and server errors stay retryable.
func classifyAPIError(err error, what string) error {
	connErr := errors.ConnectorErrorf(err, "fetch %s", what)

	var rateErr *github.RateLimitError
	var abuseErr *github.AbuseRateLimitError
	if stderrors.As(err, &rateErr) || stderrors.As(err, &abuseErr) {
		return connErr
	}

	var respErr *github.ErrorResponse
	if stderrors.As(err, &respErr) && respErr.Response != nil {
		switch respErr.Response.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound, http.StatusUnprocessableEntity:
			connErr.AsPermanent()
		}
		connErr.WithContext("status", respErr.Response.StatusCode)
	}
	return connErr
}

func splitRepository(repository string) (string, string, error) {
	owner, name, ok := strings.Cut(repository, "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return "", "", errors.ValidationErrorf("repository %q must be owner/name", repository)
	}
	return owner, name, nil
}
