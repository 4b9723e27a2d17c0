// Package forge talks to the source-control host: it validates repository
// URLs and opens pull requests through the GitHub REST API.
package forge

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/go-github/v57/github"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/fyrsmithlabs/solvd/internal/config"
	"github.com/fyrsmithlabs/solvd/internal/logging"
)

// ErrNoToken is returned when a call needs a credential and none was given.
var ErrNoToken = errors.New("github token not set")

// PullRequest describes a pull request to open.
type PullRequest struct {
	Repo  Repo
	Title string
	Body  string
	Head  string
	Base  string
}

// Client opens pull requests on behalf of a caller-supplied token. Tokens
// differ per job owner, so an authenticated go-github client is built for
// each call.
type Client struct {
	apiURL *url.URL
	retry  RetryConfig
	logger *logging.Logger
}

// NewClient builds a Client. An empty apiURL targets api.github.com; set it
// to https://<host>/api/v3 for GitHub Enterprise.
func NewClient(cfg config.GitHubConfig, logger *logging.Logger) (*Client, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	c := &Client{
		retry: RetryConfig{
			MaxRetries:     cfg.MaxRetries,
			InitialBackoff: cfg.RetryDelay,
		},
		logger: logger.Named("forge"),
	}
	if cfg.APIURL != "" {
		u, err := url.Parse(strings.TrimSuffix(cfg.APIURL, "/") + "/")
		if err != nil {
			return nil, fmt.Errorf("parsing github api url: %w", err)
		}
		c.apiURL = u
	}
	return c, nil
}

func (c *Client) github(ctx context.Context, token config.Secret) (*github.Client, error) {
	if !token.IsSet() {
		return nil, ErrNoToken
	}
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token.Value()})
	gh := github.NewClient(oauth2.NewClient(ctx, ts))
	if c.apiURL != nil {
		gh.BaseURL = c.apiURL
	}
	return gh, nil
}

// CreatePullRequest opens pr and returns its HTML URL. Transient failures
// and rate limits are retried with backoff.
func (c *Client) CreatePullRequest(ctx context.Context, token config.Secret, pr PullRequest) (string, error) {
	gh, err := c.github(ctx, token)
	if err != nil {
		return "", err
	}

	req := &github.NewPullRequest{
		Title:               github.String(pr.Title),
		Head:                github.String(pr.Head),
		Base:                github.String(pr.Base),
		Body:                github.String(pr.Body),
		MaintainerCanModify: github.Bool(true),
	}

	var created *github.PullRequest
	_, err = retryOperation(ctx, c.retry, c.logger, func() (*github.Response, error) {
		var resp *github.Response
		var err error
		created, resp, err = gh.PullRequests.Create(ctx, pr.Repo.Owner, pr.Repo.Name, req)
		return resp, err
	})
	if err != nil {
		return "", fmt.Errorf("creating pull request on %s: %w", pr.Repo, err)
	}

	prURL := created.GetHTMLURL()
	c.logger.Info(ctx, "pull request opened",
		zap.String("repo", pr.Repo.String()),
		zap.String("head", pr.Head),
		zap.Int("number", created.GetNumber()))
	return prURL, nil
}
