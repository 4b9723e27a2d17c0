package forge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/solvd/internal/config"
	"github.com/fyrsmithlabs/solvd/internal/logging"
)

var testRepo = Repo{Host: "github.com", Owner: "acme", Name: "widgets"}

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *logging.TestLogger) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	logger := logging.NewTestLogger()
	c, err := NewClient(config.GitHubConfig{
		APIURL:     srv.URL,
		MaxRetries: 2,
		RetryDelay: 5 * time.Millisecond,
	}, logger.Logger)
	require.NoError(t, err)
	return c, logger
}

func TestCreatePullRequest(t *testing.T) {
	c, logger := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/repos/acme/widgets/pulls", r.URL.Path)
		assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "solvd/issue-7-abcd1234", body["head"])
		assert.Equal(t, "main", body["base"])

		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"number": 12, "html_url": "https://github.com/acme/widgets/pull/12"}`))
	})

	url, err := c.CreatePullRequest(context.Background(), config.Secret("tok-1"), PullRequest{
		Repo:  testRepo,
		Title: "Fix #7",
		Head:  "solvd/issue-7-abcd1234",
		Base:  "main",
	})
	require.NoError(t, err)
	assert.Equal(t, "https://github.com/acme/widgets/pull/12", url)
	logger.AssertLogged(t, zapcore.InfoLevel, "pull request opened")
	logger.AssertNoSecrets(t)
}

func TestCreatePullRequest_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	c, logger := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"number": 1, "html_url": "https://github.com/acme/widgets/pull/1"}`))
	})

	url, err := c.CreatePullRequest(context.Background(), config.Secret("tok"), PullRequest{Repo: testRepo, Head: "h", Base: "main"})
	require.NoError(t, err)
	assert.Equal(t, "https://github.com/acme/widgets/pull/1", url)
	assert.Equal(t, int32(3), calls.Load())
	logger.AssertLogged(t, zapcore.InfoLevel, "recovered after retries")
}

func TestCreatePullRequest_NoRetryOnClientError(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"message": "Validation Failed"}`))
	})

	_, err := c.CreatePullRequest(context.Background(), config.Secret("tok"), PullRequest{Repo: testRepo, Head: "h", Base: "main"})
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestCreatePullRequest_GivesUp(t *testing.T) {
	var calls atomic.Int32
	c, logger := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	_, err := c.CreatePullRequest(context.Background(), config.Secret("tok"), PullRequest{Repo: testRepo, Head: "h", Base: "main"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 2 retries")
	assert.Equal(t, int32(3), calls.Load())
	logger.AssertLogged(t, zapcore.WarnLevel, "all retries exhausted")
}

func TestCreatePullRequest_RequiresToken(t *testing.T) {
	c, err := NewClient(config.GitHubConfig{}, nil)
	require.NoError(t, err)

	_, err = c.CreatePullRequest(context.Background(), config.Secret(""), PullRequest{Repo: testRepo})
	assert.ErrorIs(t, err, ErrNoToken)
}

func TestRetryConfig_ApplyDefaults(t *testing.T) {
	cfg := &RetryConfig{}
	cfg.ApplyDefaults()
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, time.Second, cfg.InitialBackoff)
	assert.Equal(t, 30*time.Second, cfg.MaxBackoff)
	assert.Equal(t, 2.0, cfg.BackoffMultiplier)

	cfg = &RetryConfig{MaxRetries: 5, BackoffMultiplier: 3}
	cfg.ApplyDefaults()
	assert.Equal(t, 5, cfg.MaxRetries)
	assert.Equal(t, 3.0, cfg.BackoffMultiplier)
}
