package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	gogit "github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/solvd/internal/events"
	"github.com/fyrsmithlabs/solvd/internal/matrix"
	"github.com/fyrsmithlabs/solvd/internal/solve"
	v1 "github.com/fyrsmithlabs/solvd/pkg/api/v1"
)

func execute(t *testing.T, srv *httptest.Server, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--server", srv.URL, "--caller", "alice"}, args...))
	err := root.Execute()
	return out.String(), err
}

func TestSubmit(t *testing.T) {
	t.Chdir(t.TempDir())
	var got v1.SubmitRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "alice", r.Header.Get(v1.CallerHeader))
		assert.Equal(t, "/solve", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(v1.SubmitResponse{SolveID: "s-1", Status: "pending"})
	}))
	defer srv.Close()

	out, err := execute(t, srv, "submit", "--repo", "https://github.com/acme/widgets", "--issue", "42",
		"--models", "m1,m2", "--temperatures", "0,0.5", "--max-edits", "10", "--evolution", "none", "--max-parallel", "3")
	require.NoError(t, err)
	assert.Contains(t, out, "Solve s-1 accepted (pending)")

	assert.Equal(t, 42, got.IssueNumber)
	assert.Equal(t, "main", got.BaseBranch)
	assert.Equal(t, []string{"m1", "m2"}, got.Matrix.Models)
	assert.Equal(t, []float64{0, 0.5}, got.Matrix.Temperatures)
	require.NotNil(t, got.Limits)
	assert.Equal(t, 3, got.Limits.MaxParallel)
}

func TestSubmit_FromCheckout(t *testing.T) {
	dir := t.TempDir()
	repo, err := gogit.PlainInitWithOptions(dir, &gogit.PlainInitOptions{
		InitOptions: gogit.InitOptions{DefaultBranch: plumbing.NewBranchReferenceName("develop")},
	})
	require.NoError(t, err)
	_, err = repo.CreateRemote(&gitconfig.RemoteConfig{Name: "origin", URLs: []string{"git@github.com:acme/widgets.git"}})
	require.NoError(t, err)
	t.Chdir(dir)

	var got v1.SubmitRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(v1.SubmitResponse{SolveID: "s-2", Status: "pending"})
	}))
	defer srv.Close()

	_, err = execute(t, srv, "submit", "--issue", "7", "--models", "m1")
	require.NoError(t, err)
	assert.Equal(t, "https://github.com/acme/widgets", got.RepoURL)
	assert.Equal(t, "develop", got.BaseBranch)
}

func TestSubmit_NoRepo(t *testing.T) {
	t.Chdir(t.TempDir())
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("request must not be sent")
	}))
	defer srv.Close()

	_, err := execute(t, srv, "submit", "--issue", "7")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--repo not given")
}

func TestSubmit_ServerError(t *testing.T) {
	t.Chdir(t.TempDir())
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(v1.ErrorResponse{Code: "invalid_request", Message: "matrix axis is empty: models"})
	}))
	defer srv.Close()

	_, err := execute(t, srv, "submit", "--repo", "https://github.com/acme/widgets", "--issue", "1")
	require.Error(t, err)
	assert.ErrorIs(t, err, v1.ErrInvalidRequest)
	assert.Contains(t, err.Error(), "matrix axis is empty")
}

func TestGet(t *testing.T) {
	pr := "https://github.com/acme/widgets/pull/9"
	passed := true
	files := 2
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		champion := v1.Run{ID: "r-0", Ordinal: 0, Model: "m1", Status: "COMPLETED", TestsPassed: &passed, PRURL: &pr, FilesChanged: &files}
		_ = json.NewEncoder(w).Encode(v1.SolveDetail{
			Solve:    v1.Solve{ID: "s-1", RepoURL: "https://github.com/acme/widgets", IssueNumber: 42, BaseBranch: "main", Status: "COMPLETED"},
			Runs:     []v1.Run{champion, {ID: "r-1", Ordinal: 1, Model: "m2", Status: "FAILED"}},
			Champion: &champion,
		})
	}))
	defer srv.Close()

	out, err := execute(t, srv, "get", "s-1")
	require.NoError(t, err)
	assert.Contains(t, out, "Status:   COMPLETED")
	assert.Contains(t, out, "Champion: run 0 (m1) "+pr)
	assert.Contains(t, out, "pass")
	assert.Contains(t, out, "FAILED")
}

func TestList_JSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "5", r.URL.Query().Get("limit"))
		_ = json.NewEncoder(w).Encode(v1.SolveList{Solves: []v1.Solve{{ID: "s-1", Status: "PENDING"}}})
	}))
	defer srv.Close()

	out, err := execute(t, srv, "--json", "list", "--limit", "5")
	require.NoError(t, err)

	var list v1.SolveList
	require.NoError(t, json.Unmarshal([]byte(out), &list))
	require.Len(t, list.Solves, 1)
	assert.Equal(t, "s-1", list.Solves[0].ID)
}

func TestHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(v1.HealthResponse{Status: "ok"})
	}))
	defer srv.Close()

	out, err := execute(t, srv, "health")
	require.NoError(t, err)
	assert.Contains(t, out, "Server Status: ok")
}

func TestDescribe(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	champion := "r-0"
	line := describe(events.Event{Time: at, Solve: &solve.Solve{ID: "s-1", Status: solve.StatusCompleted, ChampionRunID: &champion}})
	assert.Contains(t, line, "solve s-1  COMPLETED  champion r-0")

	line = describe(events.Event{Time: at, Run: &solve.Run{
		ExperimentConfig: matrix.ExperimentConfig{Ordinal: 1, Model: "m2"},
		Status:           solve.StatusFailed,
		ErrorMessage:     "agent failed",
	}})
	assert.Contains(t, line, "run 1 m2  FAILED  tests=-  agent failed")
}
