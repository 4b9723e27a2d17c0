// Package git inspects the local checkout a client runs in, so a submission
// can default to the repository and branch the user is standing in.
package git

import (
	"errors"
	"fmt"
	"strings"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"
)

var (
	// ErrNotGitRepo indicates no repository contains the path.
	ErrNotGitRepo = errors.New("not a git repository")

	// ErrDetached indicates HEAD does not point at a branch.
	ErrDetached = errors.New("HEAD is detached")

	// ErrNoRemote indicates the remote is missing or has no URL.
	ErrNoRemote = errors.New("remote not found")
)

// DefaultRemote is the remote RemoteURL reads when none is named.
const DefaultRemote = "origin"

func open(path string) (*gogit.Repository, error) {
	repo, err := gogit.PlainOpenWithOptions(path, &gogit.PlainOpenOptions{DetectDotGit: true})
	if errors.Is(err, gogit.ErrRepositoryNotExists) {
		return nil, fmt.Errorf("%w: %s", ErrNotGitRepo, path)
	}
	if err != nil {
		return nil, fmt.Errorf("opening repository: %w", err)
	}
	return repo, nil
}

// DetectBranch returns the branch HEAD points at in the repository
// containing path. An unborn branch is reported by name.
func DetectBranch(path string) (string, error) {
	repo, err := open(path)
	if err != nil {
		return "", err
	}

	// HEAD without resolving, so unborn branches still have a name.
	head, err := repo.Storer.Reference(plumbing.HEAD)
	if err != nil {
		return "", fmt.Errorf("reading HEAD: %w", err)
	}
	if head.Type() != plumbing.SymbolicReference || !head.Target().IsBranch() {
		return "", ErrDetached
	}
	return head.Target().Short(), nil
}

// RemoteURL returns the HTTPS form of the first URL of remote in the
// repository containing path. An empty remote means DefaultRemote.
func RemoteURL(path, remote string) (string, error) {
	if remote == "" {
		remote = DefaultRemote
	}
	repo, err := open(path)
	if err != nil {
		return "", err
	}
	r, err := repo.Remote(remote)
	if errors.Is(err, gogit.ErrRemoteNotFound) {
		return "", fmt.Errorf("%w: %s", ErrNoRemote, remote)
	}
	if err != nil {
		return "", fmt.Errorf("reading remote %s: %w", remote, err)
	}
	urls := r.Config().URLs
	if len(urls) == 0 {
		return "", fmt.Errorf("%w: %s has no url", ErrNoRemote, remote)
	}
	return HTTPSURL(urls[0])
}

// HTTPSURL rewrites a clone URL to https://host/owner/name. SSH and
// scp-style URLs are converted; credentials and the .git suffix are dropped.
//
//	git@github.com:acme/widgets.git  -> https://github.com/acme/widgets
//	ssh://git@github.com/acme/widgets -> https://github.com/acme/widgets
func HTTPSURL(raw string) (string, error) {
	ep, err := transport.NewEndpoint(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("parsing remote url: %w", err)
	}
	switch ep.Protocol {
	case "https", "http", "ssh", "git":
	default:
		return "", fmt.Errorf("unsupported remote protocol %q", ep.Protocol)
	}
	if ep.Host == "" {
		return "", fmt.Errorf("remote url %q has no host", raw)
	}
	path := strings.TrimSuffix(strings.Trim(ep.Path, "/"), ".git")
	return "https://" + ep.Host + "/" + path, nil
}
