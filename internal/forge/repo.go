package forge

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-git/go-git/v5/plumbing/transport"
)

// ErrInvalidRepoURL is returned for repository URLs solvd cannot work with.
var ErrInvalidRepoURL = errors.New("invalid repository url")

// Repo identifies a hosted repository.
type Repo struct {
	Host  string
	Owner string
	Name  string
}

// CloneURL returns the canonical HTTPS clone URL.
func (r Repo) CloneURL() string {
	return fmt.Sprintf("https://%s/%s/%s.git", r.Host, r.Owner, r.Name)
}

// String returns owner/name.
func (r Repo) String() string {
	return r.Owner + "/" + r.Name
}

// ParseRepoURL validates an HTTPS repository URL of the form
// https://host/owner/name[.git]. Embedded credentials are rejected so a
// token can never travel inside a stored URL.
func ParseRepoURL(raw string) (Repo, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Repo{}, fmt.Errorf("%w: empty", ErrInvalidRepoURL)
	}

	ep, err := transport.NewEndpoint(raw)
	if err != nil {
		return Repo{}, fmt.Errorf("%w: %v", ErrInvalidRepoURL, err)
	}
	if ep.Protocol != "https" {
		return Repo{}, fmt.Errorf("%w: scheme %q is not https", ErrInvalidRepoURL, ep.Protocol)
	}
	if ep.User != "" || ep.Password != "" {
		return Repo{}, fmt.Errorf("%w: credentials must not be embedded", ErrInvalidRepoURL)
	}
	if ep.Host == "" {
		return Repo{}, fmt.Errorf("%w: missing host", ErrInvalidRepoURL)
	}

	parts := strings.Split(strings.Trim(ep.Path, "/"), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return Repo{}, fmt.Errorf("%w: path must be /owner/name", ErrInvalidRepoURL)
	}

	host := ep.Host
	if ep.Port != 0 && ep.Port != 443 {
		host = fmt.Sprintf("%s:%d", ep.Host, ep.Port)
	}
	return Repo{
		Host:  host,
		Owner: parts[0],
		Name:  strings.TrimSuffix(parts[1], ".git"),
	}, nil
}
