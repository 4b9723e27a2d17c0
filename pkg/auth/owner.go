// Package auth derives solvd owner identities from authenticated callers.
//
// solvd runs behind an authenticating proxy that forwards the caller name
// in a header. The name is hashed into a stable owner id that scopes
// solves and credentials.
package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

// ErrEmptyUsername is returned for a blank caller name.
var ErrEmptyUsername = errors.New("username cannot be empty")

// ownerDomain separates owner hashes from any other sha256 of a username.
const ownerDomain = "solvd/owner/v1:"

// DeriveOwnerID maps a caller name to its owner id, the hex SHA-256 of the
// trimmed, lowercased name under a fixed prefix. GitHub logins are case
// insensitive, so "Alice" and "alice" own the same solves and credential.
//
//	owner, err := auth.DeriveOwnerID("alice")
func DeriveOwnerID(username string) (string, error) {
	name := strings.ToLower(strings.TrimSpace(username))
	if name == "" {
		return "", ErrEmptyUsername
	}
	sum := sha256.Sum256([]byte(ownerDomain + name))
	return hex.EncodeToString(sum[:]), nil
}
