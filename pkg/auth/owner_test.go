package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveOwnerID(t *testing.T) {
	tests := []struct {
		name     string
		username string
		want     string
		wantErr  bool
	}{
		{"login", "alice", expectedOwner("alice"), false},
		{"email", "bob@example.com", expectedOwner("bob@example.com"), false},
		{"case folded", "Alice", expectedOwner("alice"), false},
		{"trimmed", "  alice\n", expectedOwner("alice"), false},
		{"inner spaces kept", "user name", expectedOwner("user name"), false},
		{"empty", "", "", true},
		{"blank", "   ", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DeriveOwnerID(tt.username)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrEmptyUsername)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Len(t, got, 64)
		})
	}
}

func TestDeriveOwnerID_Uniqueness(t *testing.T) {
	alice, err := DeriveOwnerID("alice")
	require.NoError(t, err)
	bob, err := DeriveOwnerID("bob")
	require.NoError(t, err)
	assert.NotEqual(t, alice, bob)

	// Not the bare hash of the name.
	bare := sha256.Sum256([]byte("alice"))
	assert.NotEqual(t, hex.EncodeToString(bare[:]), alice)
}

func expectedOwner(name string) string {
	sum := sha256.Sum256([]byte("solvd/owner/v1:" + name))
	return hex.EncodeToString(sum[:])
}
