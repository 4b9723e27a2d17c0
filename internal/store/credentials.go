package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/solvd/internal/config"
	"github.com/fyrsmithlabs/solvd/internal/solve"
)

// ProviderGitHub is the only forge provider solvd resolves tokens for.
const ProviderGitHub = "github"

// ResolveCredential returns owner's GitHub token.
func (s *Store) ResolveCredential(ctx context.Context, owner string) (solve.Credential, error) {
	var token, updatedAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT token, updated_at FROM credentials WHERE owner = ? AND provider = ?`,
		owner, ProviderGitHub).Scan(&token, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && token == "") {
		return solve.Credential{}, fmt.Errorf("owner %s: %w", owner, ErrNoCredential)
	}
	if err != nil {
		return solve.Credential{}, solve.Wrap(solve.KindPersistence, "resolve_credential", err)
	}
	return solve.Credential{
		Owner:     owner,
		Provider:  ProviderGitHub,
		Token:     config.Secret(token),
		UpdatedAt: parseTime(updatedAt),
	}, nil
}

// SaveCredential inserts or replaces a credential.
func (s *Store) SaveCredential(ctx context.Context, cred solve.Credential) error {
	if cred.Provider == "" {
		cred.Provider = ProviderGitHub
	}
	return s.withTx(ctx, "save_credential", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO credentials (owner, provider, token, updated_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT (owner, provider) DO UPDATE SET token = excluded.token, updated_at = excluded.updated_at`,
			cred.Owner, cred.Provider, cred.Token.Value(), s.timestamp())
		return err
	})
}
