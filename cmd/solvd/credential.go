package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/user"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/solvd/internal/config"
	"github.com/fyrsmithlabs/solvd/internal/logging"
	"github.com/fyrsmithlabs/solvd/internal/solve"
	"github.com/fyrsmithlabs/solvd/internal/store"
	"github.com/fyrsmithlabs/solvd/pkg/auth"
)

func newCredentialCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "credential",
		Short: "Manage per-caller forge credentials",
	}

	var caller string
	set := &cobra.Command{
		Use:   "set",
		Short: "Store the GitHub token of a caller",
		Long: `Store the GitHub token solvd uses to push branches and open pull requests
for a caller. The token is read from stdin so it never appears in shell
history or process listings.

Examples:
  # Store a token for the current OS user
  gh auth token | solvd credential set

  # Store a token for an HTTP caller
  solvd credential set --caller alice < token.txt`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCredentialSet(cmd.Context(), *configPath, caller, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	set.Flags().StringVar(&caller, "caller", "", "caller identity, as sent in the X-Solvd-Caller header (default: current OS user)")
	cmd.AddCommand(set)
	return cmd
}

func runCredentialSet(ctx context.Context, configPath, caller string, in io.Reader, out io.Writer) error {
	if caller == "" {
		u, err := user.Current()
		if err != nil {
			return fmt.Errorf("unable to determine user identity: %w", err)
		}
		caller = u.Username
	}
	owner, err := auth.DeriveOwnerID(caller)
	if err != nil {
		return err
	}

	token, err := readToken(in)
	if err != nil {
		return err
	}

	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Store.Path), 0700); err != nil {
		return fmt.Errorf("creating store directory: %w", err)
	}
	st, err := store.Open(ctx, cfg.Store.Path, logging.NewNop())
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	if err := st.SaveCredential(ctx, solve.Credential{
		Owner:    owner,
		Provider: store.ProviderGitHub,
		Token:    token,
	}); err != nil {
		return fmt.Errorf("saving credential: %w", err)
	}

	fmt.Fprintf(out, "Stored %s credential for %s\n", store.ProviderGitHub, caller)
	return nil
}

// readToken reads the first line of in.
func readToken(in io.Reader) (config.Secret, error) {
	line, err := bufio.NewReader(io.LimitReader(in, 64*1024)).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("failed to read token: %w", err)
	}
	token := strings.TrimSpace(line)
	if token == "" {
		return "", errors.New("no token on stdin")
	}
	return config.Secret(token), nil
}
