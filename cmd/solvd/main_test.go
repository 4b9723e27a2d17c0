package main

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/solvd/internal/logging"
	"github.com/fyrsmithlabs/solvd/internal/store"
	"github.com/fyrsmithlabs/solvd/pkg/auth"
)

// isolate points HOME and the store at temp dirs.
func isolate(t *testing.T) string {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	dbPath := filepath.Join(t.TempDir(), "solvd.db")
	t.Setenv("SOLVD_STORE_PATH", dbPath)
	return dbPath
}

func TestVersionCmd(t *testing.T) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})

	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "Version:    dev")
}

func TestReadToken(t *testing.T) {
	tok, err := readToken(strings.NewReader("  ghp_abc \nignored\n"))
	require.NoError(t, err)
	assert.Equal(t, "ghp_abc", tok.Value())

	tok, err = readToken(strings.NewReader("ghp_noline"))
	require.NoError(t, err)
	assert.Equal(t, "ghp_noline", tok.Value())

	_, err = readToken(strings.NewReader("\n"))
	assert.Error(t, err)
}

func TestCredentialSet(t *testing.T) {
	dbPath := isolate(t)

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetIn(strings.NewReader("ghp_secret\n"))
	root.SetArgs([]string{"credential", "set", "--caller", "alice"})
	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "Stored github credential for alice")
	assert.NotContains(t, out.String(), "ghp_secret")

	st, err := store.Open(context.Background(), dbPath, logging.NewNop())
	require.NoError(t, err)
	defer st.Close()

	owner, err := auth.DeriveOwnerID("alice")
	require.NoError(t, err)
	cred, err := st.ResolveCredential(context.Background(), owner)
	require.NoError(t, err)
	assert.Equal(t, "ghp_secret", cred.Token.Value())
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func TestServeIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	isolate(t)
	port := freePort(t)
	t.Setenv("SOLVD_SERVER_HTTP_PORT", fmt.Sprint(port))
	t.Setenv("SOLVD_SANDBOX_PROVIDER", "local")
	t.Setenv("SOLVD_LOGGING_LEVEL", "error")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- runServe(ctx, "", true)
	}()

	url := fmt.Sprintf("http://127.0.0.1:%d/health", port)
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 50*time.Millisecond)

	cancel()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shutdown in time")
	}
}
