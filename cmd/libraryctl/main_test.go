package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/community-library/internal/auth"
	"github.com/sakif/community-library/internal/mirror"
	"github.com/sakif/community-library/internal/repository/sqlite"
	"github.com/sakif/community-library/internal/service"
)

const catalogYAML = `
books:
  - title: Kindred
    author: Octavia E. Butler
    category: Fiction
    language: English
    copies: 3
  - title: The Dispossessed
    author: Ursula K. Le Guin
    category: Science Fiction
    copies: 1
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func newTestServices(t *testing.T) *service.Services {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := mirror.New(store, logger)
	require.NoError(t, m.Refresh(context.Background()))
	return service.New(service.Backend{Store: store, Mirror: m, Logger: logger}, nil, nil)
}

// run executes the CLI with a clean environment pointed at a file database.
func run(t *testing.T, env map[string]string, args ...string) (string, error) {
	t.Helper()
	t.Setenv("CONFIG_PATH", writeFile(t, "config.yaml", "log:\n  level: error\n"))
	t.Setenv("DB_PATH", filepath.Join(t.TempDir(), "library.db"))
	for k, v := range env {
		t.Setenv(k, v)
	}

	var out bytes.Buffer
	root := (&app{}).rootCmd()
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

// =============================================================================
// Seed
// =============================================================================

func TestLoadCatalog(t *testing.T) {
	books, err := loadCatalog(writeFile(t, "catalog.yaml", catalogYAML))
	require.NoError(t, err)
	require.Len(t, books, 2)

	assert.Equal(t, "Kindred", books[0].Title)
	assert.Equal(t, "Octavia E. Butler", books[0].Author)
	assert.Equal(t, "English", books[0].Language)
	assert.Equal(t, 3, books[0].Copies)
	assert.Equal(t, "Science Fiction", books[1].Category)
}

func TestLoadCatalog_Errors(t *testing.T) {
	_, err := loadCatalog(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = loadCatalog(writeFile(t, "empty.yaml", "books: []\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no books")
}

func TestSeedCatalog_SkipsExistingTitles(t *testing.T) {
	svc := newTestServices(t)
	books, err := loadCatalog(writeFile(t, "catalog.yaml", catalogYAML))
	require.NoError(t, err)

	var out bytes.Buffer
	added, skipped, err := seedCatalog(context.Background(), svc, books, &out)
	require.NoError(t, err)
	assert.Equal(t, 2, added)
	assert.Equal(t, 0, skipped)

	book, err := svc.Catalog.FindBookByTitle("Kindred")
	require.NoError(t, err)
	copies, err := svc.Catalog.AvailableCopies(book.ID)
	require.NoError(t, err)
	assert.Len(t, copies, 3)

	out.Reset()
	added, skipped, err = seedCatalog(context.Background(), svc, books, &out)
	require.NoError(t, err)
	assert.Equal(t, 0, added)
	assert.Equal(t, 2, skipped)
	assert.Contains(t, out.String(), "skip  Kindred")
}

func TestSeedCatalog_StopsOnInvalidBook(t *testing.T) {
	svc := newTestServices(t)
	books := []seedBook{
		{Title: "Kindred", Author: "Octavia E. Butler", Copies: 1},
		{Title: "No Author", Copies: 1},
	}

	added, _, err := seedCatalog(context.Background(), svc, books, io.Discard)
	require.Error(t, err)
	assert.Equal(t, 1, added)
	assert.Contains(t, err.Error(), "No Author")
}

// =============================================================================
// Commands
// =============================================================================

func TestCommand_SeedThenVerify(t *testing.T) {
	catalog := writeFile(t, "catalog.yaml", catalogYAML)
	db := filepath.Join(t.TempDir(), "library.db")
	env := map[string]string{"DB_PATH": db}

	out, err := run(t, env, "seed", "--file", catalog)
	require.NoError(t, err)
	assert.Contains(t, out, "2 added, 0 skipped")

	out, err = run(t, env, "verify")
	require.NoError(t, err)
	assert.Contains(t, out, "checked 2 books, 4 copies, 0 users")
	assert.Contains(t, out, "no violations")
}

func TestCommand_Allocate(t *testing.T) {
	out, err := run(t, nil, "allocate", "-n", "5")
	require.NoError(t, err)
	assert.Equal(t, "1-5", strings.TrimSpace(out))
}

func TestCommand_Token(t *testing.T) {
	secret := "cli-test-secret-0123456789"
	out, err := run(t, map[string]string{"JWT_SECRET": secret}, "token", "--uid", "librarian")
	require.NoError(t, err)

	tokens, err := auth.NewTokenService(secret, 0)
	require.NoError(t, err)
	uid, err := tokens.Validate(strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, "librarian", uid)
}

func TestCommand_TokenWithoutSecret(t *testing.T) {
	_, err := run(t, map[string]string{"JWT_SECRET": ""}, "token", "--uid", "librarian")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT_SECRET")
}
