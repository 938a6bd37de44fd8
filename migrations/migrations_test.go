package migrations

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEmbeddedMigrationsAreGooseFormatted(t *testing.T) {
	entries, err := fs.Glob(files, "*.sql")
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	for _, name := range entries {
		body, err := fs.ReadFile(files, name)
		require.NoError(t, err)
		text := string(body)
		require.Contains(t, text, "-- +goose Up", name)
		require.Contains(t, text, "-- +goose Down", name)
		require.Less(t, strings.Index(text, "-- +goose Up"), strings.Index(text, "-- +goose Down"), name)
	}
}

func TestGrantTableKeepsTripleUnique(t *testing.T) {
	body, err := fs.ReadFile(files, "00001_rbac.sql")
	require.NoError(t, err)
	require.Contains(t, string(body), "UNIQUE NULLS NOT DISTINCT (user_id, role_id, chapter_id)")
}
