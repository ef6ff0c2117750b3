package collector

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLiteArchive(t *testing.T) {
	ctx := context.Background()
	archive, err := OpenSQLiteArchive(filepath.Join(t.TempDir(), "archive", "collections.db"))
	require.NoError(t, err)
	defer archive.Close()

	c := New(Config{Dir: t.TempDir()})
	a := c.Collect([]Message{{Role: "user", Content: "a"}}, "1")
	b := c.Collect([]Message{{Role: "user", Content: "b"}}, map[string]any{"k": "v"})

	require.NoError(t, archive.Store(ctx, "collection_1.jsonl", []Entry{a, b}))

	n, err := archive.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// Re-archiving the same entries is a no-op.
	require.NoError(t, archive.Store(ctx, "collection_2.jsonl", []Entry{a}))
	n, err = archive.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	sources, err := archive.Sources(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"collection_1.jsonl"}, sources)
}

func TestOpenSQLiteArchiveRequiresPath(t *testing.T) {
	_, err := OpenSQLiteArchive("")
	assert.Error(t, err)
}

func TestCollectorWithSQLiteArchive(t *testing.T) {
	ctx := context.Background()
	archive, err := OpenSQLiteArchive(filepath.Join(t.TempDir(), "collections.db"))
	require.NoError(t, err)
	defer archive.Close()

	c := New(Config{Dir: t.TempDir(), Archive: archive})
	c.Collect("a", "1")
	c.Collect("b", "2")
	c.Collect("c", "3")

	_, err = c.Dump(true)
	require.NoError(t, err)

	n, err := archive.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}
