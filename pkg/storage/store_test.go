package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stores(t *testing.T) map[string]ArtifactStore {
	fs, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	return map[string]ArtifactStore{
		"memory": NewMemoryStore(),
		"file":   fs,
	}
}

func TestArtifactStore_PutGetList(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			defer s.Close()

			require.NoError(t, s.Put(ctx, UploadKey("abc", "people.csv"), []byte("name,id\n")))
			require.NoError(t, s.Put(ctx, ProcessedKey("abc", ".csv"), []byte("masked")))
			require.NoError(t, s.Put(ctx, ReportKey("abc", DetectionsFile), []byte("row_index\n")))
			require.NoError(t, s.Put(ctx, ReportKey("abc", SummaryJSONFile), []byte("{}")))

			got, err := s.Get(ctx, "uploads/abc_processed.csv")
			require.NoError(t, err)
			assert.Equal(t, []byte("masked"), got)

			keys, err := s.List(ctx, "reports/abc/")
			require.NoError(t, err)
			assert.Equal(t, []string{"reports/abc/detections.csv", "reports/abc/summary.json"}, keys)

			keys, err = s.List(ctx, "uploads/abc_")
			require.NoError(t, err)
			assert.Len(t, keys, 2)

			require.NoError(t, s.Put(ctx, ProcessedKey("abc", ".csv"), []byte("again")))
			got, err = s.Get(ctx, ProcessedKey("abc", ".csv"))
			require.NoError(t, err)
			assert.Equal(t, []byte("again"), got)
		})
	}
}

func TestArtifactStore_Errors(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Get(ctx, "reports/missing/summary.json")
			assert.ErrorIs(t, err, ErrNotFound)

			for _, key := range []string{"", "/etc/passwd", "../outside", "a/../../b", `a\b`} {
				assert.ErrorIs(t, s.Put(ctx, key, []byte("x")), ErrInvalidKey, key)
			}
		})
	}
}

func TestUploadKey_StripsDirectories(t *testing.T) {
	assert.Equal(t, "uploads/id_people.csv", UploadKey("id", "../../people.csv"))
	assert.Equal(t, "uploads/id_book.xlsx", UploadKey("id", `C:\docs\book.xlsx`))
}

func TestFileStore_Layout(t *testing.T) {
	root := t.TempDir()
	s, err := NewFileStore(root)
	require.NoError(t, err)

	require.NoError(t, s.Put(context.Background(), ReportKey("id", SummaryTextFile), []byte("text")))

	data, err := os.ReadFile(filepath.Join(root, "reports", "id", "summary.txt"))
	require.NoError(t, err)
	assert.Equal(t, "text", string(data))

	entries, err := os.ReadDir(filepath.Join(root, "reports", "id"))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestFileStore_ListScopedToPrefixDirectory(t *testing.T) {
	ctx := context.Background()
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, s.Put(ctx, ProcessedKey("abc", ".csv"), []byte("masked")))
	require.NoError(t, s.Put(ctx, ReportKey("abc", DetectionsFile), []byte("row_index\n")))

	keys, err := s.List(ctx, ProcessedKey("abc", ""))
	require.NoError(t, err)
	assert.Equal(t, []string{"uploads/abc_processed.csv"}, keys)

	keys, err = s.List(ctx, "reports/missing/")
	require.NoError(t, err)
	assert.Empty(t, keys)

	keys, err = s.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, keys, 2)

	_, err = s.List(ctx, "../outside/")
	assert.ErrorIs(t, err, ErrInvalidKey)
}
