package crawler

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"flipr_ingest/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileProgressStoreMissingFile(t *testing.T) {
	store := NewFileProgressStore(filepath.Join(t.TempDir(), "missing.json"))
	p, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, p)
}

func TestFileProgressStoreReadsLegacyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "api_progress.json")
	legacy := `{
    "New York, NY": {"attom_page": 3, "rentcast_offset": 100, "redfin_page": 2, "datafiniti_page": 1, "last_api": "redfin"},
    "Miami, FL": {"attom_page": 2}
}`
	require.NoError(t, os.WriteFile(path, []byte(legacy), 0o644))

	p, err := NewFileProgressStore(path).Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &models.CityProgress{AttomPage: 3, RentcastOffset: 100, RedfinPage: 2, DatafinitiPage: 1, LastAPI: "redfin"}, p["New York, NY"])
	assert.Equal(t, &models.CityProgress{AttomPage: 2, RentcastOffset: 0, RedfinPage: 1, DatafinitiPage: 1}, p["Miami, FL"])
}

func TestFileProgressStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store := NewFileProgressStore(filepath.Join(dir, "api_progress.json"))
	in := models.Progress{"Austin, TX": {AttomPage: 4, RentcastOffset: 50, RedfinPage: 1, DatafinitiPage: 2, LastAPI: "attom"}}

	require.NoError(t, store.Save(context.Background(), in))
	out, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, in, out)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestFileProgressStoreCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "api_progress.json")
	require.NoError(t, os.WriteFile(path, []byte("[1,2"), 0o644))
	_, err := NewFileProgressStore(path).Load(context.Background())
	assert.Error(t, err)
}
