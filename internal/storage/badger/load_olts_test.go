package badger

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
)

func TestLoadOltsFromFiles(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("OLT_CENTRAL_PASSWORD", "s3cret")

	content := `
[olt-central]
name = "Central"
host = "10.0.0.1"
username = "admin"
password = "${OLT_CENTRAL_PASSWORD}"
brand = "olt-zte-c320"
type = "gpon"

[olt-broken]
name = "Missing host"
username = "admin"
password = "x"
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "olts.toml"), []byte(content), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0644))

	db := newTestDB(t)
	logger := arbor.NewLogger()
	storage := NewOltStorage(db, logger)

	require.NoError(t, LoadOltsFromFiles(context.Background(), storage, dir, logger))

	olts, err := storage.ListOlts(context.Background())
	require.NoError(t, err)
	require.Len(t, olts, 1)
	assert.Equal(t, "olt-central", olts[0].Slug)
	assert.Equal(t, "s3cret", olts[0].Password)
	assert.True(t, olts[0].IsC320Gpon())
}

func TestLoadOltsFromFiles_MissingDir(t *testing.T) {
	db := newTestDB(t)
	logger := arbor.NewLogger()
	err := LoadOltsFromFiles(context.Background(), NewOltStorage(db, logger), filepath.Join(t.TempDir(), "absent"), logger)
	assert.NoError(t, err)
}
