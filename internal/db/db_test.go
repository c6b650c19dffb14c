package db

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPathResolvesDirectories(t *testing.T) {
	dir := t.TempDir()
	assert.Equal(t, filepath.Join(dir, DefaultName), Path(Config{Path: dir}))
	assert.Equal(t, filepath.Join(dir, "r.db"), Path(Config{Path: filepath.Join(dir, "r.db")}))
	assert.Equal(t, DefaultName, Path(Config{}))
}

func TestOpenCreatesParentDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "reports.db")
	conn, err := Open(Config{Path: path})
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.Ping())

	_, err = os.Stat(path)
	assert.NoError(t, err)
}
