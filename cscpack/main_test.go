package main

import (
	"flag"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunClosesDatabaseOnFailure(t *testing.T) {
	dir := t.TempDir()
	config := filepath.Join(dir, "config.json")
	// The sqlite file has no ChamberGeometry table, loading the geometry fails.
	content := `{"no_db": false, "db_driver": "sqlite", "dbname": "` + filepath.Join(dir, "conditions.db") + `"}`
	require.NoError(t, os.WriteFile(config, []byte(content), 0o644))

	args := os.Args
	defer func() { os.Args = args }()
	os.Args = []string{"cscpack", "-config", config}
	flag.CommandLine = flag.NewFlagSet("cscpack", flag.ContinueOnError)

	assert.Equal(t, 1, run())
	require.NotNil(t, dbConn)
	assert.ErrorContains(t, dbConn.Ping(), "database is closed")
}
