package migrations

import (
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddedMigrationsPairUpAndDown(t *testing.T) {
	entries, err := files.ReadDir(".")
	require.NoError(t, err)

	ups := make(map[string]bool)
	downs := make(map[string]bool)
	for _, entry := range entries {
		name := entry.Name()
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			ups[strings.TrimSuffix(name, ".up.sql")] = true
		case strings.HasSuffix(name, ".down.sql"):
			downs[strings.TrimSuffix(name, ".down.sql")] = true
		}
	}

	require.NotEmpty(t, ups)
	for version := range ups {
		assert.True(t, downs[version], "migration %s has no matching .down.sql", version)
	}
	for version := range downs {
		assert.True(t, ups[version], "migration %s has no matching .up.sql", version)
	}
}

func TestEmbeddedMigrationsAreSortedByVersionPrefix(t *testing.T) {
	entries, err := files.ReadDir(".")
	require.NoError(t, err)

	var names []string
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".sql") {
			names = append(names, entry.Name())
		}
	}

	sorted := append([]string(nil), names...)
	sort.Strings(sorted)
	assert.Equal(t, sorted, names, "embedded migration filenames must sort into execution order")
}

func TestEmbeddedMigrationsCoverEveryPersistedTable(t *testing.T) {
	wantTables := []string{"users", "authenticators", "derived_addresses", "recovery_emails", "preferences"}

	entries, err := files.ReadDir(".")
	require.NoError(t, err)

	var allUp strings.Builder
	for _, entry := range entries {
		if !strings.HasSuffix(entry.Name(), ".up.sql") {
			continue
		}
		contents, err := files.ReadFile(entry.Name())
		require.NoError(t, err)
		allUp.Write(contents)
	}

	for _, table := range wantTables {
		assert.Contains(t, allUp.String(), "CREATE TABLE IF NOT EXISTS "+table, "missing migration for table %s", table)
	}
}
