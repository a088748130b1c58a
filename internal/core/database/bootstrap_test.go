package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitScript_RecordsSchemaVersionAndIsRepeatable(t *testing.T) {
	b, err := bootstrapFS.ReadFile("scripts/initdb.sql")
	require.NoError(t, err)
	script := string(b)

	assert.Contains(t, script,
		fmt.Sprintf("INSERT INTO kbingest_meta (version) VALUES (%d) ON CONFLICT (version) DO NOTHING;", schemaVersion))

	creates := regexp.MustCompile(`(?i)CREATE (EXTENSION|TABLE|INDEX)\s+(\S+\s+\S+\s+\S+)?`).FindAllStringSubmatch(script, -1)
	require.NotEmpty(t, creates)
	for _, m := range creates {
		assert.Regexp(t, `(?i)^IF NOT EXISTS`, m[2], m[0])
	}
}

func TestEnsureBootstrapped_Twice(t *testing.T) {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	sqlDB, err := sql.Open("pgx", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, EnsureBootstrapped(ctx, sqlDB))
	require.NoError(t, EnsureBootstrapped(ctx, sqlDB))

	var n int
	require.NoError(t, sqlDB.QueryRowContext(ctx, `SELECT count(*) FROM kbingest_meta WHERE version = $1`, schemaVersion).Scan(&n))
	assert.Equal(t, 1, n)
}
