package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/ghgledger/internal/core"
	"github.com/JonMunkholm/ghgledger/internal/store/storetest"
)

// testDatabaseEnv names a disposable database. The suite truncates every table.
const testDatabaseEnv = "GHG_TEST_DATABASE_URL"

func openTest(t *testing.T) *Store {
	t.Helper()
	url := os.Getenv(testDatabaseEnv)
	if url == "" {
		t.Skipf("%s not set", testDatabaseEnv)
	}
	ctx := context.Background()
	s, err := Open(ctx, Config{URL: url, MaxConns: 4})
	require.NoError(t, err)
	_, err = s.pool.Exec(ctx, `TRUNCATE observations, facilities, sectors, import_jobs, datasets`)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func TestStoreConformance(t *testing.T) {
	if os.Getenv(testDatabaseEnv) == "" {
		t.Skipf("%s not set", testDatabaseEnv)
	}
	storetest.Run(t, func(t *testing.T) core.Store { return openTest(t) })
}

func TestSplitStatements(t *testing.T) {
	stmts := splitStatements(schemaSQL)
	require.NotEmpty(t, stmts)
	for _, s := range stmts {
		require.NotEmpty(t, stripComments(s))
	}

	got := splitStatements("-- only a comment\n;\nCREATE TABLE a (id TEXT);\n")
	require.Len(t, got, 1)
}
