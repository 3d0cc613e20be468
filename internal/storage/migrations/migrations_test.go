package migrations

import (
	"io/fs"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitStatements(t *testing.T) {
	sql := `-- header comment
CREATE TABLE a (x Int64);

-- second
CREATE TABLE b (y String)
ENGINE = MergeTree ORDER BY y;
`
	stmts := splitStatements(sql)
	require.Len(t, stmts, 2)
	assert.Equal(t, "CREATE TABLE a (x Int64)", stmts[0])
	assert.Equal(t, "CREATE TABLE b (y String)\nENGINE = MergeTree ORDER BY y", stmts[1])
}

func TestValidateNoSemicolonInStrings(t *testing.T) {
	assert.NoError(t, validateNoSemicolonInStrings(`SELECT 'it''s'; SELECT 1;`))
	assert.Error(t, validateNoSemicolonInStrings(`SELECT 'a;b'`))
}

func TestDatabaseFromDSN(t *testing.T) {
	db, err := databaseFromDSN("clickhouse://default:@localhost:9000/desk")
	require.NoError(t, err)
	assert.Equal(t, "desk", db)

	_, err = databaseFromDSN("clickhouse://localhost:9000")
	assert.Error(t, err)
}

func TestEmbeddedMigrations(t *testing.T) {
	pg, err := fs.Glob(PostgresFS, "postgres/*.sql")
	require.NoError(t, err)
	assert.Equal(t, []string{"postgres/001_tickets.sql", "postgres/002_catalog.sql"}, pg)

	ch, err := fs.Glob(ClickhouseFS, "clickhouse/*.sql")
	require.NoError(t, err)
	assert.Equal(t, []string{"clickhouse/001_deals.sql"}, ch)

	data, err := fs.ReadFile(ClickhouseFS, "clickhouse/001_deals.sql")
	require.NoError(t, err)
	require.NoError(t, validateNoSemicolonInStrings(string(data)))
	assert.Len(t, splitStatements(string(data)), 1)
}

func TestReadScripts_OrderAndSkipsEmpty(t *testing.T) {
	fsys := fstest.MapFS{
		"db/002_b.sql":   {Data: []byte("SELECT 2;")},
		"db/001_a.sql":   {Data: []byte("SELECT 1;")},
		"db/003_nop.sql": {Data: []byte("  \n")},
		"db/README.md":   {Data: []byte("not sql")},
	}

	scripts, err := readScripts(fsys, "db")
	require.NoError(t, err)
	require.Len(t, scripts, 2)
	assert.Equal(t, "001_a.sql", scripts[0].name)
	assert.Equal(t, "SELECT 2;", scripts[1].sql)
}
