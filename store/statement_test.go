package store

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

type fakeQuerier struct {
	lastSQL  string
	lastArgs []any
	calls    int
	err      error
}

func (f *fakeQuerier) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.calls++
	f.lastSQL = sql
	f.lastArgs = args
	return pgconn.CommandTag{}, f.err
}

func TestBuildUpsertSQLShapesMemory(t *testing.T) {
	sql := buildUpsertSQL(TableMemory, Factors[TableMemory])
	require.Contains(t, sql, "INSERT INTO memory")
	require.Contains(t, sql, "memory_upsert_constraint")
	require.Contains(t, sql, "$4")
	require.Contains(t, sql, "$5")
}

func TestStatementCacheBuildsOncePerTable(t *testing.T) {
	c := NewStatementCache()
	s1, err := c.get(TableCFCountry)
	require.NoError(t, err)
	s2, err := c.get(TableCFCountry)
	require.NoError(t, err)
	require.Same(t, s1, s2, "expected the same cached *Statement on the second lookup")
}

func TestStatementCacheUnknownTable(t *testing.T) {
	c := NewStatementCache()
	_, err := c.get(Table("bogus"))
	require.Error(t, err)
}

func TestUpsertPassesFactorsAndHashInputs(t *testing.T) {
	c := NewStatementCache()
	q := &fakeQuerier{}

	err := c.Upsert(context.Background(), q, TableCFCountry,
		[]any{"2024-06-01", "demo-app", "US"}, "deadbeef", "1.2.3.4")
	require.NoError(t, err)
	require.Equal(t, 1, q.calls)
	require.Len(t, q.lastArgs, 5)
	require.Equal(t, "deadbeef", q.lastArgs[3])
	require.Equal(t, "1.2.3.4", q.lastArgs[4])
}

func TestUpsertFactorCountMismatch(t *testing.T) {
	c := NewStatementCache()
	q := &fakeQuerier{}
	err := c.Upsert(context.Background(), q, TableCFCountry, []any{"only-one"}, "id", "ip")
	require.Error(t, err)
	require.Zero(t, q.calls, "Exec should not be called when factor counts mismatch")
}
