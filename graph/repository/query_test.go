package repository

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/metagraph/ontology"
	"github.com/c360/metagraph/store"
)

func testRepo(dialect store.Dialect) *Repository {
	return New(nil, dialect, slog.Default())
}

func TestNodeQueryScopingPredicates(t *testing.T) {
	q := testRepo(store.DialectSQLite).Nodes().
		ContainerID("c-1").
		MetatypeID("m-1")

	query, args := q.buildSelect(ListOptions{})
	assert.Contains(t, query, "container_id = $1")
	assert.Contains(t, query, "metatype_id = $2")
	assert.Contains(t, query, "deleted_at IS NULL")
	assert.Contains(t, query, "archived = FALSE")
	assert.Contains(t, query, "ORDER BY created_at, id")
	assert.Contains(t, query, "LIMIT 10000 OFFSET 0")
	assert.Equal(t, []any{"c-1", "m-1"}, args)
}

func TestNodeQueryOperators(t *testing.T) {
	tests := []struct {
		op   string
		want string
	}{
		{OpEq, "data_source_id = $1"},
		{OpNeq, "data_source_id <> $1"},
		{OpLike, "data_source_id LIKE $1"},
		{OpLess, "data_source_id < $1"},
		{OpMore, "data_source_id > $1"},
	}

	for _, tt := range tests {
		t.Run(tt.op, func(t *testing.T) {
			q := testRepo(store.DialectSQLite).Nodes().DataSourceID(tt.op, "ds-1")
			query, args := q.buildSelect(ListOptions{})
			assert.Contains(t, query, tt.want)
			assert.Equal(t, []any{"ds-1"}, args)
		})
	}
}

func TestNodeQueryInOperator(t *testing.T) {
	q := testRepo(store.DialectSQLite).Nodes().OriginalDataID(OpIn, "a, b,c")
	query, args := q.buildSelect(ListOptions{})
	assert.Contains(t, query, "original_data_id IN ($1, $2, $3)")
	assert.Equal(t, []any{"a", "b", "c"}, args)
}

func TestNodeQueryRejectsUnknownOperator(t *testing.T) {
	q := testRepo(store.DialectSQLite).Nodes().DataSourceID("between", "x")
	require.Error(t, q.err)

	// Later calls on a failed builder stay no-ops
	q = q.MetatypeID("m-1")
	assert.Error(t, q.err)
	assert.Empty(t, q.wheres)
}

func TestNodeQueryPropertyStringComparison(t *testing.T) {
	q := testRepo(store.DialectSQLite).Nodes().
		Property("name", OpEq, "pump-7", ontology.DataTypeString)

	query, args := q.buildSelect(ListOptions{})
	assert.Contains(t, query, "json_extract(properties, '$.' || $1) = $2")
	assert.Equal(t, []any{"name", "pump-7"}, args)
}

func TestNodeQueryPropertyNumericComparison(t *testing.T) {
	q := testRepo(store.DialectSQLite).Nodes().
		Property("flow_rate", OpMore, "10", ontology.DataTypeNumber)

	query, args := q.buildSelect(ListOptions{})
	assert.Contains(t, query, "CAST(json_extract(properties, '$.' || $1) AS REAL) > $2")
	require.Len(t, args, 2)
	assert.Equal(t, "flow_rate", args[0])
	assert.Equal(t, 10.0, args[1], "numeric keys compare as numbers, not text")
}

func TestNodeQueryPropertyNumericPostgres(t *testing.T) {
	q := testRepo(store.DialectPostgres).Nodes().
		Property("flow_rate", OpLess, 3.5, ontology.DataTypeNumber)

	query, args := q.buildSelect(ListOptions{})
	assert.Contains(t, query, "((properties::jsonb ->> $1)::double precision) < $2")
	assert.Equal(t, []any{"flow_rate", 3.5}, args)
}

func TestNodeQueryPropertyNumericRejectsNonNumber(t *testing.T) {
	q := testRepo(store.DialectSQLite).Nodes().
		Property("flow_rate", OpEq, "not-a-number", ontology.DataTypeNumber)
	assert.Error(t, q.err)
}

func TestNodeQueryIDInEmptyIsImpossible(t *testing.T) {
	q := testRepo(store.DialectSQLite).Nodes().ContainerID("c-1").IDIn(nil)
	query, args := q.buildSelect(ListOptions{})
	assert.Contains(t, query, "1 = 0")
	assert.Equal(t, []any{"c-1"}, args)
}

func TestNodeQueryIDIn(t *testing.T) {
	q := testRepo(store.DialectSQLite).Nodes().IDIn([]string{"n1", "n2"})
	query, args := q.buildSelect(ListOptions{})
	assert.Contains(t, query, "id IN ($1, $2)")
	assert.Equal(t, []any{"n1", "n2"}, args)
}

func TestNodeQueryLimitClamping(t *testing.T) {
	q := testRepo(store.DialectSQLite).Nodes()

	query, _ := q.buildSelect(ListOptions{Limit: 50, Offset: 100})
	assert.Contains(t, query, "LIMIT 50 OFFSET 100")

	query, _ = q.buildSelect(ListOptions{Limit: 999999})
	assert.Contains(t, query, "LIMIT 10000", "limits above the cap are clamped")

	query, _ = q.buildSelect(ListOptions{Offset: -5})
	assert.Contains(t, query, "OFFSET 0")
}

func TestSplitInValues(t *testing.T) {
	assert.Equal(t, []any{"a", "b"}, splitInValues("a,b"))
	assert.Equal(t, []any{"a"}, splitInValues("a,,  "))
	assert.Equal(t, []any{"x", "y"}, splitInValues([]string{"x", "y"}))
	assert.Equal(t, []any{1, 2}, splitInValues([]any{1, 2}))
	assert.Equal(t, []any{42}, splitInValues(42))
}

func TestValidOperator(t *testing.T) {
	for _, op := range []string{OpEq, OpNeq, OpLike, OpIn, OpLess, OpMore} {
		assert.True(t, ValidOperator(op))
	}
	assert.False(t, ValidOperator("between"))
	assert.False(t, ValidOperator(""))
}
