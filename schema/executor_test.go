package schema

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/metagraph/graph"
)

func executorFixture(t *testing.T) (*Schema, *fakeGraph, *Executor) {
	t.Helper()
	s, g, r := resolverFixture(t)
	return s, g, NewExecutor(r, slog.Default())
}

func TestExecuteQuery(t *testing.T) {
	s, g, e := executorFixture(t)
	g.nodes = []*graph.Node{
		{ID: "n-1", MetatypeID: "m-pump", MetatypeName: "Pump",
			Properties: graph.Properties{"flow_rate": 12.5}},
	}

	resp := e.Execute(context.Background(), s,
		`{ Pump(flow_rate: "> 10") { flow_rate _record { metatype_name } } }`, nil)

	require.Empty(t, resp.Errors)
	rows, ok := resp.Data["Pump"].([]map[string]any)
	require.True(t, ok)
	require.Len(t, rows, 1)
	assert.Equal(t, 12.5, rows[0]["flow_rate"])

	filter := g.lastFilter(t)
	require.Len(t, filter.Properties, 1)
	assert.Equal(t, ">", filter.Properties[0].Op)
	assert.Equal(t, "10", filter.Properties[0].Value)
}

func TestExecuteSiblingFieldsIndependent(t *testing.T) {
	s, g, e := executorFixture(t)

	resp := e.Execute(context.Background(), s,
		`{ Pump { _record { id } } Tank { _record { id } } }`, nil)

	require.Empty(t, resp.Errors)
	assert.Contains(t, resp.Data, "Pump")
	assert.Contains(t, resp.Data, "Tank")

	g.mu.Lock()
	defer g.mu.Unlock()
	assert.Len(t, g.filters, 2, "each sibling field builds its own query")
}

func TestExecuteAlias(t *testing.T) {
	s, _, e := executorFixture(t)

	resp := e.Execute(context.Background(), s,
		`{ fast: Pump(flow_rate: "> 100") { flow_rate } }`, nil)

	require.Empty(t, resp.Errors)
	assert.Contains(t, resp.Data, "fast")
	assert.NotContains(t, resp.Data, "Pump")
}

func TestExecuteRecordAndRelationshipArguments(t *testing.T) {
	s, g, e := executorFixture(t)
	g.edges["Pump|feeds|Tank"] = []*graph.Edge{{OriginNodeID: "n-1", DestinationNodeID: "n-9"}}

	resp := e.Execute(context.Background(), s, `{
		Pump(
			_record: {data_source_id: "ds-1", limit: 25, page: 2}
			_relationship: {feeds: {Tank: true}}
		) { flow_rate }
	}`, nil)

	require.Empty(t, resp.Errors)
	filter := g.lastFilter(t)
	assert.Equal(t, 25, filter.Limit)
	assert.Equal(t, 25, filter.Offset)
	require.NotNil(t, filter.DataSourceID)
	assert.Equal(t, "ds-1", filter.DataSourceID.Value)
	assert.Equal(t, []string{"n-1"}, filter.IDs)
}

func TestExecuteVariables(t *testing.T) {
	s, g, e := executorFixture(t)

	resp := e.Execute(context.Background(), s,
		`query ($f: String) { Pump(flow_rate: $f) { flow_rate } }`,
		map[string]any{"f": "< 3"})

	require.Empty(t, resp.Errors)
	filter := g.lastFilter(t)
	require.Len(t, filter.Properties, 1)
	assert.Equal(t, "<", filter.Properties[0].Op)
	assert.Equal(t, "3", filter.Properties[0].Value)
}

func TestExecuteMalformedQuery(t *testing.T) {
	s, _, e := executorFixture(t)
	resp := e.Execute(context.Background(), s, `{ Pump(`, nil)
	assert.NotEmpty(t, resp.Errors)
	assert.Empty(t, resp.Data)
}

func TestExecuteUnknownFieldRejectedByValidation(t *testing.T) {
	s, _, e := executorFixture(t)
	resp := e.Execute(context.Background(), s, `{ Valve { _record { id } } }`, nil)
	assert.NotEmpty(t, resp.Errors)
}

func TestExecuteMutationUnsupported(t *testing.T) {
	s, _, e := executorFixture(t)
	resp := e.Execute(context.Background(), s, `mutation { Pump { flow_rate } }`, nil)
	assert.NotEmpty(t, resp.Errors)
}
