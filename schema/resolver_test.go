package schema

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/metagraph/graph"
	"github.com/c360/metagraph/graph/repository"
	"github.com/c360/metagraph/ontology"
)

type fakeGraph struct {
	mu       sync.Mutex
	filters  []NodeFilter
	nodes    []*graph.Node
	nodesErr error
	edges    map[string][]*graph.Edge
	edgesErr error
}

func (f *fakeGraph) ListNodes(_ context.Context, filter NodeFilter) ([]*graph.Node, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.filters = append(f.filters, filter)
	return f.nodes, f.nodesErr
}

func (f *fakeGraph) FindByRelationship(_ context.Context, _, originName, relationshipName, destinationName string) ([]*graph.Edge, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.edgesErr != nil {
		return nil, f.edgesErr
	}
	return f.edges[originName+"|"+relationshipName+"|"+destinationName], nil
}

func (f *fakeGraph) lastFilter(t *testing.T) NodeFilter {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.filters)
	return f.filters[len(f.filters)-1]
}

func resolverFixture(t *testing.T) (*Schema, *fakeGraph, *Resolver) {
	t.Helper()
	s := buildSchema(t, plantOntology())
	g := &fakeGraph{edges: map[string][]*graph.Edge{}}
	return s, g, NewResolver(g, slog.Default())
}

func TestResolveScopesByContainerAndMetatype(t *testing.T) {
	s, g, r := resolverFixture(t)

	r.Resolve(context.Background(), s, "Pump", nil)

	filter := g.lastFilter(t)
	assert.Equal(t, "c-1", filter.ContainerID)
	assert.Equal(t, "m-pump", filter.MetatypeID)
	assert.Equal(t, DefaultLimit, filter.Limit)
	assert.Zero(t, filter.Offset)
	assert.False(t, filter.ConstrainIDs)
}

func TestResolvePropertyFilterTyped(t *testing.T) {
	s, g, r := resolverFixture(t)

	r.Resolve(context.Background(), s, "Pump", map[string]any{
		"flow_rate": "> 10",
		"name":      "like pump%",
	})

	filter := g.lastFilter(t)
	require.Len(t, filter.Properties, 2)
	byName := map[string]PropertyPredicate{}
	for _, p := range filter.Properties {
		byName[p.Name] = p
	}

	flow := byName["flow_rate"]
	assert.Equal(t, repository.OpMore, flow.Op)
	assert.Equal(t, "10", flow.Value)
	assert.Equal(t, ontology.DataTypeNumber, flow.DataType)

	name := byName["name"]
	assert.Equal(t, repository.OpLike, name.Op)
	assert.Equal(t, "pump%", name.Value)
	assert.Equal(t, ontology.DataTypeString, name.DataType)
}

func TestResolveRecordFilterAndPagination(t *testing.T) {
	s, g, r := resolverFixture(t)

	r.Resolve(context.Background(), s, "Pump", map[string]any{
		"_record": map[string]any{
			"data_source_id": "ds-1",
			"original_id":    "neq x-1",
			"import_id":      "in a,b",
			"limit":          int64(50),
			"page":           int64(3),
		},
	})

	filter := g.lastFilter(t)
	require.NotNil(t, filter.DataSourceID)
	assert.Equal(t, repository.OpEq, filter.DataSourceID.Op, "missing operator defaults to eq")
	assert.Equal(t, "ds-1", filter.DataSourceID.Value)
	require.NotNil(t, filter.OriginalDataID)
	assert.Equal(t, repository.OpNeq, filter.OriginalDataID.Op)
	require.NotNil(t, filter.ImportDataID)
	assert.Equal(t, repository.OpIn, filter.ImportDataID.Op)
	assert.Equal(t, "a,b", filter.ImportDataID.Value)

	assert.Equal(t, 50, filter.Limit)
	assert.Equal(t, 100, filter.Offset, "page three of fifty skips one hundred rows")
}

func TestResolveRelationshipForward(t *testing.T) {
	s, g, r := resolverFixture(t)
	g.edges["Pump|feeds|Tank"] = []*graph.Edge{
		{OriginNodeID: "n-pump-1", DestinationNodeID: "n-tank-1"},
		{OriginNodeID: "n-pump-2", DestinationNodeID: "n-tank-1"},
		{OriginNodeID: "n-pump-1", DestinationNodeID: "n-tank-2"},
	}

	r.Resolve(context.Background(), s, "Pump", map[string]any{
		"_relationship": map[string]any{"feeds": map[string]any{"Tank": true}},
	})

	filter := g.lastFilter(t)
	assert.True(t, filter.ConstrainIDs)
	assert.Equal(t, []string{"n-pump-1", "n-pump-2"}, filter.IDs,
		"forward traversal collects deduplicated origin node ids")
}

func TestResolveRelationshipReverse(t *testing.T) {
	s, g, r := resolverFixture(t)
	g.edges["Pump|feeds|Tank"] = []*graph.Edge{
		{OriginNodeID: "n-pump-1", DestinationNodeID: "n-tank-1"},
		{OriginNodeID: "n-pump-2", DestinationNodeID: "n-tank-2"},
	}

	r.Resolve(context.Background(), s, "Tank", map[string]any{
		"_relationship": map[string]any{"feeds": map[string]any{"Pump": true}},
	})

	filter := g.lastFilter(t)
	assert.True(t, filter.ConstrainIDs)
	assert.Equal(t, []string{"n-tank-1", "n-tank-2"}, filter.IDs,
		"reverse traversal collects destination node ids")
}

func TestResolveRelationshipZeroEdgesConstrains(t *testing.T) {
	s, g, r := resolverFixture(t)
	g.nodes = []*graph.Node{{ID: "should-not-leak"}}

	r.Resolve(context.Background(), s, "Pump", map[string]any{
		"_relationship": map[string]any{"feeds": map[string]any{"Tank": true}},
	})

	filter := g.lastFilter(t)
	assert.True(t, filter.ConstrainIDs,
		"zero edge matches still constrain the query instead of falling open")
	assert.Empty(t, filter.IDs)
}

func TestResolveRelationshipUnselectedDestinationIgnored(t *testing.T) {
	s, g, r := resolverFixture(t)
	g.edges["Pump|feeds|Tank"] = []*graph.Edge{{OriginNodeID: "n-1", DestinationNodeID: "n-2"}}

	r.Resolve(context.Background(), s, "Pump", map[string]any{
		"_relationship": map[string]any{"feeds": map[string]any{"Tank": false}},
	})

	filter := g.lastFilter(t)
	assert.True(t, filter.ConstrainIDs)
	assert.Empty(t, filter.IDs)
}

func TestResolveReshapesRows(t *testing.T) {
	s, g, r := resolverFixture(t)
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	g.nodes = []*graph.Node{
		{
			ID:             "n-1",
			ContainerID:    "c-1",
			MetatypeID:     "m-pump",
			MetatypeName:   "Pump",
			DataSourceID:   "ds-1",
			OriginalDataID: "pump-7",
			Properties:     graph.Properties{"flow_rate": 12.5, "name": "pump-7", "ignored": "x"},
			CreatedAt:      created,
			ModifiedAt:     created,
		},
	}

	rows := r.Resolve(context.Background(), s, "Pump", map[string]any{"flow_rate": "> 10"})
	require.Len(t, rows, 1)

	row := rows[0]
	assert.Equal(t, 12.5, row["flow_rate"])
	assert.Equal(t, "pump-7", row["name"])
	assert.NotContains(t, row, "ignored", "properties outside the ontology are dropped")

	record, ok := row["_record"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "n-1", record["id"])
	assert.Equal(t, "Pump", record["metatype_name"])
	assert.Equal(t, "ds-1", record["data_source_id"])
	assert.Equal(t, "pump-7", record["original_id"])
	assert.Equal(t, "2026-03-01T12:00:00Z", record["created_at"])
}

func TestResolveRepositoryErrorDegradesToEmpty(t *testing.T) {
	s, g, r := resolverFixture(t)
	g.nodesErr = assert.AnError

	rows := r.Resolve(context.Background(), s, "Pump", nil)
	assert.NotNil(t, rows)
	assert.Empty(t, rows)
}

func TestResolveEdgeQueryErrorDegradesToEmpty(t *testing.T) {
	s, g, r := resolverFixture(t)
	g.edgesErr = assert.AnError

	rows := r.Resolve(context.Background(), s, "Pump", map[string]any{
		"_relationship": map[string]any{"feeds": map[string]any{"Tank": true}},
	})
	assert.Empty(t, rows)
	g.mu.Lock()
	defer g.mu.Unlock()
	assert.Empty(t, g.filters, "failed edge query never reaches the node query")
}

func TestResolveUnknownFieldEmpty(t *testing.T) {
	s, _, r := resolverFixture(t)
	assert.Empty(t, r.Resolve(context.Background(), s, "Valve", nil))
}

func TestResolveUnknownArgumentIgnored(t *testing.T) {
	s, g, r := resolverFixture(t)

	r.Resolve(context.Background(), s, "Pump", map[string]any{"bogus": "eq 1"})

	filter := g.lastFilter(t)
	assert.Empty(t, filter.Properties)
}

func TestResolveIdempotent(t *testing.T) {
	s, g, r := resolverFixture(t)
	g.nodes = []*graph.Node{
		{ID: "n-1", MetatypeID: "m-pump", Properties: graph.Properties{"name": "a"}},
		{ID: "n-2", MetatypeID: "m-pump", Properties: graph.Properties{"name": "b"}},
	}

	args := map[string]any{"name": "like %"}
	first := r.Resolve(context.Background(), s, "Pump", args)
	second := r.Resolve(context.Background(), s, "Pump", args)
	assert.Equal(t, first, second,
		"identical arguments over an unchanged graph return identical rows in order")
}
