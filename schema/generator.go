// Package schema generates a per-container GraphQL query schema from the
// live ontology and resolves queries against it. The generator is a pure
// function of (container id, ontology snapshot); regeneration after an
// ontology change is the caller's responsibility.
package schema

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/vektah/gqlparser/v2"
	"github.com/vektah/gqlparser/v2/ast"

	"github.com/c360/metagraph/errors"
	"github.com/c360/metagraph/ontology"
)

// Reserved argument and field names on every generated metatype field
const (
	recordArg       = "_record"
	relationshipArg = "_relationship"
)

// DefaultLimit caps results when a query gives no explicit limit. It matches
// the repository's hard cap, so an unbounded query reads one full window.
const DefaultLimit = 10000

// Schema is the compiled query schema for one container plus the bindings the
// resolver needs to translate schema names back to ontology objects.
type Schema struct {
	ContainerID string
	AST         *ast.Schema
	SDL         string

	fields map[string]*fieldBinding
}

// binding returns the resolver binding for a generated top-level field
func (s *Schema) binding(name string) (*fieldBinding, bool) {
	b, ok := s.fields[name]
	return b, ok
}

// fieldBinding ties one generated query field back to its metatype
type fieldBinding struct {
	metatype      *ontology.Metatype
	keys          map[string]*keyBinding
	relationships map[string]*relationshipBinding
}

// keyBinding ties one sanitized argument name back to its metatype key
type keyBinding struct {
	property string
	dataType ontology.DataType
}

// relationshipBinding groups one relationship name's reachable destinations
type relationshipBinding struct {
	destinations map[string]relationshipTarget
}

// relationshipTarget carries the raw name triple an edge query needs.
// Reverse targets start the traversal at the pair's destination metatype.
type relationshipTarget struct {
	originName       string
	relationshipName string
	destinationName  string
	reverse          bool
}

// Generator builds container schemas from an ontology store
type Generator struct {
	ont     ontology.Store
	logger  *slog.Logger
	metrics *Metrics
}

// GeneratorOption configures a Generator
type GeneratorOption func(*Generator)

// WithGeneratorMetrics records schema build metrics
func WithGeneratorMetrics(m *Metrics) GeneratorOption {
	return func(g *Generator) { g.metrics = m }
}

// NewGenerator creates a schema generator over the given ontology store
func NewGenerator(ont ontology.Store, logger *slog.Logger, opts ...GeneratorOption) *Generator {
	g := &Generator{
		ont:    ont,
		logger: logger.With("component", "schema-generator"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Build produces the query schema for one container. The ontology snapshot is
// read with exactly two bulk reads; if either fails the build aborts with no
// partial schema.
func (g *Generator) Build(ctx context.Context, containerID string) (*Schema, error) {
	started := time.Now()

	metatypes, err := g.ont.ListMetatypes(ctx, containerID, true)
	if err != nil {
		g.metrics.recordBuildError()
		return nil, errors.Wrap(err, "SchemaGenerator", "Build", "metatype read")
	}
	pairs, err := g.ont.ListRelationshipPairs(ctx, containerID)
	if err != nil {
		g.metrics.recordBuildError()
		return nil, errors.Wrap(err, "SchemaGenerator", "Build", "relationship pair read")
	}

	schema, err := g.assemble(containerID, metatypes, pairs)
	if err != nil {
		g.metrics.recordBuildError()
		return nil, err
	}

	g.metrics.recordBuild(time.Since(started))
	g.logger.Debug("schema built",
		"container_id", containerID,
		"metatypes", len(metatypes),
		"relationship_pairs", len(pairs),
		"duration", time.Since(started))
	return schema, nil
}

// metatypeModel is the intermediate, fully named form one metatype compiles
// through before SDL rendering.
type metatypeModel struct {
	fieldName string
	binding   *fieldBinding
	keyFields []keyField
	relFields []relField
}

type keyField struct {
	name     string
	key      ontology.MetatypeKey
	enumName string
}

type relField struct {
	name         string
	destinations []string
}

func (g *Generator) assemble(containerID string, metatypes []*ontology.Metatype, pairs []*ontology.MetatypeRelationshipPair) (*Schema, error) {
	topLevel := newNameRegistry()
	fieldNames := make(map[string]string, len(metatypes))

	models := make([]*metatypeModel, 0, len(metatypes))
	byMetatypeName := make(map[string]*metatypeModel, len(metatypes))

	for _, mt := range metatypes {
		fieldName := topLevel.register(mt.Name)
		fieldNames[mt.Name] = fieldName

		model := &metatypeModel{
			fieldName: fieldName,
			binding: &fieldBinding{
				metatype:      mt,
				keys:          map[string]*keyBinding{},
				relationships: map[string]*relationshipBinding{},
			},
		}

		keyNames := newNameRegistry()
		keyNames.register(recordArg)
		keyNames.register(relationshipArg)
		for _, key := range mt.Keys {
			name := keyNames.register(key.PropertyName)
			model.binding.keys[name] = &keyBinding{
				property: key.PropertyName,
				dataType: key.DataType,
			}
			field := keyField{name: name, key: key}
			if key.DataType == ontology.DataTypeEnumeration && len(key.Options) > 0 {
				// Enum type names are scoped by metatype and key so option
				// values shared across metatypes never collide. A key with no
				// declared options stays a plain String; an empty enum body
				// is not a valid type.
				field.enumName = fieldName + "_" + name + "_enum"
			}
			model.keyFields = append(model.keyFields, field)
		}

		models = append(models, model)
		byMetatypeName[mt.Name] = model
	}

	// Each pair is traversable from both ends: forward from the origin
	// metatype and reverse from the destination.
	for _, pair := range pairs {
		addRelationship(byMetatypeName[pair.OriginMetatypeName], pair, false)
		if pair.DestinationMetatypeName != pair.OriginMetatypeName {
			addRelationship(byMetatypeName[pair.DestinationMetatypeName], pair, true)
		}
	}

	sdl := renderSDL(models)
	astSchema, err := gqlparser.LoadSchema(&ast.Source{Name: containerID + ".graphql", Input: sdl})
	if err != nil {
		return nil, errors.Wrap(err, "SchemaGenerator", "assemble", "schema compilation")
	}

	schema := &Schema{
		ContainerID: containerID,
		AST:         astSchema,
		SDL:         sdl,
		fields:      make(map[string]*fieldBinding, len(models)),
	}
	for _, model := range models {
		schema.fields[model.fieldName] = model.binding
	}
	return schema, nil
}

func addRelationship(model *metatypeModel, pair *ontology.MetatypeRelationshipPair, reverse bool) {
	if model == nil {
		// Pair referencing a metatype outside this snapshot; skip rather
		// than emit a dangling traversal
		return
	}

	relName := SanitizeName(pair.RelationshipName)
	rel, ok := model.binding.relationships[relName]
	if !ok {
		rel = &relationshipBinding{destinations: map[string]relationshipTarget{}}
		model.binding.relationships[relName] = rel
		model.relFields = append(model.relFields, relField{name: relName})
	}

	destRaw := pair.DestinationMetatypeName
	if reverse {
		destRaw = pair.OriginMetatypeName
	}
	destName := SanitizeName(destRaw)
	if _, exists := rel.destinations[destName]; exists {
		return
	}
	rel.destinations[destName] = relationshipTarget{
		originName:       pair.OriginMetatypeName,
		relationshipName: pair.RelationshipName,
		destinationName:  pair.DestinationMetatypeName,
		reverse:          reverse,
	}

	for i := range model.relFields {
		if model.relFields[i].name == relName {
			model.relFields[i].destinations = append(model.relFields[i].destinations, destName)
			break
		}
	}
}

// renderSDL emits the schema document. Iteration follows the store's sorted
// reads, so two builds over the same snapshot render identical text.
func renderSDL(models []*metatypeModel) string {
	var sb strings.Builder

	sb.WriteString("scalar JSON\n\n")

	sb.WriteString(`input recordFilter {
	data_source_id: String
	original_id: String
	import_id: String
	limit: Int
	page: Int
}

type recordInfo {
	id: String!
	data_source_id: String
	original_id: String
	import_id: String
	metatype_id: String!
	metatype_name: String!
	created_at: String!
	modified_at: String!
	metadata: JSON
}

`)

	for _, model := range models {
		renderEnums(&sb, model)
		renderRelationshipInputs(&sb, model)
		renderObjectType(&sb, model)
	}

	sb.WriteString("type Query {\n")
	if len(models) == 0 {
		// A query type needs at least one field even for an empty ontology
		sb.WriteString("\t_empty: String\n")
	}
	for _, model := range models {
		fmt.Fprintf(&sb, "\t%s(%s): [%s]\n", model.fieldName, renderArgs(model), model.fieldName)
	}
	sb.WriteString("}\n")

	return sb.String()
}

func renderEnums(sb *strings.Builder, model *metatypeModel) {
	for _, field := range model.keyFields {
		if field.enumName == "" {
			continue
		}
		fmt.Fprintf(sb, "enum %s {\n", field.enumName)
		values := newNameRegistry()
		for _, option := range field.key.Options {
			fmt.Fprintf(sb, "\t%s\n", values.register(enumSafe(option)))
		}
		sb.WriteString("}\n\n")
	}
}

// enumSafe guards against option values that sanitize into the three names
// GraphQL forbids as enum values
func enumSafe(option string) string {
	switch strings.ToLower(strings.TrimSpace(option)) {
	case "true", "false", "null":
		return "_" + option
	}
	return option
}

func renderRelationshipInputs(sb *strings.Builder, model *metatypeModel) {
	if len(model.relFields) == 0 {
		return
	}

	for _, rel := range model.relFields {
		fmt.Fprintf(sb, "input %s_%s_destinations {\n", model.fieldName, rel.name)
		for _, dest := range rel.destinations {
			fmt.Fprintf(sb, "\t%s: Boolean\n", dest)
		}
		sb.WriteString("}\n\n")
	}

	fmt.Fprintf(sb, "input %s_relationships {\n", model.fieldName)
	for _, rel := range model.relFields {
		fmt.Fprintf(sb, "\t%s: %s_%s_destinations\n", rel.name, model.fieldName, rel.name)
	}
	sb.WriteString("}\n\n")
}

func renderObjectType(sb *strings.Builder, model *metatypeModel) {
	fmt.Fprintf(sb, "type %s {\n", model.fieldName)
	fmt.Fprintf(sb, "\t%s: recordInfo\n", recordArg)
	for _, field := range model.keyFields {
		fmt.Fprintf(sb, "\t%s: %s\n", field.name, keyOutputType(field))
	}
	sb.WriteString("}\n\n")
}

// keyOutputType maps a key's declared data type to its schema type
func keyOutputType(field keyField) string {
	switch field.key.DataType {
	case ontology.DataTypeNumber:
		return "Float"
	case ontology.DataTypeBoolean:
		return "Boolean"
	case ontology.DataTypeList:
		return "[JSON]"
	case ontology.DataTypeEnumeration:
		if field.enumName == "" {
			return "String"
		}
		return field.enumName
	default:
		// string, date, file
		return "String"
	}
}

// renderArgs emits the filter arguments for one metatype's query field. Every
// key filter is a String carrying the "<op> <value>" grammar regardless of
// the key's output type.
func renderArgs(model *metatypeModel) string {
	args := []string{recordArg + ": recordFilter"}
	if len(model.relFields) > 0 {
		args = append(args, relationshipArg+": "+model.fieldName+"_relationships")
	}
	for _, field := range model.keyFields {
		args = append(args, field.name+": String")
	}
	return strings.Join(args, ", ")
}
