package schema

import (
	"context"
	"log/slog"
	"sync"

	"github.com/vektah/gqlparser/v2"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"
	"github.com/vektah/gqlparser/v2/validator"
)

// Response is the result of executing one query document
type Response struct {
	Data   map[string]any `json:"data,omitempty"`
	Errors []string       `json:"errors,omitempty"`
}

// Executor parses query documents against a generated schema and resolves
// their top-level fields concurrently. Fields share no mutable state; each
// builds its own graph query, so there is no ordering guarantee between
// siblings.
type Executor struct {
	resolver *Resolver
	logger   *slog.Logger
}

// NewExecutor creates a query executor over the given resolver
func NewExecutor(resolver *Resolver, logger *slog.Logger) *Executor {
	return &Executor{
		resolver: resolver,
		logger:   logger.With("component", "schema-executor"),
	}
}

// Execute validates and runs one query document. Malformed or invalid
// documents come back as response errors; resolution failures degrade the
// affected field to an empty result.
func (e *Executor) Execute(ctx context.Context, s *Schema, query string, variables map[string]any) *Response {
	doc, errs := gqlparser.LoadQuery(s.AST, query)
	if len(errs) > 0 {
		return errorResponse(errs)
	}

	operation := doc.Operations.ForName("")
	if operation == nil && len(doc.Operations) > 0 {
		operation = doc.Operations[0]
	}
	if operation == nil {
		return &Response{Errors: []string{"document contains no operation"}}
	}
	if operation.Operation != ast.Query {
		return &Response{Errors: []string{"only query operations are supported"}}
	}

	vars, varErr := validator.VariableValues(s.AST, operation, variables)
	if varErr != nil {
		return &Response{Errors: []string{varErr.Error()}}
	}

	data := make(map[string]any)
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, selection := range operation.SelectionSet {
		field, ok := selection.(*ast.Field)
		if !ok {
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()

			rows := e.resolveField(ctx, s, field, vars)
			mu.Lock()
			data[responseKey(field)] = rows
			mu.Unlock()
		}()
	}
	wg.Wait()

	return &Response{Data: data}
}

// resolveField evaluates one top-level field's arguments and resolves it.
// Argument evaluation failures degrade the field to empty, matching the
// resolver's error posture.
func (e *Executor) resolveField(ctx context.Context, s *Schema, field *ast.Field, vars map[string]any) []map[string]any {
	args := make(map[string]any, len(field.Arguments))
	for _, arg := range field.Arguments {
		value, err := arg.Value.Value(vars)
		if err != nil {
			e.logger.Warn("argument evaluation failed",
				"field", field.Name,
				"argument", arg.Name,
				"error", err)
			return []map[string]any{}
		}
		args[arg.Name] = value
	}

	return e.resolver.Resolve(ctx, s, field.Name, args)
}

func responseKey(field *ast.Field) string {
	if field.Alias != "" {
		return field.Alias
	}
	return field.Name
}

func errorResponse(errs gqlerror.List) *Response {
	messages := make([]string, len(errs))
	for i, err := range errs {
		messages[i] = err.Message
	}
	return &Response{Errors: messages}
}
