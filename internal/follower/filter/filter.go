// Package filter compiles CEL expressions into feed filters.
//
// An expression sees two variables: `doc`, the changed document, and `req`,
// the request ({"query": <query params>}). It must evaluate to a bool.
//
//	doc.type == 'order' && doc.total > 100
//	has(req.query.owner) && doc.owner == req.query.owner
package filter

import (
	"fmt"

	"github.com/google/cel-go/cel"

	"github.com/syntrixbase/follower/internal/follower/config"
	"github.com/syntrixbase/follower/pkg/model"
)

// Compiler compiles filter expressions.
type Compiler struct {
	env *cel.Env
}

// NewCompiler declares doc and req as string-keyed maps.
func NewCompiler() (*Compiler, error) {
	env, err := cel.NewEnv(
		cel.Variable("doc", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("req", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("filter environment: %w", err)
	}
	return &Compiler{env: env}, nil
}

// CompileExpression type-checks expr and builds a program for it.
func (c *Compiler) CompileExpression(expr string) (cel.Program, error) {
	ast, issues := c.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("%w: filter %q: %v", model.ErrConfig, expr, issues.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) && !ast.OutputType().IsExactType(cel.DynType) {
		return nil, fmt.Errorf("%w: filter must evaluate to bool, got %s", model.ErrConfig, ast.OutputType())
	}

	prg, err := c.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("%w: filter %q: build program: %v", model.ErrConfig, expr, err)
	}
	return prg, nil
}

// Compile compiles expr into a FilterFunc.
func (c *Compiler) Compile(expr string) (config.FilterFunc, error) {
	prg, err := c.CompileExpression(expr)
	if err != nil {
		return nil, err
	}
	return func(doc model.Document, req map[string]interface{}) (bool, error) {
		return Evaluate(prg, doc, req)
	}, nil
}

// Compile compiles expr with a fresh Compiler.
func Compile(expr string) (config.FilterFunc, error) {
	c, err := NewCompiler()
	if err != nil {
		return nil, err
	}
	return c.Compile(expr)
}

// Evaluate runs a compiled program. A nil program matches everything.
func Evaluate(prg cel.Program, doc model.Document, req map[string]interface{}) (bool, error) {
	if prg == nil {
		return true, nil
	}
	if doc == nil {
		doc = model.Document{}
	}
	if req == nil {
		req = map[string]interface{}{}
	}

	out, _, err := prg.Eval(map[string]interface{}{
		"doc": map[string]interface{}(doc),
		"req": req,
	})
	if err != nil {
		return false, err
	}

	result, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("filter returned %T, want bool", out.Value())
	}
	return result, nil
}
