// Package hclscript evaluates HCL script files for the script registry.
//
// A script exports either an invocable, declared as function "main", or a
// value, declared as the export attribute:
//
//	define {
//	  deps = ["greeting"]
//	}
//
//	function "main" {
//	  params = [name]
//	  result = "${deps.greeting} ${name}"
//	}
//
// Expressions can reference the registry import table as imports.<name> and
// declared dependencies as deps.<name>.
package hclscript

import (
	"context"
	"errors"
	"fmt"
	"os"

	"scriptor/internal/logging"
	"scriptor/internal/script"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/ext/userfunc"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
)

const (
	defineBlockType   = "define"
	functionBlockType = "function"
	exportAttribute   = "export"
	mainFunction      = "main"
)

var ErrAmbiguousExport = errors.New(`script declares both function "main" and export`)

var scriptSchema = &hcl.BodySchema{
	Attributes: []hcl.AttributeSchema{
		{Name: exportAttribute},
	},
	Blocks: []hcl.BlockHeaderSchema{
		{Type: defineBlockType},
	},
}

type defineConfig struct {
	Deps []string `hcl:"deps,optional"`
}

// Options configures an Evaluator. Functions are made available to every
// script in addition to the built-in set and may shadow it.
type Options struct {
	Logger    *logging.Logger
	Functions map[string]function.Function
}

type Evaluator struct {
	logger    *logging.Logger
	functions map[string]function.Function
}

func New(options Options) *Evaluator {
	logger := options.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	functions := builtinFunctions()
	for name, fn := range options.Functions {
		functions[name] = fn
	}
	return &Evaluator{
		logger:    logger.Component("hclscript"),
		functions: functions,
	}
}

// Evaluate parses the script file and builds its export. The file is read
// and parsed fresh on every call.
func (evaluator *Evaluator) Evaluate(ctx context.Context, ec *script.EvalContext) (script.Export, error) {
	if ec == nil {
		return script.Export{}, errors.New("eval context is required")
	}
	if err := ctx.Err(); err != nil {
		return script.Export{}, err
	}

	src, err := os.ReadFile(ec.Filename)
	if err != nil {
		return script.Export{}, err
	}
	file, diags := hclparse.NewParser().ParseHCL(src, ec.Filename)
	if diags.HasErrors() {
		return script.Export{}, fmt.Errorf("parse: %w", diags)
	}

	evalCtx := &hcl.EvalContext{
		Variables: map[string]cty.Value{
			"imports": evaluator.importsValue(ec.Imports),
			"deps":    cty.EmptyObjectVal,
		},
		Functions: make(map[string]function.Function, len(evaluator.functions)),
	}
	for name, fn := range evaluator.functions {
		evalCtx.Functions[name] = fn
	}

	userFunctions, remain, diags := userfunc.DecodeUserFunctions(file.Body, functionBlockType, func() *hcl.EvalContext {
		return evalCtx
	})
	if diags.HasErrors() {
		return script.Export{}, fmt.Errorf("decode functions: %w", diags)
	}
	for name, fn := range userFunctions {
		evalCtx.Functions[name] = fn
	}

	content, diags := remain.Content(scriptSchema)
	if diags.HasErrors() {
		return script.Export{}, fmt.Errorf("decode script: %w", diags)
	}

	deps, err := define(ec, content, evalCtx)
	if err != nil {
		return script.Export{}, err
	}
	evalCtx.Variables["deps"] = deps

	main, hasMain := userFunctions[mainFunction]
	attr, hasExport := content.Attributes[exportAttribute]
	switch {
	case hasMain && hasExport:
		return script.Export{}, ErrAmbiguousExport
	case hasMain:
		return script.Invocable(invoker(main)), nil
	case hasExport:
		value, diags := attr.Expr.Value(evalCtx)
		if diags.HasErrors() {
			return script.Export{}, fmt.Errorf("export: %w", diags)
		}
		return script.Value(value), nil
	default:
		return script.Value(cty.EmptyObjectVal), nil
	}
}

func define(ec *script.EvalContext, content *hcl.BodyContent, evalCtx *hcl.EvalContext) (cty.Value, error) {
	blocks := content.Blocks.OfType(defineBlockType)
	if len(blocks) == 0 {
		return cty.EmptyObjectVal, nil
	}
	if len(blocks) > 1 {
		return cty.NilVal, fmt.Errorf("%s: only one define block is allowed", blocks[1].DefRange.String())
	}

	var config defineConfig
	if diags := gohcl.DecodeBody(blocks[0].Body, evalCtx, &config); diags.HasErrors() {
		return cty.NilVal, fmt.Errorf("define: %w", diags)
	}
	if ec.Define == nil {
		return cty.NilVal, errors.New("define: no definer bound")
	}
	resolved, err := ec.Define.Define(config.Deps...)
	if err != nil {
		return cty.NilVal, err
	}

	values := make(map[string]cty.Value, len(resolved))
	for name, value := range resolved {
		converted, err := ToValue(value)
		if err != nil {
			return cty.NilVal, fmt.Errorf("dependency %q: %w", name, err)
		}
		values[name] = converted
	}
	return cty.ObjectVal(values), nil
}

// importsValue converts the import table to an object. Entries without a cty
// representation are left out.
func (evaluator *Evaluator) importsValue(imports script.Imports) cty.Value {
	values := make(map[string]cty.Value, imports.Len())
	imports.Range(func(name string, value any) bool {
		converted, err := ToValue(value)
		if err != nil {
			evaluator.logger.Debug("import skipped", map[string]string{
				"name":  name,
				"error": err.Error(),
			})
			return true
		}
		values[name] = converted
		return true
	})
	return cty.ObjectVal(values)
}

func invoker(fn function.Function) script.Func {
	return func(ctx context.Context, args ...any) (any, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		values := make([]cty.Value, len(args))
		for index, arg := range args {
			converted, err := ToValue(arg)
			if err != nil {
				return nil, fmt.Errorf("argument %d: %w", index, err)
			}
			values[index] = converted
		}
		result, err := fn.Call(values)
		if err != nil {
			return nil, err
		}
		return result, nil
	}
}
