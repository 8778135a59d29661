//go:build js_eval

package pullconf

import (
	"fmt"

	"github.com/dop251/goja"
)

type jsEvaluator struct {
	cache    ProgramCache
	registry *FunctionRegistry
}

// NewJSEvaluator constructs an Evaluator backed by goja.
func NewJSEvaluator(opts ...JSEvaluatorOption) Evaluator {
	cfg := applyJSEvaluatorOptions(opts)
	return &jsEvaluator{
		cache:    cfg.cache,
		registry: cfg.registry,
	}
}

func (e *jsEvaluator) Evaluate(ctx RuleContext, rule string) (any, error) {
	if rule == "" {
		return nil, fmt.Errorf("rule must not be empty")
	}
	ctx = ctx.withDefaultNow().withDefaultMaps()
	if e.cache == nil {
		return e.run(ctx, rule, nil)
	}
	program, err := e.loadOrCompile(rule)
	if err != nil {
		return nil, err
	}
	return e.run(ctx, rule, program)
}

func (e *jsEvaluator) Compile(rule string, _ ...CompileOption) (CompiledRule, error) {
	if rule == "" {
		return nil, fmt.Errorf("rule must not be empty")
	}
	program, err := e.loadOrCompile(rule)
	if err != nil {
		return nil, err
	}
	return &jsCompiledRule{
		evaluator: e,
		rule:      rule,
		program:   program,
	}, nil
}

func (e *jsEvaluator) loadOrCompile(rule string) (*goja.Program, error) {
	if e.cache != nil {
		if cached, ok := e.cache.Get(rule); ok {
			if program, ok := cached.(*goja.Program); ok {
				return program, nil
			}
		}
	}
	program, err := goja.Compile("", e.wrapRule(rule), false)
	if err != nil {
		return nil, err
	}
	if e.cache != nil {
		e.cache.Set(rule, program)
	}
	return program, nil
}

func (e *jsEvaluator) run(ctx RuleContext, rule string, program *goja.Program) (any, error) {
	vm := goja.New()
	e.injectContext(vm, ctx)
	if program != nil {
		value, err := vm.RunProgram(program)
		if err != nil {
			return nil, err
		}
		return value.Export(), nil
	}
	value, err := vm.RunString(e.wrapRule(rule))
	if err != nil {
		return nil, err
	}
	return value.Export(), nil
}

func (e *jsEvaluator) injectContext(vm *goja.Runtime, ctx RuleContext) {
	vm.Set("now", ctx.timestamp())
	vm.Set("args", ctx.Args)
	vm.Set("metadata", ctx.Metadata)
	if scope := ctx.scopeBinding(); scope != nil {
		vm.Set("scope", scope)
	}
	for key, value := range ctx.nodeBinding() {
		vm.Set(key, value)
	}
	if e.registry != nil {
		vm.Set("call", func(name string, arguments ...any) (any, error) {
			return e.registry.Call(name, arguments...)
		})
		for _, name := range e.registry.Names() {
			fn := name
			vm.Set(fn, func(arguments ...any) (any, error) {
				return e.registry.Call(fn, arguments...)
			})
		}
	}
}

func (e *jsEvaluator) wrapRule(rule string) string {
	return fmt.Sprintf("(function(){ return (%s); })()", rule)
}

type jsCompiledRule struct {
	evaluator *jsEvaluator
	rule      string
	program   *goja.Program
}

func (r *jsCompiledRule) Evaluate(ctx RuleContext) (any, error) {
	if r.evaluator == nil {
		return nil, fmt.Errorf("js compiled rule missing evaluator")
	}
	ctx = ctx.withDefaultNow().withDefaultMaps()
	return r.evaluator.run(ctx, r.rule, r.program)
}

func jsEvaluatorAvailable() bool {
	return true
}
