package pullconf

import (
	"errors"
	"fmt"
	"time"
)

// ErrNoEvaluator indicates rule evaluation was requested without an
// evaluator configured and the default could not be built.
var ErrNoEvaluator = errors.New("pullconf: evaluator not configured")

// RuleContext carries the inputs a scope activation rule sees: the candidate
// node, the scope under evaluation, and free-form arguments.
type RuleContext struct {
	Node     Node
	Now      *time.Time
	Args     map[string]any
	Metadata map[string]any
	Scope    Scope
}

func (ctx RuleContext) withDefaultNow() RuleContext {
	if ctx.Now != nil {
		return ctx
	}
	now := time.Now()
	ctx.Now = &now
	return ctx
}

func (ctx RuleContext) timestamp() time.Time {
	ctx = ctx.withDefaultNow()
	return *ctx.Now
}

func (ctx RuleContext) withDefaultMaps() RuleContext {
	if ctx.Args == nil {
		ctx.Args = map[string]any{}
	}
	if ctx.Metadata == nil {
		ctx.Metadata = map[string]any{}
	}
	return ctx
}

func (ctx RuleContext) scopeLabel() string {
	if ctx.Scope.Name != "" {
		return ctx.Scope.Name
	}
	return "unknown"
}

func (ctx RuleContext) scopeBinding() map[string]any {
	if ctx.Scope.isZero() {
		return nil
	}
	binding := map[string]any{
		"name":       ctx.Scope.Name,
		"label":      ctx.Scope.Label,
		"precedence": ctx.Scope.Precedence,
	}
	if len(ctx.Scope.Metadata) > 0 {
		binding["metadata"] = copyMetadata(ctx.Scope.Metadata)
	}
	return binding
}

// nodeBinding exposes node attributes as top-level identifiers plus a "node"
// object, so rules read naturally: `region == "eu"` or `node.name == "web1"`.
func (ctx RuleContext) nodeBinding() map[string]any {
	env := make(map[string]any, len(ctx.Node.Attributes)+1)
	for key, value := range ctx.Node.Attributes {
		env[key] = value
	}
	env["node"] = map[string]any{
		"id":         ctx.Node.ID,
		"name":       ctx.Node.Name,
		"channel":    ctx.Node.Channel,
		"attributes": copyMetadata(ctx.Node.Attributes),
	}
	return env
}

// Evaluator executes scope activation rules against a rule context.
// Implementations must be safe for concurrent use.
type Evaluator interface {
	Evaluate(ctx RuleContext, expr string) (any, error)
	Compile(expr string, opts ...CompileOption) (CompiledRule, error)
}

// CompiledRule represents a reusable rule program.
type CompiledRule interface {
	Evaluate(ctx RuleContext) (any, error)
}

// CompileOption configures evaluator compile behaviour.
type CompileOption interface {
	applyCompileOption(*compileConfig)
}

type compileConfig struct{}

type compileOptionFunc func(*compileConfig)

func (f compileOptionFunc) applyCompileOption(cfg *compileConfig) {
	if f != nil {
		f(cfg)
	}
}

// ProgramCache stores compiled rule programs keyed by expression strings.
type ProgramCache interface {
	Get(key string) (any, bool)
	Set(key string, value any)
}

// EvaluatorLogEvent describes one rule evaluation for observability hooks.
type EvaluatorLogEvent struct {
	Engine   string
	Expr     string
	Scope    string
	Node     string
	Duration time.Duration
	Err      error
}

// EvaluatorLogger records rule evaluations. The engine itself never logs;
// this hook is how callers observe rule activity.
type EvaluatorLogger interface {
	LogEvaluation(EvaluatorLogEvent)
}

// EvaluatorLoggerFunc adapts a function to EvaluatorLogger.
type EvaluatorLoggerFunc func(EvaluatorLogEvent)

// LogEvaluation implements EvaluatorLogger.
func (f EvaluatorLoggerFunc) LogEvaluation(event EvaluatorLogEvent) {
	if f != nil {
		f(event)
	}
}

type noopEvaluatorLogger struct{}

func (noopEvaluatorLogger) LogEvaluation(EvaluatorLogEvent) {}

// evaluateScopeRule runs a scope's activation rule for a node and coerces the
// result to a boolean. Non-boolean results are rejected rather than guessed
// at.
func evaluateScopeRule(evaluator Evaluator, logger EvaluatorLogger, scope Scope, node Node) (bool, error) {
	ctx := RuleContext{Node: node, Scope: scope}.withDefaultNow().withDefaultMaps()
	engine := evaluatorEngineName(evaluator)
	start := time.Now()
	value, err := evaluator.Evaluate(ctx, scope.Rule)
	duration := time.Since(start)
	err = wrapEvaluationError(engine, scope.Rule, ctx.scopeLabel(), err)
	logger.LogEvaluation(EvaluatorLogEvent{
		Engine:   engine,
		Expr:     scope.Rule,
		Scope:    ctx.scopeLabel(),
		Node:     node.ID,
		Duration: duration,
		Err:      err,
	})
	if err != nil {
		return false, err
	}
	matched, ok := value.(bool)
	if !ok {
		return false, wrapEvaluationError(engine, scope.Rule, ctx.scopeLabel(),
			fmt.Errorf("rule must evaluate to a boolean, got %T", value))
	}
	return matched, nil
}

func evaluatorEngineName(e Evaluator) string {
	if e == nil {
		return "unknown"
	}
	switch fmt.Sprintf("%T", e) {
	case "*pullconf.exprEvaluator":
		return "expr"
	case "*pullconf.celEvaluator":
		return "cel"
	case "*pullconf.jsEvaluator":
		return "js"
	default:
		return "custom"
	}
}
