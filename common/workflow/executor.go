package workflow

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/lyzr/workflowcore/common/expr"
	"github.com/lyzr/workflowcore/common/jsonvalue"
	"github.com/lyzr/workflowcore/common/nodeexec"
	"github.com/lyzr/workflowcore/common/template"
)

// Logger is the narrow interface the executor logs through, decoupling it
// from any concrete logging backend (mirrors
// cmd/workflow-runner/operators/control_flow.go's local Logger interface).
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}

type noopLogger struct{}

func (noopLogger) Info(string, ...interface{})  {}
func (noopLogger) Error(string, ...interface{}) {}
func (noopLogger) Warn(string, ...interface{})  {}
func (noopLogger) Debug(string, ...interface{}) {}

// ErrCancelled is returned when a module boundary check finds the Job has
// been cancelled. Never retried (spec §7).
var ErrCancelled = fmt.Errorf("job cancelled")

// JobStatusReader lets the executor poll a Job's current status at module
// boundaries without depending on the full repository interface.
type JobStatusReader interface {
	GetJobStatus(ctx context.Context, jobID string) (string, error)
}

// NodeRepository resolves the integer node ids a script module's path
// embeds ("node/<n>_node_id") to an executable Node.
type NodeRepository interface {
	GetNode(ctx context.Context, id string) (nodeexec.Node, error)
}

const cancelledStatus = "cancelled"

// Executor walks a Module tree against a mutable Context, per spec §4.5.
type Executor struct {
	nodes  NodeRepository
	jobs   JobStatusReader
	node   *nodeexec.Executor
	pool   *pool
	logger Logger
}

// New builds an Executor. poolSize should come from
// Configuration.PerWorkflowPoolSize (default 10, spec §6).
func New(nodes NodeRepository, jobs JobStatusReader, node *nodeexec.Executor, poolSize int, logger Logger) *Executor {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Executor{nodes: nodes, jobs: jobs, node: node, pool: newPool(poolSize), logger: logger}
}

// Run executes every root module in declared order against a fresh
// Context seeded with flowInput, returning the accumulated results (the
// Job's output on success) or the first unrecovered error (spec §4.5
// top-level contract). The caller is responsible for translating the
// outcome into a Job status transition.
func (e *Executor) Run(ctx context.Context, jobID string, root Root, flowInput jsonvalue.Value) (jsonvalue.Value, error) {
	run := *e
	run.pool = newPool(cap(e.pool.tokens))
	defer run.pool.shutdown()

	ec := NewContext(flowInput)
	if _, err := run.executeModules(ctx, jobID, root.Modules, ec); err != nil {
		return jsonvalue.Value{}, err
	}
	return ec.ResultsValue(), nil
}

// executeModules runs modules sequentially, in declared order, each
// reading the live context as updated by its predecessors.
func (e *Executor) executeModules(ctx context.Context, jobID string, modules []Module, ec *Context) ([]jsonvalue.Value, error) {
	out := make([]jsonvalue.Value, 0, len(modules))
	for _, m := range modules {
		if err := e.checkCancelled(ctx, jobID); err != nil {
			return nil, err
		}
		rv := ec.SnapshotForRead()
		v, err := e.executeModuleWithRetry(ctx, jobID, m, ec, rv)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// executeModulesParallel runs modules concurrently. Script sub-modules all
// build their input from the same frozen view of the context taken before
// fan-out; a composite sub-module (branchone/branchall) evaluates its
// conditions and runs its children against the live context, so it can
// see results its siblings have already written. Results are returned in
// declared order regardless of completion order.
func (e *Executor) executeModulesParallel(ctx context.Context, jobID string, modules []Module, ec *Context) ([]jsonvalue.Value, error) {
	rv := ec.SnapshotForRead()
	out := make([]jsonvalue.Value, len(modules))
	errs := make([]error, len(modules))

	var wg sync.WaitGroup
	for i, m := range modules {
		if err := e.checkCancelled(ctx, jobID); err != nil {
			return nil, err
		}
		wg.Add(1)
		go func(i int, m Module) {
			defer wg.Done()
			v, err := e.executeModuleWithRetry(ctx, jobID, m, ec, rv)
			out[i] = v
			errs[i] = err
		}(i, m)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (e *Executor) checkCancelled(ctx context.Context, jobID string) error {
	if e.jobs == nil {
		return nil
	}
	status, err := e.jobs.GetJobStatus(ctx, jobID)
	if err != nil {
		return nil // a transient status-read failure never aborts a run
	}
	if status == cancelledStatus {
		return ErrCancelled
	}
	return nil
}

// executeModuleWithRetry wraps executeModule in m.Retry's exponential
// backoff loop (spec §4.5 Retry). Re-execution re-runs the entire module,
// including its sub-tree; partial writes from a failed attempt are not
// rolled back.
func (e *Executor) executeModuleWithRetry(ctx context.Context, jobID string, m Module, ec *Context, rv expr.Context) (jsonvalue.Value, error) {
	if m.Retry == nil || m.Retry.Exponential == nil {
		return e.executeModule(ctx, jobID, m, ec, rv)
	}
	r := m.Retry.Exponential
	attempts := r.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			wait := r.Seconds * pow(r.Multiplier, float64(i-1))
			if err := sleepCtx(ctx, time.Duration(wait*float64(time.Second))); err != nil {
				return jsonvalue.Value{}, err
			}
		}
		v, err := e.executeModule(ctx, jobID, m, ec, rv)
		if err == nil {
			return v, nil
		}
		if err == ErrCancelled {
			return jsonvalue.Value{}, err
		}
		lastErr = err
		e.logger.Warn("module attempt failed", "module_id", m.ID, "attempt", i, "error", err)
	}
	return jsonvalue.Value{}, lastErr
}

func pow(base, exp float64) float64 {
	result := 1.0
	for i := 0; i < int(exp); i++ {
		result *= base
	}
	return result
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// executeModule dispatches a single module by its value kind.
func (e *Executor) executeModule(ctx context.Context, jobID string, m Module, ec *Context, rv expr.Context) (jsonvalue.Value, error) {
	switch m.Value.Kind {
	case ModuleScript:
		return e.executeScript(ctx, m, ec, rv)
	case ModuleBranchOne:
		return e.executeBranchOne(ctx, jobID, m, ec)
	case ModuleBranchAll:
		return e.executeBranchAll(ctx, jobID, m, ec)
	default:
		return jsonvalue.Value{}, fmt.Errorf("unknown module type for module %q", m.ID)
	}
}

func (e *Executor) executeScript(ctx context.Context, m Module, ec *Context, rv expr.Context) (jsonvalue.Value, error) {
	nodeID, err := parseScriptPath(m.Value.Script.Path)
	if err != nil {
		return jsonvalue.Value{}, err
	}
	input, err := e.transformInput(m.Value.Script.InputTransforms, rv)
	if err != nil {
		return jsonvalue.Value{}, err
	}

	if err := e.pool.acquire(ctx); err != nil {
		return jsonvalue.Value{}, err
	}
	defer e.pool.release()

	node, err := e.nodes.GetNode(ctx, nodeID)
	if err != nil {
		return jsonvalue.Value{}, err
	}
	result, err := e.node.Execute(ctx, node, input)
	if err != nil {
		return jsonvalue.Value{}, err
	}
	ec.SetResult(m.ID, result)
	return result, nil
}

func (e *Executor) executeBranchOne(ctx context.Context, jobID string, m Module, ec *Context) (jsonvalue.Value, error) {
	bo := m.Value.BranchOne
	for _, branch := range bo.Branches {
		rv := ec.SnapshotForRead()
		truthy, err := expr.Evaluate(branch.Expr, rv)
		if err != nil {
			return jsonvalue.Value{}, err
		}
		if truthy {
			results, err := e.executeModules(ctx, jobID, branch.Modules, ec)
			if err != nil {
				return jsonvalue.Value{}, err
			}
			out := jsonvalue.Array(results)
			ec.SetResult(m.ID, out)
			return out, nil
		}
	}
	results, err := e.executeModules(ctx, jobID, bo.Default, ec)
	if err != nil {
		return jsonvalue.Value{}, err
	}
	out := jsonvalue.Array(results)
	ec.SetResult(m.ID, out)
	return out, nil
}

func (e *Executor) executeBranchAll(ctx context.Context, jobID string, m Module, ec *Context) (jsonvalue.Value, error) {
	ba := m.Value.BranchAll
	var allModules []Module
	for _, branch := range ba.Branches {
		allModules = append(allModules, branch.Modules...)
	}

	var results []jsonvalue.Value
	var err error
	if ba.Parallel {
		results, err = e.executeModulesParallel(ctx, jobID, allModules, ec)
	} else {
		results, err = e.executeModules(ctx, jobID, allModules, ec)
	}
	if err != nil {
		return jsonvalue.Value{}, err
	}
	out := jsonvalue.Array(results)
	ec.SetResult(m.ID, out)
	return out, nil
}

// transformInput implements spec §4.5's input-transform rules.
func (e *Executor) transformInput(transforms map[string]jsonvalue.Value, rv expr.Context) (jsonvalue.Value, error) {
	out := make(map[string]jsonvalue.Value, len(transforms))
	for k, raw := range transforms {
		v, err := applyTransform(raw, rv)
		if err != nil {
			return jsonvalue.Value{}, fmt.Errorf("input transform %q: %w", k, err)
		}
		out[k] = v
	}
	return jsonvalue.Object(out), nil
}

func applyTransform(raw jsonvalue.Value, rv expr.Context) (jsonvalue.Value, error) {
	if raw.Kind == jsonvalue.KindObject {
		typ, hasType := raw.Get("type")
		if hasType && typ.Kind == jsonvalue.KindString {
			switch typ.Str {
			case "static":
				val, _ := raw.Get("value")
				return template.Substitute(val, templateContext(rv)), nil
			case "javascript":
				exprField, _ := raw.Get("expr")
				return expr.EvaluateValue(exprField.Str, rv)
			default:
				return raw, nil
			}
		}
		return raw, nil
	}
	return template.Substitute(raw, templateContext(rv)), nil
}

// parseScriptPath extracts the integer node id from a script module's
// "node/<n>_node_id" path (spec §4.5, grounded on
// original_source/backend/lib/workflow.py's identical string parsing).
func parseScriptPath(path string) (string, error) {
	if !strings.HasPrefix(path, "node/") {
		return "", fmt.Errorf("invalid node path %q", path)
	}
	last := path[strings.LastIndex(path, "/")+1:]
	digits := strings.TrimSuffix(last, "_node_id")
	if _, err := strconv.Atoi(digits); err != nil {
		return "", fmt.Errorf("invalid node path %q: %w", path, err)
	}
	return digits, nil
}
