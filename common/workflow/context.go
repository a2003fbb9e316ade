package workflow

import (
	"sync"

	"github.com/lyzr/workflowcore/common/expr"
	"github.com/lyzr/workflowcore/common/jsonvalue"
)

// Context is the mutable, per-Job Execution Context of spec §4.5:
// {flow_input, results}. Writes are mutex-guarded since branchall(parallel)
// dispatches concurrent writers (spec §5); reads are taken as a point-in-
// time snapshot so concurrent siblings never observe each other's partial
// writes mid-flight.
type Context struct {
	FlowInput jsonvalue.Value

	mu      sync.Mutex
	results map[string]jsonvalue.Value
}

func NewContext(flowInput jsonvalue.Value) *Context {
	return &Context{FlowInput: flowInput, results: make(map[string]jsonvalue.Value)}
}

// SetResult records module m's result exactly once, after its successful
// completion (spec §3).
func (c *Context) SetResult(moduleID string, v jsonvalue.Value) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results[moduleID] = v
}

// SnapshotForRead returns a consistent copy of the current context for use
// in template/expression evaluation. Callers that need a frozen view across
// a concurrent branchall must take one snapshot before fanning out and
// reuse it for every sibling, rather than calling this per-sibling.
func (c *Context) SnapshotForRead() expr.Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := make(map[string]jsonvalue.Value, len(c.results))
	for k, v := range c.results {
		cp[k] = v
	}
	return expr.Context{FlowInput: c.FlowInput, Results: jsonvalue.Object(cp)}
}

// ResultsValue returns the full results map as a JSON value, used as the
// Job's output on clean completion (spec §4.5 top-level contract).
func (c *Context) ResultsValue() jsonvalue.Value {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := make(map[string]jsonvalue.Value, len(c.results))
	for k, v := range c.results {
		cp[k] = v
	}
	return jsonvalue.Object(cp)
}

// templateContext projects an expr.Context into the {flow_input, results}
// object the Template Engine resolves dotted paths against (spec §4.5
// input-transform rules).
func templateContext(rv expr.Context) jsonvalue.Value {
	return jsonvalue.Object(map[string]jsonvalue.Value{
		"flow_input": rv.FlowInput,
		"results":    rv.Results,
	})
}
