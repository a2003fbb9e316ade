// Package workflow interprets the module tree of spec §4.5: script nodes
// dispatched through the Node Executor, branchone/branchall control flow
// evaluated via the Expression Evaluator, against a mutable, mutex-guarded
// Execution Context. Grounded on
// original_source/backend/lib/workflow.py:WorkflowExecutor, restructured
// into the teacher's control-flow-router split
// (cmd/workflow-runner/operators/control_flow.go) for synchronous
// in-process recursion instead of that file's Redis-routed async signals.
package workflow

import (
	"encoding/json"
	"fmt"

	"github.com/lyzr/workflowcore/common/jsonvalue"
)

// ModuleKind is the tag of the ModuleValue sum type.
type ModuleKind string

const (
	ModuleScript    ModuleKind = "script"
	ModuleBranchOne ModuleKind = "branchone"
	ModuleBranchAll ModuleKind = "branchall"
)

// Module is one node of the workflow tree.
type Module struct {
	ID    string `validate:"required"`
	Value ModuleValue
	Retry *RetryPolicy
}

// Walk visits m and every Module reachable through its branches, depth
// first, in declared order.
func (m Module) Walk(visit func(Module)) {
	visit(m)
	switch m.Value.Kind {
	case ModuleBranchOne:
		for _, b := range m.Value.BranchOne.Branches {
			for _, sub := range b.Modules {
				sub.Walk(visit)
			}
		}
		for _, sub := range m.Value.BranchOne.Default {
			sub.Walk(visit)
		}
	case ModuleBranchAll:
		for _, b := range m.Value.BranchAll.Branches {
			for _, sub := range b.Modules {
				sub.Walk(visit)
			}
		}
	}
}

// ModuleValue is the tagged union script|branchone|branchall (spec §3).
type ModuleValue struct {
	Kind      ModuleKind
	Script    *ScriptValue
	BranchOne *BranchOneValue
	BranchAll *BranchAllValue
}

// ScriptValue executes exactly one Node.
type ScriptValue struct {
	Path            string
	InputTransforms map[string]jsonvalue.Value
}

// Branch pairs an optional condition with the modules it guards. Expr is
// meaningful only inside a BranchOneValue; branchall branches ignore it.
type Branch struct {
	Expr    string
	Modules []Module
}

// BranchOneValue executes the first branch whose Expr is truthy, falling
// back to Default when none match.
type BranchOneValue struct {
	Branches []Branch
	Default  []Module
}

// BranchAllValue executes every sub-module of every branch, either
// concurrently or in declared branch-then-module order.
type BranchAllValue struct {
	Branches []Branch
	Parallel bool
}

// RetryPolicy wraps the single exponential-backoff retry shape spec §3
// defines.
type RetryPolicy struct {
	Exponential *ExponentialRetry `json:"exponential,omitempty"`
}

// ExponentialRetry: attempts are indexed 0..Attempts-1; attempt i>=1 is
// preceded by a sleep of Seconds * Multiplier^(i-1).
type ExponentialRetry struct {
	Attempts   int     `json:"attempts" validate:"required,min=1"`
	Multiplier float64 `json:"multiplier" validate:"min=0"`
	Seconds    float64 `json:"seconds" validate:"min=0"`
}

// Root is the `{value: {modules: [...]}}` shape a Workflow's stored JSON
// takes (spec §3).
type Root struct {
	Modules []Module
}

func (r *Root) UnmarshalJSON(data []byte) error {
	var wrapper struct {
		Value struct {
			Modules []Module `json:"modules"`
		} `json:"value"`
	}
	if err := json.Unmarshal(data, &wrapper); err != nil {
		return err
	}
	r.Modules = wrapper.Value.Modules
	return nil
}

func (m *Module) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID    string          `json:"id"`
		Value json.RawMessage `json:"value"`
		Retry *RetryPolicy    `json:"retry,omitempty"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	m.ID = raw.ID
	m.Retry = raw.Retry
	return m.Value.UnmarshalJSON(raw.Value)
}

func (mv *ModuleValue) UnmarshalJSON(data []byte) error {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return err
	}
	switch ModuleKind(head.Type) {
	case ModuleScript:
		var sv struct {
			Path            string                     `json:"path"`
			InputTransforms map[string]jsonvalue.Value `json:"input_transforms"`
		}
		if err := json.Unmarshal(data, &sv); err != nil {
			return err
		}
		mv.Kind = ModuleScript
		mv.Script = &ScriptValue{Path: sv.Path, InputTransforms: sv.InputTransforms}
		return nil
	case ModuleBranchOne:
		var bo struct {
			Branches []struct {
				Expr    string   `json:"expr"`
				Modules []Module `json:"modules"`
			} `json:"branches"`
			Default []Module `json:"default"`
		}
		if err := json.Unmarshal(data, &bo); err != nil {
			return err
		}
		branches := make([]Branch, len(bo.Branches))
		for i, b := range bo.Branches {
			branches[i] = Branch{Expr: b.Expr, Modules: b.Modules}
		}
		mv.Kind = ModuleBranchOne
		mv.BranchOne = &BranchOneValue{Branches: branches, Default: bo.Default}
		return nil
	case ModuleBranchAll:
		var ba struct {
			Branches []struct {
				Modules []Module `json:"modules"`
			} `json:"branches"`
			Parallel bool `json:"parallel"`
		}
		if err := json.Unmarshal(data, &ba); err != nil {
			return err
		}
		branches := make([]Branch, len(ba.Branches))
		for i, b := range ba.Branches {
			branches[i] = Branch{Modules: b.Modules}
		}
		mv.Kind = ModuleBranchAll
		mv.BranchAll = &BranchAllValue{Branches: branches, Parallel: ba.Parallel}
		return nil
	default:
		return fmt.Errorf("unknown module type %q", head.Type)
	}
}
