package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/lyzr/workflowcore/common/db"
	"github.com/lyzr/workflowcore/common/validate"
	"github.com/lyzr/workflowcore/common/workflow"
)

// WorkflowRepository stores Workflow module trees, keyed by the ref a
// Job's workflow_ref names, as a single jsonb column holding the
// {value:{modules:[...]}} wire shape (spec §3).
type WorkflowRepository struct {
	db *db.DB
}

func NewWorkflowRepository(database *db.DB) *WorkflowRepository {
	return &WorkflowRepository{db: database}
}

func (r *WorkflowRepository) GetWorkflow(ctx context.Context, ref string) (workflow.Root, error) {
	var root workflow.Root
	err := r.db.QueryRow(ctx, `SELECT definition FROM workflow WHERE ref = $1`, ref).Scan(&root)
	if err != nil {
		return workflow.Root{}, fmt.Errorf("failed to get workflow %q: %w", ref, err)
	}
	return root, nil
}

// Upsert stores a workflow definition under ref. definition must already
// be in the {value:{modules:[...]}} wire shape; Root has no MarshalJSON
// of its own since nothing in this repo re-serializes a decoded Root.
// Every module in the tree, at any branch depth, is struct-validated
// before the write (spec §3's tagged-union and retry-policy shapes).
func (r *WorkflowRepository) Upsert(ctx context.Context, ref string, definition json.RawMessage) error {
	var root workflow.Root
	if err := json.Unmarshal(definition, &root); err != nil {
		return fmt.Errorf("workflow %q: invalid definition: %w", ref, err)
	}
	var validationErr error
	for _, m := range root.Modules {
		m.Walk(func(mod workflow.Module) {
			if validationErr != nil {
				return
			}
			if err := validate.Struct(mod); err != nil {
				validationErr = fmt.Errorf("module %q: %w", mod.ID, err)
				return
			}
			if err := validate.Struct(mod.Value); err != nil {
				validationErr = fmt.Errorf("module %q: %w", mod.ID, err)
				return
			}
			if mod.Retry != nil && mod.Retry.Exponential != nil {
				if err := validate.Struct(*mod.Retry.Exponential); err != nil {
					validationErr = fmt.Errorf("module %q retry policy: %w", mod.ID, err)
				}
			}
		})
		if validationErr != nil {
			return validationErr
		}
	}

	query := `
		INSERT INTO workflow (ref, definition)
		VALUES ($1, $2)
		ON CONFLICT (ref) DO UPDATE SET definition = $2
	`
	if _, err := r.db.Exec(ctx, query, ref, definition); err != nil {
		return fmt.Errorf("failed to upsert workflow %q: %w", ref, err)
	}
	return nil
}
