package repository

import (
	"context"
	"fmt"

	"github.com/lyzr/workflowcore/common/db"
	"github.com/lyzr/workflowcore/common/nodeexec"
	"github.com/lyzr/workflowcore/common/security"
	"github.com/lyzr/workflowcore/common/validate"
)

// ConnectorRepository stores Connector definitions, keyed by id, as a
// single jsonb column (their shape is nested and varies by connector, like
// the teacher's tags_snapshot column).
type ConnectorRepository struct {
	db       *db.DB
	urlGuard *security.URLValidator
}

func NewConnectorRepository(database *db.DB) *ConnectorRepository {
	return &ConnectorRepository{db: database, urlGuard: security.NewURLValidator()}
}

func (r *ConnectorRepository) GetConnector(ctx context.Context, id string) (nodeexec.Connector, error) {
	var c nodeexec.Connector
	err := r.db.QueryRow(ctx, `SELECT definition FROM connector WHERE id = $1`, id).Scan(&c)
	if err != nil {
		return nodeexec.Connector{}, fmt.Errorf("failed to get connector %q: %w", id, err)
	}
	return c, nil
}

// Upsert screens c.BaseURL against SSRF/file-access patterns before
// persisting it: every Node dispatch built on this Connector reuses
// whatever URL is stored here, so it is validated once, at write time,
// rather than re-resolved on every dispatch.
func (r *ConnectorRepository) Upsert(ctx context.Context, c nodeexec.Connector) error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("connector %q: %w", c.ID, err)
	}
	if err := r.urlGuard.Validate(c.BaseURL); err != nil {
		return fmt.Errorf("connector %q has an unsafe base_url: %w", c.ID, err)
	}

	query := `
		INSERT INTO connector (id, definition)
		VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET definition = $2
	`
	if _, err := r.db.Exec(ctx, query, c.ID, c); err != nil {
		return fmt.Errorf("failed to upsert connector %q: %w", c.ID, err)
	}
	return nil
}

// NodeRepository stores Node definitions, keyed by the integer id a
// script module's path embeds.
type NodeRepository struct {
	db *db.DB
}

func NewNodeRepository(database *db.DB) *NodeRepository {
	return &NodeRepository{db: database}
}

func (r *NodeRepository) GetNode(ctx context.Context, id string) (nodeexec.Node, error) {
	var n nodeexec.Node
	err := r.db.QueryRow(ctx, `SELECT definition FROM node WHERE id = $1`, id).Scan(&n)
	if err != nil {
		return nodeexec.Node{}, fmt.Errorf("failed to get node %q: %w", id, err)
	}
	return n, nil
}

func (r *NodeRepository) Upsert(ctx context.Context, n nodeexec.Node) error {
	if err := validate.Struct(n); err != nil {
		return fmt.Errorf("node %q: %w", n.ID, err)
	}

	query := `
		INSERT INTO node (id, connector_ref, definition)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET connector_ref = $2, definition = $3
	`
	if _, err := r.db.Exec(ctx, query, n.ID, n.ConnectorRef, n); err != nil {
		return fmt.Errorf("failed to upsert node %q: %w", n.ID, err)
	}
	return nil
}
