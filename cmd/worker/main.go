// Command worker runs the Job poll/claim/gather loop (spec §6) alongside
// an HTTP surface for health/metrics, job cancellation, definition
// registration, and the execute_node/execute_workflow entry points,
// grounded on cmd/runner/main.go's bootstrap-then-serve shape.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/lyzr/workflowcore/common/bootstrap"
	"github.com/lyzr/workflowcore/common/httpdispatch"
	"github.com/lyzr/workflowcore/common/jobs"
	"github.com/lyzr/workflowcore/common/jsonvalue"
	"github.com/lyzr/workflowcore/common/nodeexec"
	"github.com/lyzr/workflowcore/common/notify"
	"github.com/lyzr/workflowcore/common/repository"
	"github.com/lyzr/workflowcore/common/server"
	"github.com/lyzr/workflowcore/common/worker"
	"github.com/lyzr/workflowcore/common/workflow"
)

// nodeLookup adapts the split Connector/Node repositories to the combined
// shape nodeexec.ExecuteByID needs to resolve a one-shot Node by id.
type nodeLookup struct {
	connectors *repository.ConnectorRepository
	nodes      *repository.NodeRepository
}

func (l nodeLookup) GetConnector(ctx context.Context, id string) (nodeexec.Connector, error) {
	return l.connectors.GetConnector(ctx, id)
}

func (l nodeLookup) GetNode(ctx context.Context, id string) (nodeexec.Node, error) {
	return l.nodes.GetNode(ctx, id)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	components, err := bootstrap.Setup(ctx, "worker")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize: %v\n", err)
		os.Exit(1)
	}
	defer components.Shutdown(ctx)

	cfg := components.Config

	jobRepo := repository.NewJobRepository(components.DB)
	connectorRepo := repository.NewConnectorRepository(components.DB)
	nodeRepo := repository.NewNodeRepository(components.DB)
	workflowRepo := repository.NewWorkflowRepository(components.DB)

	dispatcher := httpdispatch.New(time.Duration(cfg.Worker.NodeHTTPTimeoutSeconds) * time.Second)
	nodeExec := nodeexec.New(connectorRepo, dispatcher)
	wfExec := workflow.New(nodeRepo, jobRepo, nodeExec, cfg.Worker.PerWorkflowPoolSize, components.Logger)
	notifier := notify.New(components.Redis)

	w := worker.New(jobRepo, workflowRepo, wfExec, notifier, components.Logger, cfg.Worker.PollIntervalSeconds, cfg.Worker.BatchSize)

	go w.Run(ctx)

	lookup := nodeLookup{connectors: connectorRepo, nodes: nodeRepo}

	e := echo.New()
	e.HideBanner = true
	registerRoutes(e, components, jobRepo, connectorRepo, nodeRepo, workflowRepo, lookup, dispatcher)

	srv := server.New(cfg.Service.Name, cfg.Service.Port, e, components.Logger)
	components.Logger.Info("worker service ready", "port", cfg.Service.Port)

	if err := srv.Start(); err != nil && err != http.ErrServerClosed {
		components.Logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

// registerRoutes wires the operator HTTP surface: health/metrics, plus the
// spec §6 invocation entry points (execute_node, execute_workflow,
// cancel_job) and the PUT routes a definition author uses to register
// Connectors/Nodes/Workflows, described as "consumed by an external HTTP
// layer, not specified here" — this is that layer, grounded on the
// teacher's echo route registration idiom.
func registerRoutes(
	e *echo.Echo,
	components *bootstrap.Components,
	jobRepo *repository.JobRepository,
	connectorRepo *repository.ConnectorRepository,
	nodeRepo *repository.NodeRepository,
	workflowRepo *repository.WorkflowRepository,
	lookup nodeLookup,
	dispatcher *httpdispatch.Dispatcher,
) {
	e.GET("/healthz", func(c echo.Context) error {
		if err := components.Health(c.Request().Context()); err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "error": err.Error()})
		}
		return c.JSON(http.StatusOK, map[string]string{"status": "healthy"})
	})

	e.GET("/metrics", func(c echo.Context) error {
		return c.String(http.StatusOK, "# job lifecycle metrics are published via common/notify, not scraped here\n")
	})

	e.POST("/jobs/:id/cancel", func(c echo.Context) error {
		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid job id"})
		}
		if err := jobRepo.Cancel(c.Request().Context(), id); err != nil {
			return c.JSON(http.StatusConflict, map[string]string{"error": err.Error()})
		}
		return c.NoContent(http.StatusAccepted)
	})

	e.PUT("/connectors/:id", func(c echo.Context) error {
		var conn nodeexec.Connector
		if err := c.Bind(&conn); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
		}
		conn.ID = c.Param("id")
		if err := connectorRepo.Upsert(c.Request().Context(), conn); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
		}
		return c.NoContent(http.StatusNoContent)
	})

	e.PUT("/nodes/:id", func(c echo.Context) error {
		var n nodeexec.Node
		if err := c.Bind(&n); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
		}
		n.ID = c.Param("id")
		if err := nodeRepo.Upsert(c.Request().Context(), n); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
		}
		return c.NoContent(http.StatusNoContent)
	})

	e.PUT("/workflows/:ref", func(c echo.Context) error {
		body, err := io.ReadAll(c.Request().Body)
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
		}
		if err := workflowRepo.Upsert(c.Request().Context(), c.Param("ref"), json.RawMessage(body)); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
		}
		return c.NoContent(http.StatusNoContent)
	})

	// execute_node: synchronous one-shot dispatch, no Job created.
	e.POST("/nodes/:id/execute", func(c echo.Context) error {
		var input jsonvalue.Value
		if err := c.Bind(&input); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
		}
		output, err := nodeexec.ExecuteByID(c.Request().Context(), lookup, dispatcher, c.Param("id"), input)
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
		}
		return c.JSON(http.StatusOK, output)
	})

	// execute_workflow: persists a pending Job and returns immediately; the
	// worker loop claims and runs it on its next poll.
	e.POST("/workflows/:ref/execute", func(c echo.Context) error {
		var req struct {
			Input jsonvalue.Value `json:"input"`
			Name  string          `json:"name"`
		}
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
		}
		job := &jobs.Job{
			ID:          uuid.New(),
			Name:        req.Name,
			WorkflowRef: c.Param("ref"),
			Status:      jobs.StatusPending,
			Input:       req.Input,
		}
		if err := jobRepo.Create(c.Request().Context(), job); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
		}
		return c.JSON(http.StatusAccepted, job)
	})
}
