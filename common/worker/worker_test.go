package worker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lyzr/workflowcore/common/httpdispatch"
	"github.com/lyzr/workflowcore/common/jobs"
	"github.com/lyzr/workflowcore/common/jsonvalue"
	"github.com/lyzr/workflowcore/common/logger"
	"github.com/lyzr/workflowcore/common/nodeexec"
	"github.com/lyzr/workflowcore/common/notify"
	"github.com/lyzr/workflowcore/common/repository"
	"github.com/lyzr/workflowcore/common/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeJobRepo struct {
	mu      sync.Mutex
	pending []*jobs.Job
	saved   []*jobs.Job
	status  map[uuid.UUID]string
	saveErr error // simulates Save losing a race to a concurrent cancel
}

func (f *fakeJobRepo) ClaimPending(ctx context.Context, batchSize int) ([]*jobs.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := batchSize
	if n > len(f.pending) {
		n = len(f.pending)
	}
	claimed := f.pending[:n]
	f.pending = f.pending[n:]
	return claimed, nil
}

func (f *fakeJobRepo) Save(ctx context.Context, job *jobs.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saved = append(f.saved, job)
	return nil
}

func (f *fakeJobRepo) GetJobStatus(ctx context.Context, jobID string) (string, error) {
	id, err := uuid.Parse(jobID)
	if err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status[id], nil
}

type fakeWorkflowRepo struct{ root workflow.Root }

func (f *fakeWorkflowRepo) GetWorkflow(ctx context.Context, ref string) (workflow.Root, error) {
	return f.root, nil
}

type fakeConnectorRepo struct{ baseURL string }

func (f *fakeConnectorRepo) GetConnector(ctx context.Context, id string) (nodeexec.Connector, error) {
	return nodeexec.Connector{BaseURL: f.baseURL, Method: "GET"}, nil
}

type fakeNodeRepo struct{}

func (f *fakeNodeRepo) GetNode(ctx context.Context, id string) (nodeexec.Node, error) {
	return nodeexec.Node{ConnectorRef: "c1", Output: []nodeexec.OutputDef{{Name: "ok"}}}, nil
}

func mustRoot(t *testing.T, raw string) workflow.Root {
	var r workflow.Root
	require.NoError(t, json.Unmarshal([]byte(raw), &r))
	return r
}

func TestWorkerProcessesClaimedJobsToCompletion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	jobID := uuid.New()
	jobRepo := &fakeJobRepo{
		pending: []*jobs.Job{{ID: jobID, WorkflowRef: "wf1", Status: jobs.StatusPending, Input: jsonvalue.Object(nil)}},
		status:  map[uuid.UUID]string{jobID: "running"},
	}
	root := mustRoot(t, `{"value":{"modules":[
		{"id":"m1","value":{"type":"script","path":"node/1_node_id","input_transforms":{}}}
	]}}`)
	workflowRepo := &fakeWorkflowRepo{root: root}

	nodeExec := nodeexec.New(&fakeConnectorRepo{baseURL: srv.URL}, httpdispatch.New(5*time.Second))
	wfExec := workflow.New(&fakeNodeRepo{}, jobRepo, nodeExec, 10, nil)
	w := New(jobRepo, workflowRepo, wfExec, notify.New(nil), logger.New("error", "text"), 1, 5)

	w.pollOnce(context.Background())

	require.Len(t, jobRepo.saved, 1)
	assert.Equal(t, jobs.StatusCompleted, jobRepo.saved[0].Status)
}

func TestWorkerMarksJobFailedOnExecutorError(t *testing.T) {
	jobID := uuid.New()
	jobRepo := &fakeJobRepo{
		pending: []*jobs.Job{{ID: jobID, WorkflowRef: "bad", Status: jobs.StatusPending, Input: jsonvalue.Object(nil)}},
		status:  map[uuid.UUID]string{jobID: "running"},
	}
	root := mustRoot(t, `{"value":{"modules":[
		{"id":"m1","value":{"type":"script","path":"node/1_node_id","input_transforms":{}}}
	]}}`)
	workflowRepo := &fakeWorkflowRepo{root: root}

	nodeExec := nodeexec.New(&fakeConnectorRepo{baseURL: "http://127.0.0.1:0"}, httpdispatch.New(1*time.Second))
	wfExec := workflow.New(&fakeNodeRepo{}, jobRepo, nodeExec, 10, nil)
	w := New(jobRepo, workflowRepo, wfExec, notify.New(nil), logger.New("error", "text"), 1, 5)

	w.pollOnce(context.Background())

	require.Len(t, jobRepo.saved, 1)
	assert.Equal(t, jobs.StatusFailed, jobRepo.saved[0].Status)
	assert.NotNil(t, jobRepo.saved[0].Error)
}

// TestWorkerTreatsAlreadyTerminalSaveAsNoop covers the race where a
// cancel_job call lands between the executor's last cancellation check
// and this job's final Save: the repository reports the row already
// terminal (repository.ErrJobAlreadyTerminal) and finish must not treat
// that as a save failure worth logging as an error, nor publish the
// losing status.
func TestWorkerTreatsAlreadyTerminalSaveAsNoop(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	jobID := uuid.New()
	jobRepo := &fakeJobRepo{
		pending: []*jobs.Job{{ID: jobID, WorkflowRef: "wf1", Status: jobs.StatusPending, Input: jsonvalue.Object(nil)}},
		status:  map[uuid.UUID]string{jobID: "running"},
		saveErr: repository.ErrJobAlreadyTerminal,
	}
	root := mustRoot(t, `{"value":{"modules":[
		{"id":"m1","value":{"type":"script","path":"node/1_node_id","input_transforms":{}}}
	]}}`)
	workflowRepo := &fakeWorkflowRepo{root: root}

	nodeExec := nodeexec.New(&fakeConnectorRepo{baseURL: srv.URL}, httpdispatch.New(5*time.Second))
	wfExec := workflow.New(&fakeNodeRepo{}, jobRepo, nodeExec, 10, nil)
	w := New(jobRepo, workflowRepo, wfExec, notify.New(nil), logger.New("error", "text"), 1, 5)

	require.NotPanics(t, func() { w.pollOnce(context.Background()) })
	assert.Empty(t, jobRepo.saved, "a lost race must not be recorded as a successful save")
}
