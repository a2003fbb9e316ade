package workflow

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lyzr/workflowcore/common/httpdispatch"
	"github.com/lyzr/workflowcore/common/jsonvalue"
	"github.com/lyzr/workflowcore/common/nodeexec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConnectorRepo struct {
	connectors map[string]nodeexec.Connector
}

func (f *fakeConnectorRepo) GetConnector(ctx context.Context, id string) (nodeexec.Connector, error) {
	return f.connectors[id], nil
}

type fakeNodeRepo struct {
	nodes map[string]nodeexec.Node
}

func (f *fakeNodeRepo) GetNode(ctx context.Context, id string) (nodeexec.Node, error) {
	return f.nodes[id], nil
}

type fakeJobStatus struct{ status string }

func (f *fakeJobStatus) GetJobStatus(ctx context.Context, jobID string) (string, error) {
	return f.status, nil
}

func mustRoot(t *testing.T, raw string) Root {
	var r Root
	require.NoError(t, json.Unmarshal([]byte(raw), &r))
	return r
}

func TestScriptModuleDispatchesNode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"greeting":"hi"}`))
	}))
	defer srv.Close()

	connRepo := &fakeConnectorRepo{connectors: map[string]nodeexec.Connector{
		"c1": {BaseURL: srv.URL, Method: "GET"},
	}}
	nodeRepo := &fakeNodeRepo{nodes: map[string]nodeexec.Node{
		"1": {ConnectorRef: "c1", Output: []nodeexec.OutputDef{{Name: "greeting"}}},
	}}
	nodeExec := nodeexec.New(connRepo, httpdispatch.New(5*time.Second))
	exec := New(nodeRepo, &fakeJobStatus{status: "running"}, nodeExec, 10, nil)

	root := mustRoot(t, `{
		"value": {"modules": [
			{"id": "m1", "value": {"type": "script", "path": "node/1_node_id", "input_transforms": {}}}
		]}
	}`)

	out, err := exec.Run(context.Background(), "job1", root, jsonvalue.Object(nil))
	require.NoError(t, err)
	m1, ok := out.Get("m1")
	require.True(t, ok)
	v, ok := m1.Get("greeting")
	require.True(t, ok)
	assert.Equal(t, "hi", v.Str)
}

func TestBranchOneTakesFirstTruthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()
	connRepo := &fakeConnectorRepo{connectors: map[string]nodeexec.Connector{"c1": {BaseURL: srv.URL, Method: "GET"}}}
	nodeRepo := &fakeNodeRepo{nodes: map[string]nodeexec.Node{"1": {ConnectorRef: "c1"}, "2": {ConnectorRef: "c1"}}}
	nodeExec := nodeexec.New(connRepo, httpdispatch.New(5*time.Second))
	exec := New(nodeRepo, &fakeJobStatus{status: "running"}, nodeExec, 10, nil)

	root := mustRoot(t, `{
		"value": {"modules": [
			{"id": "b1", "value": {"type": "branchone", "branches": [
				{"expr": "flow_input.x == 1", "modules": [{"id": "m1", "value": {"type": "script", "path": "node/1_node_id", "input_transforms": {}}}]},
				{"expr": "true", "modules": [{"id": "m2", "value": {"type": "script", "path": "node/2_node_id", "input_transforms": {}}}]}
			], "default": []}}
		]}
	}`)

	out, err := exec.Run(context.Background(), "job1", root, jsonvalue.FromAny(map[string]interface{}{"x": 2.0}))
	require.NoError(t, err)
	b1, ok := out.Get("b1")
	require.True(t, ok)
	assert.Equal(t, jsonvalue.KindArray, b1.Kind)
	_, ran2 := out.Get("m2")
	assert.True(t, ran2)
	_, ran1 := out.Get("m1")
	assert.False(t, ran1)
}

func TestCancelledJobAbortsBeforeNextModule(t *testing.T) {
	nodeRepo := &fakeNodeRepo{}
	nodeExec := nodeexec.New(&fakeConnectorRepo{}, httpdispatch.New(5*time.Second))
	exec := New(nodeRepo, &fakeJobStatus{status: "cancelled"}, nodeExec, 10, nil)

	root := mustRoot(t, `{"value": {"modules": [
		{"id": "m1", "value": {"type": "script", "path": "node/1_node_id", "input_transforms": {}}}
	]}}`)

	_, err := exec.Run(context.Background(), "job1", root, jsonvalue.Object(nil))
	assert.ErrorIs(t, err, ErrCancelled)
}

func TestRetryReRunsModuleOnFailure(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 2 {
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(`{}`))
			return
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	connRepo := &fakeConnectorRepo{connectors: map[string]nodeexec.Connector{"c1": {BaseURL: srv.URL, Method: "GET"}}}
	nodeRepo := &fakeNodeRepo{nodes: map[string]nodeexec.Node{"1": {ConnectorRef: "c1"}}}
	nodeExec := nodeexec.New(connRepo, httpdispatch.New(5*time.Second))
	exec := New(nodeRepo, &fakeJobStatus{status: "running"}, nodeExec, 10, nil)

	root := mustRoot(t, `{"value": {"modules": [
		{"id": "m1", "retry": {"exponential": {"attempts": 3, "multiplier": 1, "seconds": 0}},
		 "value": {"type": "script", "path": "node/1_node_id", "input_transforms": {}}}
	]}}`)

	_, err := exec.Run(context.Background(), "job1", root, jsonvalue.Object(nil))
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestBranchAllParallelPreservesDeclaredOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.URL.Query().Get("id")
		if id == "slow" {
			time.Sleep(30 * time.Millisecond)
		}
		w.Write([]byte(`{"id":"` + id + `"}`))
	}))
	defer srv.Close()

	connRepo := &fakeConnectorRepo{connectors: map[string]nodeexec.Connector{"c1": {BaseURL: srv.URL, Method: "GET"}}}
	nodeRepo := &fakeNodeRepo{nodes: map[string]nodeexec.Node{
		"1": {ConnectorRef: "c1", Path: "?id=slow", Output: []nodeexec.OutputDef{{Name: "id"}}},
		"2": {ConnectorRef: "c1", Path: "?id=fast", Output: []nodeexec.OutputDef{{Name: "id"}}},
	}}
	nodeExec := nodeexec.New(connRepo, httpdispatch.New(5*time.Second))
	exec := New(nodeRepo, &fakeJobStatus{status: "running"}, nodeExec, 10, nil)

	root := mustRoot(t, `{"value": {"modules": [
		{"id": "ball", "value": {"type": "branchall", "parallel": true, "branches": [
			{"modules": [{"id": "m1", "value": {"type": "script", "path": "node/1_node_id", "input_transforms": {}}}]},
			{"modules": [{"id": "m2", "value": {"type": "script", "path": "node/2_node_id", "input_transforms": {}}}]}
		]}}
	]}}`)

	out, err := exec.Run(context.Background(), "job1", root, jsonvalue.Object(nil))
	require.NoError(t, err)
	ball, ok := out.Get("ball")
	require.True(t, ok)
	require.Len(t, ball.Arr, 2)
	first, _ := ball.Arr[0].Get("id")
	second, _ := ball.Arr[1].Get("id")
	assert.Equal(t, "slow", first.Str)
	assert.Equal(t, "fast", second.Str)
}
