package nodeexec

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lyzr/workflowcore/common/httpdispatch"
	"github.com/lyzr/workflowcore/common/jsonvalue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRepo struct {
	connectors map[string]Connector
	nodes      map[string]Node
}

func (f *fakeRepo) GetConnector(ctx context.Context, id string) (Connector, error) {
	c, ok := f.connectors[id]
	if !ok {
		return Connector{}, assertNotFound(id)
	}
	return c, nil
}

func (f *fakeRepo) GetNode(ctx context.Context, id string) (Node, error) {
	n, ok := f.nodes[id]
	if !ok {
		return Node{}, assertNotFound(id)
	}
	return n, nil
}

type notFoundErr struct{ id string }

func (e notFoundErr) Error() string { return "not found: " + e.id }
func assertNotFound(id string) error { return notFoundErr{id: id} }

func TestExecuteHappyPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/echo", r.URL.Path)
		assert.Equal(t, "Bearer abc", r.Header.Get("Authorization"))
		w.Write([]byte(`{"data":{"greeting":"hi ada"}}`))
	}))
	defer srv.Close()

	repo := &fakeRepo{
		connectors: map[string]Connector{
			"conn1": {
				ID:      "conn1",
				BaseURL: srv.URL + "/",
				Method:  "POST",
				Header:  map[string]jsonvalue.Value{"Authorization": jsonvalue.String("Bearer abc")},
			},
		},
	}
	node := Node{
		ID:           "node1",
		ConnectorRef: "conn1",
		Path:         "/v1/echo",
		Input: []InputDef{
			{Name: "name", Type: InputString, Required: true},
		},
		Output: []OutputDef{
			{Name: "greeting", Mapping: "data.greeting"},
		},
	}

	exec := New(repo, httpdispatch.New(5*time.Second))
	out, err := exec.Execute(context.Background(), node, jsonvalue.FromAny(map[string]interface{}{"name": "ada"}))
	require.NoError(t, err)
	v, ok := out.Get("greeting")
	require.True(t, ok)
	assert.Equal(t, "hi ada", v.Str)
}

func TestMissingRequiredInputIsValidationError(t *testing.T) {
	repo := &fakeRepo{connectors: map[string]Connector{"c": {BaseURL: "http://x", Method: "GET"}}}
	node := Node{ConnectorRef: "c", Input: []InputDef{{Name: "x", Type: InputString, Required: true}}}

	exec := New(repo, httpdispatch.New(5*time.Second))
	_, err := exec.Execute(context.Background(), node, jsonvalue.FromAny(map[string]interface{}{}))
	require.Error(t, err)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestBooleanAndIntegerCoercion(t *testing.T) {
	var gotBody map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	repo := &fakeRepo{connectors: map[string]Connector{"c": {BaseURL: srv.URL, Method: "POST"}}}
	node := Node{
		ConnectorRef: "c",
		Input: []InputDef{
			{Name: "active", Type: InputBoolean},
			{Name: "count", Type: InputInteger},
		},
	}
	exec := New(repo, httpdispatch.New(5*time.Second))
	_, err := exec.Execute(context.Background(), node, jsonvalue.FromAny(map[string]interface{}{
		"active": "yes",
		"count":  "42",
	}))
	require.NoError(t, err)
	assert.Equal(t, true, gotBody["active"])
	assert.Equal(t, 42.0, gotBody["count"])
}

func TestOutputDefaultOnMissingPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":{}}`))
	}))
	defer srv.Close()

	repo := &fakeRepo{connectors: map[string]Connector{"c": {BaseURL: srv.URL, Method: "GET"}}}
	node := Node{
		ConnectorRef: "c",
		Output: []OutputDef{
			{Name: "missing", Mapping: "data.nope", Default: jsonvalue.String("fallback")},
		},
	}
	exec := New(repo, httpdispatch.New(5*time.Second))
	out, err := exec.Execute(context.Background(), node, jsonvalue.Object(nil))
	require.NoError(t, err)
	v, ok := out.Get("missing")
	require.True(t, ok)
	assert.Equal(t, "fallback", v.Str)
}

func TestURLJoinTrimsSeparators(t *testing.T) {
	assert.Equal(t, "http://x.com/a/b", buildURL("http://x.com/", "/a/b"))
	assert.Equal(t, "http://x.com/a/b", buildURL("http://x.com", "a/b"))
	assert.Equal(t, "http://x.com", buildURL("http://x.com/", ""))
}
