package httpdispatch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lyzr/workflowcore/common/jsonvalue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmptyBodyBecomesEmptyObject(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := New(5 * time.Second)
	resp, err := d.Do(context.Background(), Request{Method: http.MethodGet, URL: srv.URL})
	require.NoError(t, err)
	assert.Equal(t, jsonvalue.KindObject, resp.Body.Kind)
	assert.Len(t, resp.Body.Obj, 0)
}

func TestGetNeverSendsBody(t *testing.T) {
	var sawBody bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := make([]byte, 1)
		n, _ := r.Body.Read(buf)
		sawBody = n > 0
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	d := New(5 * time.Second)
	_, err := d.Do(context.Background(), Request{
		Method:  http.MethodGet,
		URL:     srv.URL,
		Body:    jsonvalue.FromAny(map[string]interface{}{"x": 1}),
		HasBody: true,
	})
	require.NoError(t, err)
	assert.False(t, sawBody)
}

func TestStatusAboveFourHundredIsHttpError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"reason":"bad"}`))
	}))
	defer srv.Close()

	d := New(5 * time.Second)
	_, err := d.Do(context.Background(), Request{Method: http.MethodPost, URL: srv.URL})
	require.Error(t, err)
	var httpErr *HttpError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusBadRequest, httpErr.Status)
}

func TestUnparseableBodySurfacesHttpErrorWithPrefix(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("not json at all"))
	}))
	defer srv.Close()

	d := New(5 * time.Second)
	_, err := d.Do(context.Background(), Request{Method: http.MethodGet, URL: srv.URL})
	require.Error(t, err)
	var httpErr *HttpError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusOK, httpErr.Status)
	assert.Equal(t, "not json at all", httpErr.Body)
}

func TestHttpErrorExtractsMessageField(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"message":"connector upstream is down"}`))
	}))
	defer srv.Close()

	d := New(5 * time.Second)
	_, err := d.Do(context.Background(), Request{Method: http.MethodGet, URL: srv.URL})
	require.Error(t, err)
	var httpErr *HttpError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, "connector upstream is down", httpErr.Message)
}

func TestConnectionFailureIsTransportError(t *testing.T) {
	d := New(1 * time.Second)
	_, err := d.Do(context.Background(), Request{Method: http.MethodGet, URL: "http://127.0.0.1:1"})
	require.Error(t, err)
	var transportErr *TransportError
	assert.ErrorAs(t, err, &transportErr)
}

func TestPostSendsJSONBody(t *testing.T) {
	var gotContentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	d := New(5 * time.Second)
	resp, err := d.Do(context.Background(), Request{
		Method:  http.MethodPost,
		URL:     srv.URL,
		Body:    jsonvalue.FromAny(map[string]interface{}{"a": 1}),
		HasBody: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "application/json", gotContentType)
	v, ok := resp.Body.Get("ok")
	require.True(t, ok)
	assert.True(t, v.Bool)
}
