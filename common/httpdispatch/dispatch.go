// Package httpdispatch performs the single outbound HTTP call each Node
// invocation makes (spec §4.3). It owns exactly one concern: method +
// absolute URL + headers + optional JSON body in, parsed JSON body out.
// Retries are the Workflow Executor's concern, not this package's.
package httpdispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/lyzr/workflowcore/common/jsonvalue"
	"github.com/tidwall/gjson"
)

// errorMessageKeys are checked, in order, for a human-readable summary of
// a non-2xx response body, without a full unmarshal into jsonvalue.Value.
var errorMessageKeys = []string{"message", "error", "detail", "errors.0.message"}

// DefaultTimeout is the hard per-request ceiling. Configurable only at
// construction time, never per-call, matching spec §4.3's "hard" timeout.
const DefaultTimeout = 300 * time.Second

const maxRawBodyPreview = 1024

// Request is one outbound call.
type Request struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    jsonvalue.Value // ignored for GET/DELETE
	HasBody bool
}

// Response is the parsed result of a completed call.
type Response struct {
	Status int
	Body   jsonvalue.Value
}

// HttpError represents a completed HTTP exchange whose status was >= 400,
// or whose body failed to parse as JSON. Never retried by this layer.
type HttpError struct {
	Status  int
	Body    string
	Message string // best-effort summary pulled from Body, may be empty
	Parsed  bool
	Wrapped error
}

func (e *HttpError) Error() string {
	if e.Wrapped != nil {
		return fmt.Sprintf("http error (status %d): %v", e.Status, e.Wrapped)
	}
	if e.Message != "" {
		return fmt.Sprintf("http error (status %d): %s", e.Status, e.Message)
	}
	return fmt.Sprintf("http error (status %d): %s", e.Status, e.Body)
}

func (e *HttpError) Unwrap() error { return e.Wrapped }

// TransportError represents a failure to complete the exchange at all:
// DNS, connection refused, TLS failure, or timeout.
type TransportError struct {
	Wrapped error
}

func (e *TransportError) Error() string { return fmt.Sprintf("transport error: %v", e.Wrapped) }
func (e *TransportError) Unwrap() error { return e.Wrapped }

var bodyMethods = map[string]bool{http.MethodPost: true, http.MethodPut: true, http.MethodPatch: true}

// Dispatcher executes Requests with a fixed, hard timeout.
type Dispatcher struct {
	client *http.Client
}

func New(timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Dispatcher{client: &http.Client{Timeout: timeout}}
}

// Do executes req. The per-request timeout is enforced via the
// Dispatcher's underlying client, not the caller's context, so callers
// may pass a long-lived or cancellable ctx without weakening the ceiling.
// req.URL is assumed already screened by security.URLValidator at
// Connector registration time (common/repository.ConnectorRepository).
func (d *Dispatcher) Do(ctx context.Context, req Request) (Response, error) {
	method := req.Method
	sendBody := req.HasBody && method != http.MethodGet && method != http.MethodDelete

	var bodyReader io.Reader
	if sendBody {
		raw, err := json.Marshal(req.Body.ToAny())
		if err != nil {
			return Response{}, &HttpError{Wrapped: err}
		}
		bodyReader = bytes.NewReader(raw)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, bodyReader)
	if err != nil {
		return Response{}, &TransportError{Wrapped: err}
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	if sendBody {
		if httpReq.Header.Get("Content-Type") == "" {
			httpReq.Header.Set("Content-Type", "application/json")
		}
	}

	resp, err := d.client.Do(httpReq)
	if err != nil {
		return Response{}, &TransportError{Wrapped: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, &TransportError{Wrapped: err}
	}

	parsed, parseErr := parseBody(raw)
	if parseErr != nil {
		return Response{}, &HttpError{
			Status:  resp.StatusCode,
			Body:    truncate(raw),
			Parsed:  false,
			Wrapped: parseErr,
		}
	}

	if resp.StatusCode >= 400 {
		return Response{}, &HttpError{Status: resp.StatusCode, Body: truncate(raw), Message: extractErrorMessage(raw), Parsed: true}
	}

	return Response{Status: resp.StatusCode, Body: parsed}, nil
}

func parseBody(raw []byte) (jsonvalue.Value, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return jsonvalue.Object(map[string]jsonvalue.Value{}), nil
	}
	var v jsonvalue.Value
	if err := v.UnmarshalJSON(raw); err != nil {
		return jsonvalue.Value{}, err
	}
	return v, nil
}

// extractErrorMessage pulls a human-readable summary out of an error
// response body using gjson's path query, without unmarshalling the
// whole body into a jsonvalue.Value (which the caller discards anyway on
// an error path).
func extractErrorMessage(raw []byte) string {
	if !gjson.ValidBytes(raw) {
		return ""
	}
	for _, key := range errorMessageKeys {
		if r := gjson.GetBytes(raw, key); r.Exists() && r.String() != "" {
			return r.String()
		}
	}
	return ""
}

func truncate(raw []byte) string {
	if len(raw) <= maxRawBodyPreview {
		return string(raw)
	}
	return string(raw[:maxRawBodyPreview])
}

// IsRetryable reports whether err originated from C3 in a form the spec
// explicitly marks as "not retried at this layer" — present so callers
// don't accidentally reclassify these as validation failures.
func IsRetryable(err error) bool {
	var httpErr *HttpError
	var transportErr *TransportError
	return errors.As(err, &httpErr) || errors.As(err, &transportErr)
}
