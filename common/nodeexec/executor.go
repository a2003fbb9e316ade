// Package nodeexec resolves a Node + provided input into a single HTTP
// call, per spec §4.4: input coercion, URL construction, header/body
// templating, dispatch, and dot-path output extraction.
package nodeexec

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/lyzr/workflowcore/common/httpdispatch"
	"github.com/lyzr/workflowcore/common/jsonvalue"
	"github.com/lyzr/workflowcore/common/template"
)

// ValidationError is raised by step 1 when a required input has neither a
// provided value nor a default.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on %q: %s", e.Field, e.Msg)
}

// Repository is the narrow lookup the executor needs to resolve a Node's
// Connector; satisfied by common/repository.
type Repository interface {
	GetConnector(ctx context.Context, id string) (Connector, error)
}

// Executor composes the Template Engine and HTTP Dispatcher to run Nodes.
type Executor struct {
	repo       Repository
	dispatcher *httpdispatch.Dispatcher
}

func New(repo Repository, dispatcher *httpdispatch.Dispatcher) *Executor {
	return &Executor{repo: repo, dispatcher: dispatcher}
}

// Execute runs node against providedInput and returns its output mapping.
func (e *Executor) Execute(ctx context.Context, node Node, providedInput jsonvalue.Value) (jsonvalue.Value, error) {
	connector, err := e.repo.GetConnector(ctx, node.ConnectorRef)
	if err != nil {
		return jsonvalue.Value{}, err
	}

	prepared, err := prepareInput(node.Input, providedInput)
	if err != nil {
		return jsonvalue.Value{}, err
	}

	url := buildURL(connector.BaseURL, node.Path)

	headerTmpl := jsonvalue.Object(connector.Header)
	headerVal := template.Substitute(headerTmpl, prepared)
	headers := make(map[string]string, len(headerVal.Obj))
	for k, v := range headerVal.Obj {
		headers[k] = v.String()
	}

	var body jsonvalue.Value
	hasBody := bodyMethods[connector.Method]
	if hasBody {
		switch {
		case node.HasBodyTemplate:
			body = template.Substitute(node.BodyTemplate, prepared)
		case connector.Body.Kind != jsonvalue.KindNull:
			body = template.Substitute(connector.Body, prepared)
		default:
			body = prepared
		}
	}

	resp, err := e.dispatcher.Do(ctx, httpdispatch.Request{
		Method:  connector.Method,
		URL:     url,
		Headers: headers,
		Body:    body,
		HasBody: hasBody,
	})
	if err != nil {
		return jsonvalue.Value{}, err
	}

	return extractOutputs(node.Output, resp.Body), nil
}

var bodyMethods = map[string]bool{"POST": true, "PUT": true, "PATCH": true}

// prepareInput implements spec §4.4 step 1.
func prepareInput(defs []InputDef, provided jsonvalue.Value) (jsonvalue.Value, error) {
	out := make(map[string]jsonvalue.Value, len(defs))
	for _, d := range defs {
		v, ok := provided.Get(d.Name)
		if ok && !(v.Kind == jsonvalue.KindString && v.Str == "") {
			out[d.Name] = coerce(d.Type, v)
			continue
		}
		if d.Required {
			if d.HasDefault {
				out[d.Name] = d.Default
				continue
			}
			return jsonvalue.Value{}, &ValidationError{Field: d.Name, Msg: "required input not provided and no default value"}
		}
		if d.HasDefault {
			out[d.Name] = d.Default
		}
	}
	return jsonvalue.Object(out), nil
}

func coerce(t InputType, v jsonvalue.Value) jsonvalue.Value {
	switch t {
	case InputBoolean:
		if v.Kind == jsonvalue.KindString {
			switch strings.ToLower(v.Str) {
			case "true", "1", "yes", "on":
				return jsonvalue.Bool(true)
			default:
				return jsonvalue.Bool(false)
			}
		}
		return jsonvalue.Bool(v.Truthy())
	case InputInteger:
		if v.Kind == jsonvalue.KindString && isDigitsOnly(v.Str) {
			n, err := strconv.ParseFloat(v.Str, 64)
			if err == nil {
				return jsonvalue.Number(n)
			}
		}
		return v
	case InputNumber:
		if v.Kind == jsonvalue.KindString {
			n, err := strconv.ParseFloat(v.Str, 64)
			if err == nil {
				return jsonvalue.Number(n)
			}
		}
		return v
	default:
		return v
	}
}

func isDigitsOnly(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// buildURL implements spec §4.4 step 2.
func buildURL(baseURL, nodePath string) string {
	base := strings.TrimRight(baseURL, "/")
	path := strings.TrimSpace(nodePath)
	if path == "" {
		return base
	}
	return base + "/" + strings.TrimLeft(path, "/")
}

// extractOutputs implements spec §4.4 step 6: objects-only dot-path walk,
// falling back to the declared default (or null) on any miss.
func extractOutputs(defs []OutputDef, response jsonvalue.Value) jsonvalue.Value {
	out := make(map[string]jsonvalue.Value, len(defs))
	for _, o := range defs {
		mapping := o.Mapping
		if mapping == "" {
			mapping = o.Name
		}
		segments := strings.Split(mapping, ".")
		if v, ok := response.GetObjectPath(segments); ok {
			out[o.Name] = v
		} else {
			out[o.Name] = o.Default
		}
	}
	return jsonvalue.Object(out)
}

// ExecuteByID is a one-shot entry point mirroring the original source's
// module-level execute_node helper: resolve a Node by id and run it
// without requiring a caller to construct an Executor directly.
func ExecuteByID(ctx context.Context, repo interface {
	Repository
	GetNode(ctx context.Context, id string) (Node, error)
}, dispatcher *httpdispatch.Dispatcher, nodeID string, input jsonvalue.Value) (jsonvalue.Value, error) {
	node, err := repo.GetNode(ctx, nodeID)
	if err != nil {
		return jsonvalue.Value{}, err
	}
	exec := New(repo, dispatcher)
	return exec.Execute(ctx, node, input)
}
