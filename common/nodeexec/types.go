package nodeexec

import (
	"encoding/json"

	"github.com/lyzr/workflowcore/common/jsonvalue"
)

// Connector is a reusable HTTP endpoint description (spec §3). Header and
// body values may themselves contain template variables.
type Connector struct {
	ID      string                     `json:"id" validate:"required"`
	BaseURL string                     `json:"base_url" validate:"required"`
	Method  string                     `json:"method" validate:"required,oneof=GET POST PUT PATCH DELETE"`
	Header  map[string]jsonvalue.Value `json:"header,omitempty"`
	Body    jsonvalue.Value            `json:"body,omitempty"`
}

// InputType enumerates the coercion rules step 1 applies.
type InputType string

const (
	InputString  InputType = "string"
	InputInteger InputType = "integer"
	InputNumber  InputType = "number"
	InputBoolean InputType = "boolean"
	InputAny     InputType = "any"
)

// InputDef describes one Node input, with the coercion and default/required
// rules of spec §4.4 step 1.
type InputDef struct {
	Name       string          `json:"name" validate:"required"`
	Type       InputType       `json:"type" validate:"required,oneof=string integer number boolean any"`
	Required   bool            `json:"required"`
	Default    jsonvalue.Value `json:"default,omitempty"`
	HasDefault bool            `json:"-"`
}

// UnmarshalJSON records whether "default" was present in the wire shape at
// all, distinguishing "no default" from "default is JSON null" (spec §4.4
// step 1 treats them differently).
func (d *InputDef) UnmarshalJSON(data []byte) error {
	type shadow InputDef
	var raw struct {
		shadow
		Default json.RawMessage `json:"default"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*d = InputDef(raw.shadow)
	if raw.Default != nil {
		d.HasDefault = true
		var v jsonvalue.Value
		if err := v.UnmarshalJSON(raw.Default); err != nil {
			return err
		}
		d.Default = v
	}
	return nil
}

// OutputDef describes one Node output extracted from the response body via
// a dot-path, per spec §4.4 step 6.
type OutputDef struct {
	Name    string          `json:"name" validate:"required"`
	Mapping string          `json:"mapping,omitempty"`
	Default jsonvalue.Value `json:"default,omitempty"`
}

// Node is a typed wrapper around exactly one Connector.
type Node struct {
	ID              string          `json:"id" validate:"required"`
	ConnectorRef    string          `json:"connector_ref" validate:"required"`
	Path            string          `json:"path,omitempty"`
	Input           []InputDef      `json:"input,omitempty" validate:"dive"`
	Output          []OutputDef     `json:"output,omitempty" validate:"dive"`
	BodyTemplate    jsonvalue.Value `json:"body_template,omitempty"`
	HasBodyTemplate bool            `json:"-"`
}

// UnmarshalJSON records whether "body_template" was present at all (see
// InputDef.UnmarshalJSON for the same distinction applied to defaults).
func (n *Node) UnmarshalJSON(data []byte) error {
	type shadow Node
	var raw struct {
		shadow
		BodyTemplate json.RawMessage `json:"body_template"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*n = Node(raw.shadow)
	if raw.BodyTemplate != nil {
		n.HasBodyTemplate = true
		var v jsonvalue.Value
		if err := v.UnmarshalJSON(raw.BodyTemplate); err != nil {
			return err
		}
		n.BodyTemplate = v
	}
	return nil
}
