package validate

import (
	"testing"

	"github.com/lyzr/workflowcore/common/nodeexec"
	"github.com/lyzr/workflowcore/common/workflow"
	"github.com/stretchr/testify/assert"
)

func TestStructRejectsMissingRequiredFields(t *testing.T) {
	c := nodeexec.Connector{Method: "GET"}
	err := Struct(c)
	assert.Error(t, err)
}

func TestStructAcceptsValidConnector(t *testing.T) {
	c := nodeexec.Connector{ID: "c1", BaseURL: "https://example.com", Method: "GET"}
	assert.NoError(t, Struct(c))
}

func TestModuleValueRejectsMismatchedUnion(t *testing.T) {
	mv := workflow.ModuleValue{Kind: workflow.ModuleScript}
	assert.Error(t, Struct(mv))
}

func TestModuleValueAcceptsMatchingUnion(t *testing.T) {
	mv := workflow.ModuleValue{Kind: workflow.ModuleScript, Script: &workflow.ScriptValue{Path: "node/1_node_id"}}
	assert.NoError(t, Struct(mv))
}
