package expr

import (
	"testing"

	"github.com/lyzr/workflowcore/common/jsonvalue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCtx() Context {
	return Context{
		FlowInput: jsonvalue.FromAny(map[string]interface{}{
			"user": map[string]interface{}{"age": 21.0, "name": "ada"},
			"tags": []interface{}{"a", "b", "c"},
		}),
		Results: jsonvalue.FromAny(map[string]interface{}{
			"step1": map[string]interface{}{"status": "ok", "score": 0.87},
		}),
	}
}

func TestMemberAndIndexAccess(t *testing.T) {
	ctx := testCtx()
	ok, err := Evaluate(`flow_input.user.age >= 18`, ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Evaluate(`flow_input.tags[1] == "b"`, ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Evaluate(`results.step1.status == "ok" && results.step1.score > 0.5`, ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLogicalWordForms(t *testing.T) {
	ctx := testCtx()
	ok, err := Evaluate(`flow_input.user.age >= 18 and not (results.step1.status == "failed")`, ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Evaluate(`false or true`, ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestStrictEqualityNormalizes(t *testing.T) {
	ctx := testCtx()
	ok, err := Evaluate(`results.step1.status === "ok"`, ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Evaluate(`results.step1.status !== "failed"`, ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestArithmetic(t *testing.T) {
	ctx := testCtx()
	v, err := EvaluateValue(`1 + 2 * 3`, ctx)
	require.NoError(t, err)
	assert.Equal(t, 7.0, v.Number)

	v, err = EvaluateValue(`(1 + 2) * 3`, ctx)
	require.NoError(t, err)
	assert.Equal(t, 9.0, v.Number)
}

func TestMissingPathIsNullNotError(t *testing.T) {
	ctx := testCtx()
	ok, err := Evaluate(`flow_input.user.missing == null`, ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestUndefinedRootNameIsError(t *testing.T) {
	ctx := testCtx()
	_, err := Evaluate(`nonexistent_root == 1`, ctx)
	require.Error(t, err)
	var exprErr *ExpressionError
	assert.ErrorAs(t, err, &exprErr)
}

func TestSyntaxErrorIsRecoverable(t *testing.T) {
	ctx := testCtx()
	_, err := Evaluate(`flow_input.user ==`, ctx)
	require.Error(t, err)
	var exprErr *ExpressionError
	assert.ErrorAs(t, err, &exprErr)
}

func TestPurityDoesNotMutateContext(t *testing.T) {
	ctx := testCtx()
	before, _ := jsonvalueMarshalForTest(ctx)
	_, _ = Evaluate(`flow_input.tags[0] == "a"`, ctx)
	after, _ := jsonvalueMarshalForTest(ctx)
	assert.Equal(t, before, after)
}

func jsonvalueMarshalForTest(ctx Context) (string, error) {
	b, err := ctx.FlowInput.MarshalJSON()
	if err != nil {
		return "", err
	}
	return string(b), nil
}
