// Package validate wires a single go-playground/validator instance for
// struct-tag validation of decoded wire shapes (Connector, Node, InputDef,
// OutputDef, RetryPolicy), grounded on
// serverlessworkflow-sdk-go/validator's package-level singleton.
package validate

import (
	"fmt"
	"reflect"
	"strings"

	validator "github.com/go-playground/validator/v10"
	"github.com/lyzr/workflowcore/common/workflow"
)

var validate = validator.New()

func init() {
	validate.RegisterStructValidation(moduleValueStructLevel, workflow.ModuleValue{})
}

// Struct validates v against its "validate" struct tags, returning a
// single joined error naming every failing field.
func Struct(v interface{}) error {
	if err := validate.Struct(v); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("validation failed: %s", strings.Join(fields, "; "))
		}
		return err
	}
	return nil
}

// moduleValueStructLevel enforces that the union arm matching Kind is
// populated (spec §3's module tagged union); the other arms are not checked.
func moduleValueStructLevel(sl validator.StructLevel) {
	mv := sl.Current().Interface().(workflow.ModuleValue)
	switch mv.Kind {
	case workflow.ModuleScript:
		if mv.Script == nil {
			sl.ReportError(reflect.ValueOf(mv.Script), "Script", "Script", "required_with_kind", "")
		}
	case workflow.ModuleBranchOne:
		if mv.BranchOne == nil {
			sl.ReportError(reflect.ValueOf(mv.BranchOne), "BranchOne", "BranchOne", "required_with_kind", "")
		}
	case workflow.ModuleBranchAll:
		if mv.BranchAll == nil {
			sl.ReportError(reflect.ValueOf(mv.BranchAll), "BranchAll", "BranchAll", "required_with_kind", "")
		}
	default:
		sl.ReportError(reflect.ValueOf(mv.Kind), "Kind", "Kind", "oneof_script_branchone_branchall", "")
	}
}
