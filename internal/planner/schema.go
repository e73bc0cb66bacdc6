package planner

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	_ "embed"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed plan_schema.json
var planSchemaJSON string

var (
	compileOnce sync.Once
	planSchema  *jsonschema.Schema
	compileErr  error
)

// PlanSchema returns the compiled JSON Schema for plan record arrays.
func PlanSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("plan_schema.json", strings.NewReader(planSchemaJSON)); err != nil {
			compileErr = fmt.Errorf("add schema resource: %w", err)
			return
		}
		schema, err := compiler.Compile("plan_schema.json")
		if err != nil {
			compileErr = fmt.Errorf("compile plan schema: %w", err)
			return
		}
		planSchema = schema
	})
	return planSchema, compileErr
}

// Validate checks a decoded JSON value against the plan schema and returns
// the typed records. Any violation rejects the whole value; step_num is not
// compared with len(steps).
func Validate(value any) ([]PlanRecord, error) {
	schema, err := PlanSchema()
	if err != nil {
		return nil, err
	}
	doc, err := toJSONValue(value)
	if err != nil {
		return nil, &ValidationError{Message: err.Error(), Err: err}
	}
	if err := schema.Validate(doc); err != nil {
		return nil, &ValidationError{Message: err.Error(), Err: err}
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, &ValidationError{Message: err.Error(), Err: err}
	}
	plans := []PlanRecord{}
	if err := json.Unmarshal(raw, &plans); err != nil {
		return nil, &ValidationError{Message: err.Error(), Err: err}
	}
	return plans, nil
}

// ValidateJSON decodes data and validates it.
func ValidateJSON(data []byte) ([]PlanRecord, error) {
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, &ValidationError{Message: "plan is not valid JSON", Err: err}
	}
	return Validate(doc)
}

// toJSONValue normalises typed Go values into the generic shapes the schema
// validator understands.
func toJSONValue(v any) (any, error) {
	switch v.(type) {
	case nil, bool, float64, json.Number, string, []any, map[string]any:
		return v, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
