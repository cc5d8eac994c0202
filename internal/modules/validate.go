package modules

import (
	"fmt"
	"math"
	"slices"
	"strings"
)

// ValidateParams checks params against InputSchema.
//   - Required fields: missing, null or "" values fail with "<name> is required"
//   - Type check: each declared property must match its JSON Schema type
//   - Enum: string values must be one of the listed options
//
// Undeclared params pass through. Returns the params (never nil) or an error.
func ValidateParams(schema InputSchema, params map[string]any) (map[string]any, error) {
	if params == nil {
		params = make(map[string]any)
	}

	var missing []string
	for _, key := range schema.Required {
		val, exists := params[key]
		if !exists || val == nil {
			missing = append(missing, key)
			continue
		}
		if s, ok := val.(string); ok && strings.TrimSpace(s) == "" {
			missing = append(missing, key)
		}
	}
	switch len(missing) {
	case 0:
	case 1:
		return nil, fmt.Errorf("%s is required", missing[0])
	default:
		return nil, fmt.Errorf("%s are required", strings.Join(missing, ", "))
	}

	for key, val := range params {
		prop, declared := schema.Properties[key]
		if !declared || val == nil {
			continue
		}
		if err := checkType(key, val, prop.Type); err != nil {
			return nil, err
		}
		if len(prop.Enum) > 0 {
			if s, ok := val.(string); ok && !slices.Contains(prop.Enum, s) {
				return nil, fmt.Errorf("parameter %q: must be one of %s", key, strings.Join(prop.Enum, ", "))
			}
		}
	}

	return params, nil
}

// checkType verifies that val matches the expected JSON Schema type.
func checkType(key string, val any, expectedType string) error {
	switch expectedType {
	case "string":
		if _, ok := val.(string); !ok {
			return fmt.Errorf("parameter %q: expected string, got %T", key, val)
		}
	case "number":
		// JSON numbers arrive as float64
		if _, ok := val.(float64); !ok {
			return fmt.Errorf("parameter %q: expected number, got %T", key, val)
		}
	case "integer":
		f, ok := val.(float64)
		if !ok {
			return fmt.Errorf("parameter %q: expected integer, got %T", key, val)
		}
		if f != math.Trunc(f) {
			return fmt.Errorf("parameter %q: expected integer, got %v", key, f)
		}
	case "boolean":
		if _, ok := val.(bool); !ok {
			return fmt.Errorf("parameter %q: expected boolean, got %T", key, val)
		}
	case "array":
		if _, ok := val.([]any); !ok {
			return fmt.Errorf("parameter %q: expected array, got %T", key, val)
		}
	case "object":
		if _, ok := val.(map[string]any); !ok {
			return fmt.Errorf("parameter %q: expected object, got %T", key, val)
		}
	}
	return nil
}

// findTool looks up a tool by name from a tool list.
func findTool(tools []Tool, name string) (Tool, bool) {
	for _, t := range tools {
		if t.Name == name {
			return t, true
		}
	}
	return Tool{}, false
}
