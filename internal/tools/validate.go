package tools

import (
	"encoding/json"
	"fmt"
	"math"
)

// Validation limits applied when a parameter declares no tighter bound.
const (
	// DefaultMaxStringLength caps string arguments.
	DefaultMaxStringLength = 10000

	// DefaultMaxArrayItems caps array arguments.
	DefaultMaxArrayItems = 100

	// MaxAbsInteger caps the magnitude of any integer argument.
	MaxAbsInteger = 1_000_000_000
)

// validateArgs checks args against the declared parameters and fills in
// defaults. The first violation aborts with an error naming the field.
// Only declared parameters make it into the returned map; anything else
// the caller sent is dropped before the tool sees it.
func validateArgs(params []Parameter, args map[string]any) (map[string]any, error) {
	validated := make(map[string]any, len(params))
	for _, p := range params {
		value, present := args[p.Name]
		if !present || value == nil {
			if p.Required {
				return nil, fmt.Errorf("missing required parameter %q", p.Name)
			}
			if p.Default != nil {
				validated[p.Name] = p.Default
			}
			continue
		}
		if err := validateValue(p, value); err != nil {
			return nil, err
		}
		validated[p.Name] = value
	}
	return validated, nil
}

func validateValue(p Parameter, value any) error {
	switch p.Type {
	case "string":
		s, ok := value.(string)
		if !ok {
			return fmt.Errorf("parameter %q must be a string", p.Name)
		}
		limit := p.MaxLength
		if limit <= 0 {
			limit = DefaultMaxStringLength
		}
		if len(s) > limit {
			return fmt.Errorf("parameter %q exceeds %d characters", p.Name, limit)
		}
		if len(p.Enum) > 0 && !enumContains(p.Enum, s) {
			return fmt.Errorf("parameter %q must be one of %v", p.Name, p.Enum)
		}

	case "integer":
		// JSON numbers arrive as float64; bool satisfies neither.
		if _, isBool := value.(bool); isBool {
			return fmt.Errorf("parameter %q must be an integer, got boolean", p.Name)
		}
		f, ok := toFloat(value)
		if !ok || f != math.Trunc(f) {
			return fmt.Errorf("parameter %q must be an integer", p.Name)
		}
		if math.Abs(f) > MaxAbsInteger {
			return fmt.Errorf("parameter %q exceeds the integer cap of %d", p.Name, MaxAbsInteger)
		}
		if err := checkRange(p, f); err != nil {
			return err
		}

	case "number":
		if _, isBool := value.(bool); isBool {
			return fmt.Errorf("parameter %q must be a number, got boolean", p.Name)
		}
		f, ok := toFloat(value)
		if !ok {
			return fmt.Errorf("parameter %q must be a number", p.Name)
		}
		if err := checkRange(p, f); err != nil {
			return err
		}

	case "boolean":
		if _, ok := value.(bool); !ok {
			return fmt.Errorf("parameter %q must be a boolean", p.Name)
		}

	case "array":
		arr, ok := value.([]any)
		if !ok {
			return fmt.Errorf("parameter %q must be an array", p.Name)
		}
		limit := p.MaxItems
		if limit <= 0 {
			limit = DefaultMaxArrayItems
		}
		if len(arr) > limit {
			return fmt.Errorf("parameter %q exceeds %d items", p.Name, limit)
		}

	case "object":
		if _, ok := value.(map[string]any); !ok {
			return fmt.Errorf("parameter %q must be an object", p.Name)
		}
	}
	return nil
}

func checkRange(p Parameter, f float64) error {
	if p.Minimum != nil && f < *p.Minimum {
		return fmt.Errorf("parameter %q below minimum %v", p.Name, *p.Minimum)
	}
	if p.Maximum != nil && f > *p.Maximum {
		return fmt.Errorf("parameter %q above maximum %v", p.Name, *p.Maximum)
	}
	return nil
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	}
	return 0, false
}

func enumContains(enum []string, s string) bool {
	for _, e := range enum {
		if e == s {
			return true
		}
	}
	return false
}
