// Package schema implements the closed argument-validation subset used for
// tool inputs: required fields, a type check, and maxLength on strings.
//
// This is an intentional scope limit, not a partial JSON Schema engine. The
// protocol surface only exercises this subset; anything richer (nested
// objects, enums, patterns) should go through a full validator instead of
// growing this one.
package schema

import (
	"fmt"

	"github.com/agentmesh-ai/meshd/internal/errors"
)

// Property describes the constraints for a single named argument.
type Property struct {
	// Type is the expected JSON type ("string", "number", "boolean", "object",
	// "array"). Empty means any type is accepted.
	Type string `json:"type,omitempty" toml:"type" yaml:"type"`

	// MaxLength bounds the length of string arguments. Zero means unbounded.
	MaxLength int `json:"maxLength,omitempty" toml:"max_length" yaml:"max_length"`
}

// InputSchema is the declared contract for a tool's arguments.
type InputSchema struct {
	Required   []string            `json:"required,omitempty" toml:"required" yaml:"required"`
	Properties map[string]Property `json:"properties,omitempty" toml:"properties" yaml:"properties"`
}

// Validate checks args against the schema. Handlers are never invoked with
// arguments that fail their declared contract, so this runs before dispatch.
//
// All failures wrap errors.ErrValidation.
func (s InputSchema) Validate(args map[string]any) error {
	for _, name := range s.Required {
		if _, ok := args[name]; !ok {
			return fmt.Errorf("%w: %s is required", errors.ErrValidation, name)
		}
	}

	for name, value := range args {
		prop, ok := s.Properties[name]
		if !ok {
			continue
		}
		if err := validateProperty(name, prop, value); err != nil {
			return err
		}
	}

	return nil
}

func validateProperty(name string, prop Property, value any) error {
	if prop.Type != "" && !matchesType(prop.Type, value) {
		return fmt.Errorf("%w: %s must be %s", errors.ErrValidation, name, prop.Type)
	}

	if prop.MaxLength > 0 {
		if s, ok := value.(string); ok && len(s) > prop.MaxLength {
			return fmt.Errorf(
				"%w: Input too long: %s exceeds %d characters",
				errors.ErrValidation, name, prop.MaxLength,
			)
		}
	}

	return nil
}

// matchesType checks a decoded JSON value against a declared type name.
// JSON numbers decode as float64, so "number" covers integers too.
func matchesType(typeName string, value any) bool {
	switch typeName {
	case "string":
		_, ok := value.(string)
		return ok
	case "number":
		switch value.(type) {
		case float64, int, int64:
			return true
		}
		return false
	case "boolean":
		_, ok := value.(bool)
		return ok
	case "object":
		_, ok := value.(map[string]any)
		return ok
	case "array":
		_, ok := value.([]any)
		return ok
	default:
		// Unrecognized type names are not enforced.
		return true
	}
}
