package tools

import (
	"fmt"

	"github.com/DidelotK/mcp-hubspot/internal/apierr"
)

// validate checks args against a minimal JSON-Schema-lite: object/required,
// and per-property type (string, number, integer, boolean, object, array).
// No pack repo retrieved for this spec carries an in-use JSON-Schema
// validator (only a bare go.mod listing with no call-site to ground an API
// on — see DESIGN.md), so this stays a small hand-rolled check rather than
// guessing at a library's surface.
func validate(schema map[string]any, args map[string]any) error {
	if args == nil {
		args = map[string]any{}
	}

	if required, ok := schema["required"].([]string); ok {
		for _, name := range required {
			if _, present := args[name]; !present {
				return apierr.New(apierr.KindClient, fmt.Sprintf("missing required argument %q", name))
			}
		}
	}
	// required may also decode as []any when schemas are built from JSON.
	if required, ok := schema["required"].([]any); ok {
		for _, r := range required {
			name, _ := r.(string)
			if name == "" {
				continue
			}
			if _, present := args[name]; !present {
				return apierr.New(apierr.KindClient, fmt.Sprintf("missing required argument %q", name))
			}
		}
	}

	props, _ := schema["properties"].(map[string]any)
	for name, value := range args {
		propSchema, ok := props[name].(map[string]any)
		if !ok {
			continue
		}
		wantType, _ := propSchema["type"].(string)
		if wantType == "" {
			continue
		}
		if err := checkType(name, wantType, value); err != nil {
			return err
		}
	}

	return nil
}

func checkType(name, wantType string, value any) error {
	switch wantType {
	case "string":
		if _, ok := value.(string); !ok {
			return apierr.New(apierr.KindClient, fmt.Sprintf("%q must be a string", name))
		}
	case "number", "integer":
		switch value.(type) {
		case float64, int:
		default:
			return apierr.New(apierr.KindClient, fmt.Sprintf("%q must be a number", name))
		}
	case "boolean":
		if _, ok := value.(bool); !ok {
			return apierr.New(apierr.KindClient, fmt.Sprintf("%q must be a boolean", name))
		}
	case "object":
		if _, ok := value.(map[string]any); !ok {
			return apierr.New(apierr.KindClient, fmt.Sprintf("%q must be an object", name))
		}
	case "array":
		if _, ok := value.([]any); !ok {
			return apierr.New(apierr.KindClient, fmt.Sprintf("%q must be an array", name))
		}
	}
	return nil
}
