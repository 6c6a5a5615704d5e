package tool

import (
	"encoding/json"
	"fmt"
)

// ValidateInput checks if the JSON input matches the tool's parameter schema.
// This is a lightweight implementation of JSON Schema validation covering
// required fields, primitive types, arrays, nested objects and enums.
func ValidateInput(schema map[string]interface{}, input json.RawMessage) error {
	if len(input) == 0 {
		input = json.RawMessage(`{}`)
	}
	var inputMap map[string]interface{}
	if err := json.Unmarshal(input, &inputMap); err != nil {
		return fmt.Errorf("invalid JSON input: %w", err)
	}
	if inputMap == nil {
		return fmt.Errorf("invalid JSON input: expected an object")
	}

	return validateObject(schema, inputMap)
}

func requiredFields(schema map[string]interface{}) []string {
	switch required := schema["required"].(type) {
	case []string:
		return required
	case []interface{}:
		out := make([]string, 0, len(required))
		for _, field := range required {
			if name, ok := field.(string); ok {
				out = append(out, name)
			}
		}
		return out
	}
	return nil
}

func validateObject(schema map[string]interface{}, input map[string]interface{}) error {
	for _, fieldName := range requiredFields(schema) {
		if _, exists := input[fieldName]; !exists {
			return fmt.Errorf("missing required field: %s", fieldName)
		}
	}

	properties, ok := schema["properties"].(map[string]interface{})
	if !ok {
		return nil
	}

	// Unknown fields are tolerated; models often add harmless extras.
	for key, value := range input {
		propSchema, defined := properties[key]
		if !defined {
			continue
		}

		propSchemaMap, ok := propSchema.(map[string]interface{})
		if !ok {
			continue
		}

		if err := validateType(key, propSchemaMap, value); err != nil {
			return err
		}
	}

	return nil
}

func validateType(fieldName string, schema map[string]interface{}, value interface{}) error {
	if err := validateEnum(fieldName, schema, value); err != nil {
		return err
	}

	expectedType, ok := schema["type"].(string)
	if !ok {
		return nil
	}

	switch expectedType {
	case "string":
		if _, ok := value.(string); !ok {
			return fmt.Errorf("field '%s' expected string, got %T", fieldName, value)
		}
	case "number":
		if _, ok := value.(float64); !ok {
			return fmt.Errorf("field '%s' expected number, got %T", fieldName, value)
		}
	case "integer":
		f, ok := value.(float64)
		if !ok || f != float64(int64(f)) {
			return fmt.Errorf("field '%s' expected integer, got %v", fieldName, value)
		}
	case "boolean":
		if _, ok := value.(bool); !ok {
			return fmt.Errorf("field '%s' expected boolean, got %T", fieldName, value)
		}
	case "array":
		arr, ok := value.([]interface{})
		if !ok {
			return fmt.Errorf("field '%s' expected array, got %T", fieldName, value)
		}
		if itemsSchema, ok := schema["items"].(map[string]interface{}); ok {
			for i, item := range arr {
				if err := validateType(fmt.Sprintf("%s[%d]", fieldName, i), itemsSchema, item); err != nil {
					return err
				}
			}
		}
	case "object":
		obj, ok := value.(map[string]interface{})
		if !ok {
			return fmt.Errorf("field '%s' expected object, got %T", fieldName, value)
		}
		return validateObject(schema, obj)
	}

	return nil
}

func validateEnum(fieldName string, schema map[string]interface{}, value interface{}) error {
	var options []interface{}
	switch enum := schema["enum"].(type) {
	case []interface{}:
		options = enum
	case []string:
		for _, e := range enum {
			options = append(options, e)
		}
	default:
		return nil
	}
	for _, opt := range options {
		if opt == value {
			return nil
		}
	}
	return fmt.Errorf("field '%s' must be one of %v, got %v", fieldName, options, value)
}
