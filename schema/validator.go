package schema

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/mail"
	"net/url"
	"reflect"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/glimte/msgbridge/messaging"
	"github.com/google/uuid"
)

// FailedCode is the code of the error value sent for an invalid payload
const FailedCode = "VALIDATION_FAILED"

// ValidationError is a single violation
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Value   any    `json:"value,omitempty"`
}

func (ve ValidationError) Error() string {
	if ve.Field == "" {
		return ve.Message
	}
	return fmt.Sprintf("%s: %s", ve.Field, ve.Message)
}

// ValidationResult collects the violations found in one payload
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

func (r *ValidationResult) add(ve ValidationError) {
	r.Valid = false
	r.Errors = append(r.Errors, ve)
}

// Rule is a custom check run against the whole payload
type Rule func(ctx context.Context, payload any) *ValidationError

// Schema describes the payload accepted under one request name
type Schema struct {
	Type       string                  `json:"type,omitempty"`
	Properties map[string]*PropertyDef `json:"properties,omitempty"`
	Required   []string                `json:"required,omitempty"`
	// Nullable accepts a missing payload
	Nullable bool   `json:"nullable,omitempty"`
	Rules    []Rule `json:"-"`
}

// PropertyDef constrains one value
type PropertyDef struct {
	Type       string                  `json:"type,omitempty"`
	Format     string                  `json:"format,omitempty"`
	Pattern    string                  `json:"pattern,omitempty"`
	MinLength  *int                    `json:"minLength,omitempty"`
	MaxLength  *int                    `json:"maxLength,omitempty"`
	Minimum    *float64                `json:"minimum,omitempty"`
	Maximum    *float64                `json:"maximum,omitempty"`
	Enum       []any                   `json:"enum,omitempty"`
	Items      *PropertyDef            `json:"items,omitempty"`
	Properties map[string]*PropertyDef `json:"properties,omitempty"`
	Required   []string                `json:"required,omitempty"`
}

// Int returns a pointer to n, for MinLength and MaxLength
func Int(n int) *int { return &n }

// Float returns a pointer to f, for Minimum and Maximum
func Float(f float64) *float64 { return &f }

// FailedError is returned by the middleware for an invalid payload. Its wire
// value carries the violations to the caller.
type FailedError struct {
	Name   string
	Errors []ValidationError
}

func (e *FailedError) Error() string {
	msgs := make([]string, len(e.Errors))
	for i, ve := range e.Errors {
		msgs[i] = ve.Error()
	}
	return fmt.Sprintf("invalid payload for %q: %s", e.Name, strings.Join(msgs, "; "))
}

// WireValue returns the error value sent in the response
func (e *FailedError) WireValue() any {
	return map[string]any{
		"code":   FailedCode,
		"name":   e.Name,
		"errors": e.Errors,
	}
}

// Validator holds the schemas registered per request name
type Validator struct {
	mu       sync.RWMutex
	schemas  map[string]*Schema
	patterns map[string]*regexp.Regexp
}

// NewValidator creates an empty validator
func NewValidator() *Validator {
	return &Validator{
		schemas:  make(map[string]*Schema),
		patterns: make(map[string]*regexp.Regexp),
	}
}

// Register sets the schema for requests named name. Patterns are compiled
// up front so a bad one fails here rather than on the first request.
func (v *Validator) Register(name string, schema *Schema) error {
	if name == "" {
		return errors.New("name cannot be empty")
	}
	if schema == nil {
		return errors.New("schema cannot be nil")
	}

	compiled := make(map[string]*regexp.Regexp)
	var collect func(props map[string]*PropertyDef) error
	collect = func(props map[string]*PropertyDef) error {
		for field, prop := range props {
			for p := prop; p != nil; p = p.Items {
				if p.Pattern != "" {
					re, err := regexp.Compile(p.Pattern)
					if err != nil {
						return fmt.Errorf("invalid pattern for %s: %w", field, err)
					}
					compiled[p.Pattern] = re
				}
				if err := collect(p.Properties); err != nil {
					return err
				}
			}
		}
		return nil
	}
	if err := collect(schema.Properties); err != nil {
		return err
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	v.schemas[name] = schema
	for pattern, re := range compiled {
		v.patterns[pattern] = re
	}
	return nil
}

// Unregister removes the schema for name
func (v *Validator) Unregister(name string) {
	v.mu.Lock()
	delete(v.schemas, name)
	v.mu.Unlock()
}

// Schema returns the schema registered for name
func (v *Validator) Schema(name string) (*Schema, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	s, ok := v.schemas[name]
	return s, ok
}

// Validate checks payload against the schema for name. Names without a
// schema are valid.
func (v *Validator) Validate(ctx context.Context, name string, payload any) *ValidationResult {
	result := &ValidationResult{Valid: true}

	schema, ok := v.Schema(name)
	if !ok {
		return result
	}

	data, err := normalize(payload)
	if err != nil {
		result.add(ValidationError{
			Message: fmt.Sprintf("payload is not JSON encodable: %v", err),
			Code:    "CONVERSION_ERROR",
		})
		return result
	}

	if data == nil {
		if !schema.Nullable {
			result.add(ValidationError{Message: "payload is required", Code: "REQUIRED_PAYLOAD_MISSING"})
		}
		return result
	}

	root := &PropertyDef{
		Type:       schema.Type,
		Properties: schema.Properties,
		Required:   schema.Required,
	}
	v.validateProperty("", data, root, result)

	for _, rule := range schema.Rules {
		if ve := rule(ctx, data); ve != nil {
			result.add(*ve)
		}
	}
	return result
}

// Middleware rejects requests whose payload fails validation with a
// *FailedError.
func (v *Validator) Middleware() messaging.MiddlewareFunc {
	return func(ctx context.Context, payload any, next messaging.Handler) (any, error) {
		info, _ := messaging.RequestInfoFrom(ctx)
		if result := v.Validate(ctx, info.Name, payload); !result.Valid {
			return nil, &FailedError{Name: info.Name, Errors: result.Errors}
		}
		return next.Handle(ctx, payload)
	}
}

// normalize converts payload to the shapes encoding/json decodes into, so
// typed values from an in-process channel validate like wire values.
func normalize(payload any) (any, error) {
	switch payload.(type) {
	case nil, string, bool, float64, map[string]any, []any:
		return payload, nil
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (v *Validator) validateObject(path string, data map[string]any, prop *PropertyDef, result *ValidationResult) {
	for _, required := range prop.Required {
		if _, exists := data[required]; !exists {
			result.add(ValidationError{
				Field:   fieldPath(path, required),
				Message: "required field is missing",
				Code:    "REQUIRED_FIELD_MISSING",
			})
		}
	}

	for field, value := range data {
		if def, exists := prop.Properties[field]; exists {
			v.validateProperty(fieldPath(path, field), value, def, result)
		}
	}
}

func (v *Validator) validateProperty(path string, value any, prop *PropertyDef, result *ValidationResult) {
	if value == nil {
		return
	}

	if prop.Type != "" && !matchesType(value, prop.Type) {
		result.add(ValidationError{
			Field:   path,
			Message: fmt.Sprintf("expected type %s, got %s", prop.Type, typeName(value)),
			Code:    "TYPE_MISMATCH",
			Value:   value,
		})
		return
	}

	switch val := value.(type) {
	case string:
		v.validateString(path, val, prop, result)
	case float64:
		validateNumber(path, val, prop, result)
	case []any:
		if prop.Items != nil {
			for i, item := range val {
				v.validateProperty(fmt.Sprintf("%s[%d]", path, i), item, prop.Items, result)
			}
		}
	case map[string]any:
		v.validateObject(path, val, prop, result)
	}

	if len(prop.Enum) > 0 {
		validateEnum(path, value, prop.Enum, result)
	}
}

func (v *Validator) validateString(path, value string, prop *PropertyDef, result *ValidationResult) {
	length := len([]rune(value))
	if prop.MinLength != nil && length < *prop.MinLength {
		result.add(ValidationError{
			Field:   path,
			Message: fmt.Sprintf("length %d is less than minimum %d", length, *prop.MinLength),
			Code:    "MIN_LENGTH_VIOLATION",
			Value:   value,
		})
	}
	if prop.MaxLength != nil && length > *prop.MaxLength {
		result.add(ValidationError{
			Field:   path,
			Message: fmt.Sprintf("length %d exceeds maximum %d", length, *prop.MaxLength),
			Code:    "MAX_LENGTH_VIOLATION",
			Value:   value,
		})
	}

	if prop.Format != "" {
		if msg := checkFormat(prop.Format, value); msg != "" {
			result.add(ValidationError{Field: path, Message: msg, Code: "FORMAT_VIOLATION", Value: value})
		}
	}

	if prop.Pattern != "" {
		v.mu.RLock()
		re := v.patterns[prop.Pattern]
		v.mu.RUnlock()
		if re != nil && !re.MatchString(value) {
			result.add(ValidationError{
				Field:   path,
				Message: fmt.Sprintf("value does not match pattern %s", prop.Pattern),
				Code:    "PATTERN_VIOLATION",
				Value:   value,
			})
		}
	}
}

func validateNumber(path string, value float64, prop *PropertyDef, result *ValidationResult) {
	if prop.Minimum != nil && value < *prop.Minimum {
		result.add(ValidationError{
			Field:   path,
			Message: fmt.Sprintf("value %v is less than minimum %v", value, *prop.Minimum),
			Code:    "MINIMUM_VIOLATION",
			Value:   value,
		})
	}
	if prop.Maximum != nil && value > *prop.Maximum {
		result.add(ValidationError{
			Field:   path,
			Message: fmt.Sprintf("value %v exceeds maximum %v", value, *prop.Maximum),
			Code:    "MAXIMUM_VIOLATION",
			Value:   value,
		})
	}
}

func validateEnum(path string, value any, enum []any, result *ValidationResult) {
	for _, allowed := range enum {
		if reflect.DeepEqual(value, allowed) {
			return
		}
	}
	result.add(ValidationError{
		Field:   path,
		Message: fmt.Sprintf("value is not one of %v", enum),
		Code:    "ENUM_VIOLATION",
		Value:   value,
	})
}

// checkFormat returns a message when value is not in format. Unknown
// formats pass.
func checkFormat(format, value string) string {
	switch format {
	case "email":
		if addr, err := mail.ParseAddress(value); err != nil || addr.Address != value {
			return "invalid email address"
		}
	case "uri":
		if u, err := url.Parse(value); err != nil || u.Scheme == "" {
			return "invalid URI"
		}
	case "uuid":
		if _, err := uuid.Parse(value); err != nil {
			return "invalid UUID"
		}
	case "date":
		if _, err := time.Parse(time.DateOnly, value); err != nil {
			return "invalid date, expected YYYY-MM-DD"
		}
	case "date-time":
		if _, err := time.Parse(time.RFC3339, value); err != nil {
			return "invalid date-time, expected RFC 3339"
		}
	}
	return ""
}

func matchesType(value any, expected string) bool {
	switch expected {
	case "string":
		_, ok := value.(string)
		return ok
	case "number":
		_, ok := value.(float64)
		return ok
	case "integer":
		f, ok := value.(float64)
		return ok && f == float64(int64(f))
	case "boolean":
		_, ok := value.(bool)
		return ok
	case "array":
		_, ok := value.([]any)
		return ok
	case "object":
		_, ok := value.(map[string]any)
		return ok
	default:
		return true
	}
}

func typeName(value any) string {
	switch value.(type) {
	case string:
		return "string"
	case float64:
		return "number"
	case bool:
		return "boolean"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return fmt.Sprintf("%T", value)
	}
}

func fieldPath(parent, field string) string {
	if parent == "" {
		return field
	}
	return parent + "." + field
}
