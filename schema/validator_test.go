package schema

import (
	"context"
	"errors"
	"testing"

	"github.com/glimte/msgbridge/contracts"
	"github.com/glimte/msgbridge/messaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func greetSchema() *Schema {
	return &Schema{
		Type:     "object",
		Required: []string{"name"},
		Properties: map[string]*PropertyDef{
			"name":  {Type: "string", MinLength: Int(1), MaxLength: Int(8)},
			"age":   {Type: "integer", Minimum: Float(0), Maximum: Float(150)},
			"email": {Type: "string", Format: "email"},
			"tone":  {Type: "string", Enum: []any{"warm", "formal"}},
			"tags":  {Type: "array", Items: &PropertyDef{Type: "string", Pattern: "^[a-z]+$"}},
			"address": {
				Type:     "object",
				Required: []string{"city"},
				Properties: map[string]*PropertyDef{
					"city": {Type: "string"},
				},
			},
		},
	}
}

func codes(result *ValidationResult) []string {
	out := make([]string, len(result.Errors))
	for i, ve := range result.Errors {
		out[i] = ve.Code
	}
	return out
}

func TestRegister(t *testing.T) {
	t.Run("rejects empty name and nil schema", func(t *testing.T) {
		v := NewValidator()
		assert.Error(t, v.Register("", &Schema{}))
		assert.Error(t, v.Register("greet", nil))
	})

	t.Run("rejects bad patterns", func(t *testing.T) {
		v := NewValidator()
		err := v.Register("greet", &Schema{
			Properties: map[string]*PropertyDef{"name": {Pattern: "("}},
		})
		assert.ErrorContains(t, err, "invalid pattern")
		_, ok := v.Schema("greet")
		assert.False(t, ok)
	})

	t.Run("unregister removes the schema", func(t *testing.T) {
		v := NewValidator()
		require.NoError(t, v.Register("greet", greetSchema()))
		v.Unregister("greet")
		_, ok := v.Schema("greet")
		assert.False(t, ok)
	})
}

func TestValidate(t *testing.T) {
	ctx := context.Background()
	v := NewValidator()
	require.NoError(t, v.Register("greet", greetSchema()))

	t.Run("names without a schema pass", func(t *testing.T) {
		assert.True(t, v.Validate(ctx, "other", 42).Valid)
	})

	t.Run("valid payload", func(t *testing.T) {
		result := v.Validate(ctx, "greet", map[string]any{
			"name":    "Vivian",
			"age":     float64(30),
			"email":   "vivian@example.com",
			"tone":    "warm",
			"tags":    []any{"friend"},
			"address": map[string]any{"city": "Oslo"},
		})
		assert.True(t, result.Valid, result.Errors)
	})

	t.Run("missing payload", func(t *testing.T) {
		result := v.Validate(ctx, "greet", nil)
		assert.Equal(t, []string{"REQUIRED_PAYLOAD_MISSING"}, codes(result))
	})

	t.Run("nullable schema accepts a missing payload", func(t *testing.T) {
		nv := NewValidator()
		require.NoError(t, nv.Register("ping", &Schema{Type: "object", Nullable: true}))
		assert.True(t, nv.Validate(ctx, "ping", nil).Valid)
	})

	t.Run("root type mismatch", func(t *testing.T) {
		result := v.Validate(ctx, "greet", "Vivian")
		assert.Equal(t, []string{"TYPE_MISMATCH"}, codes(result))
	})

	testCases := []struct {
		name    string
		payload map[string]any
		code    string
		field   string
	}{
		{"missing required field", map[string]any{}, "REQUIRED_FIELD_MISSING", "name"},
		{"too short", map[string]any{"name": ""}, "MIN_LENGTH_VIOLATION", "name"},
		{"too long", map[string]any{"name": "Maximilian"}, "MAX_LENGTH_VIOLATION", "name"},
		{"not an integer", map[string]any{"name": "V", "age": 1.5}, "TYPE_MISMATCH", "age"},
		{"below minimum", map[string]any{"name": "V", "age": float64(-1)}, "MINIMUM_VIOLATION", "age"},
		{"above maximum", map[string]any{"name": "V", "age": float64(200)}, "MAXIMUM_VIOLATION", "age"},
		{"bad email", map[string]any{"name": "V", "email": "nope"}, "FORMAT_VIOLATION", "email"},
		{"not in enum", map[string]any{"name": "V", "tone": "rude"}, "ENUM_VIOLATION", "tone"},
		{"array item pattern", map[string]any{"name": "V", "tags": []any{"ok", "Bad"}}, "PATTERN_VIOLATION", "tags[1]"},
		{"nested required", map[string]any{"name": "V", "address": map[string]any{}}, "REQUIRED_FIELD_MISSING", "address.city"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			result := v.Validate(ctx, "greet", tc.payload)
			require.False(t, result.Valid)
			require.Len(t, result.Errors, 1)
			assert.Equal(t, tc.code, result.Errors[0].Code)
			assert.Equal(t, tc.field, result.Errors[0].Field)
		})
	}

	t.Run("typed payloads validate like wire values", func(t *testing.T) {
		type greeting struct {
			Name string `json:"name"`
		}
		assert.True(t, v.Validate(ctx, "greet", greeting{Name: "Vivian"}).Valid)
		assert.False(t, v.Validate(ctx, "greet", greeting{}).Valid)
	})

	t.Run("custom rules run on the payload", func(t *testing.T) {
		rv := NewValidator()
		require.NoError(t, rv.Register("send", &Schema{
			Type: "string",
			Rules: []Rule{func(ctx context.Context, payload any) *ValidationError {
				if payload == "forbidden" {
					return &ValidationError{Message: "forbidden word", Code: "FORBIDDEN"}
				}
				return nil
			}},
		}))
		assert.True(t, rv.Validate(ctx, "send", "hello").Valid)
		assert.Equal(t, []string{"FORBIDDEN"}, codes(rv.Validate(ctx, "send", "forbidden")))
	})
}

func TestCheckFormat(t *testing.T) {
	testCases := []struct {
		format string
		good   string
		bad    string
	}{
		{"email", "a@example.com", "a@"},
		{"uri", "https://example.com/x", "example"},
		{"uuid", "3f2504e0-4f89-11d3-9a0c-0305e82c3301", "3f2504e0"},
		{"date", "2024-02-29", "2024-13-01"},
		{"date-time", "2024-02-29T10:00:00Z", "2024-02-29 10:00"},
	}

	for _, tc := range testCases {
		t.Run(tc.format, func(t *testing.T) {
			assert.Empty(t, checkFormat(tc.format, tc.good))
			assert.NotEmpty(t, checkFormat(tc.format, tc.bad))
		})
	}

	assert.Empty(t, checkFormat("unknown", "anything"))
}

func TestMiddleware(t *testing.T) {
	v := NewValidator()
	require.NoError(t, v.Register("greet", greetSchema()))

	dispatcher := messaging.NewDispatcher(
		messaging.WithDispatcherLogger(discardLogger()),
		messaging.WithMiddleware(v.Middleware()),
	)
	var called int
	_, err := dispatcher.On("greet", messaging.HandlerFunc(func(ctx context.Context, payload any) (any, error) {
		called++
		return "Hello", nil
	}))
	require.NoError(t, err)

	invoke := func(payload any) (any, error) {
		ctx := messaging.WithRequestInfo(context.Background(), messaging.RequestInfo{Name: "greet", ID: "1"})
		return dispatcher.Invoke(ctx, "greet", payload).Wait(context.Background())
	}

	t.Run("valid payload reaches the handler", func(t *testing.T) {
		value, err := invoke(map[string]any{"name": "Vivian"})
		require.NoError(t, err)
		assert.Equal(t, "Hello", value)
		assert.Equal(t, 1, called)
	})

	t.Run("invalid payload is rejected with its violations", func(t *testing.T) {
		_, err := invoke(map[string]any{})
		require.Error(t, err)
		assert.Equal(t, 1, called)

		var failed *FailedError
		require.True(t, errors.As(err, &failed))
		assert.Equal(t, "greet", failed.Name)
		require.Len(t, failed.Errors, 1)
		assert.Equal(t, "name", failed.Errors[0].Field)

		wire, ok := contracts.WireError(err).(map[string]any)
		require.True(t, ok)
		assert.Equal(t, FailedCode, wire["code"])
		assert.Contains(t, err.Error(), "required field is missing")
	})
}
