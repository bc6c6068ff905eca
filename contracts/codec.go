package contracts

import (
	"encoding/json"
	"fmt"
)

// Decode turns a raw value received from a channel into a Message. Channels
// deliver either structured values or their JSON encoding.
func Decode(raw any) (*Message, error) {
	switch v := raw.(type) {
	case nil:
		return nil, fmt.Errorf("%w: nil value", ErrMalformedMessage)
	case *Message:
		if v == nil {
			return nil, fmt.Errorf("%w: nil message", ErrMalformedMessage)
		}
		return v.Clone(), nil
	case Message:
		return &v, nil
	case []byte:
		return decodeJSON(v)
	case json.RawMessage:
		return decodeJSON(v)
	case string:
		return decodeJSON([]byte(v))
	case map[string]any:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
		}
		return decodeJSON(data)
	default:
		return nil, fmt.Errorf("%w: unsupported type %T", ErrMalformedMessage, raw)
	}
}

func decodeJSON(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	return &msg, nil
}

// Encode returns the JSON wire form of msg.
func Encode(msg *Message) ([]byte, error) {
	if msg == nil {
		return nil, fmt.Errorf("message cannot be nil")
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode message %q: %w", msg.Name, err)
	}
	return data, nil
}

// DecodePayload converts a payload into T. Values that already have type T
// are returned as is; anything else goes through a JSON round trip, which is
// what a payload received from a JSON channel needs.
func DecodePayload[T any](payload any) (T, error) {
	var out T

	if v, ok := payload.(T); ok {
		return v, nil
	}
	if payload == nil {
		return out, nil
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return out, fmt.Errorf("failed to marshal payload: %w", err)
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("failed to decode payload into %T: %w", out, err)
	}
	return out, nil
}
