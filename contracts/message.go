package contracts

// Message is the unit exchanged over a channel.
type Message struct {
	Name       string `json:"name"`
	ID         string `json:"_msgId,omitempty"`
	Payload    any    `json:"payload,omitempty"`
	ResponseID string `json:"_responseMsgId,omitempty"`
	Error      any    `json:"_error,omitempty"`
}

// NewRequest builds a request message.
func NewRequest(name, id string, payload any) *Message {
	return &Message{
		Name:    name,
		ID:      id,
		Payload: payload,
	}
}

// NewResponse builds a successful response to request.
func NewResponse(request *Message, payload any) *Message {
	return &Message{
		Name:       request.Name,
		ID:         request.ID,
		Payload:    payload,
		ResponseID: request.ID,
	}
}

// NewErrorResponse builds a failed response to request carrying errValue.
func NewErrorResponse(request *Message, errValue any) *Message {
	return &Message{
		Name:       request.Name,
		ID:         request.ID,
		ResponseID: request.ID,
		Error:      errValue,
	}
}

// IsResponse reports whether the message answers an earlier call.
func (m *Message) IsResponse() bool {
	return m.ResponseID != ""
}

// IsRequest reports whether the message is a call that expects an answer.
func (m *Message) IsRequest() bool {
	return m.ResponseID == "" && m.ID != ""
}

// HasError reports whether a response carries a failure. Empty strings and
// false count as absent.
func (m *Message) HasError() bool {
	switch v := m.Error.(type) {
	case nil:
		return false
	case string:
		return v != ""
	case bool:
		return v
	default:
		return true
	}
}

// Clone returns a shallow copy of the message.
func (m *Message) Clone() *Message {
	c := *m
	return &c
}
