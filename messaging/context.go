package messaging

import "context"

// RequestInfo describes the inbound request a handler is serving.
type RequestInfo struct {
	Name string
	ID   string
}

type requestInfoKey struct{}

// WithRequestInfo returns a context carrying info.
func WithRequestInfo(ctx context.Context, info RequestInfo) context.Context {
	return context.WithValue(ctx, requestInfoKey{}, info)
}

// RequestInfoFrom returns the request a handler was invoked for. Wildcard
// handlers use it to learn the name they were called with.
func RequestInfoFrom(ctx context.Context) (RequestInfo, bool) {
	info, ok := ctx.Value(requestInfoKey{}).(RequestInfo)
	return info, ok
}
