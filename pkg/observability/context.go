package observability

import (
	"context"
)

type contextKey string

const (
	requestIDKey    contextKey = "request_id"
	connectionIDKey contextKey = "connection_id"
	userIDKey       contextKey = "user_id"
	documentIDKey   contextKey = "document_id"
	eventKey        contextKey = "event"
)

// WithRequestID adds request ID to context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// GetRequestID gets the request ID from context
func GetRequestID(ctx context.Context) string {
	return stringValue(ctx, requestIDKey)
}

// WithConnectionID adds the websocket connection ID to context
func WithConnectionID(ctx context.Context, connectionID string) context.Context {
	return context.WithValue(ctx, connectionIDKey, connectionID)
}

// GetConnectionID gets the websocket connection ID from context
func GetConnectionID(ctx context.Context) string {
	return stringValue(ctx, connectionIDKey)
}

// WithUserID adds user ID to context
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// GetUserID gets the user ID from context
func GetUserID(ctx context.Context) string {
	return stringValue(ctx, userIDKey)
}

// WithDocumentID adds document ID to context
func WithDocumentID(ctx context.Context, documentID string) context.Context {
	return context.WithValue(ctx, documentIDKey, documentID)
}

// GetDocumentID gets the document ID from context
func GetDocumentID(ctx context.Context) string {
	return stringValue(ctx, documentIDKey)
}

// WithEvent adds the protocol event name to context
func WithEvent(ctx context.Context, event string) context.Context {
	return context.WithValue(ctx, eventKey, event)
}

// GetEvent gets the protocol event name from context
func GetEvent(ctx context.Context) string {
	return stringValue(ctx, eventKey)
}

// ExtractMetadata returns every identifier stored in ctx, suitable for log fields
func ExtractMetadata(ctx context.Context) map[string]interface{} {
	metadata := make(map[string]interface{})
	for _, key := range []contextKey{requestIDKey, connectionIDKey, userIDKey, documentIDKey, eventKey} {
		if v := stringValue(ctx, key); v != "" {
			metadata[string(key)] = v
		}
	}
	return metadata
}

func stringValue(ctx context.Context, key contextKey) string {
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}
