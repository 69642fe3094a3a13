package common

import (
	"context"

	"github.com/google/uuid"
)

// NewJobID generates a unique job ID with the "job_" prefix
func NewJobID() string {
	return "job_" + uuid.New().String()
}

// NewNotificationID generates a unique notification ID with the "ntf_" prefix
func NewNotificationID() string {
	return "ntf_" + uuid.New().String()
}

// NewCorrelationID generates the id that ties an enqueued job to everything it touches
func NewCorrelationID() string {
	return uuid.New().String()
}

type correlationKey struct{}

// WithCorrelationID returns ctx carrying the correlation id of the request it serves
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

// CorrelationIDFrom returns the correlation id carried by ctx, or a fresh one
func CorrelationIDFrom(ctx context.Context) string {
	if id, ok := ctx.Value(correlationKey{}).(string); ok && id != "" {
		return id
	}
	return NewCorrelationID()
}

// NewSessionID generates a device session ID
func NewSessionID() string {
	return "ssh_" + uuid.New().String()
}

// NewOnuID generates an ONU record ID
func NewOnuID() string {
	return "onu_" + uuid.New().String()
}
