// Package metrics provides metrics recording for LLM client operations.
package metrics

import (
	"context"
	"time"
)

// Request describes one completed LLM call for recording.
type Request struct {
	Model            string
	ProjectID        string
	Role             string
	ErrorType        string
	PromptTokens     int
	CompletionTokens int
	Cost             float64
	Duration         time.Duration
	Success          bool
}

// Recorder defines the interface for recording LLM operation metrics.
type Recorder interface {
	// ObserveRequest records metrics for a completed LLM request.
	ObserveRequest(r Request)
}

// NoopRecorder implements Recorder with no-op behavior for when metrics are disabled.
type NoopRecorder struct{}

// Nop returns a no-op metrics recorder that discards all metrics.
func Nop() Recorder {
	return &NoopRecorder{}
}

// ObserveRequest does nothing in the no-op recorder.
func (n *NoopRecorder) ObserveRequest(_ Request) {}

type projectKey struct{}

// WithProject tags LLM calls made under ctx with a project id.
func WithProject(ctx context.Context, projectID string) context.Context {
	return context.WithValue(ctx, projectKey{}, projectID)
}

// ProjectFrom returns the project id carried by ctx, or "" for calls outside a project
// (feedback conversations).
func ProjectFrom(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(projectKey{}).(string)
	return id
}
