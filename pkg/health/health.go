package health

import (
	"context"
	"time"
)

// CheckType represents the type of liveness check
type CheckType string

const (
	CheckTypePID       CheckType = "pid"
	CheckTypeHeartbeat CheckType = "heartbeat"
	CheckTypeHTTP      CheckType = "http"
)

// Result represents the outcome of a liveness check
type Result struct {
	Healthy   bool
	Message   string
	CheckedAt time.Time
	Duration  time.Duration
}

// Checker is the interface that all liveness checkers must implement
type Checker interface {
	// Check performs the check and returns the result
	Check(ctx context.Context) Result

	// Type returns the type of check
	Type() CheckType
}

func result(start time.Time, healthy bool, message string) Result {
	return Result{
		Healthy:   healthy,
		Message:   message,
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}
