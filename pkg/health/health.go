package health

import (
	"context"
	"time"
)

// Result is the outcome of a single Checker.Check call.
type Result struct {
	Healthy   bool
	Message   string
	CheckedAt time.Time
	Duration  time.Duration
}

// Checker performs a single point-in-time reachability check.
type Checker interface {
	Check(ctx context.Context) Result
}
