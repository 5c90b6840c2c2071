// Package upvote flips the caller's upvote on a tool and reports the resulting
// state the view should display.
package upvote

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Silence-tech/launchleap-discover-dwell/internal/backend"
	"go.uber.org/zap"
)

var (
	// ErrAuthRequired reports a toggle without a signed-in user.
	ErrAuthRequired = errors.New("upvote: sign in required")
	// ErrInvalidTool reports a toggle without a tool id.
	ErrInvalidTool = errors.New("upvote: tool id is required")
)

// Request is the displayed upvote state of one tool for one user.
type Request struct {
	ToolID           uint64
	UserID           string
	CurrentlyUpvoted bool
	Count            int64
}

// Result is the state to display after a successful toggle.
type Result struct {
	Upvoted bool
	Count   int64
}

// Toggler flips upvotes through the backend.
type Toggler struct {
	upvotes backend.Upvotes
	logger  *zap.Logger
}

// NewToggler returns a Toggler. A nil logger discards output.
func NewToggler(upvotes backend.Upvotes, logger *zap.Logger) *Toggler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Toggler{upvotes: upvotes, logger: logger}
}

// Toggle removes the upvote when the request shows one and adds it otherwise.
// The count comes from the backend, never below zero. On error the caller keeps
// displaying the request's state.
func (t *Toggler) Toggle(ctx context.Context, request Request) (Result, error) {
	if strings.TrimSpace(request.UserID) == "" {
		return Result{Upvoted: request.CurrentlyUpvoted, Count: floor(request.Count)}, ErrAuthRequired
	}
	if request.ToolID == 0 {
		return Result{Upvoted: request.CurrentlyUpvoted, Count: floor(request.Count)}, ErrInvalidTool
	}

	change := t.upvotes.Insert
	operation := "upvote.insert"
	if request.CurrentlyUpvoted {
		change = t.upvotes.Delete
		operation = "upvote.delete"
	}

	state, err := change(ctx, request.ToolID)
	if err != nil {
		t.logger.Error("upvote toggle failed",
			zap.String("operation", operation),
			zap.Uint64("tool_id", request.ToolID),
			zap.Error(err),
		)
		return Result{Upvoted: request.CurrentlyUpvoted, Count: floor(request.Count)}, fmt.Errorf("%s: %w", operation, err)
	}
	if state.ToolID != 0 && state.ToolID != request.ToolID {
		return Result{Upvoted: request.CurrentlyUpvoted, Count: floor(request.Count)}, fmt.Errorf("%w: upvote state for tool %d answered toggle of %d", backend.ErrMalformedRow, state.ToolID, request.ToolID)
	}
	return Result{Upvoted: state.Upvoted, Count: floor(state.Count)}, nil
}

func floor(count int64) int64 {
	if count < 0 {
		return 0
	}
	return count
}
