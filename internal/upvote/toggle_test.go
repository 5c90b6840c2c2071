package upvote

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/Silence-tech/launchleap-discover-dwell/internal/backend"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// fakeUpvotes keeps one user's upvotes and a shared counter, like the upvotes table would.
type fakeUpvotes struct {
	mu      sync.Mutex
	upvoted map[uint64]bool
	counts  map[uint64]int64
	err     error
	calls   []string
}

func newFakeUpvotes() *fakeUpvotes {
	return &fakeUpvotes{upvoted: make(map[uint64]bool), counts: make(map[uint64]int64)}
}

func (f *fakeUpvotes) Insert(_ context.Context, toolID uint64) (backend.UpvoteState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "insert")
	if f.err != nil {
		return backend.UpvoteState{}, f.err
	}
	if !f.upvoted[toolID] {
		f.upvoted[toolID] = true
		f.counts[toolID]++
	}
	return backend.UpvoteState{ToolID: toolID, Upvoted: true, Count: f.counts[toolID]}, nil
}

func (f *fakeUpvotes) Delete(_ context.Context, toolID uint64) (backend.UpvoteState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "delete")
	if f.err != nil {
		return backend.UpvoteState{}, f.err
	}
	if f.upvoted[toolID] {
		f.upvoted[toolID] = false
		f.counts[toolID]--
	}
	return backend.UpvoteState{ToolID: toolID, Upvoted: false, Count: f.counts[toolID]}, nil
}

func TestToggleRequiresUserWithoutCallingBackend(t *testing.T) {
	upvotes := newFakeUpvotes()
	toggler := NewToggler(upvotes, nil)

	result, err := toggler.Toggle(context.Background(), Request{ToolID: 42, Count: 3})
	if !errors.Is(err, ErrAuthRequired) {
		t.Fatalf("expected auth required, got %v", err)
	}
	if result.Upvoted || result.Count != 3 {
		t.Fatalf("expected state to be unchanged, got %#v", result)
	}
	if len(upvotes.calls) != 0 {
		t.Fatalf("expected no backend calls, got %v", upvotes.calls)
	}
}

func TestToggleRoundTripRestoresState(t *testing.T) {
	upvotes := newFakeUpvotes()
	upvotes.counts[7] = 5
	toggler := NewToggler(upvotes, nil)

	first, err := toggler.Toggle(context.Background(), Request{ToolID: 7, UserID: "user-1", Count: 5})
	if err != nil {
		t.Fatalf("unexpected toggle error: %v", err)
	}
	if !first.Upvoted || first.Count != 6 {
		t.Fatalf("expected upvote to be added, got %#v", first)
	}

	second, err := toggler.Toggle(context.Background(), Request{ToolID: 7, UserID: "user-1", CurrentlyUpvoted: first.Upvoted, Count: first.Count})
	if err != nil {
		t.Fatalf("unexpected toggle error: %v", err)
	}
	if second.Upvoted || second.Count != 5 {
		t.Fatalf("expected the original state back, got %#v", second)
	}
	if len(upvotes.calls) != 2 || upvotes.calls[0] != "insert" || upvotes.calls[1] != "delete" {
		t.Fatalf("unexpected backend calls %v", upvotes.calls)
	}
}

func TestToggleNeverReportsNegativeCounts(t *testing.T) {
	upvotes := newFakeUpvotes()
	upvotes.counts[7] = -1
	toggler := NewToggler(upvotes, nil)

	result, err := toggler.Toggle(context.Background(), Request{ToolID: 7, UserID: "user-1", CurrentlyUpvoted: true, Count: 0})
	if err != nil {
		t.Fatalf("unexpected toggle error: %v", err)
	}
	if result.Upvoted || result.Count != 0 {
		t.Fatalf("expected a zero floor, got %#v", result)
	}
}

func TestToggleKeepsStateOnBackendError(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	upvotes := newFakeUpvotes()
	upvotes.err = backend.ErrUnavailable
	toggler := NewToggler(upvotes, zap.New(core))

	result, err := toggler.Toggle(context.Background(), Request{ToolID: 7, UserID: "user-1", CurrentlyUpvoted: true, Count: 4})
	if !errors.Is(err, backend.ErrUnavailable) {
		t.Fatalf("expected backend error, got %v", err)
	}
	if !result.Upvoted || result.Count != 4 {
		t.Fatalf("expected state to be unchanged, got %#v", result)
	}
	if logs.FilterField(zap.String("operation", "upvote.delete")).Len() != 1 {
		t.Fatalf("expected the failure to be logged")
	}
}

func TestToggleRejectsMismatchedState(t *testing.T) {
	toggler := NewToggler(mismatchedUpvotes{}, nil)

	if _, err := toggler.Toggle(context.Background(), Request{ToolID: 7, UserID: "user-1"}); !errors.Is(err, backend.ErrMalformedRow) {
		t.Fatalf("expected malformed row error, got %v", err)
	}
	if _, err := toggler.Toggle(context.Background(), Request{UserID: "user-1"}); !errors.Is(err, ErrInvalidTool) {
		t.Fatalf("expected invalid tool error, got %v", err)
	}
}

type mismatchedUpvotes struct{}

func (mismatchedUpvotes) Insert(context.Context, uint64) (backend.UpvoteState, error) {
	return backend.UpvoteState{ToolID: 8, Upvoted: true, Count: 1}, nil
}

func (mismatchedUpvotes) Delete(context.Context, uint64) (backend.UpvoteState, error) {
	return backend.UpvoteState{ToolID: 8}, nil
}
