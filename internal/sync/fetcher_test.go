package sync

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/harborview/mailsync/internal/extract"
)

// countingSource tracks in-flight Fetch calls to observe the concurrency bound.
type countingSource struct {
	pagedSource
	inFlight    atomic.Int32
	maxInFlight atomic.Int32
	failIDs     map[string]bool
}

func (c *countingSource) Fetch(ctx context.Context, id string) (*extract.RawMessage, error) {
	cur := c.inFlight.Add(1)
	defer c.inFlight.Add(-1)
	for {
		max := c.maxInFlight.Load()
		if cur <= max || c.maxInFlight.CompareAndSwap(max, cur) {
			break
		}
	}

	time.Sleep(5 * time.Millisecond)
	if c.failIDs[id] {
		return nil, &RemoteServiceError{Op: "fetch", Err: errors.New("gone")}
	}
	return &extract.RawMessage{ID: id}, nil
}

func TestFetchBatchIsolatesItemFailures(t *testing.T) {
	src := &countingSource{failIDs: map[string]bool{"msg-1": true}}
	refs := []MessageRef{{ID: "msg-0"}, {ID: "msg-1"}, {ID: "msg-2"}}

	results := fetchBatch(context.Background(), src, refs, 2, time.Second)

	if len(results) != 3 {
		t.Fatalf("results = %d, want 3", len(results))
	}
	for i, res := range results {
		if res.Ref.ID != refs[i].ID {
			t.Errorf("result %d is for %s, want %s", i, res.Ref.ID, refs[i].ID)
		}
	}
	if results[0].Err != nil || results[2].Err != nil {
		t.Errorf("healthy items failed: %v, %v", results[0].Err, results[2].Err)
	}
	if results[1].Err == nil {
		t.Error("failing item reported no error")
	}
	if results[0].Msg == nil || results[0].Msg.ID != "msg-0" {
		t.Errorf("result 0 message = %+v", results[0].Msg)
	}
}

func TestFetchBatchBoundsConcurrency(t *testing.T) {
	src := &countingSource{}
	var refs []MessageRef
	for i := 0; i < 20; i++ {
		refs = append(refs, MessageRef{ID: fmt.Sprintf("msg-%d", i)})
	}

	results := fetchBatch(context.Background(), src, refs, 4, time.Second)

	if len(results) != 20 {
		t.Fatalf("results = %d, want 20", len(results))
	}
	if got := src.maxInFlight.Load(); got > 4 {
		t.Errorf("max in-flight = %d, want <= 4", got)
	}
}

func TestFetchBatchEmptyInput(t *testing.T) {
	if results := fetchBatch(context.Background(), &countingSource{}, nil, 4, time.Second); results != nil {
		t.Errorf("results = %v, want nil", results)
	}
}
