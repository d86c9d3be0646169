package sync

import (
	"context"
	"time"

	"github.com/harborview/mailsync/internal/extract"
)

// fetchResult pairs a ref with its full message or the per-item error that
// replaced it. One deleted or broken message never aborts the batch.
type fetchResult struct {
	Ref MessageRef
	Msg *extract.RawMessage
	Err error
}

// fetchBatch retrieves full content for a batch of refs with bounded
// concurrency and a per-item timeout. Results preserve ref order.
func fetchBatch(ctx context.Context, src Source, refs []MessageRef, concurrency int, perItemTimeout time.Duration) []fetchResult {
	if len(refs) == 0 {
		return nil
	}
	if concurrency <= 0 {
		concurrency = 1
	}

	results := make([]fetchResult, len(refs))
	sem := make(chan struct{}, concurrency)
	done := make(chan int, len(refs))

	for i, ref := range refs {
		go func(idx int, ref MessageRef) {
			defer func() { done <- idx }()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				results[idx] = fetchResult{Ref: ref, Err: ctx.Err()}
				return
			}

			itemCtx, cancel := context.WithTimeout(ctx, perItemTimeout)
			defer cancel()

			msg, err := src.Fetch(itemCtx, ref.ID)
			results[idx] = fetchResult{Ref: ref, Msg: msg, Err: err}
		}(i, ref)
	}

	for range refs {
		<-done
	}
	return results
}
