package sync

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"testing"
	"time"

	"github.com/harborview/mailsync/internal/extract"
)

// pagedSource serves refs out of a fixed pool, one page per ListPage call,
// honoring the requested page size. Tokens are pool offsets.
type pagedSource struct {
	total     int
	listCalls int
	listErrAt int // fail the nth call (1-based), 0 means never
	lastQuery ListQuery
}

func (p *pagedSource) ListPage(ctx context.Context, q ListQuery, pageToken string, pageSize int64) (*MessagePage, error) {
	p.listCalls++
	p.lastQuery = q
	if p.listErrAt > 0 && p.listCalls == p.listErrAt {
		return nil, &RemoteServiceError{Op: "list", Err: errors.New("boom")}
	}

	offset := 0
	if pageToken != "" {
		offset, _ = strconv.Atoi(pageToken)
	}

	end := offset + int(pageSize)
	if end > p.total {
		end = p.total
	}
	page := &MessagePage{}
	for i := offset; i < end; i++ {
		page.Refs = append(page.Refs, MessageRef{ID: fmt.Sprintf("msg-%d", i)})
	}
	if end < p.total {
		page.NextPageToken = strconv.Itoa(end)
	}
	return page, nil
}

func (p *pagedSource) Fetch(ctx context.Context, id string) (*extract.RawMessage, error) {
	return nil, errors.New("not implemented")
}

func (p *pagedSource) Attachment(ctx context.Context, messageID, attachmentID string) ([]byte, error) {
	return nil, errors.New("not implemented")
}

func (p *pagedSource) MarkRead(ctx context.Context, id string) error { return nil }

func TestListAllFollowsTokensUntilExhausted(t *testing.T) {
	src := &pagedSource{total: 300}

	refs, err := listAll(context.Background(), src, ListQuery{Label: "INBOX"}, 100, 1000)
	if err != nil {
		t.Fatalf("listAll: %v", err)
	}
	if len(refs) != 300 {
		t.Errorf("refs = %d, want 300", len(refs))
	}
	if src.listCalls != 3 {
		t.Errorf("list calls = %d, want 3", src.listCalls)
	}
	if refs[0].ID != "msg-0" || refs[299].ID != "msg-299" {
		t.Errorf("refs out of order: first=%s last=%s", refs[0].ID, refs[299].ID)
	}
}

func TestListAllStopsExactlyAtCap(t *testing.T) {
	src := &pagedSource{total: 10000}

	refs, err := listAll(context.Background(), src, ListQuery{Label: "INBOX"}, 100, 250)
	if err != nil {
		t.Fatalf("listAll: %v", err)
	}
	if len(refs) != 250 {
		t.Errorf("refs = %d, want exactly 250", len(refs))
	}
	// 100 + 100 + 50; no page request past the cap.
	if src.listCalls != 3 {
		t.Errorf("list calls = %d, want 3", src.listCalls)
	}
}

func TestListAllIsAllOrNothing(t *testing.T) {
	src := &pagedSource{total: 300, listErrAt: 2}

	refs, err := listAll(context.Background(), src, ListQuery{}, 100, 1000)
	if err == nil {
		t.Fatal("expected error from failing page")
	}
	if refs != nil {
		t.Errorf("partial refs returned: %d", len(refs))
	}
	var rse *RemoteServiceError
	if !errors.As(err, &rse) {
		t.Errorf("error = %v, want RemoteServiceError", err)
	}
}

func TestListAllPushesWindowLowerBound(t *testing.T) {
	src := &pagedSource{total: 1}
	after := time.Unix(1700000000, 0)

	if _, err := listAll(context.Background(), src, ListQuery{Label: "INBOX", After: after}, 100, 1000); err != nil {
		t.Fatalf("listAll: %v", err)
	}
	if !src.lastQuery.After.Equal(after) {
		t.Errorf("query After = %v, want %v", src.lastQuery.After, after)
	}
	if src.lastQuery.Label != "INBOX" {
		t.Errorf("query Label = %q", src.lastQuery.Label)
	}
}
