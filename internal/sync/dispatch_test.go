package sync

import (
	"context"
	"errors"
	stdsync "sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/harborview/mailsync/internal/store"
)

type publishedEvent struct {
	Subject string
	Payload []byte
	MsgID   string
}

type fakePublisher struct {
	mu     stdsync.Mutex
	events []publishedEvent
	fail   bool
}

func (p *fakePublisher) Publish(subject string, payload []byte, msgID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return errors.New("connection lost")
	}
	p.events = append(p.events, publishedEvent{Subject: subject, Payload: payload, MsgID: msgID})
	return nil
}

func (p *fakePublisher) published() []publishedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]publishedEvent(nil), p.events...)
}

func seedOutbox(t *testing.T, st *store.Store, providerID string) {
	t.Helper()
	ctx := context.Background()
	if _, _, err := st.CreateMessage(ctx,
		store.Message{ProviderMessageID: providerID, PrincipalID: "user-1", Subject: "s", Sender: "a", ToAddrs: "[]", CcAddrs: "[]", Labels: "[]", ReceivedAt: time.Now().Unix(), CreatedAt: time.Now().Unix()},
		"principal.user-1.message.synced", "message.synced", []byte(`{}`), "message.synced|"+providerID,
	); err != nil {
		t.Fatalf("seeding message: %v", err)
	}
}

func TestDispatcherDrainsOutbox(t *testing.T) {
	ctx := context.Background()
	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()
	if err := st.UpsertPrincipal(ctx, "user-1", "a@example.com"); err != nil {
		t.Fatal(err)
	}
	seedOutbox(t, st, "gm-1")
	seedOutbox(t, st, "gm-2")

	pub := &fakePublisher{}
	d := &Dispatcher{Store: st, Publisher: pub, Log: zap.NewNop()}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		d.Run(runCtx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for len(pub.published()) < 2 {
		select {
		case <-deadline:
			t.Fatalf("published = %d, want 2", len(pub.published()))
		case <-time.After(10 * time.Millisecond):
		}
	}
	cancel()
	<-done

	events := pub.published()
	if events[0].Subject != "principal.user-1.message.synced" {
		t.Errorf("subject = %q", events[0].Subject)
	}
	if events[0].MsgID != "message.synced|gm-1" || events[1].MsgID != "message.synced|gm-2" {
		t.Errorf("msg ids = %q, %q", events[0].MsgID, events[1].MsgID)
	}

	pending, err := st.DequeueOutbox(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 0 {
		t.Errorf("pending after drain = %d", len(pending))
	}
}

func TestDispatcherSchedulesRetryOnPublishFailure(t *testing.T) {
	ctx := context.Background()
	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()
	if err := st.UpsertPrincipal(ctx, "user-1", "a@example.com"); err != nil {
		t.Fatal(err)
	}
	seedOutbox(t, st, "gm-1")

	pub := &fakePublisher{fail: true}
	d := &Dispatcher{Store: st, Publisher: pub, Log: zap.NewNop()}

	runCtx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
	defer cancel()
	d.Run(runCtx)

	// The row stays unpublished and is deferred past the backoff.
	pending, err := st.DequeueOutbox(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 0 {
		t.Errorf("row dequeued during backoff: %d", len(pending))
	}
	if got := pub.published(); len(got) != 0 {
		t.Errorf("published = %d, want 0", len(got))
	}
}
