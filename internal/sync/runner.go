// Package sync implements the mail synchronization engine: checkpointed
// incremental listing, bounded-concurrency fetching, content extraction,
// attachment offload, and idempotent persistence.
package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/harborview/mailsync/internal/extract"
	"github.com/harborview/mailsync/internal/store"
)

// Options tune one runner. Zero values fall back to defaults.
type Options struct {
	// Label restricts listing to one mailbox label.
	Label string
	// Window bounds the first sync when no checkpoint exists.
	Window time.Duration
	// MaxListResults caps how many refs a single run may list.
	MaxListResults int
	// PageSize is the per-page listing size.
	PageSize int64
	// BatchSize is how many messages are fetched per processing batch.
	BatchSize int
	// FetchConcurrency bounds parallel in-flight fetches within a batch.
	FetchConcurrency int
	// CallTimeout bounds each remote call.
	CallTimeout time.Duration
	// AttachmentFolder names the object-store folder for offloaded payloads.
	AttachmentFolder string
	// MarkRead removes the unread marker after a message is persisted.
	MarkRead bool
	// HoldOnPartial keeps the checkpoint in place when some items failed,
	// trading re-scans for completeness. Left unset, partial success still
	// advances so one poison message cannot pin the window forever.
	HoldOnPartial bool
}

func (o Options) withDefaults() Options {
	if o.Label == "" {
		o.Label = "INBOX"
	}
	if o.Window <= 0 {
		o.Window = 7 * 24 * time.Hour
	}
	if o.MaxListResults <= 0 {
		o.MaxListResults = 1000
	}
	if o.PageSize <= 0 {
		o.PageSize = 100
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 25
	}
	if o.FetchConcurrency <= 0 {
		o.FetchConcurrency = 10
	}
	if o.CallTimeout <= 0 {
		o.CallTimeout = 30 * time.Second
	}
	if o.AttachmentFolder == "" {
		o.AttachmentFolder = "Mailsync Attachments"
	}
	return o
}

// Summary is the outcome of one run, reported to the trigger surface.
type Summary struct {
	SuccessCount   int  `json:"success_count"`
	ErrorCount     int  `json:"error_count"`
	TotalCount     int  `json:"total_count"`
	ReauthRequired bool `json:"reauth_required"`
}

// Runner executes one synchronization run end to end. All collaborators are
// explicit dependencies; there is no shared global state.
type Runner struct {
	Store        *store.Store
	Credentials  CredentialSource
	NewSource    SourceFactory
	NewBlobStore BlobFactory
	Log          *zap.Logger
	Opts         Options
}

// Run synchronizes one principal's mailbox and returns the run summary.
// Item-level failures are counted, never returned; an error return means
// the run failed terminally and the checkpoint was not advanced.
func (r *Runner) Run(ctx context.Context, principalID string) (*Summary, error) {
	opts := r.Opts.withDefaults()
	log := r.Log.With(zap.String("principal", principalID))

	if _, err := r.Store.GetPrincipal(ctx, principalID); err != nil {
		return nil, fmt.Errorf("loading principal: %w", err)
	}

	runID := uuid.NewString()
	runStart := time.Now()
	if err := r.Store.BeginSyncRun(ctx, runID, principalID, runStart); err != nil {
		log.Warn("recording sync run failed", zap.Error(err))
	}

	summary := &Summary{}
	fail := func(err error) (*Summary, error) {
		summary.ReauthRequired = IsCredentialError(err)
		if ferr := r.Store.FinishSyncRun(ctx, runID, store.RunStatusError,
			summary.SuccessCount, summary.ErrorCount, summary.TotalCount, err.Error()); ferr != nil {
			log.Warn("finishing sync run failed", zap.Error(ferr))
		}
		return summary, err
	}

	tok, err := r.Credentials.Credential(ctx, principalID)
	if err != nil {
		return fail(&CredentialError{Reason: "credential fetch failed", Err: err})
	}
	if tok.Expired() {
		return fail(&CredentialError{Reason: "token expired"})
	}

	src, err := r.NewSource(ctx, tok)
	if err != nil {
		return fail(fmt.Errorf("creating mail source: %w", err))
	}
	blobs, err := r.NewBlobStore(ctx, tok)
	if err != nil {
		return fail(fmt.Errorf("creating blob store: %w", err))
	}

	since := r.checkpoint(ctx, principalID, opts.Window, log)
	log.Info("listing window", zap.Time("since", since), zap.Time("run_start", runStart))

	refs, err := listAll(ctx, src, ListQuery{Label: opts.Label, After: since}, opts.PageSize, opts.MaxListResults)
	if err != nil {
		return fail(fmt.Errorf("listing messages: %w", err))
	}

	summary.TotalCount = len(refs)
	if len(refs) == 0 {
		r.advance(ctx, principalID, runStart, log)
		if err := r.Store.FinishSyncRun(ctx, runID, store.RunStatusDone, 0, 0, 0, ""); err != nil {
			log.Warn("finishing sync run failed", zap.Error(err))
		}
		log.Info("no new messages")
		return summary, nil
	}

	for start := 0; start < len(refs); start += opts.BatchSize {
		end := start + opts.BatchSize
		if end > len(refs) {
			end = len(refs)
		}

		results := fetchBatch(ctx, src, refs[start:end], opts.FetchConcurrency, opts.CallTimeout)
		for _, res := range results {
			if res.Err != nil {
				if IsCredentialError(res.Err) {
					// Credential rejection mid-run is terminal.
					return fail(res.Err)
				}
				log.Warn("fetch failed", zap.String("message", res.Ref.ID), zap.Error(res.Err))
				summary.ErrorCount++
				continue
			}

			if err := r.process(ctx, principalID, src, blobs, res.Msg, opts, log); err != nil {
				log.Warn("processing failed", zap.String("message", res.Ref.ID), zap.Error(err))
				summary.ErrorCount++
				continue
			}
			summary.SuccessCount++
		}
	}

	if summary.ErrorCount == 0 || !opts.HoldOnPartial {
		r.advance(ctx, principalID, runStart, log)
	} else {
		log.Warn("checkpoint not advanced", zap.Int("errors", summary.ErrorCount))
	}

	status := store.RunStatusDone
	if summary.ErrorCount > 0 {
		status = store.RunStatusPartial
	}
	if err := r.Store.FinishSyncRun(ctx, runID, status, summary.SuccessCount, summary.ErrorCount, summary.TotalCount, ""); err != nil {
		log.Warn("finishing sync run failed", zap.Error(err))
	}

	log.Info("sync run complete",
		zap.Int("success", summary.SuccessCount),
		zap.Int("errors", summary.ErrorCount),
		zap.Int("total", summary.TotalCount))
	return summary, nil
}

// checkpoint reads the stored checkpoint, falling back to the default
// window on absence or read failure. A failed read degrades, never blocks.
func (r *Runner) checkpoint(ctx context.Context, principalID string, window time.Duration, log *zap.Logger) time.Time {
	fallback := time.Now().Add(-window)

	t, ok, err := r.Store.Checkpoint(ctx, principalID)
	if err != nil {
		log.Warn("checkpoint read failed, using default window", zap.Error(err))
		return fallback
	}
	if !ok {
		return fallback
	}
	return t
}

// advance overwrites the checkpoint with the run start time. The small
// re-scan overlap on the next run is absorbed by idempotent persistence.
// A failed write leaves the run un-checkpointed; the next run re-covers
// the window.
func (r *Runner) advance(ctx context.Context, principalID string, runStart time.Time, log *zap.Logger) {
	if err := r.Store.AdvanceCheckpoint(ctx, principalID, runStart); err != nil {
		log.Error("checkpoint advance failed, window will be re-scanned", zap.Error(err))
	}
}

// process extracts, persists, and offloads one fetched message. Attachment
// failures are isolated: the message stays persisted with fewer links.
func (r *Runner) process(ctx context.Context, principalID string, src Source, blobs BlobStore, raw *extract.RawMessage, opts Options, log *zap.Logger) error {
	content := extract.Extract(raw)
	rec := store.NewMessage(principalID, raw, content)

	payload, _ := json.Marshal(map[string]any{
		"principal_id":        principalID,
		"provider_message_id": rec.ProviderMessageID,
		"thread_id":           rec.ThreadID,
		"subject":             rec.Subject,
		"sender":              rec.Sender,
		"received_at":         rec.ReceivedAt,
		"attachment_count":    len(content.Attachments),
	})
	eventSubject := fmt.Sprintf("principal.%s.message.synced", principalID)
	eventMsgID := "message.synced|" + raw.ID

	msg, created, err := r.Store.CreateMessage(ctx, rec, eventSubject, "message.synced", payload, eventMsgID)
	if err != nil {
		return fmt.Errorf("persisting message: %w", err)
	}
	if !created {
		// Already synchronized in an earlier run; nothing else to do.
		return nil
	}

	for _, desc := range content.Attachments {
		r.offload(ctx, src, blobs, raw.ID, msg.ID, desc, opts, log)
	}

	if opts.MarkRead {
		if err := src.MarkRead(ctx, raw.ID); err != nil {
			log.Warn("mark read failed", zap.String("message", raw.ID), zap.Error(err))
		}
	}
	return nil
}

// offload downloads one attachment payload and uploads it to the object
// store. Failures are logged and swallowed so the owning message keeps its
// row; retry is an out-of-band concern.
func (r *Runner) offload(ctx context.Context, src Source, blobs BlobStore, providerMessageID string, messageID int64, desc extract.AttachmentDescriptor, opts Options, log *zap.Logger) {
	alog := log.With(zap.String("message", providerMessageID), zap.String("filename", desc.Filename))

	var data []byte
	var err error
	if desc.Data != "" {
		// Inline attachment, already delivered with the message.
		data, err = extract.DecodeData(desc.Data)
		if err != nil {
			alog.Warn("attachment decode failed", zap.Error(err))
			return
		}
	} else {
		callCtx, cancel := context.WithTimeout(ctx, opts.CallTimeout)
		data, err = src.Attachment(callCtx, providerMessageID, desc.AttachmentID)
		cancel()
		if err != nil {
			alog.Warn("attachment download failed", zap.Error(err))
			return
		}
	}

	folderID, err := blobs.EnsureFolder(ctx, opts.AttachmentFolder)
	if err != nil {
		alog.Warn("resolving attachment folder failed", zap.Error(err))
		return
	}

	callCtx, cancel := context.WithTimeout(ctx, opts.CallTimeout)
	ref, err := blobs.Upload(callCtx, folderID, desc.Filename, desc.MimeType, data)
	cancel()
	if err != nil {
		alog.Warn("attachment upload failed", zap.Error(err))
		return
	}

	_, err = r.Store.AddAttachment(ctx, store.Attachment{
		MessageID:  messageID,
		Filename:   desc.Filename,
		MimeType:   desc.MimeType,
		SizeBytes:  int64(len(data)),
		FileID:     ref.FileID,
		AccessLink: ref.Link,
	})
	if err != nil {
		alog.Warn("linking attachment failed", zap.Error(err))
	}
}
