// Package gmail adapts the Gmail API to the sync engine's Source interface.
package gmail

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/harborview/mailsync/internal/auth"
	"github.com/harborview/mailsync/internal/extract"
	"github.com/harborview/mailsync/internal/sync"
)

// Adapter implements sync.Source for Gmail.
type Adapter struct {
	svc     *gmail.Service
	timeout time.Duration
}

var _ sync.Source = (*Adapter)(nil)

// New creates a Gmail adapter bound to one principal's credential. The
// token is used as-is; refresh happens upstream.
func New(ctx context.Context, tok *auth.Token, timeout time.Duration) (*Adapter, error) {
	oauth2Token := &oauth2.Token{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Expiry:       tok.Expiry,
	}

	config := &oauth2.Config{
		Scopes: []string{gmail.GmailReadonlyScope, gmail.GmailModifyScope},
	}
	httpClient := config.Client(ctx, oauth2Token)

	svc, err := gmail.NewService(ctx, option.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gmail service: %w", err)
	}

	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Adapter{svc: svc, timeout: timeout}, nil
}

// ListPage returns one page of message refs matching the query. The label
// constraint and the time lower bound are both pushed down server-side;
// "after:" takes unix seconds.
func (a *Adapter) ListPage(ctx context.Context, q sync.ListQuery, pageToken string, pageSize int64) (*sync.MessagePage, error) {
	ctx, cancel := a.callCtx(ctx)
	defer cancel()

	call := a.svc.Users.Messages.List("me").
		IncludeSpamTrash(false).
		MaxResults(pageSize).
		Context(ctx)
	if q.Label != "" {
		call = call.LabelIds(q.Label)
	}
	if !q.After.IsZero() {
		call = call.Q(fmt.Sprintf("after:%d", q.After.Unix()))
	}
	if pageToken != "" {
		call = call.PageToken(pageToken)
	}

	resp, err := call.Do()
	if err != nil {
		return nil, a.wrapErr("list messages", err)
	}

	page := &sync.MessagePage{NextPageToken: resp.NextPageToken}
	for _, m := range resp.Messages {
		page.Refs = append(page.Refs, sync.MessageRef{ID: m.Id, ThreadID: m.ThreadId})
	}
	return page, nil
}

// Fetch retrieves one full message and converts it to the extraction shape.
func (a *Adapter) Fetch(ctx context.Context, id string) (*extract.RawMessage, error) {
	ctx, cancel := a.callCtx(ctx)
	defer cancel()

	msg, err := a.svc.Users.Messages.Get("me", id).Format("full").Context(ctx).Do()
	if err != nil {
		return nil, a.wrapErr(fmt.Sprintf("get message %s", id), err)
	}
	return convertMessage(msg), nil
}

// Attachment downloads one attachment payload.
func (a *Adapter) Attachment(ctx context.Context, messageID, attachmentID string) ([]byte, error) {
	ctx, cancel := a.callCtx(ctx)
	defer cancel()

	att, err := a.svc.Users.Messages.Attachments.Get("me", messageID, attachmentID).Context(ctx).Do()
	if err != nil {
		return nil, a.wrapErr(fmt.Sprintf("get attachment %s", attachmentID), err)
	}
	if att.Data == "" {
		return nil, fmt.Errorf("%w: %s", sync.ErrAttachmentUnavailable, attachmentID)
	}

	data, err := extract.DecodeData(att.Data)
	if err != nil {
		return nil, fmt.Errorf("decode attachment %s: %w", attachmentID, err)
	}
	return data, nil
}

// MarkRead removes the UNREAD label from a message.
func (a *Adapter) MarkRead(ctx context.Context, id string) error {
	ctx, cancel := a.callCtx(ctx)
	defer cancel()

	req := &gmail.ModifyMessageRequest{RemoveLabelIds: []string{"UNREAD"}}
	if _, err := a.svc.Users.Messages.Modify("me", id, req).Context(ctx).Do(); err != nil {
		return a.wrapErr(fmt.Sprintf("mark read %s", id), err)
	}
	return nil
}

func (a *Adapter) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, a.timeout)
}

// wrapErr maps provider failures onto the sync error taxonomy: auth and
// scope rejections are credential errors, everything else is a remote
// service error.
func (a *Adapter) wrapErr(op string, err error) error {
	if apiErr, ok := err.(*googleapi.Error); ok {
		switch apiErr.Code {
		case 401:
			return &sync.CredentialError{Reason: "token rejected", Err: err}
		case 403:
			if strings.Contains(apiErr.Message, "Rate Limit") || strings.Contains(apiErr.Message, "rateLimitExceeded") {
				return &sync.RemoteServiceError{Op: op, Err: err}
			}
			return &sync.CredentialError{Reason: "insufficient scope", Err: err}
		}
	}
	return &sync.RemoteServiceError{Op: op, Err: err}
}

// convertMessage maps a Gmail message to the provider-neutral raw shape.
func convertMessage(m *gmail.Message) *extract.RawMessage {
	raw := &extract.RawMessage{
		ID:       m.Id,
		ThreadID: m.ThreadId,
		Snippet:  m.Snippet,
		Labels:   m.LabelIds,
	}
	if m.InternalDate != 0 {
		raw.InternalDate = time.UnixMilli(m.InternalDate)
	}
	if m.Payload != nil {
		for _, h := range m.Payload.Headers {
			raw.Headers = append(raw.Headers, extract.Header{Name: h.Name, Value: h.Value})
		}
		raw.Root = convertPart(m.Payload)
	}
	return raw
}

// convertPart maps the nested payload tree recursively. A single-part
// message is the degenerate one-node case.
func convertPart(p *gmail.MessagePart) *extract.Part {
	if p == nil {
		return nil
	}

	part := &extract.Part{
		PartID:   p.PartId,
		MimeType: p.MimeType,
		Filename: p.Filename,
	}
	if p.Body != nil {
		part.AttachmentID = p.Body.AttachmentId
		part.Size = p.Body.Size
		part.Data = p.Body.Data
	}
	for _, child := range p.Parts {
		part.Children = append(part.Children, convertPart(child))
	}
	return part
}
