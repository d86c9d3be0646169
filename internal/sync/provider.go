package sync

import (
	"context"
	"time"

	"github.com/harborview/mailsync/internal/auth"
	"github.com/harborview/mailsync/internal/extract"
)

// MessageRef is the lightweight listing result before full content exists.
type MessageRef struct {
	ID       string
	ThreadID string
}

// MessagePage is one page of a listing, with the continuation token for the
// next page ("" means exhausted).
type MessagePage struct {
	Refs          []MessageRef
	NextPageToken string
}

// ListQuery is the server-side filter pushed down to the provider.
type ListQuery struct {
	Label string
	After time.Time
}

// Source is the remote mail service as the sync engine sees it.
type Source interface {
	// ListPage returns one page of refs matching the query.
	ListPage(ctx context.Context, q ListQuery, pageToken string, pageSize int64) (*MessagePage, error)
	// Fetch retrieves the full content of one message.
	Fetch(ctx context.Context, id string) (*extract.RawMessage, error)
	// Attachment downloads one attachment payload scoped to its message.
	Attachment(ctx context.Context, messageID, attachmentID string) ([]byte, error)
	// MarkRead removes the unread marker from a message.
	MarkRead(ctx context.Context, id string) error
}

// BlobRef is a durable object-store reference for an uploaded payload.
type BlobRef struct {
	FileID string
	Link   string
}

// BlobStore is the durable object store receiving offloaded attachments.
type BlobStore interface {
	// EnsureFolder resolves a folder by name, creating it if absent.
	EnsureFolder(ctx context.Context, name string) (string, error)
	// Upload stores a payload under the folder and returns its reference.
	Upload(ctx context.Context, folderID, filename, mimeType string, data []byte) (*BlobRef, error)
}

// CredentialSource supplies the current bearer token for a principal.
type CredentialSource interface {
	Credential(ctx context.Context, principalID string) (*auth.Token, error)
}

// SourceFactory builds a Source bound to one principal's credential.
type SourceFactory func(ctx context.Context, tok *auth.Token) (Source, error)

// BlobFactory builds a BlobStore bound to one principal's credential.
type BlobFactory func(ctx context.Context, tok *auth.Token) (BlobStore, error)

// EventPublisher delivers outbox events to the bus. MsgID is the
// deduplication key.
type EventPublisher interface {
	Publish(subject string, payload []byte, msgID string) error
}
