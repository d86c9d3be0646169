package store

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/harborview/mailsync/internal/extract"
)

// Principal is a user/account owning a synchronized mailbox.
type Principal struct {
	ID           string        `db:"id" json:"id"`
	Email        string        `db:"email" json:"email"`
	LastSyncedAt sql.NullInt64 `db:"last_synced_at" json:"-"`
	CreatedAt    int64         `db:"created_at" json:"created_at"`
}

// Message is the persisted message row. Timestamps are unix seconds.
// Address lists are stored as JSON arrays; To and Cc stay distinct columns.
type Message struct {
	ID                int64          `db:"id" json:"id"`
	ProviderMessageID string         `db:"provider_message_id" json:"provider_message_id"`
	ThreadID          string         `db:"thread_id" json:"thread_id"`
	PrincipalID       string         `db:"principal_id" json:"principal_id"`
	Subject           string         `db:"subject" json:"subject"`
	Sender            string         `db:"sender" json:"sender"`
	ToAddrs           string         `db:"to_addrs" json:"-"`
	CcAddrs           string         `db:"cc_addrs" json:"-"`
	BodyText          sql.NullString `db:"body_text" json:"-"`
	BodyHTML          sql.NullString `db:"body_html" json:"-"`
	Snippet           string         `db:"snippet" json:"snippet"`
	ReceivedAt        int64          `db:"received_at" json:"received_at"`
	IsRead            bool           `db:"is_read" json:"is_read"`
	Labels            string         `db:"labels" json:"-"`
	CreatedAt         int64          `db:"created_at" json:"created_at"`
}

// Recipients returns the primary (To) recipient set.
func (m *Message) Recipients() []string { return unmarshalList(m.ToAddrs) }

// CCRecipients returns the secondary (Cc) recipient set.
func (m *Message) CCRecipients() []string { return unmarshalList(m.CcAddrs) }

// LabelSet returns the provider label set.
func (m *Message) LabelSet() []string { return unmarshalList(m.Labels) }

// NewMessage is the single normalization step at the persistence boundary.
// Extraction leaves optional fields empty; here every field receives its
// documented default so downstream code never re-checks nullability.
func NewMessage(principalID string, raw *extract.RawMessage, c extract.Content) Message {
	subject := c.Subject
	if subject == "" {
		subject = "No Subject"
	}
	sender := c.Sender
	if sender == "" {
		sender = "Unknown Sender"
	}
	receivedAt := c.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = time.Now()
	}

	isRead := true
	for _, l := range raw.Labels {
		if l == "UNREAD" {
			isRead = false
			break
		}
	}

	return Message{
		ProviderMessageID: raw.ID,
		ThreadID:          raw.ThreadID,
		PrincipalID:       principalID,
		Subject:           subject,
		Sender:            sender,
		ToAddrs:           marshalList(c.Recipients),
		CcAddrs:           marshalList(c.CCRecipients),
		BodyText:          nullable(c.BodyText),
		BodyHTML:          nullable(c.BodyHTML),
		Snippet:           c.Snippet,
		ReceivedAt:        receivedAt.Unix(),
		IsRead:            isRead,
		Labels:            marshalList(raw.Labels),
		CreatedAt:         time.Now().Unix(),
	}
}

// Attachment is an offloaded attachment reference owned by its message.
type Attachment struct {
	ID         int64  `db:"id" json:"id"`
	MessageID  int64  `db:"message_id" json:"message_id"`
	Filename   string `db:"filename" json:"filename"`
	MimeType   string `db:"mime_type" json:"mime_type"`
	SizeBytes  int64  `db:"size_bytes" json:"size_bytes"`
	FileID     string `db:"file_id" json:"file_id"`
	AccessLink string `db:"access_link" json:"access_link"`
	CreatedAt  int64  `db:"created_at" json:"created_at"`
}

// SyncRun records one orchestrator run for operator visibility.
type SyncRun struct {
	ID           string         `db:"id" json:"id"`
	PrincipalID  string         `db:"principal_id" json:"principal_id"`
	StartedAt    int64          `db:"started_at" json:"started_at"`
	FinishedAt   sql.NullInt64  `db:"finished_at" json:"-"`
	SuccessCount int            `db:"success_count" json:"success_count"`
	ErrorCount   int            `db:"error_count" json:"error_count"`
	TotalCount   int            `db:"total_count" json:"total_count"`
	Status       string         `db:"status" json:"status"`
	LastError    sql.NullString `db:"last_error" json:"-"`
}

// Sync run statuses.
const (
	RunStatusRunning = "RUNNING"
	RunStatusDone    = "DONE"
	RunStatusPartial = "PARTIAL"
	RunStatusError   = "ERROR"
)

// OutboxMessage is one pending event in the outbox.
type OutboxMessage struct {
	ID      int64  `db:"id"`
	Subject string `db:"subject"`
	Payload []byte `db:"payload"`
	MsgID   string `db:"msg_id"`
}

func marshalList(items []string) string {
	if items == nil {
		items = []string{}
	}
	b, _ := json.Marshal(items)
	return string(b)
}

func unmarshalList(s string) []string {
	var items []string
	if err := json.Unmarshal([]byte(s), &items); err != nil {
		return nil
	}
	return items
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
