package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound indicates the requested row does not exist.
var ErrNotFound = errors.New("not found")

// UpsertPrincipal registers a principal, updating the email if it already
// exists. The checkpoint is never touched here.
func (s *Store) UpsertPrincipal(ctx context.Context, id, email string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO principals (id, email, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET email = excluded.email
	`, id, email, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("upserting principal: %w", err)
	}
	return nil
}

// GetPrincipal returns one principal or ErrNotFound.
func (s *Store) GetPrincipal(ctx context.Context, id string) (*Principal, error) {
	var p Principal
	err := s.db.GetContext(ctx, &p, "SELECT * FROM principals WHERE id = ?", id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("principal %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("getting principal: %w", err)
	}
	return &p, nil
}

// ListPrincipals returns all registered principals.
func (s *Store) ListPrincipals(ctx context.Context) ([]Principal, error) {
	var ps []Principal
	if err := s.db.SelectContext(ctx, &ps, "SELECT * FROM principals ORDER BY id"); err != nil {
		return nil, fmt.Errorf("listing principals: %w", err)
	}
	return ps, nil
}

// Checkpoint returns the stored checkpoint and whether one exists.
func (s *Store) Checkpoint(ctx context.Context, principalID string) (time.Time, bool, error) {
	var ts sql.NullInt64
	err := s.db.GetContext(ctx, &ts,
		"SELECT last_synced_at FROM principals WHERE id = ?", principalID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return time.Time{}, false, fmt.Errorf("principal %s: %w", principalID, ErrNotFound)
		}
		return time.Time{}, false, fmt.Errorf("reading checkpoint: %w", err)
	}
	if !ts.Valid {
		return time.Time{}, false, nil
	}
	return time.Unix(ts.Int64, 0), true, nil
}

// AdvanceCheckpoint unconditionally overwrites the checkpoint.
func (s *Store) AdvanceCheckpoint(ctx context.Context, principalID string, t time.Time) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE principals SET last_synced_at = ? WHERE id = ?", t.Unix(), principalID)
	if err != nil {
		return fmt.Errorf("advancing checkpoint: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("principal %s: %w", principalID, ErrNotFound)
	}
	return nil
}

// CreateMessage idempotently inserts a message row and, only when the row is
// new, the matching outbox event in the same transaction. The unique
// constraint on provider_message_id makes a duplicate insert a no-op: the
// existing row is returned unchanged and created is false.
func (s *Store) CreateMessage(ctx context.Context, m Message, eventSubject, eventType string, eventPayload []byte, eventMsgID string) (*Message, bool, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO messages
		(provider_message_id, thread_id, principal_id, subject, sender,
		 to_addrs, cc_addrs, body_text, body_html, snippet,
		 received_at, is_read, labels, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, m.ProviderMessageID, m.ThreadID, m.PrincipalID, m.Subject, m.Sender,
		m.ToAddrs, m.CcAddrs, m.BodyText, m.BodyHTML, m.Snippet,
		m.ReceivedAt, m.IsRead, m.Labels, m.CreatedAt)
	if err != nil {
		return nil, false, fmt.Errorf("inserting message: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("reading rows affected: %w", err)
	}

	if n == 0 {
		// Conflict on the idempotency key: return the pre-existing row.
		var existing Message
		err := tx.GetContext(ctx, &existing,
			"SELECT * FROM messages WHERE provider_message_id = ?", m.ProviderMessageID)
		if err != nil {
			return nil, false, fmt.Errorf("loading existing message: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return nil, false, fmt.Errorf("committing: %w", err)
		}
		return &existing, false, nil
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, false, fmt.Errorf("reading message id: %w", err)
	}
	m.ID = id

	now := time.Now().Unix()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO outbox (ts, subject, event_type, payload, msg_id, next_attempt_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, now, eventSubject, eventType, eventPayload, eventMsgID, now)
	if err != nil {
		return nil, false, fmt.Errorf("inserting outbox entry: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("committing: %w", err)
	}
	return &m, true, nil
}

// GetMessageByProviderID returns a message row by its idempotency key.
func (s *Store) GetMessageByProviderID(ctx context.Context, providerMessageID string) (*Message, error) {
	var m Message
	err := s.db.GetContext(ctx, &m,
		"SELECT * FROM messages WHERE provider_message_id = ?", providerMessageID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("message %s: %w", providerMessageID, ErrNotFound)
		}
		return nil, fmt.Errorf("getting message: %w", err)
	}
	return &m, nil
}

// CountMessages returns the number of stored messages for a principal.
func (s *Store) CountMessages(ctx context.Context, principalID string) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n,
		"SELECT COUNT(*) FROM messages WHERE principal_id = ?", principalID)
	if err != nil {
		return 0, fmt.Errorf("counting messages: %w", err)
	}
	return n, nil
}

// AddAttachment links an offloaded attachment to its message. This is the
// second phase of the two-phase write: the message row already exists.
func (s *Store) AddAttachment(ctx context.Context, a Attachment) (int64, error) {
	a.CreatedAt = time.Now().Unix()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO attachments (message_id, filename, mime_type, size_bytes, file_id, access_link, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, a.MessageID, a.Filename, a.MimeType, a.SizeBytes, a.FileID, a.AccessLink, a.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("inserting attachment: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading attachment id: %w", err)
	}
	return id, nil
}

// AttachmentsForMessage returns the attachment links of one message.
func (s *Store) AttachmentsForMessage(ctx context.Context, messageID int64) ([]Attachment, error) {
	var as []Attachment
	err := s.db.SelectContext(ctx, &as,
		"SELECT * FROM attachments WHERE message_id = ? ORDER BY id", messageID)
	if err != nil {
		return nil, fmt.Errorf("listing attachments: %w", err)
	}
	return as, nil
}

// BeginSyncRun records the start of a run.
func (s *Store) BeginSyncRun(ctx context.Context, id, principalID string, startedAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_runs (id, principal_id, started_at, status)
		VALUES (?, ?, ?, ?)
	`, id, principalID, startedAt.Unix(), RunStatusRunning)
	if err != nil {
		return fmt.Errorf("recording sync run: %w", err)
	}
	return nil
}

// FinishSyncRun closes a run record with its final counts and status.
func (s *Store) FinishSyncRun(ctx context.Context, id, status string, success, errors, total int, lastError string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sync_runs
		SET finished_at = ?, status = ?, success_count = ?, error_count = ?, total_count = ?,
		    last_error = CASE WHEN ? != '' THEN ? ELSE last_error END
		WHERE id = ?
	`, time.Now().Unix(), status, success, errors, total, lastError, lastError, id)
	if err != nil {
		return fmt.Errorf("finishing sync run: %w", err)
	}
	return nil
}

// LatestSyncRun returns the most recent run for a principal, or ErrNotFound.
func (s *Store) LatestSyncRun(ctx context.Context, principalID string) (*SyncRun, error) {
	var r SyncRun
	err := s.db.GetContext(ctx, &r, `
		SELECT * FROM sync_runs WHERE principal_id = ?
		ORDER BY started_at DESC, id DESC LIMIT 1
	`, principalID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("sync run for %s: %w", principalID, ErrNotFound)
		}
		return nil, fmt.Errorf("getting latest sync run: %w", err)
	}
	return &r, nil
}

// DequeueOutbox fetches unpublished events that are due for delivery.
func (s *Store) DequeueOutbox(ctx context.Context, limit int) ([]OutboxMessage, error) {
	var msgs []OutboxMessage
	err := s.db.SelectContext(ctx, &msgs, `
		SELECT id, subject, payload, msg_id
		FROM outbox
		WHERE published_at IS NULL AND next_attempt_at <= ?
		ORDER BY id
		LIMIT ?
	`, time.Now().Unix(), limit)
	if err != nil {
		return nil, fmt.Errorf("querying outbox: %w", err)
	}
	return msgs, nil
}

// MarkPublished marks an outbox event as delivered.
func (s *Store) MarkPublished(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE outbox SET published_at = ? WHERE id = ?", time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("marking published: %w", err)
	}
	return nil
}

// MarkOutboxRetry schedules a failed delivery for a later attempt.
func (s *Store) MarkOutboxRetry(ctx context.Context, id int64, backoff time.Duration) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE outbox SET retries = retries + 1, next_attempt_at = ? WHERE id = ?
	`, time.Now().Add(backoff).Unix(), id)
	if err != nil {
		return fmt.Errorf("marking retry: %w", err)
	}
	return nil
}
