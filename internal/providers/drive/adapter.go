// Package drive adapts the Google Drive API to the sync engine's BlobStore
// interface for attachment offloading.
package drive

import (
	"bytes"
	"context"
	"fmt"
	stdsync "sync"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/harborview/mailsync/internal/auth"
	"github.com/harborview/mailsync/internal/sync"
)

const folderMimeType = "application/vnd.google-apps.folder"

// Adapter implements sync.BlobStore for Google Drive.
type Adapter struct {
	svc     *drive.Service
	timeout time.Duration

	mu      stdsync.Mutex
	folders map[string]string // name -> resolved folder id
}

var _ sync.BlobStore = (*Adapter)(nil)

// New creates a Drive adapter bound to one principal's credential.
func New(ctx context.Context, tok *auth.Token, timeout time.Duration) (*Adapter, error) {
	oauth2Token := &oauth2.Token{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Expiry:       tok.Expiry,
	}

	config := &oauth2.Config{
		Scopes: []string{drive.DriveFileScope},
	}
	httpClient := config.Client(ctx, oauth2Token)

	svc, err := drive.NewService(ctx, option.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("failed to create Drive service: %w", err)
	}

	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Adapter{svc: svc, timeout: timeout, folders: make(map[string]string)}, nil
}

// EnsureFolder resolves a folder by name, creating it if absent. The
// resolution is cached and serialized so concurrent offloads racing on the
// first run cannot create duplicate folders from this process.
func (a *Adapter) EnsureFolder(ctx context.Context, name string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if id, ok := a.folders[name]; ok {
		return id, nil
	}

	ctx, cancel := a.callCtx(ctx)
	defer cancel()

	query := fmt.Sprintf("name = '%s' and mimeType = '%s' and trashed = false",
		escapeQuery(name), folderMimeType)
	list, err := a.svc.Files.List().
		Q(query).
		Fields("files(id)").
		PageSize(1).
		Context(ctx).Do()
	if err != nil {
		return "", a.wrapErr("find folder", err)
	}

	if len(list.Files) > 0 {
		a.folders[name] = list.Files[0].Id
		return list.Files[0].Id, nil
	}

	created, err := a.svc.Files.Create(&drive.File{
		Name:     name,
		MimeType: folderMimeType,
	}).Fields("id").Context(ctx).Do()
	if err != nil {
		return "", a.wrapErr("create folder", err)
	}

	a.folders[name] = created.Id
	return created.Id, nil
}

// Upload stores one payload under the folder and returns its durable
// reference.
func (a *Adapter) Upload(ctx context.Context, folderID, filename, mimeType string, data []byte) (*sync.BlobRef, error) {
	ctx, cancel := a.callCtx(ctx)
	defer cancel()

	meta := &drive.File{
		Name:    filename,
		Parents: []string{folderID},
	}

	var mediaOpts []googleapi.MediaOption
	if mimeType != "" {
		mediaOpts = append(mediaOpts, googleapi.ContentType(mimeType))
	}

	file, err := a.svc.Files.Create(meta).
		Media(bytes.NewReader(data), mediaOpts...).
		Fields("id, webViewLink").
		Context(ctx).Do()
	if err != nil {
		return nil, a.wrapErr(fmt.Sprintf("upload %s", filename), err)
	}

	return &sync.BlobRef{FileID: file.Id, Link: file.WebViewLink}, nil
}

func (a *Adapter) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, a.timeout)
}

func (a *Adapter) wrapErr(op string, err error) error {
	if apiErr, ok := err.(*googleapi.Error); ok {
		switch apiErr.Code {
		case 401:
			return &sync.CredentialError{Reason: "token rejected", Err: err}
		case 403:
			return &sync.CredentialError{Reason: "insufficient scope", Err: err}
		}
	}
	return &sync.RemoteServiceError{Op: op, Err: err}
}

// escapeQuery escapes single quotes in a Drive query string literal.
func escapeQuery(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '\'' {
			out = append(out, '\\')
		}
		out = append(out, s[i])
	}
	return string(out)
}
