// Package extract turns a provider message into structured content:
// headers, text/HTML bodies, and attachment descriptors pulled out of the
// nested part tree.
package extract

import (
	"encoding/base64"
	"net/mail"
	"strings"
	"time"
)

// Header is one raw message header.
type Header struct {
	Name  string
	Value string
}

// Part is one node of a message body tree. A part with children is a
// multipart container; a part with inline Data is a leaf. A non-empty
// Filename marks an attachment regardless of MIME type.
type Part struct {
	PartID       string
	MimeType     string
	Filename     string
	AttachmentID string
	Size         int64
	Data         string // base64url-encoded inline payload
	Children     []*Part
}

// RawMessage is the provider-shape message handed to extraction.
type RawMessage struct {
	ID           string
	ThreadID     string
	Snippet      string
	Labels       []string
	InternalDate time.Time
	Headers      []Header
	Root         *Part
}

// AttachmentDescriptor is a transient extraction result describing one
// attachment before its payload is downloaded. Small attachments arrive
// inline: Data carries the payload and AttachmentID is empty, so no
// download round-trip exists for them.
type AttachmentDescriptor struct {
	Filename     string
	MimeType     string
	Size         int64
	AttachmentID string
	PartID       string
	Data         string // base64url-encoded inline payload, if delivered inline
}

// Content is the extraction output. Optional fields stay empty here;
// defaulting happens at the persistence boundary, not during extraction.
type Content struct {
	Subject      string
	Sender       string
	Recipients   []string
	CCRecipients []string
	ReceivedAt   time.Time
	Snippet      string
	BodyText     string
	BodyHTML     string
	Attachments  []AttachmentDescriptor
}

// Extract never fails: malformed or missing fields resolve to zero values.
func Extract(m *RawMessage) Content {
	c := Content{Snippet: m.Snippet}

	for _, h := range m.Headers {
		switch {
		case strings.EqualFold(h.Name, "Subject"):
			c.Subject = h.Value
		case strings.EqualFold(h.Name, "From"):
			c.Sender = h.Value
		case strings.EqualFold(h.Name, "To"):
			c.Recipients = splitAddrs(h.Value)
		case strings.EqualFold(h.Name, "Cc"):
			c.CCRecipients = splitAddrs(h.Value)
		case strings.EqualFold(h.Name, "Date"):
			if t, err := mail.ParseDate(h.Value); err == nil {
				c.ReceivedAt = t
			}
		}
	}

	if c.ReceivedAt.IsZero() {
		if !m.InternalDate.IsZero() {
			c.ReceivedAt = m.InternalDate
		} else {
			c.ReceivedAt = time.Now()
		}
	}

	walk(m.Root, &c)
	return c
}

// walk folds the part tree into the content accumulator. Filename-bearing
// parts become attachments; text leaves set the matching body, last writer
// wins when the same MIME type appears at multiple nesting levels.
func walk(p *Part, c *Content) {
	if p == nil {
		return
	}

	if p.Filename != "" {
		c.Attachments = append(c.Attachments, AttachmentDescriptor{
			Filename:     p.Filename,
			MimeType:     p.MimeType,
			Size:         p.Size,
			AttachmentID: p.AttachmentID,
			PartID:       p.PartID,
			Data:         p.Data,
		})
	} else if p.Data != "" {
		switch p.MimeType {
		case "text/plain":
			if s, ok := decodeBody(p.Data); ok {
				c.BodyText = s
			}
		case "text/html":
			if s, ok := decodeBody(p.Data); ok {
				c.BodyHTML = s
			}
		}
	}

	for _, child := range p.Children {
		walk(child, c)
	}
}

// DecodeData decodes a base64url payload. Providers emit both padded and
// unpadded variants.
func DecodeData(data string) ([]byte, error) {
	if b, err := base64.URLEncoding.DecodeString(data); err == nil {
		return b, nil
	}
	return base64.RawURLEncoding.DecodeString(data)
}

func decodeBody(data string) (string, bool) {
	b, err := DecodeData(data)
	if err != nil {
		return "", false
	}
	return string(b), true
}

func splitAddrs(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		trimmed := strings.TrimSpace(p)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
