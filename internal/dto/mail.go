package dto

import (
	"strings"
	"time"
)

// ConnectMailAccountRequest carries the authorization code from the
// Google consent redirect plus the address the user granted access to.
type ConnectMailAccountRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

// MessagePage is one page of mailbox search results.
type MessagePage struct {
	IDs           []string
	NextPageToken string
}

// MailMessage is a fully fetched message with its MIME tree flattened
// into body text/html and the attachment index.
type MailMessage struct {
	ID          string
	ThreadID    string
	Subject     string
	From        string
	FromDomain  string
	Date        time.Time
	BodyText    string
	BodyHTML    string
	Attachments []MailAttachment
}

// MailAttachment references an attachment body that can be fetched
// separately by (messageID, AttachmentID).
type MailAttachment struct {
	AttachmentID string
	Filename     string
	MimeType     string
	Size         int64
}

// IsPDF reports whether the attachment is a PDF by MIME type or
// filename extension (some senders report octet-stream).
func (a MailAttachment) IsPDF() bool {
	if a.MimeType == "application/pdf" {
		return true
	}
	return hasSuffixFold(a.Filename, ".pdf")
}

// IsImage reports whether the attachment is a receipt-like image.
func (a MailAttachment) IsImage() bool {
	switch a.MimeType {
	case "image/jpeg", "image/png", "image/webp", "image/heic":
		return true
	}
	return hasSuffixFold(a.Filename, ".jpg") || hasSuffixFold(a.Filename, ".jpeg") ||
		hasSuffixFold(a.Filename, ".png")
}

func hasSuffixFold(s, suffix string) bool {
	return len(s) >= len(suffix) && strings.EqualFold(s[len(s)-len(suffix):], suffix)
}
