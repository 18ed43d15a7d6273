package gmailclient

import (
	"context"
	"encoding/base64"
	"errors"
	"net/mail"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/felixtosh/taxtool/internal/dto"
	"github.com/felixtosh/taxtool/internal/errs"
)

// Client wraps the Gmail API for one connected account. Every call
// passes the shared limiter first, so requests from this client are
// serialized at the configured minimum interval regardless of call
// site.
type Client struct {
	svc     *gmail.Service
	account string
	limiter *rate.Limiter
}

// NewClient builds an account-scoped client. The token source is
// refresh-or-fail: a failed refresh surfaces as AuthExpiredError, never
// as a retry loop.
func NewClient(ctx context.Context, oauthCfg *oauth2.Config, account, refreshToken string, minInterval time.Duration) (*Client, error) {
	ts := oauthCfg.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	svc, err := gmail.NewService(ctx, option.WithTokenSource(ts))
	if err != nil {
		return nil, mapError(account, err)
	}
	return &Client{
		svc:     svc,
		account: account,
		limiter: rate.NewLimiter(rate.Every(minInterval), 1),
	}, nil
}

func (c *Client) Account() string { return c.account }

// SearchMessages runs a mailbox query and returns one page of message
// ids.
func (c *Client) SearchMessages(ctx context.Context, query, pageToken string) (dto.MessagePage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return dto.MessagePage{}, err
	}

	call := c.svc.Users.Messages.List("me").Q(query).MaxResults(25).Context(ctx)
	if pageToken != "" {
		call = call.PageToken(pageToken)
	}
	resp, err := call.Do()
	if err != nil {
		return dto.MessagePage{}, mapError(c.account, err)
	}

	page := dto.MessagePage{NextPageToken: resp.NextPageToken}
	for _, m := range resp.Messages {
		page.IDs = append(page.IDs, m.Id)
	}
	return page, nil
}

// GetMessage fetches the full message and flattens its MIME tree into
// body text/html plus the attachment index.
func (c *Client) GetMessage(ctx context.Context, id string) (*dto.MailMessage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	raw, err := c.svc.Users.Messages.Get("me", id).Format("full").Context(ctx).Do()
	if err != nil {
		return nil, mapError(c.account, err)
	}

	msg := &dto.MailMessage{
		ID:       raw.Id,
		ThreadID: raw.ThreadId,
		Date:     time.UnixMilli(raw.InternalDate),
	}
	if raw.Payload != nil {
		for _, h := range raw.Payload.Headers {
			switch h.Name {
			case "Subject":
				msg.Subject = h.Value
			case "From":
				msg.From = h.Value
				msg.FromDomain = senderDomain(h.Value)
			}
		}
		walkParts(raw.Payload, msg)
	}
	return msg, nil
}

// GetAttachment fetches raw attachment bytes.
func (c *Client) GetAttachment(ctx context.Context, messageID, attachmentID string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	body, err := c.svc.Users.Messages.Attachments.Get("me", messageID, attachmentID).Context(ctx).Do()
	if err != nil {
		return nil, mapError(c.account, err)
	}
	return decodeBody(body.Data)
}

// walkParts recurses through the MIME tree collecting the first
// text/plain and text/html bodies and every named attachment.
func walkParts(part *gmail.MessagePart, msg *dto.MailMessage) {
	if part == nil {
		return
	}

	if part.Filename != "" && part.Body != nil && part.Body.AttachmentId != "" {
		msg.Attachments = append(msg.Attachments, dto.MailAttachment{
			AttachmentID: part.Body.AttachmentId,
			Filename:     part.Filename,
			MimeType:     part.MimeType,
			Size:         part.Body.Size,
		})
	} else if part.Body != nil && part.Body.Data != "" {
		decoded, err := decodeBody(part.Body.Data)
		if err == nil {
			switch part.MimeType {
			case "text/plain":
				if msg.BodyText == "" {
					msg.BodyText = string(decoded)
				}
			case "text/html":
				if msg.BodyHTML == "" {
					msg.BodyHTML = string(decoded)
				}
			}
		}
	}

	for _, child := range part.Parts {
		walkParts(child, msg)
	}
}

// decodeBody handles Gmail's base64url bodies, padded or not.
func decodeBody(data string) ([]byte, error) {
	if b, err := base64.RawURLEncoding.DecodeString(data); err == nil {
		return b, nil
	}
	return base64.URLEncoding.DecodeString(data)
}

func senderDomain(from string) string {
	addr, err := mail.ParseAddress(from)
	if err != nil {
		// Fall back to a bare scan for headers like "billing@acme.com".
		if at := strings.LastIndex(from, "@"); at >= 0 {
			return strings.Trim(strings.ToLower(from[at+1:]), "> ")
		}
		return ""
	}
	if at := strings.LastIndex(addr.Address, "@"); at >= 0 {
		return strings.ToLower(addr.Address[at+1:])
	}
	return ""
}

// mapError separates the 401-equivalent "grant revoked" case from
// ordinary transient failures. Auth expiry is not retried; the caller
// flags the account for reauthorization.
func mapError(account string, err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		if gerr.Code == 401 || (gerr.Code == 403 && strings.Contains(gerr.Message, "invalid_grant")) {
			return errs.NewAuthExpiredError(account, gerr.Message)
		}
		return errs.NewExternalServiceError("gmail", gerr.Message, gerr.Code >= 500 || gerr.Code == 429)
	}

	var rerr *oauth2.RetrieveError
	if errors.As(err, &rerr) {
		return errs.NewAuthExpiredError(account, rerr.Error())
	}

	return errs.NewExternalServiceError("gmail", err.Error(), true)
}
