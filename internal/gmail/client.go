// Package gmail wraps the Gmail API behind the two operations the retrieval
// pipeline needs: searching for messages with attachments and fetching
// attachment bodies. Every provider call is rate limited and retried.
package gmail

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"
	"time"

	gmailapi "google.golang.org/api/gmail/v1"

	"github.com/livinlefevreloca/payfetch/internal/ratelimit"
	"github.com/livinlefevreloca/payfetch/internal/retry"
)

const gmailUser = "me"

// Attachment identifies one downloadable attachment on a message
type Attachment struct {
	ID       string
	Filename string
	Size     int64
}

// Message is a search hit carrying its attachment inventory
type Message struct {
	ID          string
	From        string
	Subject     string
	Date        time.Time
	Attachments []Attachment
}

// Query describes one schedule's search criteria
type Query struct {
	Sender          string
	SubjectKeywords string
	Since           time.Time
	Until           time.Time
}

// String renders the query in Gmail search syntax. Only messages carrying
// attachments are ever interesting, so has:attachment is always present.
func (q Query) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "from:%s has:attachment", q.Sender)
	fmt.Fprintf(&b, " after:%d", q.Since.Unix())
	fmt.Fprintf(&b, " before:%d", q.Until.Unix())
	if q.SubjectKeywords != "" {
		fmt.Fprintf(&b, " subject:%q", q.SubjectKeywords)
	}
	return b.String()
}

// Client executes searches and downloads against a Gmail service
type Client struct {
	svc     *gmailapi.Service
	limiter *ratelimit.Limiter
	policy  retry.Policy
	logger  *slog.Logger
}

// NewClient wraps an authenticated service with throttling and retries.
// The retry classifier is fixed to the provider's failure classes.
func NewClient(svc *gmailapi.Service, limiter *ratelimit.Limiter, retryCfg retry.Config, logger *slog.Logger) *Client {
	return &Client{
		svc:     svc,
		limiter: limiter,
		policy:  retry.NewPolicy(retryCfg, Retryable),
		logger:  logger,
	}
}

// Search returns all messages matching the query, pages drained completely.
// Hits without downloadable attachments are dropped.
func (c *Client) Search(ctx context.Context, q Query) ([]Message, error) {
	query := q.String()
	c.logger.Debug("searching messages", "query", query)

	ids, err := c.listMessageIDs(ctx, query)
	if err != nil {
		return nil, err
	}

	messages := make([]Message, 0, len(ids))
	for _, id := range ids {
		msg, err := c.getMessage(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("get message %s: %w", id, err)
		}
		if len(msg.Attachments) == 0 {
			continue
		}
		messages = append(messages, *msg)
	}

	c.logger.Info("search complete",
		"matches", len(ids),
		"with_attachments", len(messages))

	return messages, nil
}

// listMessageIDs follows NextPageToken until the result set is exhausted
func (c *Client) listMessageIDs(ctx context.Context, query string) ([]string, error) {
	var ids []string
	pageToken := ""

	for {
		if err := c.limiter.Acquire(ctx, ratelimit.Search); err != nil {
			return nil, err
		}

		var resp *gmailapi.ListMessagesResponse
		err := c.policy.Do(ctx, "list messages", func() error {
			call := c.svc.Users.Messages.List(gmailUser).Q(query).Context(ctx)
			if pageToken != "" {
				call = call.PageToken(pageToken)
			}
			var apiErr error
			resp, apiErr = call.Do()
			return classify(apiErr)
		})
		if err != nil {
			return nil, fmt.Errorf("list messages: %w", err)
		}

		for _, m := range resp.Messages {
			ids = append(ids, m.Id)
		}

		pageToken = resp.NextPageToken
		if pageToken == "" {
			return ids, nil
		}
	}
}

// getMessage expands a search hit into headers and attachment inventory
func (c *Client) getMessage(ctx context.Context, id string) (*Message, error) {
	if err := c.limiter.Acquire(ctx, ratelimit.Search); err != nil {
		return nil, err
	}

	var raw *gmailapi.Message
	err := c.policy.Do(ctx, "get message", func() error {
		var apiErr error
		raw, apiErr = c.svc.Users.Messages.Get(gmailUser, id).Format("full").Context(ctx).Do()
		return classify(apiErr)
	})
	if err != nil {
		return nil, err
	}

	msg := &Message{
		ID:   raw.Id,
		Date: time.Unix(raw.InternalDate/1000, 0).UTC(),
	}

	if raw.Payload != nil {
		for _, h := range raw.Payload.Headers {
			switch h.Name {
			case "From":
				msg.From = h.Value
			case "Subject":
				msg.Subject = h.Value
			}
		}
		msg.Attachments = collectAttachments(raw.Payload, nil)
	}

	return msg, nil
}

// collectAttachments walks the MIME part tree. Attachments can nest inside
// multipart containers at any depth.
func collectAttachments(part *gmailapi.MessagePart, acc []Attachment) []Attachment {
	if part.Filename != "" && part.Body != nil && part.Body.AttachmentId != "" {
		acc = append(acc, Attachment{
			ID:       part.Body.AttachmentId,
			Filename: part.Filename,
			Size:     part.Body.Size,
		})
	}
	for _, child := range part.Parts {
		acc = collectAttachments(child, acc)
	}
	return acc
}

// FetchAttachment downloads and decodes one attachment body
func (c *Client) FetchAttachment(ctx context.Context, messageID, attachmentID string) ([]byte, error) {
	if err := c.limiter.Acquire(ctx, ratelimit.Download); err != nil {
		return nil, err
	}

	var body *gmailapi.MessagePartBody
	err := c.policy.Do(ctx, "fetch attachment", func() error {
		var apiErr error
		body, apiErr = c.svc.Users.Messages.Attachments.Get(gmailUser, messageID, attachmentID).Context(ctx).Do()
		return classify(apiErr)
	})
	if err != nil {
		return nil, fmt.Errorf("fetch attachment %s/%s: %w", messageID, attachmentID, err)
	}

	data, err := base64.URLEncoding.WithPadding(base64.NoPadding).DecodeString(strings.TrimRight(body.Data, "="))
	if err != nil {
		return nil, fmt.Errorf("decode attachment %s/%s: %w", messageID, attachmentID, err)
	}

	c.logger.Debug("fetched attachment",
		"message_id", messageID,
		"attachment_id", attachmentID,
		"bytes", len(data))

	return data, nil
}
