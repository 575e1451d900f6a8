// Package messaging implements the send path: validate, write to the durable
// queue, then fan out to the recipient.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/murmur/internal/models"
)

const (
	MaxContentLength     = 4096
	maxContentTypeLength = 32
)

var ErrInvalidMessage = errors.New("invalid message")

// Queue is the write side of the durable queue.
type Queue interface {
	Enqueue(ctx context.Context, msg *models.Message) (string, error)
}

// Deliverer fans an event out to a user's live connections.
type Deliverer interface {
	Deliver(ctx context.Context, userID int64, event models.Event) error
}

// Pipeline accepts chat messages.
type Pipeline struct {
	queue  Queue
	fanout Deliverer
	logger zerolog.Logger
}

// NewPipeline creates a send pipeline.
func NewPipeline(queue Queue, fanout Deliverer, logger zerolog.Logger) *Pipeline {
	return &Pipeline{
		queue:  queue,
		fanout: fanout,
		logger: logger.With().Str("component", "pipeline").Logger(),
	}
}

// Send sanitizes, validates and enqueues a message, then delivers it to the
// recipient.
// The queue write must succeed before fan-out is attempted; a fan-out failure
// is logged and not returned because the message is already safe in the queue.
func (p *Pipeline) Send(ctx context.Context, senderID, receiverID int64, content, contentType string) (*models.Message, error) {
	content = Sanitize(content)
	if err := Validate(senderID, receiverID, content, contentType); err != nil {
		return nil, err
	}

	msg := &models.Message{
		SenderID:    senderID,
		ReceiverID:  receiverID,
		Content:     content,
		ContentType: contentType,
	}
	if _, err := p.queue.Enqueue(ctx, msg); err != nil {
		return nil, fmt.Errorf("enqueue: %w", err)
	}

	if err := p.fanout.Deliver(ctx, receiverID, models.ChatMessageEvent(msg)); err != nil {
		p.logger.Warn().
			Err(err).
			Str("uid", msg.UID).
			Int64("receiver_id", receiverID).
			Msg("fan-out failed, message remains queued")
	}
	return msg, nil
}

// Validate checks a send request.
func Validate(senderID, receiverID int64, content, contentType string) error {
	switch {
	case senderID <= 0:
		return fmt.Errorf("%w: missing sender", ErrInvalidMessage)
	case receiverID <= 0:
		return fmt.Errorf("%w: friend_id must be a positive integer", ErrInvalidMessage)
	case senderID == receiverID:
		return fmt.Errorf("%w: cannot message yourself", ErrInvalidMessage)
	case strings.TrimSpace(content) == "":
		return fmt.Errorf("%w: content is required", ErrInvalidMessage)
	case len(content) > MaxContentLength:
		return fmt.Errorf("%w: content too long (max %d bytes)", ErrInvalidMessage, MaxContentLength)
	case len(contentType) > maxContentTypeLength:
		return fmt.Errorf("%w: content_type too long", ErrInvalidMessage)
	}
	return nil
}

// Sanitize strips control characters other than newlines and tabs.
func Sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
}
