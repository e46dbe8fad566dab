// Package notify delivers SMS and e-mail messages through pluggable transports
// with bounded background retries.
package notify

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// Channel identifies a delivery medium.
type Channel string

// Channels.
const (
	SMS   Channel = "sms"
	Email Channel = "email"
)

// Meta carries message context such as type, reference and e-mail subject.
type Meta map[string]string

// ErrPermanent marks a delivery failure that retrying cannot fix.
var ErrPermanent = errors.New("permanent delivery failure")

// ErrNotConfigured is returned when a channel has no usable transport.
var ErrNotConfigured = errors.New("transport not configured")

// ErrClosed is logged for messages handed to a dispatcher after Close.
var ErrClosed = errors.New("dispatcher closed")

// Transport sends one message to one recipient.
type Transport interface {
	Send(ctx context.Context, recipient, message string, meta Meta) error
	IsConfigured() bool
}

// LogTransport writes messages to the log instead of delivering them.
// Recipients are masked and bodies are never logged.
type LogTransport struct {
	Log     *zap.Logger
	Channel Channel
}

// Send implements Transport.
func (t LogTransport) Send(_ context.Context, recipient, message string, meta Meta) error {
	to := recipient
	if t.Channel == SMS {
		to = MaskPhone(recipient)
	}
	t.Log.Info("message not delivered: log transport",
		zap.String("channel", string(t.Channel)),
		zap.String("to", to),
		zap.String("type", meta["type"]),
		zap.String("reference", meta["reference"]),
		zap.Int("length", len(message)),
	)
	return nil
}

// IsConfigured implements Transport.
func (LogTransport) IsConfigured() bool { return true }
