// Package channels provides outbound notification connectors: chat-style
// messaging (Telegram), relay mail (SMTP), and stdout for debugging.
//
// The engine is transport-agnostic: it hands rendered alert text to the
// Router, which fans out to every enabled channel, chunking oversized
// messages along line boundaries and retrying transient failures per chunk.
// Channels operate independently — one channel failing never blocks or
// fails another.
//
//	r := channels.NewRouter(channels.WithLogger(logger))
//	r.RegisterKind("telegram", channels.TelegramFactory())
//	r.RegisterKind("mail", channels.MailFactory())
//	go r.Watch(ctx, db, time.Second)
//
// The channels table in SQLite decides which connectors are active. Change
// it at runtime and the Router picks up the new config — zero downtime.
package channels

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Channel is one outbound notification transport.
type Channel interface {
	// Name is the channel's identifier in the channels table.
	Name() string

	// Kind is the transport kind ("telegram", "mail", "stdout").
	Kind() string

	// MaxMessageLength is the transport's message size limit in bytes.
	// Zero or negative means unlimited (no chunking).
	MaxMessageLength() int

	// SendChunk delivers one chunk of text. Errors should be *SendError
	// so the router can classify them as transient or permanent.
	SendChunk(ctx context.Context, text string) error
}

// Factory creates a Channel from a name and its JSON config column.
type Factory func(name string, config json.RawMessage) (Channel, error)

// SendError is a delivery failure with its retry classification. Transient
// errors (timeouts, rate limits, 5xx) are retried up to the router's bound;
// permanent errors (bad token, rejected recipient) fail immediately.
type SendError struct {
	Channel   string
	Kind      string
	Transient bool
	Cause     error
}

func (e *SendError) Error() string {
	class := "permanent"
	if e.Transient {
		class = "transient"
	}
	return fmt.Sprintf("channels: send failed on %s (%s, %s): %v", e.Channel, e.Kind, class, e.Cause)
}

func (e *SendError) Unwrap() error { return e.Cause }

// IsTransient reports whether err is a delivery failure worth retrying.
// Errors that are not *SendError are treated as permanent.
func IsTransient(err error) bool {
	var se *SendError
	return errors.As(err, &se) && se.Transient
}
