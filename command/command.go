package command

import (
	"context"
	"sync/atomic"

	"github.com/zephyrtronium/warden/message"
	"github.com/zephyrtronium/warden/table"
)

// Invocation is a command invocation. An Invocation and its fields must not
// be retained by any command.
type Invocation struct {
	// Message is the message which triggered the invocation. It is always
	// non-nil, but not all fields are guaranteed to be populated.
	Message *message.Received
	// Args is the parsed arguments to the command.
	Args map[string]string
	// Send sends a message.
	Send func(ctx context.Context, msg message.Sent)

	failed atomic.Bool
}

// Func executes a command.
type Func func(ctx context.Context, robo *Robot, call *Invocation)

// Reply sends text in reply to the invoking message.
func (call *Invocation) Reply(ctx context.Context, text string) {
	msg := message.Sent{To: call.Message.Channel, Text: text}
	call.Send(ctx, msg.AsReply(call.Message.ID))
}

// Fail replies with text and marks the invocation as failed.
func (call *Invocation) Fail(ctx context.Context, text string) {
	call.failed.Store(true)
	call.Reply(ctx, text)
}

// Deliver replies with content inline or as an attachment.
func (call *Invocation) Deliver(ctx context.Context, text string, d table.Delivery) {
	msg := message.Deliver(call.Message.Channel, text, d)
	call.Send(ctx, msg.AsReply(call.Message.ID))
}

// Failed reports whether the command marked the invocation as failed.
func (call *Invocation) Failed() bool {
	return call.failed.Load()
}
