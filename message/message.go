package message

import (
	"fmt"
	"strings"
	"time"

	"github.com/zephyrtronium/warden/table"
)

// Received is a message received from Discord.
type Received struct {
	// ID is the unique ID of the message.
	ID string
	// Channel is the ID of the channel where the message was sent.
	Channel string
	// Guild is the ID of the guild where the message was sent.
	// It is empty for direct messages.
	Guild string
	// Sender is the user ID of the message sender.
	Sender string
	// Name is the display name of the message sender.
	Name string
	// Text is the text of the message.
	Text string
	// Timestamp is the timestamp of the message as milliseconds since the
	// Unix epoch.
	Timestamp int64
	// IsBot indicates that the sender is a bot account.
	IsBot bool
}

func (m *Received) Time() time.Time {
	return time.UnixMilli(m.Timestamp)
}

// Sent is a message to be sent to Discord.
type Sent struct {
	// Reply is a message to reply to. If empty, the message is not interpreted
	// as a reply.
	Reply string
	// To is the channel to which the message is sent.
	To string
	// Text is the message text.
	Text string
	// File is an optional attachment.
	File *table.File
}

// AsReply returns a copy of the message as a reply to the message with the
// given ID.
func (m Sent) AsReply(reply string) Sent {
	m.Reply = reply
	return m
}

// formatString is a type to prevent misuse of format strings passed to [Format].
type formatString string

// Format constructs a message to send from a format string literal and
// formatting arguments.
func Format(to string, f formatString, args ...any) Sent {
	return Sent{
		To:   to,
		Text: strings.TrimSpace(fmt.Sprintf(string(f), args...)),
	}
}

// Deliver constructs a message carrying a delivery, inline or attached.
// Text is prepended to inline content and sent alongside an attachment.
func Deliver(to, text string, d table.Delivery) Sent {
	if d.File != nil {
		return Sent{To: to, Text: text, File: d.File}
	}
	if text != "" {
		text += "\n"
	}
	return Sent{To: to, Text: text + d.Text}
}
