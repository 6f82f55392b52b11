package table

import (
	"unicode/utf8"
)

const (
	// InlineLimit is the most characters of rendered content that are sent
	// as an inline message.
	InlineLimit = 1900
	// LogLimit is the inline limit for update logs.
	LogLimit = 1800
)

// Delivery is content to send to a chat, either inline or as an attachment.
// Exactly one of Text and File is set.
type Delivery struct {
	// Text is inline message text, already fenced as a code block.
	Text string
	// File is an attachment.
	File *File
}

// File is a text attachment.
type File struct {
	Name    string
	Content string
}

// Deliver decides how to send content. Content of at most limit characters
// is fenced as a code block with the given language tag, which may be empty.
// Longer content becomes a file with the given name.
func Deliver(content, lang, name string, limit int) Delivery {
	if utf8.RuneCountInString(content) > limit {
		return Delivery{File: &File{Name: name, Content: content}}
	}
	return Delivery{Text: "```" + lang + "\n" + content + "```"}
}
