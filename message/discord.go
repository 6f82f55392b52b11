package message

import (
	"github.com/bwmarrin/discordgo"
)

// FromDiscord adapts a Discord message creation event.
func FromDiscord(m *discordgo.MessageCreate) *Received {
	r := Received{
		ID:        m.ID,
		Channel:   m.ChannelID,
		Guild:     m.GuildID,
		Text:      m.Content,
		Timestamp: m.Timestamp.UnixMilli(),
	}
	if m.Author != nil {
		r.Sender = m.Author.ID
		r.Name = m.Author.Username
		if m.Author.GlobalName != "" {
			r.Name = m.Author.GlobalName
		}
		r.IsBot = m.Author.Bot
	}
	if m.Member != nil && m.Member.Nick != "" {
		r.Name = m.Member.Nick
	}
	return &r
}
