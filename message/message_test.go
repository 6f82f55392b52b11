package message_test

import (
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/google/go-cmp/cmp"

	"github.com/zephyrtronium/warden/message"
	"github.com/zephyrtronium/warden/table"
)

func TestFromDiscord(t *testing.T) {
	ts := time.Date(2024, time.March, 5, 13, 4, 5, 0, time.UTC)
	cases := []struct {
		name string
		in   *discordgo.MessageCreate
		want *message.Received
	}{
		{
			name: "guild",
			in: &discordgo.MessageCreate{Message: &discordgo.Message{
				ID:        "1",
				ChannelID: "2",
				GuildID:   "3",
				Content:   "-bl list",
				Timestamp: ts,
				Author:    &discordgo.User{ID: "4", Username: "bocchi", GlobalName: "Bocchi"},
				Member:    &discordgo.Member{Nick: "Hitori"},
			}},
			want: &message.Received{
				ID:        "1",
				Channel:   "2",
				Guild:     "3",
				Sender:    "4",
				Name:      "Hitori",
				Text:      "-bl list",
				Timestamp: ts.UnixMilli(),
			},
		},
		{
			name: "direct",
			in: &discordgo.MessageCreate{Message: &discordgo.Message{
				ID:        "1",
				ChannelID: "2",
				Content:   "hi",
				Timestamp: ts,
				Author:    &discordgo.User{ID: "4", Username: "nijika", Bot: true},
			}},
			want: &message.Received{
				ID:        "1",
				Channel:   "2",
				Sender:    "4",
				Name:      "nijika",
				Text:      "hi",
				Timestamp: ts.UnixMilli(),
				IsBot:     true,
			},
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := message.FromDiscord(c.in)
			if diff := cmp.Diff(c.want, got); diff != "" {
				t.Errorf("wrong message (+got/-want):\n%s", diff)
			}
			if !got.Time().Equal(ts) {
				t.Errorf("wrong time: want %v, got %v", ts, got.Time())
			}
		})
	}
}

func TestDeliver(t *testing.T) {
	inline := message.Deliver("2", "Command Usage (6)", table.Deliver("tab", "", "x.txt", 10))
	want := message.Sent{To: "2", Text: "Command Usage (6)\n```\ntab```"}
	if diff := cmp.Diff(want, inline); diff != "" {
		t.Errorf("wrong inline message (+got/-want):\n%s", diff)
	}
	file := message.Deliver("2", "", table.Deliver("long table", "", "x.txt", 4))
	want = message.Sent{To: "2", File: &table.File{Name: "x.txt", Content: "long table"}}
	if diff := cmp.Diff(want, file); diff != "" {
		t.Errorf("wrong file message (+got/-want):\n%s", diff)
	}
}
