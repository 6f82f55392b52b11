// Package presence rotates the bot's displayed activity.
package presence

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"gitlab.com/zephyrtronium/pick"
)

// Activity is a configured activity. Name may contain placeholders which
// are replaced with live statistics; see [Expand].
type Activity struct {
	// Type is one of playing, streaming, listening, watching, competing,
	// or custom.
	Type string
	// Name is the activity text.
	Name string
	// URL is the stream URL for streaming activities.
	URL string
	// Weight is the relative frequency of the activity. Zero means 1.
	Weight int
}

// Stats is the live data available to activity placeholders.
type Stats struct {
	Servers  int
	Members  int
	Uptime   time.Duration
	Commands int64
	Messages int64
}

// Expand replaces the placeholders {servers}, {members}, {uptime}, {cmds},
// and {msgs} in s.
func Expand(s string, st Stats) string {
	r := strings.NewReplacer(
		"{servers}", strconv.Itoa(st.Servers),
		"{members}", strconv.Itoa(st.Members),
		"{uptime}", Uptime(st.Uptime),
		"{cmds}", strconv.FormatInt(st.Commands, 10),
		"{msgs}", strconv.FormatInt(st.Messages, 10),
	)
	return r.Replace(s)
}

// Uptime formats a duration the way people read it, e.g. 2d 3h 4m.
func Uptime(d time.Duration) string {
	d = d.Truncate(time.Minute)
	days := d / (24 * time.Hour)
	d -= days * 24 * time.Hour
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh %dm", days, h, m)
	case h > 0:
		return fmt.Sprintf("%dh %dm", h, m)
	default:
		return fmt.Sprintf("%dm", m)
	}
}

// Type maps an activity type name to the Discord activity type.
func Type(s string) (discordgo.ActivityType, error) {
	switch strings.ToLower(s) {
	case "playing", "game", "":
		return discordgo.ActivityTypeGame, nil
	case "streaming":
		return discordgo.ActivityTypeStreaming, nil
	case "listening":
		return discordgo.ActivityTypeListening, nil
	case "watching":
		return discordgo.ActivityTypeWatching, nil
	case "custom":
		return discordgo.ActivityTypeCustom, nil
	case "competing":
		return discordgo.ActivityTypeCompeting, nil
	}
	return 0, fmt.Errorf("unknown activity type %q", s)
}

// Rotator picks activities by weight.
type Rotator struct {
	acts []Activity
	dist *pick.Dist[string]
}

// New creates a rotator over a list of activities. It returns an error if
// any activity has an unknown type.
func New(acts []Activity) (*Rotator, error) {
	w := make(map[string]int, len(acts))
	for i, a := range acts {
		if _, err := Type(a.Type); err != nil {
			return nil, fmt.Errorf("activity %d: %w", i, err)
		}
		w[strconv.Itoa(i)] = max(a.Weight, 1)
	}
	return &Rotator{acts: acts, dist: pick.New(pick.FromMap(w))}, nil
}

// Len returns the number of activities in the rotation.
func (r *Rotator) Len() int {
	return len(r.acts)
}

// Next picks an activity and expands its placeholders.
// It returns nil if there are no activities.
func (r *Rotator) Next(st Stats) *discordgo.Activity {
	if len(r.acts) == 0 {
		return nil
	}
	i, err := strconv.Atoi(r.dist.Pick(rand.Uint32()))
	if err != nil {
		panic(err)
	}
	a := r.acts[i]
	t, _ := Type(a.Type)
	act := &discordgo.Activity{
		Name: Expand(a.Name, st),
		Type: t,
		URL:  a.URL,
	}
	if t == discordgo.ActivityTypeCustom {
		act.State = act.Name
	}
	return act
}

// Run sets a new activity every interval until ctx is canceled.
// Failures to set the activity are logged.
func (r *Rotator) Run(ctx context.Context, every time.Duration, stats func() Stats, set func(*discordgo.Activity) error) {
	if r.Len() == 0 {
		return
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		act := r.Next(stats())
		slog.DebugContext(ctx, "presence", slog.String("name", act.Name), slog.Int("type", int(act.Type)))
		if err := set(act); err != nil {
			slog.WarnContext(ctx, "couldn't set presence", slog.Any("err", err))
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}
