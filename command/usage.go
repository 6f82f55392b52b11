package command

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/zephyrtronium/warden/table"
	"github.com/zephyrtronium/warden/usage"
)

// defaultDays is the history window when none is given.
const defaultDays = 7

// Cmds shows the most used commands.
func Cmds(ctx context.Context, robo *Robot, call *Invocation) {
	total, t, err := robo.Usage.Top(ctx)
	if err != nil {
		robo.Log.ErrorContext(ctx, "command usage failed", slog.Any("err", err))
		call.Fail(ctx, failure)
		return
	}
	var n int64
	if robo.Invoked != nil {
		n = robo.Invoked.Load()
	}
	ipm := usage.PerMinute(n, robo.Started, time.Now())
	title := fmt.Sprintf("Command Usage (%d)", total)
	footer := fmt.Sprintf("Total Commands: %d  | Invoke rate per minute: %s", robo.Commands, usage.FormatRate(ipm))
	d := table.Deliver(t.Render(), "", "usage.txt", table.InlineLimit)
	if d.File == nil {
		d.Text += "\n" + footer
	} else {
		title += "\n" + footer
	}
	call.Deliver(ctx, title, d)
}

// tabulate sends the result of a usage query.
func tabulate(ctx context.Context, robo *Robot, call *Invocation, name string, t *table.Table, err error) {
	if err != nil {
		robo.Log.ErrorContext(ctx, "history query failed", slog.String("query", name), slog.Any("err", err))
		call.Fail(ctx, failure)
		return
	}
	call.Deliver(ctx, "", table.Deliver(t.Render(), "", name+".txt", table.InlineLimit))
}

// History shows the latest command invocations.
func History(ctx context.Context, robo *Robot, call *Invocation) {
	t, err := robo.Usage.Recent(ctx)
	tabulate(ctx, robo, call, "history", t, err)
}

// days parses an optional day count, defaulting to a week.
func days(call *Invocation) (time.Duration, bool) {
	s := call.Args["days"]
	if s == "" {
		return defaultDays * 24 * time.Hour, true
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 || n > 3650 {
		return 0, false
	}
	return time.Duration(n) * 24 * time.Hour, true
}

// HistoryFor shows per-guild usage of a command.
//   - days: optional window in days
//   - cmd: qualified command name
func HistoryFor(ctx context.Context, robo *Robot, call *Invocation) {
	d, ok := days(call)
	if !ok {
		call.Fail(ctx, "Days must be a positive number.")
		return
	}
	cmd := strings.Join(strings.Fields(call.Args["cmd"]), " ")
	t, err := robo.Usage.ForCommand(ctx, cmd, time.Now().Add(-d))
	tabulate(ctx, robo, call, "history_for", t, err)
}

func snowflake(ctx context.Context, call *Invocation, s string) (uint64, bool) {
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		call.Fail(ctx, fmt.Sprintf("%q isn't an ID.", s))
		return 0, false
	}
	return id, true
}

// HistoryGuild shows the latest invocations in a guild.
//   - id: guild ID
func HistoryGuild(ctx context.Context, robo *Robot, call *Invocation) {
	id, ok := snowflake(ctx, call, call.Args["id"])
	if !ok {
		return
	}
	t, err := robo.Usage.ForGuild(ctx, id)
	tabulate(ctx, robo, call, "history_guild", t, err)
}

// HistoryUser shows the latest invocations by a user.
//   - id: user ID
func HistoryUser(ctx context.Context, robo *Robot, call *Invocation) {
	id, ok := snowflake(ctx, call, call.Args["id"])
	if !ok {
		return
	}
	t, err := robo.Usage.ForUser(ctx, id)
	tabulate(ctx, robo, call, "history_user", t, err)
}

// HistoryCog shows usage for the commands of a cog, or usage grouped by cog
// if no cog is named.
//   - days: optional window in days
//   - cog: optional cog name
func HistoryCog(ctx context.Context, robo *Robot, call *Invocation) {
	d, ok := days(call)
	if !ok {
		call.Fail(ctx, "Days must be a positive number.")
		return
	}
	since := time.Now().Add(-d)
	cog := strings.TrimSpace(call.Args["cog"])
	if cog == "" {
		t, err := robo.Usage.ByCog(ctx, since)
		tabulate(ctx, robo, call, "history_cogs", t, err)
		return
	}
	k := slices.IndexFunc(robo.Cogs, func(c string) bool { return strings.EqualFold(c, cog) })
	if k < 0 {
		call.Fail(ctx, "Unknown cog: "+cog)
		return
	}
	t, err := robo.Usage.ForCog(ctx, robo.Cogs[k], since)
	tabulate(ctx, robo, call, "history_cog", t, err)
}
