package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/zephyrtronium/warden/blocklist"
	"github.com/zephyrtronium/warden/debug"
	"github.com/zephyrtronium/warden/resolve"
	"github.com/zephyrtronium/warden/table"
)

const failure = "Something went wrong. Check the logs for details."

// BlockHelp describes the block list commands.
func BlockHelp(ctx context.Context, robo *Robot, call *Invocation) {
	call.Reply(ctx, "Block list commands:\n"+
		"`bl add <user-or-id> [reason]` blocks a user or guild from using the bot.\n"+
		"`bl remove <user-or-id> [user|guild]` unblocks a user or guild.\n"+
		"`bl list` lists blocked users and guilds.\n"+
		"`bl debug <code>` runs a shell command.")
}

// describe names a block target for replies.
func describe(id uint64, kind blocklist.Kind) string {
	switch kind {
	case blocklist.User:
		return "User " + strconv.FormatUint(id, 10)
	default:
		return "Guild " + strconv.FormatUint(id, 10)
	}
}

func (robo *Robot) target(ctx context.Context, call *Invocation, arg string) (uint64, blocklist.Kind, bool) {
	t, err := robo.Targets.Target(ctx, arg)
	switch {
	case err == nil:
		id, kind := blocklist.Resolve(t)
		return id, kind, true
	case errors.Is(err, resolve.ErrMalformed):
		robo.Log.InfoContext(ctx, "malformed block target", slog.String("arg", arg), slog.Any("err", err))
		call.Fail(ctx, fmt.Sprintf("I couldn't find a user or ID matching %q.", arg))
	default:
		robo.Log.ErrorContext(ctx, "block target resolution failed", slog.String("arg", arg), slog.Any("err", err))
		call.Fail(ctx, failure)
	}
	return 0, 0, false
}

// BlockAdd blocks a user or guild.
//   - target: user mention or ID
//   - reason: optional reason
func BlockAdd(ctx context.Context, robo *Robot, call *Invocation) {
	id, kind, ok := robo.target(ctx, call, call.Args["target"])
	if !ok {
		return
	}
	item := describe(id, kind)
	err := robo.Blocks.Block(ctx, id, kind, strings.TrimSpace(call.Args["reason"]))
	switch {
	case err == nil:
		call.Reply(ctx, item+" has been blocked.")
	case errors.Is(err, blocklist.ErrAlreadyBlocked):
		robo.Log.DebugContext(ctx, "already blocked", slog.Uint64("id", id), slog.String("kind", kind.String()))
		call.Fail(ctx, item+" is already blocked.")
	default:
		robo.Log.ErrorContext(ctx, "block failed", slog.Uint64("id", id), slog.String("kind", kind.String()), slog.Any("err", err))
		call.Fail(ctx, failure)
	}
}

// BlockRemove unblocks a user or guild.
//   - target: user mention or ID
//   - kind: optional user or guild
func BlockRemove(ctx context.Context, robo *Robot, call *Invocation) {
	arg := call.Args["target"]
	t, err := robo.Targets.Target(ctx, arg)
	if err != nil {
		// Resolution failures are reported the same way as for blocking.
		robo.target(ctx, call, arg)
		return
	}
	id, _ := blocklist.Resolve(t)
	var e blocklist.Entry
	if k := call.Args["kind"]; k != "" {
		kind, perr := blocklist.ParseKind(k)
		if perr != nil {
			call.Fail(ctx, fmt.Sprintf("%q isn't a kind of block. Use user or guild.", k))
			return
		}
		e = blocklist.Entry{ID: id, Kind: kind}
		err = robo.Blocks.UnblockKind(ctx, id, kind)
	} else {
		e, err = robo.Blocks.Unblock(ctx, id)
	}
	switch {
	case err == nil:
		call.Reply(ctx, describe(e.ID, e.Kind)+" has been unblocked.")
	case errors.Is(err, blocklist.ErrNotBlocked):
		robo.Log.DebugContext(ctx, "not blocked", slog.Uint64("id", id))
		call.Fail(ctx, strconv.FormatUint(id, 10)+" is not blocked.")
	case errors.Is(err, blocklist.ErrAmbiguous):
		robo.Log.InfoContext(ctx, "ambiguous unblock", slog.Uint64("id", id))
		call.Fail(ctx, fmt.Sprintf("%d is blocked as both a user and a guild. Say which: `bl remove %[1]d user` or `bl remove %[1]d guild`.", id))
	default:
		robo.Log.ErrorContext(ctx, "unblock failed", slog.Uint64("id", id), slog.Any("err", err))
		call.Fail(ctx, failure)
	}
}

// BlockList lists the block list.
func BlockList(ctx context.Context, robo *Robot, call *Invocation) {
	l, err := robo.Blocks.Entries(ctx)
	if err != nil {
		robo.Log.ErrorContext(ctx, "block list failed", slog.Any("err", err))
		call.Fail(ctx, failure)
		return
	}
	if len(l) == 0 {
		call.Reply(ctx, "Nobody is blocked.")
		return
	}
	t := table.Table{Columns: []string{"id", "kind", "reason"}}
	for _, e := range l {
		t.Rows = append(t.Rows, []string{strconv.FormatUint(e.ID, 10), e.Kind.String(), e.Reason})
	}
	title := fmt.Sprintf("Block list (%d)", len(l))
	call.Deliver(ctx, title, table.Deliver(t.Render(), "", "blocklist.txt", table.InlineLimit))
}

// BlockDebug runs a shell command. It is for trusted operators only.
//   - code: command text, optionally fenced
func BlockDebug(ctx context.Context, robo *Robot, call *Invocation) {
	code := call.Args["code"]
	robo.Log.WarnContext(ctx, "shell evaluation", slog.String("code", code), slog.String("user", call.Message.Sender))
	out := debug.Shell(ctx, code, robo.EvalTimeout)
	call.Deliver(ctx, "", table.Deliver(out, "sh", "output.txt", table.InlineLimit))
}

// SQL runs a raw SQL statement against the command log database.
// It is for trusted operators only.
//   - query: SQL text, optionally fenced
func SQL(ctx context.Context, robo *Robot, call *Invocation) {
	q := call.Args["query"]
	robo.Log.WarnContext(ctx, "sql evaluation", slog.String("query", q), slog.String("user", call.Message.Sender))
	out := debug.SQL(ctx, robo.DB, q)
	call.Deliver(ctx, "", table.Deliver(out, "", "result.txt", table.InlineLimit))
}
