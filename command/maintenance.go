package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/zephyrtronium/warden/lockdown"
	"github.com/zephyrtronium/warden/table"
	"github.com/zephyrtronium/warden/tree"
	"github.com/zephyrtronium/warden/update"
)

// MaintenanceHelp describes the maintenance commands.
func MaintenanceHelp(ctx context.Context, robo *Robot, call *Invocation) {
	call.Reply(ctx, "Maintenance commands:\n"+
		"`botupdate on [message]` enters maintenance mode and restarts shortly after.\n"+
		"`botupdate off` leaves maintenance mode and cancels the restart.")
}

// MaintenanceOn enters maintenance mode, then restarts after a delay unless
// maintenance mode is ended first.
//   - msg: optional message to show users
func MaintenanceOn(ctx context.Context, robo *Robot, call *Invocation) {
	gen := robo.Lockdown.Begin(strings.TrimSpace(call.Args["msg"]))
	robo.Log.InfoContext(ctx, "maintenance mode on", slog.Uint64("generation", gen), slog.Duration("delay", robo.Maintenance))
	call.Reply(ctx, fmt.Sprintf("Now in maintenance mode. Restarting in %v.", robo.Maintenance))
	if !robo.Lockdown.Await(ctx, gen, robo.Maintenance) {
		if ctx.Err() != nil {
			return
		}
		call.Reply(ctx, "Lockdown mode has been cancelled.")
		return
	}
	call.Reply(ctx, "Reloading...")
	robo.Log.InfoContext(ctx, "maintenance restart", slog.Uint64("generation", gen))
	robo.Restart(lockdown.ErrRestart)
}

// MaintenanceOff leaves maintenance mode.
func MaintenanceOff(ctx context.Context, robo *Robot, call *Invocation) {
	if !robo.Lockdown.End() {
		call.Reply(ctx, "Not in maintenance mode.")
		return
	}
	robo.Log.InfoContext(ctx, "maintenance mode off")
	call.Reply(ctx, "Okay, stopped reload.")
}

// Sync syncs the application command tree.
//   - guilds: optional space-separated guild IDs
//   - spec: optional ~, *, or ^ applying to the current guild
func Sync(ctx context.Context, robo *Robot, call *Invocation) {
	if guilds := strings.Fields(call.Args["guilds"]); len(guilds) > 0 {
		n := robo.Tree.SyncGuilds(ctx, guilds)
		if n < len(guilds) {
			call.Fail(ctx, fmt.Sprintf("Synced the tree to %d/%d.", n, len(guilds)))
			return
		}
		call.Reply(ctx, fmt.Sprintf("Synced the tree to %d/%d.", n, len(guilds)))
		return
	}
	sp, ok := tree.ParseSpec(call.Args["spec"])
	if !ok {
		call.Fail(ctx, "Spec must be one of ~, *, or ^.")
		return
	}
	n, err := robo.Tree.Apply(ctx, call.Message.Guild, sp)
	if err != nil {
		robo.Log.ErrorContext(ctx, "sync failed", slog.String("spec", string(sp)), slog.Any("err", err))
		if errors.Is(err, tree.ErrNoGuild) {
			call.Fail(ctx, "There's no current guild here.")
			return
		}
		call.Fail(ctx, failure)
		return
	}
	where := "globally"
	if sp != tree.Global {
		where = "to the current guild"
	}
	call.Reply(ctx, fmt.Sprintf("Synced %d commands %s.", n, where))
}

// Update updates the bot's source checkout.
//   - mode: optional pull, reset, or force
func Update(ctx context.Context, robo *Robot, call *Invocation) {
	mode, err := update.ParseMode(call.Args["mode"])
	if err != nil {
		call.Fail(ctx, "Invalid mode. Use `update`, `update reset`, or `update force`.")
		return
	}
	log, err := robo.Updater.Update(ctx, mode)
	if err != nil {
		robo.Log.ErrorContext(ctx, "update failed", slog.String("mode", string(mode)), slog.Any("err", err))
		log += "\n" + err.Error()
		call.Fail(ctx, "Update failed.")
	}
	call.Deliver(ctx, "", table.Deliver(log, "", "update_log.txt", table.LogLimit))
}
