package command

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/zephyrtronium/warden/blocklist"
	"github.com/zephyrtronium/warden/lockdown"
	"github.com/zephyrtronium/warden/tree"
	"github.com/zephyrtronium/warden/update"
	"github.com/zephyrtronium/warden/usage"
)

// Robot is the bot state as is visible to commands.
type Robot struct {
	Log *slog.Logger
	// Blocks is the block list.
	Blocks *blocklist.Manager
	// Targets resolves identifiers for block list commands.
	Targets Targeter
	// Usage is the command log.
	Usage *usage.Log
	// DB is the database that raw SQL evaluation runs against.
	DB *sqlitex.Pool
	// Lockdown is the maintenance mode state.
	Lockdown *lockdown.State
	// Maintenance is how long a lockdown waits before restarting.
	Maintenance time.Duration
	// Restart requests a process restart.
	Restart func(cause error)
	// Tree is the application command tree.
	Tree *tree.Tree
	// Updater updates the bot's source checkout.
	Updater *update.Updater
	// EvalTimeout bounds shell evaluation.
	EvalTimeout time.Duration
	// Cogs is the names of the bot's command modules.
	Cogs []string
	// Commands is the number of registered commands.
	Commands int
	// Started is the time the bot started.
	Started time.Time
	// Invoked counts commands run since start.
	Invoked *atomic.Int64
}

// Targeter resolves administrator arguments to block list targets.
type Targeter interface {
	Target(ctx context.Context, arg string) (blocklist.Target, error)
}
