// Package tree manages the bot's application command tree, the global and
// per-guild sets of slash commands registered with Discord.
package tree

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/bwmarrin/discordgo"
)

// Overwrite replaces the registered commands for a guild, or the global
// commands if guild is empty, and returns the registered result.
// Normally it wraps [discordgo.Session.ApplicationCommandBulkOverwrite].
type Overwrite func(ctx context.Context, guild string, cmds []*discordgo.ApplicationCommand) ([]*discordgo.ApplicationCommand, error)

// Spec selects how a sync applies to the current guild.
type Spec string

const (
	// Global syncs the global command set.
	Global Spec = ""
	// Current syncs the current guild's command set.
	Current Spec = "~"
	// CopyGlobal copies the global commands into the current guild's set,
	// then syncs the guild.
	CopyGlobal Spec = "*"
	// Clear removes all commands from the current guild's set, then syncs
	// the guild.
	Clear Spec = "^"
)

// ParseSpec parses a sync spec. The empty string is [Global].
func ParseSpec(s string) (Spec, bool) {
	switch sp := Spec(s); sp {
	case Global, Current, CopyGlobal, Clear:
		return sp, true
	}
	return "", false
}

// ErrNoGuild is returned when a guild-scoped sync has no guild.
var ErrNoGuild = errors.New("no guild to sync")

// Tree is an application command tree.
type Tree struct {
	mu     sync.Mutex
	global []*discordgo.ApplicationCommand
	guilds map[string][]*discordgo.ApplicationCommand
	write  Overwrite
}

// New creates a command tree with the given global commands.
func New(write Overwrite, global ...*discordgo.ApplicationCommand) *Tree {
	return &Tree{
		global: global,
		guilds: make(map[string][]*discordgo.ApplicationCommand),
		write:  write,
	}
}

// AddGuild adds commands to a guild's set.
func (t *Tree) AddGuild(guild string, cmds ...*discordgo.ApplicationCommand) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.guilds[guild] = append(t.guilds[guild], cmds...)
}

// Commands returns the command set for a guild, or the global set if guild
// is empty.
func (t *Tree) Commands(guild string) []*discordgo.ApplicationCommand {
	t.mu.Lock()
	defer t.mu.Unlock()
	if guild == "" {
		return slices.Clone(t.global)
	}
	return slices.Clone(t.guilds[guild])
}

// Sync registers the command set for a guild, or the global set if guild is
// empty. It returns the number of commands registered.
func (t *Tree) Sync(ctx context.Context, guild string) (int, error) {
	cmds := t.Commands(guild)
	if cmds == nil {
		// Discord needs an empty list rather than null to clear.
		cmds = []*discordgo.ApplicationCommand{}
	}
	r, err := t.write(ctx, guild, cmds)
	if err != nil {
		return 0, fmt.Errorf("couldn't sync commands for guild %q: %w", guild, err)
	}
	return len(r), nil
}

// Apply performs a sync by spec. guild is the current guild, which must be
// non-empty unless sp is [Global]. It returns the number of commands that
// are registered afterward.
func (t *Tree) Apply(ctx context.Context, guild string, sp Spec) (int, error) {
	if sp == Global {
		return t.Sync(ctx, "")
	}
	if guild == "" {
		return 0, ErrNoGuild
	}
	switch sp {
	case CopyGlobal:
		t.mu.Lock()
		t.guilds[guild] = slices.Clone(t.global)
		t.mu.Unlock()
	case Clear:
		t.mu.Lock()
		delete(t.guilds, guild)
		t.mu.Unlock()
		if _, err := t.Sync(ctx, guild); err != nil {
			return 0, err
		}
		return 0, nil
	}
	return t.Sync(ctx, guild)
}

// SyncGuilds syncs each of a list of guilds and returns the number that
// synced successfully. Failures are logged, not returned.
func (t *Tree) SyncGuilds(ctx context.Context, guilds []string) int {
	n := 0
	for _, g := range guilds {
		if _, err := t.Sync(ctx, g); err != nil {
			slog.WarnContext(ctx, "guild sync failed", slog.String("guild", g), slog.Any("err", err))
			continue
		}
		n++
	}
	return n
}
