package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/zephyrtronium/warden/message"
	"github.com/zephyrtronium/warden/presence"
	"github.com/zephyrtronium/warden/resolve"
	"github.com/zephyrtronium/warden/tree"
	"github.com/zephyrtronium/warden/update"
)

// globalCommands is the application command tree registered on Discord.
var globalCommands = []*discordgo.ApplicationCommand{
	{
		Name:        "status",
		Description: "Show how the bot is doing",
	},
}

// InitDiscord creates the Discord session and everything that depends on it.
// The session is not opened until Run.
func (w *Warden) InitDiscord(ctx context.Context, token string, cfg DiscordCfg, up UpdateCfg, acts PresenceCfg) error {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return fmt.Errorf("failed to create Discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentGuilds | discordgo.IntentGuildMessages | discordgo.IntentDirectMessages | discordgo.IntentMessageContent
	w.session = session
	w.send = session.ChannelMessageSendComplex

	resolver, err := resolve.New(w.lookupUser, time.Hour)
	if err != nil {
		return err
	}
	w.resolver = resolver
	w.robo.Targets = resolver
	w.robo.Tree = tree.New(w.overwrite, globalCommands...)
	w.robo.Updater = &update.Updater{
		Run:    update.Exec{},
		Dir:    up.Dir,
		Repo:   up.Repo,
		Branch: up.Branch,
	}
	if cfg.Maintenance > 0 {
		w.robo.Maintenance = fseconds(cfg.Maintenance)
	}
	if cfg.EvalTimeout > 0 {
		w.robo.EvalTimeout = fseconds(cfg.EvalTimeout)
	}
	w.robo.Cogs = append(w.robo.Cogs[:0], cfg.Cogs...)
	w.SetRate(cfg.Rate.Every, cfg.Rate.Num)

	if len(acts.Activities) > 0 {
		w.rotator, err = presence.New(acts.activities())
		if err != nil {
			return fmt.Errorf("couldn't configure presence: %w", err)
		}
		w.rotate = fseconds(acts.Every)
		if w.rotate <= 0 {
			w.rotate = 10 * time.Minute
		}
	}

	session.AddHandler(func(session *discordgo.Session, event *discordgo.MessageCreate) {
		w.handle(ctx, message.FromDiscord(event))
	})
	session.AddHandler(func(session *discordgo.Session, event *discordgo.Ready) {
		w.ready(ctx, event)
	})
	session.AddHandler(func(session *discordgo.Session, event *discordgo.InteractionCreate) {
		w.interaction(ctx, session, event)
	})
	slog.InfoContext(ctx, "discord ready to connect", slog.Int("devs", len(w.devs)), slog.String("prefix", w.prefix))
	return nil
}

// discord holds the Discord gateway connection open until ctx is done.
func (w *Warden) discord(ctx context.Context) error {
	if err := w.session.Open(); err != nil {
		return fmt.Errorf("couldn't connect to Discord: %w", err)
	}
	<-ctx.Done()
	if err := w.session.Close(); err != nil {
		slog.WarnContext(ctx, "closing Discord session", slog.Any("err", err))
	}
	return nil
}

func (w *Warden) ready(ctx context.Context, event *discordgo.Ready) {
	me := identity{user: event.User.ID}
	if event.Application != nil {
		me.app = event.Application.ID
	}
	w.me.Store(&me)
	slog.InfoContext(ctx, "discord connected",
		slog.String("user", event.User.ID),
		slog.String("name", event.User.Username),
		slog.Int("guilds", len(event.Guilds)),
	)
	n, err := w.robo.Tree.Sync(ctx, "")
	if err != nil {
		slog.ErrorContext(ctx, "failed to sync commands", slog.Any("err", err))
		return
	}
	slog.InfoContext(ctx, "synced commands", slog.Int("count", n))
}

// overwrite registers application commands with Discord.
func (w *Warden) overwrite(ctx context.Context, guild string, cmds []*discordgo.ApplicationCommand) ([]*discordgo.ApplicationCommand, error) {
	me := w.me.Load()
	if me == nil || me.app == "" {
		return nil, errors.New("not connected to Discord")
	}
	return w.session.ApplicationCommandBulkOverwrite(me.app, guild, cmds, discordgo.WithContext(ctx))
}

// lookupUser checks whether an ID names a Discord user.
func (w *Warden) lookupUser(ctx context.Context, id string) error {
	_, err := w.session.User(id, discordgo.WithContext(ctx))
	var rerr *discordgo.RESTError
	if errors.As(err, &rerr) {
		if rerr.Response != nil && rerr.Response.StatusCode == http.StatusNotFound {
			return resolve.ErrNotFound
		}
		if rerr.Message != nil && rerr.Message.Code == discordgo.ErrCodeUnknownUser {
			return resolve.ErrNotFound
		}
	}
	return err
}

// setActivity sets the bot's displayed activity.
func (w *Warden) setActivity(act *discordgo.Activity) error {
	return w.session.UpdateStatusComplex(discordgo.UpdateStatusData{
		Activities: []*discordgo.Activity{act},
		Status:     string(discordgo.StatusOnline),
	})
}

func (w *Warden) interaction(ctx context.Context, session *discordgo.Session, event *discordgo.InteractionCreate) {
	if event.Type != discordgo.InteractionApplicationCommand {
		return
	}
	var user string
	switch {
	case event.Member != nil && event.Member.User != nil:
		user = event.Member.User.ID
	case event.User != nil:
		user = event.User.ID
	}
	if !w.devs[user] && w.robo.Blocks.Blocked(snowflake(user), snowflake(event.GuildID)) {
		w.metrics.RejectedCount.Observe(1, "blocked")
		return
	}
	data := event.ApplicationCommandData()
	switch data.Name {
	case "status":
		resp := &discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseChannelMessageWithSource,
			Data: &discordgo.InteractionResponseData{
				Flags:   discordgo.MessageFlagsEphemeral,
				Content: w.status(),
			},
		}
		if err := session.InteractionRespond(event.Interaction, resp, discordgo.WithContext(ctx)); err != nil {
			slog.ErrorContext(ctx, "couldn't respond to interaction", slog.String("name", data.Name), slog.Any("err", err))
		}
	}
}

// status describes the bot's state for the status command.
func (w *Warden) status() string {
	st := w.stats()
	var b strings.Builder
	fmt.Fprintf(&b, "Up %s in %d servers.\n", presence.Uptime(st.Uptime), st.Servers)
	fmt.Fprintf(&b, "%d messages seen, %d admin commands run.", st.Messages, st.Commands)
	if active, _ := w.robo.Lockdown.Active(); active {
		b.WriteString("\nMaintenance mode is on.")
	}
	return b.String()
}
