package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/zephyrtronium/warden/blockcache"
	"github.com/zephyrtronium/warden/blocklist"
	"github.com/zephyrtronium/warden/command"
	"github.com/zephyrtronium/warden/lockdown"
	"github.com/zephyrtronium/warden/message"
	"github.com/zephyrtronium/warden/metrics"
	"github.com/zephyrtronium/warden/presence"
	"github.com/zephyrtronium/warden/resolve"
	"github.com/zephyrtronium/warden/usage"
)

// Warden is the overall state of the admin extension.
type Warden struct {
	// robo is the state visible to commands.
	robo command.Robot
	// cache is the block cache the manager writes through.
	cache *blockcache.Set
	// devs is the set of user IDs allowed to use admin commands.
	devs map[string]bool
	// prefix is the text command prefix.
	prefix string
	// me is the bot's own identity once the gateway is ready.
	me atomic.Pointer[identity]
	// rate is the global rate limit for outgoing messages.
	rate *rate.Limiter
	// send sends a message to Discord.
	send sendFunc
	// metrics are the bot's metrics.
	metrics *metrics.Metrics
	// secrets are the bot's keys.
	secrets *keys
	// session is the Discord session. It is nil until Discord is initialized.
	session *discordgo.Session
	// resolver resolves block targets. It is nil until Discord is initialized.
	resolver *resolve.Resolver
	// rotator rotates the bot's activity. It may be nil.
	rotator *presence.Rotator
	// rotate is the interval between activity changes.
	rotate time.Duration
	// resync is the interval between block cache reconciliations.
	resync time.Duration
	// messages counts messages seen since start.
	messages atomic.Int64
	// invoked counts admin commands run since start.
	invoked atomic.Int64
	// restarts carries restart requests to Run.
	restarts chan error
}

// identity is the bot's identity on Discord.
type identity struct {
	user string
	app  string
}

type sendFunc func(channel string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)

// New creates the admin extension over a block list store and a command log.
// db is the database that raw SQL evaluation runs against.
func New(store blocklist.Store, cmds *usage.Log, db *sqlitex.Pool, devs []string, prefix string) *Warden {
	w := &Warden{
		cache:    blockcache.New(),
		devs:     make(map[string]bool, len(devs)),
		prefix:   prefix,
		rate:     rate.NewLimiter(rate.Inf, 1),
		metrics:  newMetrics(),
		resync:   10 * time.Minute,
		restarts: make(chan error, 1),
	}
	for _, d := range devs {
		w.devs[strings.TrimSpace(d)] = true
	}
	w.robo = command.Robot{
		Log:         slog.Default(),
		Blocks:      blocklist.NewManager(store, w.cache, slog.Default()),
		Usage:       cmds,
		DB:          db,
		Lockdown:    new(lockdown.State),
		Maintenance: 2 * time.Minute,
		EvalTimeout: 10 * time.Second,
		Commands:    len(devCommands),
		Started:     time.Now(),
		Invoked:     &w.invoked,
		Restart:     w.restart,
	}
	w.robo.Blocks.Mutations = w.metrics.BlockMutations
	w.robo.Blocks.Size = w.metrics.BlockListSize
	cmds.Latency = w.metrics.QueryLatency
	return w
}

// SetRate sets the global rate limit for outgoing messages.
func (w *Warden) SetRate(every float64, num int) {
	if every <= 0 || num <= 0 {
		w.rate = rate.NewLimiter(rate.Inf, 1)
		return
	}
	w.rate = rate.NewLimiter(rate.Every(fseconds(every)/time.Duration(num)), num)
}

// Load populates the block cache from the store.
func (w *Warden) Load(ctx context.Context) error {
	return w.robo.Blocks.Load(ctx)
}

// Run runs the bot until ctx is canceled or a restart is requested.
// A requested restart is reported as [lockdown.ErrRestart].
func (w *Warden) Run(ctx context.Context, listen string) error {
	rctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	group, ctx := errgroup.WithContext(rctx)
	group.Go(func() error {
		select {
		case <-ctx.Done():
		case cause := <-w.restarts:
			slog.InfoContext(ctx, "restarting", slog.Any("cause", cause))
			cancel(cause)
		}
		return nil
	})
	if w.session != nil {
		group.Go(func() error { return w.discord(ctx) })
	}
	if listen != "" {
		group.Go(func() error { return w.api(ctx, listen, new(http.ServeMux), w.metrics.Collectors()) })
	}
	group.Go(func() error { return w.robo.Blocks.Resync(ctx, w.resync) })
	if w.rotator != nil && w.session != nil {
		group.Go(func() error {
			w.rotator.Run(ctx, w.rotate, w.stats, w.setActivity)
			return nil
		})
	}
	err := group.Wait()
	if errors.Is(context.Cause(rctx), lockdown.ErrRestart) {
		return lockdown.ErrRestart
	}
	if err == context.Canceled {
		// If the first error is context canceled, then we are shutting down
		// normally in response to a sigint.
		err = nil
	}
	return err
}

// restart asks Run to stop with the given cause.
func (w *Warden) restart(cause error) {
	w.metrics.MaintenanceRestart.Observe(1)
	select {
	case w.restarts <- cause:
	default: // already restarting
	}
}

// Close releases resources held by the bot. It does not close databases.
func (w *Warden) Close() {
	if w.resolver != nil {
		w.resolver.Close()
	}
}

// userID returns the bot's user ID, or the empty string if it is not known.
func (w *Warden) userID() string {
	if id := w.me.Load(); id != nil {
		return id.user
	}
	return ""
}

// handle processes a message. It is the admission path for admin commands:
// messages from bots are ignored, blocked non-developers are dropped,
// non-developers during maintenance get the maintenance message, and
// everyone else who is not a developer gets nothing at all.
func (w *Warden) handle(ctx context.Context, m *message.Received) {
	if m.IsBot {
		return
	}
	w.messages.Add(1)
	w.metrics.MessagesCount.Observe(1)
	text, ok := parseCommand(w.prefix, w.userID(), m.Text)
	if !ok {
		return
	}
	log := slog.With(slog.String("trace", m.ID), slog.String("in", m.Guild))
	if !w.devs[m.Sender] {
		if w.robo.Blocks.Blocked(snowflake(m.Sender), snowflake(m.Guild)) {
			log.DebugContext(ctx, "blocked", slog.String("sender", m.Sender))
			w.metrics.RejectedCount.Observe(1, "blocked")
			return
		}
		if active, msg := w.robo.Lockdown.Active(); active {
			log.DebugContext(ctx, "maintenance", slog.String("sender", m.Sender))
			w.metrics.RejectedCount.Observe(1, "maintenance")
			w.sendMessage(ctx, message.Format(m.Channel, "%s", msg).AsReply(m.ID))
			return
		}
		// Admin commands don't exist for anyone else.
		return
	}
	c, args := findCommand(devCommands, text)
	if c == nil {
		return
	}
	log.InfoContext(ctx, "command",
		slog.String("name", c.name),
		slog.String("sender", m.Sender),
		slog.Any("args", args),
	)
	r := w.robo
	r.Log = log
	call := command.Invocation{
		Message: m,
		Args:    args,
		Send:    w.sendMessage,
	}
	start := time.Now()
	c.fn(ctx, &r, &call)
	d := time.Since(start)
	w.invoked.Add(1)
	w.metrics.CommandCount.Observe(1)
	w.metrics.CommandLatency.Observe(d.Seconds(), c.name)
	inv := usage.Invocation{
		Command: c.name,
		Cog:     cog,
		User:    snowflake(m.Sender),
		Guild:   snowflake(m.Guild),
		Channel: snowflake(m.Channel),
		Time:    start,
		Failed:  call.Failed(),
	}
	// Record even if the command's context ended, e.g. after a restart.
	if err := w.robo.Usage.Record(context.WithoutCancel(ctx), &inv); err != nil {
		log.ErrorContext(ctx, "couldn't record command", slog.String("name", c.name), slog.Any("err", err))
	}
}

// snowflake parses a Discord ID. Invalid and empty IDs are zero.
func snowflake(s string) uint64 {
	id, _ := strconv.ParseUint(s, 10, 64)
	return id
}

// sendMessage sends a message to Discord after waiting for the global rate
// limit. The caller should verify that it is safe to send the message.
func (w *Warden) sendMessage(ctx context.Context, msg message.Sent) {
	if err := w.rate.Wait(ctx); err != nil {
		return
	}
	data := &discordgo.MessageSend{
		Content:         msg.Text,
		AllowedMentions: &discordgo.MessageAllowedMentions{},
	}
	if msg.Reply != "" {
		data.Reference = &discordgo.MessageReference{MessageID: msg.Reply, ChannelID: msg.To}
	}
	if msg.File != nil {
		data.Files = []*discordgo.File{
			{
				Name:        msg.File.Name,
				ContentType: "text/plain",
				Reader:      strings.NewReader(msg.File.Content),
			},
		}
	}
	if _, err := w.send(msg.To, data, discordgo.WithContext(ctx)); err != nil {
		slog.ErrorContext(ctx, "couldn't send message", slog.String("to", msg.To), slog.Any("err", err))
	}
}

// stats collects live statistics for presence placeholders.
func (w *Warden) stats() presence.Stats {
	st := presence.Stats{
		Uptime:   time.Since(w.robo.Started),
		Commands: w.invoked.Load(),
		Messages: w.messages.Load(),
	}
	if w.session == nil || w.session.State == nil {
		return st
	}
	w.session.State.RLock()
	defer w.session.State.RUnlock()
	st.Servers = len(w.session.State.Guilds)
	for _, g := range w.session.State.Guilds {
		st.Members += g.MemberCount
	}
	return st
}
