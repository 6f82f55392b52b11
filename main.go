package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v3"

	"github.com/zephyrtronium/warden/blockcache"
	"github.com/zephyrtronium/warden/blocklist"
	"github.com/zephyrtronium/warden/lockdown"
	"github.com/zephyrtronium/warden/metrics"
	"github.com/zephyrtronium/warden/table"
	"github.com/zephyrtronium/warden/usage"
)

// exitRestart is the exit status that asks the supervisor to restart us.
const exitRestart = 3

var app = cli.Command{
	Name:  "warden",
	Usage: "Developer administration for a Discord bot",

	Flags: []cli.Flag{
		&flagConfig,
		&flagLog,
		&flagLogFormat,
		&flagEnv,
	},
	Commands: []*cli.Command{
		{
			Name:   "run",
			Usage:  "Connect to Discord and serve",
			Action: cliRun,
		},
		{
			Name:   "init",
			Usage:  "Create database schemas and exit",
			Action: cliInit,
		},
		{
			Name:    "blocklist",
			Aliases: []string{"bl"},
			Usage:   "Edit the block list without connecting to Discord",
			Commands: []*cli.Command{
				{
					Name:      "add",
					Usage:     "Block a user or guild",
					ArgsUsage: "<id> [reason]",
					Flags: []cli.Flag{
						&cli.StringFlag{
							Name:  "kind",
							Usage: "Kind of ID, user or guild",
							Value: "user",
						},
					},
					Action: cliBlock,
				},
				{
					Name:      "remove",
					Aliases:   []string{"rm"},
					Usage:     "Unblock a user or guild",
					ArgsUsage: "<id>",
					Flags: []cli.Flag{
						&cli.StringFlag{
							Name:  "kind",
							Usage: "Kind of ID, user or guild; needed if the ID is blocked as both",
						},
					},
					Action: cliUnblock,
				},
				{
					Name:    "list",
					Aliases: []string{"ls"},
					Usage:   "List blocked users and guilds",
					Action:  cliBlockList,
				},
			},
		},
		{
			Name:   "token",
			Usage:  "Print the HTTP API bearer token",
			Action: cliToken,
		},
	},
	Action: cliRun,

	Authors: []any{
		"Branden J Brown  @zephyrtronium",
	},
	Copyright: "Copyright 2024 Branden J Brown",
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	go func() {
		<-ctx.Done()
		stop()
	}()
	err := app.Run(ctx, os.Args)
	if err != nil {
		fmt.Println(err)
		if errors.Is(err, lockdown.ErrRestart) {
			os.Exit(exitRestart)
		}
		os.Exit(1)
	}
}

// setup configures logging and loads the environment and config file.
func setup(ctx context.Context, cmd *cli.Command) (*Config, *toml.MetaData, error) {
	slog.SetDefault(loggerFromFlags(cmd))
	if err := loadEnv(cmd.StringSlice("env")...); err != nil {
		return nil, nil, err
	}
	r, err := os.Open(cmd.String("config"))
	if err != nil {
		return nil, nil, fmt.Errorf("couldn't open config file: %w", err)
	}
	defer r.Close()
	cfg, md, err := Load(ctx, r)
	if err != nil {
		return nil, nil, fmt.Errorf("couldn't load config: %w", err)
	}
	return cfg, md, nil
}

func cliRun(ctx context.Context, cmd *cli.Command) error {
	cfg, md, err := setup(ctx, cmd)
	if err != nil {
		return err
	}
	d, err := loadDBs(ctx, cfg.DB)
	if err != nil {
		return err
	}
	defer d.Close()
	store, err := d.store(ctx)
	if err != nil {
		return err
	}
	cmds, err := usage.Open(ctx, d.cmds)
	if err != nil {
		return fmt.Errorf("couldn't open command log: %w", err)
	}

	prefix := cfg.Discord.Prefix
	if !md.IsDefined("discord", "prefix") {
		prefix = "-"
	}
	w := New(store, cmds, d.cmds, cfg.Discord.Devs, prefix)
	defer w.Close()
	if md.IsDefined("blocklist", "resync") {
		w.resync = fseconds(cfg.Blocklist.Resync)
	}
	if cfg.SecretFile != "" {
		w.secrets, err = loadSecrets(cfg.SecretFile)
		if err != nil {
			return err
		}
	}
	if err := w.Load(ctx); err != nil {
		return err
	}
	if len(cfg.Discord.Devs) == 0 {
		slog.WarnContext(ctx, "no developers configured; admin commands are unreachable")
	}

	token, err := loadToken(cfg.Discord.TokenFile)
	if err != nil {
		return err
	}
	if err := w.InitDiscord(ctx, token, cfg.Discord, cfg.Update, cfg.Presence); err != nil {
		return err
	}
	return w.Run(ctx, cfg.HTTP.Listen)
}

func cliInit(ctx context.Context, cmd *cli.Command) error {
	cfg, _, err := setup(ctx, cmd)
	if err != nil {
		return err
	}
	d, err := loadDBs(ctx, cfg.DB)
	if err != nil {
		return err
	}
	defer d.Close()
	if _, err := d.store(ctx); err != nil {
		return err
	}
	if err := usage.Init(ctx, d.cmds); err != nil {
		return err
	}
	slog.InfoContext(ctx, "initialized databases")
	return nil
}

// openBlocks opens a block list manager for offline edits. A running bot
// sees the changes at its next reconciliation.
func openBlocks(ctx context.Context, cmd *cli.Command) (*blocklist.Manager, *dbs, error) {
	cfg, _, err := setup(ctx, cmd)
	if err != nil {
		return nil, nil, err
	}
	d, err := loadDBs(ctx, cfg.DB)
	if err != nil {
		return nil, nil, err
	}
	store, err := d.store(ctx)
	if err != nil {
		d.Close()
		return nil, nil, err
	}
	return blocklist.NewManager(store, blockcache.New(), slog.Default()), d, nil
}

func cliBlock(ctx context.Context, cmd *cli.Command) error {
	id, err := strconv.ParseUint(cmd.Args().First(), 10, 64)
	if err != nil || id == 0 {
		return fmt.Errorf("%q isn't an ID", cmd.Args().First())
	}
	kind, err := blocklist.ParseKind(cmd.String("kind"))
	if err != nil {
		return err
	}
	reason := strings.Join(cmd.Args().Tail(), " ")
	m, d, err := openBlocks(ctx, cmd)
	if err != nil {
		return err
	}
	defer d.Close()
	if err := m.Block(ctx, id, kind, reason); err != nil {
		return err
	}
	fmt.Printf("blocked %s %d\n", kind, id)
	return nil
}

func cliUnblock(ctx context.Context, cmd *cli.Command) error {
	id, err := strconv.ParseUint(cmd.Args().First(), 10, 64)
	if err != nil || id == 0 {
		return fmt.Errorf("%q isn't an ID", cmd.Args().First())
	}
	m, d, err := openBlocks(ctx, cmd)
	if err != nil {
		return err
	}
	defer d.Close()
	if k := cmd.String("kind"); k != "" {
		kind, err := blocklist.ParseKind(k)
		if err != nil {
			return err
		}
		if err := m.UnblockKind(ctx, id, kind); err != nil {
			return err
		}
		fmt.Printf("unblocked %s %d\n", kind, id)
		return nil
	}
	e, err := m.Unblock(ctx, id)
	if err != nil {
		return err
	}
	fmt.Printf("unblocked %s %d\n", e.Kind, e.ID)
	return nil
}

func cliBlockList(ctx context.Context, cmd *cli.Command) error {
	m, d, err := openBlocks(ctx, cmd)
	if err != nil {
		return err
	}
	defer d.Close()
	l, err := m.Entries(ctx)
	if err != nil {
		return err
	}
	t := table.Table{Columns: []string{"id", "kind", "reason"}}
	for _, e := range l {
		t.Rows = append(t.Rows, []string{strconv.FormatUint(e.ID, 10), e.Kind.String(), e.Reason})
	}
	fmt.Print(t.Render())
	return nil
}

func cliToken(ctx context.Context, cmd *cli.Command) error {
	cfg, _, err := setup(ctx, cmd)
	if err != nil {
		return err
	}
	if cfg.SecretFile == "" {
		return errors.New("no secret key configured")
	}
	k, err := loadSecrets(cfg.SecretFile)
	if err != nil {
		return err
	}
	fmt.Println(hex.EncodeToString(k.api))
	return nil
}

var (
	flagConfig = cli.StringFlag{
		Name:       "config",
		Required:   true,
		Usage:      "TOML config file",
		Persistent: true,
		Action: func(ctx context.Context, cmd *cli.Command, s string) error {
			i, err := os.Stat(s)
			if err != nil {
				return err
			}
			if !i.Mode().IsRegular() {
				return errors.New("config must be a regular file")
			}
			return nil
		},
	}

	flagLog = cli.StringFlag{
		Name:       "log",
		Usage:      "Logging level, one of debug, info, warn, error",
		Value:      "info",
		Persistent: true,
		Action: func(ctx context.Context, c *cli.Command, s string) error {
			var l slog.Level
			return l.UnmarshalText([]byte(s))
		},
	}

	flagLogFormat = cli.StringFlag{
		Name:       "log-format",
		Usage:      "Logging format, either text or json",
		Value:      "text",
		Persistent: true,
		Action: func(ctx context.Context, c *cli.Command, s string) error {
			switch strings.ToLower(s) {
			case "text", "json":
				return nil
			default:
				return errors.New("unknown logging format")
			}
		},
	}

	flagEnv = cli.StringSliceFlag{
		Name:       "env",
		Usage:      "Dotenv files to load before expanding the config",
		Persistent: true,
	}
)

func loggerFromFlags(cmd *cli.Command) *slog.Logger {
	var l slog.Level
	if err := l.UnmarshalText([]byte(cmd.String("log"))); err != nil {
		panic(err)
	}
	var h slog.Handler
	switch strings.ToLower(cmd.String("log-format")) {
	case "text":
		h = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l})
	case "json":
		h = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: l})
	}
	return slog.New(h)
}

// metrics configuration
func newMetrics() *metrics.Metrics {
	return &metrics.Metrics{
		MessagesCount: metrics.NewPromCounter(
			prometheus.NewCounter(
				prometheus.CounterOpts{
					Namespace: "warden",
					Subsystem: "discord",
					Name:      "messages",
					Help:      "Number of messages received from Discord, excluding bots.",
				},
			),
		),
		CommandCount: metrics.NewPromCounter(
			prometheus.NewCounter(
				prometheus.CounterOpts{
					Namespace: "warden",
					Subsystem: "commands",
					Name:      "invocations",
					Help:      "Number of admin command invocations.",
				},
			),
		),
		RejectedCount: metrics.NewPromCounterVec(
			prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: "warden",
					Subsystem: "discord",
					Name:      "rejected",
					Help:      "Number of commands rejected before dispatch.",
				},
				[]string{"reason"},
			),
		),
		BlockMutations: metrics.NewPromCounterVec(
			prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: "warden",
					Subsystem: "blocklist",
					Name:      "mutations",
					Help:      "Number of successful block list changes.",
				},
				[]string{"op"},
			),
		),
		QueryLatency: metrics.NewPromObserverVec(
			prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
					Namespace: "warden",
					Subsystem: "usage",
					Name:      "query_latency",
					Help:      "How long usage queries take in seconds",
				},
				[]string{"query"},
			),
		),
		CommandLatency: metrics.NewPromObserverVec(
			prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Buckets:   []float64{0.01, 0.05, 0.1, 0.2, 0.5, 1, 5, 10, 60},
					Namespace: "warden",
					Subsystem: "commands",
					Name:      "latency",
					Help:      "How long admin commands take in seconds",
				},
				[]string{"command"},
			),
		),
		BlockListSize: metrics.NewPromGaugeVec(
			prometheus.NewGaugeVec(
				prometheus.GaugeOpts{
					Namespace: "warden",
					Subsystem: "blocklist",
					Name:      "size",
					Help:      "Number of entries in the block cache.",
				},
				[]string{"kind"},
			),
		),
		MaintenanceRestart: metrics.NewPromCounter(
			prometheus.NewCounter(
				prometheus.CounterOpts{
					Namespace: "warden",
					Subsystem: "maintenance",
					Name:      "restarts",
					Help:      "Number of restarts requested by maintenance mode.",
				},
			),
		),
	}
}
