package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/joho/godotenv"
	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/sha3"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/zephyrtronium/warden/blocklist"
	"github.com/zephyrtronium/warden/blocklist/kvblock"
	"github.com/zephyrtronium/warden/blocklist/sqlblock"
	"github.com/zephyrtronium/warden/presence"
	"github.com/zephyrtronium/warden/usage"
)

// Load loads the configuration from TOML.
func Load(ctx context.Context, r io.Reader) (*Config, *toml.MetaData, error) {
	var cfg Config
	md, err := toml.NewDecoder(r).Decode(&cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("couldn't decode config: %w", err)
	}
	expandcfg(&cfg, os.Getenv)
	return &cfg, &md, nil
}

// loadEnv loads environment variables from dotenv files, if any are named.
// Variables already set in the environment take precedence.
func loadEnv(files ...string) error {
	files = slicesNonEmpty(files)
	if len(files) == 0 {
		return nil
	}
	if err := godotenv.Load(files...); err != nil {
		return fmt.Errorf("couldn't load env file: %w", err)
	}
	return nil
}

func slicesNonEmpty(s []string) []string {
	r := s[:0]
	for _, v := range s {
		if v != "" {
			r = append(r, v)
		}
	}
	return r
}

// loadSecrets reads the secret key and derives the keys that use it.
func loadSecrets(file string) (*keys, error) {
	k, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("couldn't read secret key: %w", err)
	}
	return &keys{
		api: domainkey(make([]byte, 32), k, []byte("api.token")),
	}, nil
}

// loadToken reads the Discord bot token.
func loadToken(file string) (string, error) {
	b, err := os.ReadFile(file)
	if err != nil {
		return "", fmt.Errorf("couldn't read Discord token: %w", err)
	}
	return strings.TrimSpace(string(b)), nil
}

type keys struct {
	// api is the bearer token for the HTTP API.
	api []byte
}

// domainkey fills o with a key derived from k for the given domain. Panics if
// a key cannot be expanded.
func domainkey(o, k, domain []byte) []byte {
	kr := hkdf.Expand(sha3.New224, k, domain)
	if _, err := io.ReadFull(kr, o); err != nil {
		panic(err)
	}
	return o
}

// dbs is the set of open databases.
type dbs struct {
	// kv is the Badger block list database, if one is configured.
	kv *badger.DB
	// block is the SQLite block list database, if one is configured.
	block *sqlitex.Pool
	// cmds is the command log database.
	cmds *sqlitex.Pool
}

// Close closes all databases.
func (d *dbs) Close() error {
	var err error
	if d.kv != nil {
		err = d.kv.Close()
	}
	if d.block != nil && d.block != d.cmds {
		if e := d.block.Close(); err == nil {
			err = e
		}
	}
	if d.cmds != nil {
		if e := d.cmds.Close(); err == nil {
			err = e
		}
	}
	return err
}

// store returns the block list store over the configured database.
func (d *dbs) store(ctx context.Context) (blocklist.Store, error) {
	if d.kv != nil {
		return kvblock.New(d.kv), nil
	}
	l, err := sqlblock.Open(ctx, d.block)
	if err != nil {
		return nil, fmt.Errorf("couldn't open block list: %w", err)
	}
	return l, nil
}

func loadDBs(ctx context.Context, cfg DBCfg) (*dbs, error) {
	if cfg.KVBlocklist != "" && cfg.Blocklist != "" {
		return nil, fmt.Errorf("multiple block list backends requested; use exactly one")
	}
	if cfg.KVBlocklist == "" && cfg.Blocklist == "" {
		return nil, fmt.Errorf("no block list backends requested; use exactly one")
	}
	if cfg.Commands == "" {
		return nil, fmt.Errorf("no command log database")
	}
	var d dbs
	var err error
	if cfg.KVBlocklist != "" {
		slog.DebugContext(ctx, "using kv block list", slog.String("path", cfg.KVBlocklist), slog.String("flags", cfg.KVFlag))
		opts := badger.DefaultOptions(cfg.KVBlocklist)
		opts = opts.WithLogger(nil)
		opts = opts.WithCompression(options.None)
		d.kv, err = badger.Open(opts.FromSuperFlag(cfg.KVFlag))
		if err != nil {
			return nil, fmt.Errorf("couldn't open kv block list db: %w", err)
		}
	}

	slog.DebugContext(ctx, "command log db", slog.String("path", cfg.Commands))
	d.cmds, err = sqlitex.NewPool(cfg.Commands, sqlitex.PoolOptions{PrepareConn: usage.RecommendedPrep})
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("couldn't open command log db: %w", err)
	}

	switch cfg.Blocklist {
	case "": // kv
	case cfg.Commands:
		slog.DebugContext(ctx, "block list db shared with command log")
		d.block = d.cmds
	default:
		slog.DebugContext(ctx, "block list db", slog.String("path", cfg.Blocklist))
		d.block, err = sqlitex.NewPool(cfg.Blocklist, sqlitex.PoolOptions{})
		if err != nil {
			d.Close()
			return nil, fmt.Errorf("couldn't open block list db: %w", err)
		}
	}
	return &d, nil
}

func fseconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// Config is the marshaled structure of the configuration.
type Config struct {
	// SecretFile is the path to a file containing a secret key used to derive
	// the HTTP API bearer token.
	SecretFile string `toml:"secret"`
	// DB is the table of database connection strings.
	DB DBCfg `toml:"db"`
	// Discord is the configuration for connecting to Discord.
	Discord DiscordCfg `toml:"discord"`
	// Blocklist is the block list configuration.
	Blocklist BlocklistCfg `toml:"blocklist"`
	// Update is the configuration for pulling source updates.
	Update UpdateCfg `toml:"update"`
	// Presence is the activity rotation configuration.
	Presence PresenceCfg `toml:"presence"`
	// HTTP is the configuration for the HTTP API.
	HTTP HTTPCfg `toml:"http"`
}

// DBCfg is the configuration of databases.
type DBCfg struct {
	// Blocklist is the SQLite DSN for the block list.
	Blocklist string `toml:"blocklist"`
	// KVBlocklist is the Badger directory for the block list.
	KVBlocklist string `toml:"kvblocklist"`
	// KVFlag is Badger options in superflag format.
	KVFlag string `toml:"kvflag"`
	// Commands is the SQLite DSN for the command log.
	Commands string `toml:"commands"`
}

// DiscordCfg is the configuration for Discord.
type DiscordCfg struct {
	// TokenFile is the path to a file containing the bot token.
	TokenFile string `toml:"token"`
	// Prefix is the text command prefix.
	Prefix string `toml:"prefix"`
	// Devs is the user IDs allowed to use admin commands.
	Devs []string `toml:"devs"`
	// Cogs is the names of the bot's command modules for history by cog.
	Cogs []string `toml:"cogs"`
	// Maintenance is the delay in seconds between entering maintenance mode
	// and restarting.
	Maintenance float64 `toml:"maintenance"`
	// EvalTimeout is the time limit in seconds for shell evaluation.
	EvalTimeout float64 `toml:"eval_timeout"`
	// Rate is the global rate limit for sending messages.
	Rate Rate `toml:"rate"`
}

// BlocklistCfg is the block list configuration.
type BlocklistCfg struct {
	// Resync is the interval in seconds between cache reconciliations with
	// the store. Zero disables reconciliation.
	Resync float64 `toml:"resync"`
}

// UpdateCfg is the configuration for source updates.
type UpdateCfg struct {
	// Repo is the URL of the origin remote.
	Repo string `toml:"repo"`
	// Branch is the branch to reset to.
	Branch string `toml:"branch"`
	// Dir is the checkout directory. Empty means the working directory.
	Dir string `toml:"dir"`
}

// PresenceCfg is the activity rotation configuration.
type PresenceCfg struct {
	// Every is the interval in seconds between activity changes.
	Every float64 `toml:"every"`
	// Activities is the list of activities.
	Activities []ActivityCfg `toml:"activities"`
}

// ActivityCfg is one activity.
type ActivityCfg struct {
	Type   string `toml:"type"`
	Name   string `toml:"name"`
	URL    string `toml:"url"`
	Weight int    `toml:"weight"`
}

// HTTPCfg is the configuration for the HTTP API.
type HTTPCfg struct {
	// Listen is the address to serve on. Empty disables the API.
	Listen string `toml:"listen"`
}

// Rate is a rate limit configuration.
type Rate struct {
	Every float64 `toml:"every"`
	Num   int     `toml:"num"`
}

// activities converts configured activities.
func (p *PresenceCfg) activities() []presence.Activity {
	r := make([]presence.Activity, len(p.Activities))
	for i, a := range p.Activities {
		r[i] = presence.Activity{Type: a.Type, Name: a.Name, URL: a.URL, Weight: a.Weight}
	}
	return r
}

func expandcfg(cfg *Config, expand func(s string) string) {
	fields := []*string{
		&cfg.SecretFile,
		&cfg.DB.Blocklist,
		&cfg.DB.KVBlocklist,
		&cfg.DB.KVFlag,
		&cfg.DB.Commands,
		&cfg.Discord.TokenFile,
		&cfg.Discord.Prefix,
		&cfg.Update.Repo,
		&cfg.Update.Branch,
		&cfg.Update.Dir,
		&cfg.HTTP.Listen,
	}
	for _, f := range fields {
		*f = os.Expand(*f, expand)
	}
	for i, s := range cfg.Discord.Devs {
		cfg.Discord.Devs[i] = os.Expand(s, expand)
	}
}
