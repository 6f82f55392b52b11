// Package usage records command invocations and answers fixed aggregate
// queries over them.
package usage

import (
	"context"
	_ "embed"
	"fmt"
	"strconv"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/zephyrtronium/warden/metrics"
	"github.com/zephyrtronium/warden/table"
)

// Invocation is one execution of a command.
type Invocation struct {
	// Command is the qualified name of the command, e.g. "bl add".
	Command string
	// Cog is the name of the module the command belongs to.
	Cog string
	// User is the ID of the invoking user.
	User uint64
	// Guild is the ID of the guild where the command was used,
	// or 0 for direct messages.
	Guild uint64
	// Channel is the ID of the channel where the command was used.
	Channel uint64
	// Time is the time the command was used.
	Time time.Time
	// Failed indicates that the command reported a failure.
	Failed bool
}

// Log is the command invocation log in an SQL database.
type Log struct {
	db *sqlitex.Pool

	// Latency observes query durations in seconds, labelled by query name.
	// It may be nil.
	Latency metrics.Observer
}

// Open opens the command log in an SQL database, creating it if needed.
// The db must remain open for the lifetime of the log.
func Open(ctx context.Context, db *sqlitex.Pool) (*Log, error) {
	if err := Init(ctx, db); err != nil {
		return nil, err
	}
	return &Log{db: db}, nil
}

//go:embed schema.sql
var schemaSQL string

// Init initializes the command log schema in an SQL database.
// For convenience, it accepts either a single connection or a pool.
func Init[DB *sqlite.Conn | *sqlitex.Pool](ctx context.Context, db DB) error {
	var conn *sqlite.Conn
	switch db := any(db).(type) {
	case *sqlite.Conn:
		conn = db
	case *sqlitex.Pool:
		var err error
		conn, err = db.Take(ctx)
		defer db.Put(conn)
		if err != nil {
			return fmt.Errorf("couldn't get connection from pool: %w", err)
		}
	}
	if err := sqlitex.ExecuteScript(conn, schemaSQL, nil); err != nil {
		return fmt.Errorf("couldn't initialize command log schema: %w", err)
	}
	return nil
}

// Record appends an invocation to the log.
func (l *Log) Record(ctx context.Context, inv *Invocation) error {
	conn, err := l.db.Take(ctx)
	defer l.db.Put(conn)
	if err != nil {
		return fmt.Errorf("couldn't get connection to record command: %w", err)
	}
	var guild any
	if inv.Guild != 0 {
		guild = int64(inv.Guild)
	}
	const insert = `INSERT INTO commands (cmd, cog, user_id, guild_id, channel_id, used_at, failed) VALUES (?, ?, ?, ?, ?, ?, ?)`
	opts := sqlitex.ExecOptions{
		Args: []any{
			inv.Command,
			inv.Cog,
			int64(inv.User),
			guild,
			int64(inv.Channel),
			inv.Time.UnixMilli(),
			inv.Failed,
		},
	}
	if err := sqlitex.Execute(conn, insert, &opts); err != nil {
		return fmt.Errorf("couldn't record command: %w", err)
	}
	return nil
}

// Stamp is the layout of times in rendered tables.
const Stamp = "Jan 02 03:04:05 PM"

// column formats one result column of a query.
type column struct {
	name   string
	format func(st *sqlite.Stmt, i int) string
}

func text(name string) column { return column{name, colText} }
func stamp(name string) column { return column{name, colStamp} }

func colText(st *sqlite.Stmt, i int) string {
	if st.ColumnType(i) == sqlite.TypeNull {
		return ""
	}
	return st.ColumnText(i)
}

func colStamp(st *sqlite.Stmt, i int) string {
	if st.ColumnType(i) == sqlite.TypeNull {
		return ""
	}
	return time.UnixMilli(st.ColumnInt64(i)).UTC().Format(Stamp)
}

// query is a fixed query template. Its SQL is a constant; every caller value
// is bound by position.
type query struct {
	name    string
	sql     string
	columns []column
	// limit is the row cap, bound as the final parameter.
	limit int
}

// run executes q with args followed by q's limit.
func (l *Log) run(ctx context.Context, q *query, args ...any) (*table.Table, error) {
	start := time.Now()
	conn, err := l.db.Take(ctx)
	defer l.db.Put(conn)
	if err != nil {
		return nil, fmt.Errorf("couldn't get connection for %s query: %w", q.name, err)
	}
	t := &table.Table{Columns: make([]string, len(q.columns))}
	for i, c := range q.columns {
		t.Columns[i] = c.name
	}
	opts := sqlitex.ExecOptions{
		Args: append(args, q.limit),
		ResultFunc: func(st *sqlite.Stmt) error {
			r := make([]string, len(q.columns))
			for i, c := range q.columns {
				r[i] = c.format(st, i)
			}
			t.Rows = append(t.Rows, r)
			return nil
		},
	}
	if err := sqlitex.Execute(conn, q.sql, &opts); err != nil {
		return nil, fmt.Errorf("couldn't run %s query: %w", q.name, err)
	}
	if l.Latency != nil {
		l.Latency.Observe(time.Since(start).Seconds(), q.name)
	}
	return t, nil
}

var topQuery = query{
	name:  "top",
	sql:   `SELECT cmd, COUNT(*) AS uses FROM commands GROUP BY cmd ORDER BY uses DESC, cmd LIMIT ?`,
	limit: 15,
}

// Count is the number of recorded invocations of one command.
type Count struct {
	Command string
	N       int64
}

// Counts returns the most used commands, most used first.
func (l *Log) Counts(ctx context.Context) ([]Count, error) {
	start := time.Now()
	conn, err := l.db.Take(ctx)
	defer l.db.Put(conn)
	if err != nil {
		return nil, fmt.Errorf("couldn't get connection for %s query: %w", topQuery.name, err)
	}
	var r []Count
	opts := sqlitex.ExecOptions{
		Args: []any{topQuery.limit},
		ResultFunc: func(st *sqlite.Stmt) error {
			r = append(r, Count{Command: st.ColumnText(0), N: st.ColumnInt64(1)})
			return nil
		},
	}
	if err := sqlitex.Execute(conn, topQuery.sql, &opts); err != nil {
		return nil, fmt.Errorf("couldn't run %s query: %w", topQuery.name, err)
	}
	if l.Latency != nil {
		l.Latency.Observe(time.Since(start).Seconds(), topQuery.name)
	}
	return r, nil
}

// Top returns the most used commands with their invocation counts, along with
// the total number of recorded invocations.
func (l *Log) Top(ctx context.Context) (int64, *table.Table, error) {
	counts, err := l.Counts(ctx)
	if err != nil {
		return 0, nil, err
	}
	total, err := l.Total(ctx)
	if err != nil {
		return 0, nil, err
	}
	t := &table.Table{Columns: []string{"Command", "Invoke Count"}}
	for _, c := range counts {
		t.Rows = append(t.Rows, []string{c.Command, strconv.FormatInt(c.N, 10)})
	}
	return total, t, nil
}

// Total returns the number of recorded invocations.
func (l *Log) Total(ctx context.Context) (int64, error) {
	conn, err := l.db.Take(ctx)
	defer l.db.Put(conn)
	if err != nil {
		return 0, fmt.Errorf("couldn't get connection to count commands: %w", err)
	}
	var n int64
	opts := sqlitex.ExecOptions{
		ResultFunc: func(st *sqlite.Stmt) error {
			n = st.ColumnInt64(0)
			return nil
		},
	}
	if err := sqlitex.Execute(conn, `SELECT COUNT(*) FROM commands`, &opts); err != nil {
		return 0, fmt.Errorf("couldn't count commands: %w", err)
	}
	return n, nil
}

var recentQuery = query{
	name: "recent",
	sql: `SELECT
		CASE failed WHEN 1 THEN cmd || ' [!]' ELSE cmd END,
		used_at,
		user_id,
		guild_id
	FROM commands
	ORDER BY used_at DESC, id DESC
	LIMIT ?`,
	columns: []column{
		text("cmd"),
		stamp("invoked"),
		text("user_id"),
		text("guild_id"),
	},
	limit: 15,
}

// Recent returns the latest invocations. Failed commands are marked [!].
func (l *Log) Recent(ctx context.Context) (*table.Table, error) {
	return l.run(ctx, &recentQuery)
}

var forCommandQuery = query{
	name: "command",
	sql: `SELECT guild_id, success, failed, success + failed AS total
	FROM (
		SELECT guild_id,
			SUM(CASE WHEN failed THEN 0 ELSE 1 END) AS success,
			SUM(CASE WHEN failed THEN 1 ELSE 0 END) AS failed
		FROM commands
		WHERE cmd = ? AND used_at > ?
		GROUP BY guild_id
	)
	ORDER BY total DESC, guild_id
	LIMIT ?`,
	columns: []column{
		text("guild_id"),
		text("success"),
		text("failed"),
		text("total"),
	},
	limit: 30,
}

// ForCommand returns per-guild success and failure counts for a command
// since a time.
func (l *Log) ForCommand(ctx context.Context, cmd string, since time.Time) (*table.Table, error) {
	return l.run(ctx, &forCommandQuery, cmd, since.UnixMilli())
}

var forGuildQuery = query{
	name: "guild",
	sql: `SELECT
		CASE failed WHEN 1 THEN cmd || ' [!]' ELSE cmd END,
		channel_id,
		user_id,
		used_at
	FROM commands
	WHERE guild_id = ?
	ORDER BY used_at DESC, id DESC
	LIMIT ?`,
	columns: []column{
		text("cmd"),
		text("channel_id"),
		text("user_id"),
		stamp("used_at"),
	},
	limit: 15,
}

// ForGuild returns the latest invocations in a guild.
func (l *Log) ForGuild(ctx context.Context, guild uint64) (*table.Table, error) {
	return l.run(ctx, &forGuildQuery, int64(guild))
}

var forUserQuery = query{
	name: "user",
	sql: `SELECT
		CASE failed WHEN 1 THEN cmd || ' [!]' ELSE cmd END,
		guild_id,
		used_at
	FROM commands
	WHERE user_id = ?
	ORDER BY used_at DESC, id DESC
	LIMIT ?`,
	columns: []column{
		text("cmd"),
		text("guild_id"),
		stamp("used_at"),
	},
	limit: 20,
}

// ForUser returns the latest invocations by a user.
func (l *Log) ForUser(ctx context.Context, user uint64) (*table.Table, error) {
	return l.run(ctx, &forUserQuery, int64(user))
}

var forCogQuery = query{
	name: "cog",
	sql: `SELECT cmd, success, failed, success + failed AS total
	FROM (
		SELECT cmd,
			SUM(CASE WHEN failed THEN 0 ELSE 1 END) AS success,
			SUM(CASE WHEN failed THEN 1 ELSE 0 END) AS failed
		FROM commands
		WHERE cog = ? AND used_at > ?
		GROUP BY cmd
	)
	ORDER BY total DESC, cmd
	LIMIT ?`,
	columns: []column{
		text("command"),
		text("success"),
		text("failed"),
		text("total"),
	},
	limit: 30,
}

// ForCog returns per-command success and failure counts for the commands of
// a cog since a time.
func (l *Log) ForCog(ctx context.Context, cog string, since time.Time) (*table.Table, error) {
	return l.run(ctx, &forCogQuery, cog, since.UnixMilli())
}

var byCogQuery = query{
	name: "cogs",
	sql: `SELECT cog, success, failed, success + failed AS total
	FROM (
		SELECT cog,
			SUM(CASE WHEN failed THEN 0 ELSE 1 END) AS success,
			SUM(CASE WHEN failed THEN 1 ELSE 0 END) AS failed
		FROM commands
		WHERE used_at > ?
		GROUP BY cog
	)
	ORDER BY total DESC, cog
	LIMIT ?`,
	columns: []column{
		text("cog"),
		text("success"),
		text("failed"),
		text("total"),
	},
	limit: 30,
}

// ByCog returns success and failure counts grouped by cog since a time.
func (l *Log) ByCog(ctx context.Context, since time.Time) (*table.Table, error) {
	return l.run(ctx, &byCogQuery, since.UnixMilli())
}

// PerMinute returns the average number of invocations per minute over the
// span from start to now.
func PerMinute(n int64, start, now time.Time) float64 {
	m := now.Sub(start).Minutes()
	if m <= 0 {
		return 0
	}
	return float64(n) / m
}

// FormatRate formats an invocation rate to two decimal places.
func FormatRate(r float64) string {
	return strconv.FormatFloat(r, 'f', 2, 64)
}

// RecommendedPrep is an [sqlitex.ConnPrepareFunc] that sets options recommended
// for a command log.
func RecommendedPrep(conn *sqlite.Conn) error {
	// These need to be run per connection.
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, p := range pragmas {
		s, _, err := conn.PrepareTransient(p)
		if err != nil {
			// The pool would keep retrying this for every connection.
			panic(fmt.Errorf("couldn't set %s: %w", p, err))
		}
		for {
			ok, err := s.Step()
			if err != nil {
				s.Finalize()
				return fmt.Errorf("couldn't run %s: %w", p, err)
			}
			if !ok {
				break
			}
		}
		if err := s.Finalize(); err != nil {
			panic(fmt.Errorf("couldn't finalize statement for %s: %w", p, err))
		}
	}
	return nil
}
