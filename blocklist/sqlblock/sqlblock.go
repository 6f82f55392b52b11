// Package sqlblock implements a block list store in an SQLite database.
package sqlblock

import (
	"context"
	_ "embed"
	"fmt"
	"slices"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/zephyrtronium/warden/blocklist"
)

// List is a block list backed by an SQL database.
type List struct {
	db *sqlitex.Pool
}

var _ blocklist.Store = (*List)(nil)

// Open opens a block list in an SQL database, creating the schema if needed.
func Open(ctx context.Context, db *sqlitex.Pool) (*List, error) {
	if err := Init(ctx, db); err != nil {
		return nil, err
	}
	return &List{db: db}, nil
}

//go:embed schema.sql
var schemaSQL string

// Init initializes a block list in an SQL database.
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
		return fmt.Errorf("couldn't initialize block list schema: %w", err)
	}
	return nil
}

// Insert adds an entry to the database.
func (l *List) Insert(ctx context.Context, e blocklist.Entry) error {
	conn, err := l.db.Take(ctx)
	defer l.db.Put(conn)
	if err != nil {
		return fmt.Errorf("couldn't get connection to add block entry: %w", err)
	}
	var reason any
	if e.Reason != "" {
		reason = e.Reason
	}
	opts := sqlitex.ExecOptions{Args: []any{int64(e.ID), e.Kind.String(), reason}}
	const insert = `INSERT INTO block_list (block_id, block_id_type, reason) VALUES (?, ?, ?) ON CONFLICT DO NOTHING`
	if err := sqlitex.Execute(conn, insert, &opts); err != nil {
		return fmt.Errorf("couldn't add block entry: %w", err)
	}
	if conn.Changes() == 0 {
		return blocklist.ErrAlreadyBlocked
	}
	return nil
}

// Delete removes an entry from the database.
func (l *List) Delete(ctx context.Context, id uint64, kind blocklist.Kind) error {
	conn, err := l.db.Take(ctx)
	defer l.db.Put(conn)
	if err != nil {
		return fmt.Errorf("couldn't get connection to remove block entry: %w", err)
	}
	opts := sqlitex.ExecOptions{Args: []any{int64(id), kind.String()}}
	if err := sqlitex.Execute(conn, `DELETE FROM block_list WHERE block_id = ? AND block_id_type = ?`, &opts); err != nil {
		return fmt.Errorf("couldn't remove block entry: %w", err)
	}
	if conn.Changes() == 0 {
		return blocklist.ErrNotBlocked
	}
	return nil
}

// Lookup finds the entries for an ID.
func (l *List) Lookup(ctx context.Context, id uint64) ([]blocklist.Entry, error) {
	conn, err := l.db.Take(ctx)
	defer l.db.Put(conn)
	if err != nil {
		return nil, fmt.Errorf("couldn't get connection to look up block entry: %w", err)
	}
	return entries(conn, `SELECT block_id, block_id_type, reason FROM block_list WHERE block_id = ?`, int64(id))
}

// List lists all entries.
func (l *List) List(ctx context.Context) ([]blocklist.Entry, error) {
	conn, err := l.db.Take(ctx)
	defer l.db.Put(conn)
	if err != nil {
		return nil, fmt.Errorf("couldn't get connection to list block entries: %w", err)
	}
	return entries(conn, `SELECT block_id, block_id_type, reason FROM block_list`)
}

func entries(conn *sqlite.Conn, query string, args ...any) ([]blocklist.Entry, error) {
	var r []blocklist.Entry
	opts := sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(st *sqlite.Stmt) error {
			k, err := blocklist.ParseKind(st.ColumnText(1))
			if err != nil {
				return err
			}
			r = append(r, blocklist.Entry{
				ID:     uint64(st.ColumnInt64(0)),
				Kind:   k,
				Reason: st.ColumnText(2),
			})
			return nil
		},
	}
	if err := sqlitex.Execute(conn, query, &opts); err != nil {
		return nil, fmt.Errorf("couldn't read block entries: %w", err)
	}
	slices.SortFunc(r, blocklist.Compare)
	return r, nil
}
