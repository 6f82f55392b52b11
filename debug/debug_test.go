package debug_test

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/zephyrtronium/warden/debug"
)

var dbcount atomic.Uint64

func testDB(t *testing.T) *sqlitex.Pool {
	k := dbcount.Add(1)
	pool, err := sqlitex.NewPool(fmt.Sprintf("file:debug-%d.db?mode=memory&cache=shared", k), sqlitex.PoolOptions{Flags: sqlite.OpenReadWrite | sqlite.OpenCreate | sqlite.OpenMemory | sqlite.OpenSharedCache | sqlite.OpenURI})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { pool.Close() })
	return pool
}

func TestStripFences(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"echo hi", "echo hi"},
		{"`echo hi`", "echo hi"},
		{"```sh\necho hi\n```", "echo hi"},
		{"```sql\nSELECT 1\n```", "SELECT 1"},
		{"```\nls\n```", "ls"},
		{"  ", ""},
	}
	for _, c := range cases {
		if got := debug.StripFences(c.in); got != c.want {
			t.Errorf("StripFences(%q): want %q, got %q", c.in, c.want, got)
		}
	}
}

func TestShell(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		name string
		code string
		has  string
	}{
		{"echo", "```sh\necho hello\n```", "hello"},
		{"empty", "true", debug.NoOutput},
		{"fail", "echo oops >&2; exit 3", "exit status 3"},
		{"stderr", "echo oops >&2; exit 3", "oops"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := debug.Shell(ctx, c.code, 10*time.Second)
			if !strings.Contains(got, c.has) {
				t.Errorf("output %q does not contain %q", got, c.has)
			}
		})
	}
}

func TestShellTimeout(t *testing.T) {
	got := debug.Shell(context.Background(), "sleep 5", 10*time.Millisecond)
	if !strings.Contains(got, "timed out") {
		t.Errorf("no timeout in %q", got)
	}
}

func TestSQL(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)
	got := debug.SQL(ctx, db, "CREATE TABLE t (a TEXT, b INTEGER)")
	if !strings.HasPrefix(got, "0 rows affected") {
		t.Errorf("wrong create result: %q", got)
	}
	got = debug.SQL(ctx, db, "INSERT INTO t VALUES ('x', 1), ('y', NULL)")
	if !strings.HasPrefix(got, "2 rows affected") {
		t.Errorf("wrong insert result: %q", got)
	}
	got = debug.SQL(ctx, db, "```sql\nSELECT a, b FROM t ORDER BY a\n```")
	want := "" +
		"+---+---+\n" +
		"| a | b |\n" +
		"+---+---+\n" +
		"| x | 1 |\n" +
		"| y |   |\n" +
		"+---+---+\n" +
		"\n2 rows in "
	if !strings.HasPrefix(got, want) {
		t.Errorf("wrong select result:\n%s\nwant prefix:\n%s", got, want)
	}
}

func TestSQLError(t *testing.T) {
	got := debug.SQL(context.Background(), testDB(t), "SELECT * FROM nowhere")
	if !strings.Contains(got, "nowhere") {
		t.Errorf("error text doesn't name the table: %q", got)
	}
}
