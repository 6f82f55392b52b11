package usage_test

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/zephyrtronium/warden/table"
	"github.com/zephyrtronium/warden/usage"
)

var dbcount atomic.Uint64

func testDB(t *testing.T) *sqlitex.Pool {
	k := dbcount.Add(1)
	pool, err := sqlitex.NewPool(fmt.Sprintf("file:usage-%d.db?mode=memory&cache=shared", k), sqlitex.PoolOptions{Flags: sqlite.OpenReadWrite | sqlite.OpenCreate | sqlite.OpenMemory | sqlite.OpenSharedCache | sqlite.OpenURI})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { pool.Close() })
	return pool
}

var epoch = time.Date(2024, time.March, 5, 13, 4, 5, 0, time.UTC)

func testLog(ctx context.Context, t *testing.T, invs ...usage.Invocation) *usage.Log {
	t.Helper()
	l, err := usage.Open(ctx, testDB(t))
	if err != nil {
		t.Fatal(err)
	}
	for i := range invs {
		if err := l.Record(ctx, &invs[i]); err != nil {
			t.Fatalf("couldn't record %+v: %v", invs[i], err)
		}
	}
	return l
}

func TestTop(t *testing.T) {
	ctx := context.Background()
	l := testLog(ctx, t,
		usage.Invocation{Command: "help", User: 1, Channel: 2, Time: epoch},
		usage.Invocation{Command: "help", User: 1, Channel: 2, Time: epoch},
		usage.Invocation{Command: "help", User: 3, Channel: 2, Time: epoch},
		usage.Invocation{Command: "bl add", User: 1, Channel: 2, Time: epoch},
		usage.Invocation{Command: "avatar", User: 1, Channel: 2, Time: epoch},
		usage.Invocation{Command: "avatar", User: 1, Channel: 2, Time: epoch},
	)
	total, tab, err := l.Top(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if total != 6 {
		t.Errorf("wrong total: want 6, got %d", total)
	}
	want := &table.Table{
		Columns: []string{"Command", "Invoke Count"},
		Rows: [][]string{
			{"help", "3"},
			{"avatar", "2"},
			{"bl add", "1"},
		},
	}
	if diff := cmp.Diff(want, tab); diff != "" {
		t.Errorf("wrong table (+got/-want):\n%s", diff)
	}
}

func TestCounts(t *testing.T) {
	ctx := context.Background()
	l := testLog(ctx, t,
		usage.Invocation{Command: "bl list", User: 1, Channel: 2, Time: epoch},
		usage.Invocation{Command: "history", User: 1, Channel: 2, Time: epoch},
		usage.Invocation{Command: "bl list", User: 3, Channel: 2, Time: epoch},
	)
	got, err := l.Counts(ctx)
	if err != nil {
		t.Fatal(err)
	}
	want := []usage.Count{{Command: "bl list", N: 2}, {Command: "history", N: 1}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("wrong counts (+got/-want):\n%s", diff)
	}
}

func TestTopLimit(t *testing.T) {
	ctx := context.Background()
	var invs []usage.Invocation
	for i := range 20 {
		invs = append(invs, usage.Invocation{Command: fmt.Sprintf("cmd%02d", i), User: 1, Channel: 2, Time: epoch})
	}
	l := testLog(ctx, t, invs...)
	total, tab, err := l.Top(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if total != 20 {
		t.Errorf("wrong total: want 20, got %d", total)
	}
	if len(tab.Rows) != 15 {
		t.Errorf("wrong number of rows: want 15, got %d", len(tab.Rows))
	}
}

func TestRecent(t *testing.T) {
	ctx := context.Background()
	l := testLog(ctx, t,
		usage.Invocation{Command: "help", User: 5, Guild: 7, Channel: 2, Time: epoch},
		usage.Invocation{Command: "bl add", User: 6, Channel: 2, Time: epoch.Add(time.Minute), Failed: true},
	)
	tab, err := l.Recent(ctx)
	if err != nil {
		t.Fatal(err)
	}
	want := &table.Table{
		Columns: []string{"cmd", "invoked", "user_id", "guild_id"},
		Rows: [][]string{
			{"bl add [!]", "Mar 05 01:05:05 PM", "6", ""},
			{"help", "Mar 05 01:04:05 PM", "5", "7"},
		},
	}
	if diff := cmp.Diff(want, tab); diff != "" {
		t.Errorf("wrong table (+got/-want):\n%s", diff)
	}
}

func TestForCommand(t *testing.T) {
	ctx := context.Background()
	l := testLog(ctx, t,
		usage.Invocation{Command: "help", User: 1, Guild: 10, Channel: 2, Time: epoch},
		usage.Invocation{Command: "help", User: 1, Guild: 10, Channel: 2, Time: epoch, Failed: true},
		usage.Invocation{Command: "help", User: 1, Guild: 10, Channel: 2, Time: epoch},
		usage.Invocation{Command: "help", User: 1, Guild: 20, Channel: 2, Time: epoch},
		usage.Invocation{Command: "help", User: 1, Guild: 30, Channel: 2, Time: epoch.Add(-48 * time.Hour)},
		usage.Invocation{Command: "other", User: 1, Guild: 10, Channel: 2, Time: epoch},
	)
	tab, err := l.ForCommand(ctx, "help", epoch.Add(-24*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	want := &table.Table{
		Columns: []string{"guild_id", "success", "failed", "total"},
		Rows: [][]string{
			{"10", "2", "1", "3"},
			{"20", "1", "0", "1"},
		},
	}
	if diff := cmp.Diff(want, tab); diff != "" {
		t.Errorf("wrong table (+got/-want):\n%s", diff)
	}
}

func TestForGuild(t *testing.T) {
	ctx := context.Background()
	l := testLog(ctx, t,
		usage.Invocation{Command: "help", User: 1, Guild: 10, Channel: 2, Time: epoch},
		usage.Invocation{Command: "ping", User: 3, Guild: 10, Channel: 4, Time: epoch.Add(time.Second), Failed: true},
		usage.Invocation{Command: "help", User: 1, Guild: 11, Channel: 2, Time: epoch},
	)
	tab, err := l.ForGuild(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	want := &table.Table{
		Columns: []string{"cmd", "channel_id", "user_id", "used_at"},
		Rows: [][]string{
			{"ping [!]", "4", "3", "Mar 05 01:04:06 PM"},
			{"help", "2", "1", "Mar 05 01:04:05 PM"},
		},
	}
	if diff := cmp.Diff(want, tab); diff != "" {
		t.Errorf("wrong table (+got/-want):\n%s", diff)
	}
}

func TestForUser(t *testing.T) {
	ctx := context.Background()
	var invs []usage.Invocation
	for i := range 25 {
		invs = append(invs, usage.Invocation{Command: "help", User: 9, Guild: 10, Channel: 2, Time: epoch.Add(time.Duration(i) * time.Second)})
	}
	invs = append(invs, usage.Invocation{Command: "help", User: 8, Channel: 2, Time: epoch})
	l := testLog(ctx, t, invs...)
	tab, err := l.ForUser(ctx, 9)
	if err != nil {
		t.Fatal(err)
	}
	if len(tab.Rows) != 20 {
		t.Fatalf("wrong number of rows: want 20, got %d", len(tab.Rows))
	}
	if got, want := tab.Rows[0][2], "Mar 05 01:04:29 PM"; got != want {
		t.Errorf("latest row has wrong time: want %q, got %q", want, got)
	}
	tab, err = l.ForUser(ctx, 8)
	if err != nil {
		t.Fatal(err)
	}
	want := [][]string{{"help", "", "Mar 05 01:04:05 PM"}}
	if diff := cmp.Diff(want, tab.Rows); diff != "" {
		t.Errorf("direct message rows wrong (+got/-want):\n%s", diff)
	}
}

func TestCogs(t *testing.T) {
	ctx := context.Background()
	l := testLog(ctx, t,
		usage.Invocation{Command: "bl add", Cog: "Dev", User: 1, Channel: 2, Time: epoch},
		usage.Invocation{Command: "bl add", Cog: "Dev", User: 1, Channel: 2, Time: epoch, Failed: true},
		usage.Invocation{Command: "sql", Cog: "Dev", User: 1, Channel: 2, Time: epoch},
		usage.Invocation{Command: "help", Cog: "Meta", User: 1, Channel: 2, Time: epoch},
	)
	since := epoch.Add(-time.Hour)
	tab, err := l.ForCog(ctx, "Dev", since)
	if err != nil {
		t.Fatal(err)
	}
	want := &table.Table{
		Columns: []string{"command", "success", "failed", "total"},
		Rows: [][]string{
			{"bl add", "1", "1", "2"},
			{"sql", "1", "0", "1"},
		},
	}
	if diff := cmp.Diff(want, tab); diff != "" {
		t.Errorf("wrong cog table (+got/-want):\n%s", diff)
	}
	tab, err = l.ByCog(ctx, since)
	if err != nil {
		t.Fatal(err)
	}
	want = &table.Table{
		Columns: []string{"cog", "success", "failed", "total"},
		Rows: [][]string{
			{"Dev", "2", "1", "3"},
			{"Meta", "1", "0", "1"},
		},
	}
	if diff := cmp.Diff(want, tab); diff != "" {
		t.Errorf("wrong by-cog table (+got/-want):\n%s", diff)
	}
}

func TestInjection(t *testing.T) {
	ctx := context.Background()
	l := testLog(ctx, t,
		usage.Invocation{Command: "help", User: 1, Guild: 10, Channel: 2, Time: epoch},
	)
	since := epoch.Add(-time.Hour)
	attempts := []string{
		"x'; DROP TABLE commands; --",
		`help" OR 1=1 --`,
		"' OR '1'='1",
	}
	for _, s := range attempts {
		tab, err := l.ForCommand(ctx, s, since)
		if err != nil {
			t.Errorf("query with %q failed: %v", s, err)
			continue
		}
		if len(tab.Rows) != 0 {
			t.Errorf("query with %q matched rows: %v", s, tab.Rows)
		}
		tab, err = l.ForCog(ctx, s, since)
		if err != nil {
			t.Errorf("cog query with %q failed: %v", s, err)
			continue
		}
		if len(tab.Rows) != 0 {
			t.Errorf("cog query with %q matched rows: %v", s, tab.Rows)
		}
	}
	total, _, err := l.Top(ctx)
	if err != nil {
		t.Fatalf("command log is gone: %v", err)
	}
	if total != 1 {
		t.Errorf("command log changed: want 1 row, got %d", total)
	}
}

func TestPerMinute(t *testing.T) {
	cases := []struct {
		name string
		n    int64
		span time.Duration
		want string
	}{
		{"zero", 0, time.Minute, "0.00"},
		{"even", 120, 2 * time.Minute, "60.00"},
		{"fraction", 1, 3 * time.Minute, "0.33"},
		{"instant", 5, 0, "0.00"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := usage.FormatRate(usage.PerMinute(c.n, epoch, epoch.Add(c.span)))
			if got != c.want {
				t.Errorf("wrong rate: want %s, got %s", c.want, got)
			}
		})
	}
}
