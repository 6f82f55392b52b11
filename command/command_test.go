package command_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/zephyrtronium/warden/blockcache"
	"github.com/zephyrtronium/warden/blocklist"
	"github.com/zephyrtronium/warden/blocklist/sqlblock"
	"github.com/zephyrtronium/warden/command"
	"github.com/zephyrtronium/warden/lockdown"
	"github.com/zephyrtronium/warden/message"
	"github.com/zephyrtronium/warden/resolve"
	"github.com/zephyrtronium/warden/tree"
	"github.com/zephyrtronium/warden/usage"
)

var dbcount atomic.Uint64

// targets is a fake resolver.
type targets map[string]blocklist.Target

func (t targets) Target(ctx context.Context, arg string) (blocklist.Target, error) {
	if r, ok := t[arg]; ok {
		return r, nil
	}
	if arg == "unavailable" {
		return nil, errors.New("503 Service Unavailable")
	}
	return nil, fmt.Errorf("%w %q", resolve.ErrMalformed, arg)
}

type harness struct {
	robo  *command.Robot
	cache *blockcache.Set

	mu   sync.Mutex
	sent []message.Sent
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()
	k := dbcount.Add(1)
	pool, err := sqlitex.NewPool(fmt.Sprintf("file:command-%d.db?mode=memory&cache=shared", k), sqlitex.PoolOptions{Flags: sqlite.OpenReadWrite | sqlite.OpenCreate | sqlite.OpenMemory | sqlite.OpenSharedCache | sqlite.OpenURI})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { pool.Close() })
	store, err := sqlblock.Open(ctx, pool)
	if err != nil {
		t.Fatal(err)
	}
	log, err := usage.Open(ctx, pool)
	if err != nil {
		t.Fatal(err)
	}
	cache := blockcache.New()
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := &harness{
		robo: &command.Robot{
			Log:    quiet,
			Blocks: blocklist.NewManager(store, cache, quiet),
			Targets: targets{
				"<@555>": blocklist.ResolvedUser{ID: 555},
				"555":    blocklist.ResolvedUser{ID: 555},
				"777":    blocklist.RawID{ID: 777},
			},
			Usage:       log,
			DB:          pool,
			Lockdown:    new(lockdown.State),
			Maintenance: time.Hour,
			Restart:     func(error) { panic("restart") },
			EvalTimeout: 10 * time.Second,
			Cogs:        []string{"Dev", "Meta"},
			Commands:    14,
			Started:     time.Now().Add(-time.Minute),
			Invoked:     new(atomic.Int64),
		},
		cache: cache,
	}
	return h
}

// call runs a command and returns its replies and whether it failed.
func (h *harness) call(ctx context.Context, fn command.Func, args map[string]string) ([]message.Sent, bool) {
	h.mu.Lock()
	h.sent = nil
	h.mu.Unlock()
	inv := &command.Invocation{
		Message: &message.Received{ID: "m1", Channel: "c1", Guild: "g1", Sender: "1413377123154002010"},
		Args:    args,
		Send: func(ctx context.Context, msg message.Sent) {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.sent = append(h.sent, msg)
		},
	}
	fn(ctx, h.robo, inv)
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sent, inv.Failed()
}

func text(sent []message.Sent) string {
	var b []string
	for _, m := range sent {
		b = append(b, m.Text)
	}
	return strings.Join(b, "\n")
}

func TestBlockScenario(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	sent, failed := h.call(ctx, command.BlockAdd, map[string]string{"target": "<@555>", "reason": "spam"})
	if failed || text(sent) != "User 555 has been blocked." {
		t.Errorf("wrong block reply: %q failed=%t", text(sent), failed)
	}
	if sent[0].Reply != "m1" || sent[0].To != "c1" {
		t.Errorf("reply not addressed to the invocation: %+v", sent[0])
	}
	if !h.cache.Has(555, blocklist.User) {
		t.Errorf("555 not cached as a user")
	}
	sent, failed = h.call(ctx, command.BlockAdd, map[string]string{"target": "555"})
	if !failed || text(sent) != "User 555 is already blocked." {
		t.Errorf("wrong second block reply: %q failed=%t", text(sent), failed)
	}
	sent, failed = h.call(ctx, command.BlockRemove, map[string]string{"target": "555"})
	if failed || text(sent) != "User 555 has been unblocked." {
		t.Errorf("wrong unblock reply: %q failed=%t", text(sent), failed)
	}
	if h.cache.Contains(555) {
		t.Errorf("555 still cached after unblock")
	}
	sent, failed = h.call(ctx, command.BlockRemove, map[string]string{"target": "555"})
	if !failed || text(sent) != "555 is not blocked." {
		t.Errorf("wrong second unblock reply: %q failed=%t", text(sent), failed)
	}
}

func TestBlockMalformed(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	sent, failed := h.call(ctx, command.BlockAdd, map[string]string{"target": "bocchi"})
	if !failed || !strings.Contains(text(sent), "couldn't find") {
		t.Errorf("wrong malformed reply: %q failed=%t", text(sent), failed)
	}
	sent, failed = h.call(ctx, command.BlockAdd, map[string]string{"target": "unavailable"})
	if !failed || !strings.HasPrefix(text(sent), "Something went wrong") {
		t.Errorf("wrong failure reply: %q failed=%t", text(sent), failed)
	}
	if h.cache.Len() != 0 {
		t.Errorf("cache changed after malformed input")
	}
}

func TestBlockRemoveAmbiguous(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	if err := h.robo.Blocks.Block(ctx, 777, blocklist.User, ""); err != nil {
		t.Fatal(err)
	}
	if err := h.robo.Blocks.Block(ctx, 777, blocklist.Guild, ""); err != nil {
		t.Fatal(err)
	}
	sent, failed := h.call(ctx, command.BlockRemove, map[string]string{"target": "777"})
	if !failed || !strings.Contains(text(sent), "both a user and a guild") {
		t.Errorf("wrong ambiguous reply: %q failed=%t", text(sent), failed)
	}
	if !h.cache.Has(777, blocklist.User) || !h.cache.Has(777, blocklist.Guild) {
		t.Errorf("ambiguous unblock changed the cache")
	}
	sent, failed = h.call(ctx, command.BlockRemove, map[string]string{"target": "777", "kind": "guild"})
	if failed || text(sent) != "Guild 777 has been unblocked." {
		t.Errorf("wrong kind unblock reply: %q failed=%t", text(sent), failed)
	}
	if !h.cache.Has(777, blocklist.User) || h.cache.Has(777, blocklist.Guild) {
		t.Errorf("wrong cache after kind unblock")
	}
	sent, failed = h.call(ctx, command.BlockRemove, map[string]string{"target": "777", "kind": "channel"})
	if !failed || !strings.Contains(text(sent), "isn't a kind") {
		t.Errorf("wrong bad kind reply: %q failed=%t", text(sent), failed)
	}
}

func TestBlockList(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	sent, _ := h.call(ctx, command.BlockList, nil)
	if text(sent) != "Nobody is blocked." {
		t.Errorf("wrong empty list reply: %q", text(sent))
	}
	if err := h.robo.Blocks.Block(ctx, 555, blocklist.User, "spam"); err != nil {
		t.Fatal(err)
	}
	sent, _ = h.call(ctx, command.BlockList, nil)
	got := text(sent)
	if !strings.HasPrefix(got, "Block list (1)\n```") || !strings.Contains(got, "| 555 | USER | spam   |") {
		t.Errorf("wrong list reply:\n%s", got)
	}
}

func TestSQL(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	sent, failed := h.call(ctx, command.SQL, map[string]string{"query": "```sql\nSELECT COUNT(*) AS n FROM block_list\n```"})
	if failed || !strings.Contains(text(sent), "| n |") {
		t.Errorf("wrong sql reply: %q", text(sent))
	}
	sent, _ = h.call(ctx, command.SQL, map[string]string{"query": "SELEC nonsense"})
	if !strings.Contains(text(sent), "syntax error") {
		t.Errorf("sql error not reported: %q", text(sent))
	}
}

func TestBlockDebug(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	sent, _ := h.call(ctx, command.BlockDebug, map[string]string{"code": "```sh\necho hello\n```"})
	if text(sent) != "```sh\nhello\n```" {
		t.Errorf("wrong debug reply: %q", text(sent))
	}
	sent, _ = h.call(ctx, command.BlockDebug, map[string]string{"code": "yes | head -c 4000"})
	if len(sent) != 1 || sent[0].File == nil || sent[0].File.Name != "output.txt" {
		t.Errorf("long output not delivered as a file: %+v", sent)
	}
}

func record(t *testing.T, h *harness, invs ...usage.Invocation) {
	t.Helper()
	for i := range invs {
		if err := h.robo.Usage.Record(context.Background(), &invs[i]); err != nil {
			t.Fatal(err)
		}
	}
}

func TestCmds(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	now := time.Now()
	record(t, h,
		usage.Invocation{Command: "help", User: 1, Channel: 2, Time: now},
		usage.Invocation{Command: "help", User: 1, Channel: 2, Time: now},
	)
	h.robo.Invoked.Store(2)
	sent, failed := h.call(ctx, command.Cmds, nil)
	got := text(sent)
	if failed {
		t.Errorf("cmds failed: %q", got)
	}
	for _, want := range []string{"Command Usage (2)", "| help    | 2            |", "Total Commands: 14", "Invoke rate per minute: "} {
		if !strings.Contains(got, want) {
			t.Errorf("reply lacks %q:\n%s", want, got)
		}
	}
}

func TestHistory(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	now := time.Now()
	record(t, h,
		usage.Invocation{Command: "bl add", Cog: "Dev", User: 5, Guild: 9, Channel: 2, Time: now, Failed: true},
		usage.Invocation{Command: "help", Cog: "Meta", User: 6, Guild: 9, Channel: 2, Time: now.Add(-30 * 24 * time.Hour)},
	)
	cases := []struct {
		name   string
		fn     command.Func
		args   map[string]string
		has    string
		failed bool
	}{
		{"recent", command.History, nil, "bl add [!]", false},
		{"for", command.HistoryFor, map[string]string{"cmd": "bl  add"}, "| 9        | 0       | 1      | 1     |", false},
		{"for-window", command.HistoryFor, map[string]string{"days": "60", "cmd": "help"}, "| 9        | 1       | 0      | 1     |", false},
		{"for-bad-days", command.HistoryFor, map[string]string{"days": "0", "cmd": "help"}, "positive", true},
		{"guild", command.HistoryGuild, map[string]string{"id": "9"}, "bl add [!]", false},
		{"guild-bad", command.HistoryGuild, map[string]string{"id": "nine"}, "isn't an ID", true},
		{"user", command.HistoryUser, map[string]string{"id": "6"}, "help", false},
		{"cog", command.HistoryCog, map[string]string{"cog": "dev"}, "| bl add  | 0       | 1      | 1     |", false},
		{"cogs", command.HistoryCog, nil, "| Dev | 0       | 1      | 1     |", false},
		{"cog-unknown", command.HistoryCog, map[string]string{"cog": "Music"}, "Unknown cog: Music", true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			sent, failed := h.call(ctx, c.fn, c.args)
			if !strings.Contains(text(sent), c.has) {
				t.Errorf("reply lacks %q:\n%s", c.has, text(sent))
			}
			if failed != c.failed {
				t.Errorf("wrong failure: want %t, got %t", c.failed, failed)
			}
		})
	}
}

func TestMaintenanceRestart(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.robo.Maintenance = time.Millisecond
	var cause error
	h.robo.Restart = func(err error) { cause = err }
	sent, _ := h.call(ctx, command.MaintenanceOn, map[string]string{"msg": "brb"})
	if !errors.Is(cause, lockdown.ErrRestart) {
		t.Errorf("wrong restart cause: %v", cause)
	}
	if !strings.HasSuffix(text(sent), "Reloading...") {
		t.Errorf("wrong replies: %q", text(sent))
	}
	if on, msg := h.robo.Lockdown.Active(); !on || msg != "brb" {
		t.Errorf("wrong lockdown state: %t %q", on, msg)
	}
}

func TestMaintenanceCancel(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.robo.Maintenance = 50 * time.Millisecond
	h.robo.Restart = func(err error) { t.Errorf("restarted after cancel: %v", err) }
	done := make(chan []message.Sent)
	go func() {
		sent, _ := h.call(ctx, command.MaintenanceOn, nil)
		done <- sent
	}()
	for {
		if on, _ := h.robo.Lockdown.Active(); on {
			break
		}
		time.Sleep(time.Millisecond)
	}
	if !h.robo.Lockdown.End() {
		t.Fatal("lockdown ended before off")
	}
	sent := <-done
	if !strings.HasSuffix(text(sent), "Lockdown mode has been cancelled.") {
		t.Errorf("wrong replies: %q", text(sent))
	}
}

func TestMaintenanceOff(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	sent, _ := h.call(ctx, command.MaintenanceOff, nil)
	if text(sent) != "Not in maintenance mode." {
		t.Errorf("wrong reply without lockdown: %q", text(sent))
	}
	h.robo.Lockdown.Begin("")
	sent, _ = h.call(ctx, command.MaintenanceOff, nil)
	if text(sent) != "Okay, stopped reload." {
		t.Errorf("wrong reply: %q", text(sent))
	}
}

func TestSync(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	write := func(ctx context.Context, guild string, cmds []*discordgo.ApplicationCommand) ([]*discordgo.ApplicationCommand, error) {
		if guild == "404" {
			return nil, errors.New("Unknown Guild")
		}
		return cmds, nil
	}
	h.robo.Tree = tree.New(write, &discordgo.ApplicationCommand{Name: "status"}, &discordgo.ApplicationCommand{Name: "ping"})
	cases := []struct {
		name   string
		args   map[string]string
		want   string
		failed bool
	}{
		{"global", nil, "Synced 2 commands globally.", false},
		{"current", map[string]string{"spec": "~"}, "Synced 0 commands to the current guild.", false},
		{"copy", map[string]string{"spec": "*"}, "Synced 2 commands to the current guild.", false},
		{"clear", map[string]string{"spec": "^"}, "Synced 0 commands to the current guild.", false},
		{"guilds", map[string]string{"guilds": " 1 2 404"}, "Synced the tree to 2/3.", true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			sent, failed := h.call(ctx, command.Sync, c.args)
			if text(sent) != c.want || failed != c.failed {
				t.Errorf("want %q %t, got %q %t", c.want, c.failed, text(sent), failed)
			}
		})
	}
}

func TestUpdateBadMode(t *testing.T) {
	h := newHarness(t)
	sent, failed := h.call(context.Background(), command.Update, map[string]string{"mode": "rebase"})
	if !failed || !strings.HasPrefix(text(sent), "Invalid mode.") {
		t.Errorf("wrong reply: %q failed=%t", text(sent), failed)
	}
}
