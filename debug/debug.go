// Package debug evaluates ad hoc shell commands and SQL for trusted operators.
//
// Nothing here is sandboxed. Code runs with the full privileges of the bot
// process. Only developers on the allow-list may reach these functions.
package debug

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/zephyrtronium/warden/table"
)

// NoOutput is the result of an evaluation that produced no output.
const NoOutput = "No output."

// StripFences removes Discord code block fences and a leading language tag
// from code.
func StripFences(code string) string {
	code = strings.Trim(code, "` \n")
	for _, lang := range []string{"sh", "bash", "sql", "sqlite", "go", "py"} {
		if s, ok := strings.CutPrefix(code, lang+"\n"); ok {
			return strings.TrimSpace(s)
		}
	}
	return code
}

// Shell runs code with sh and returns its combined output. Any failure,
// including the timeout expiring, is reported in the returned text.
func Shell(ctx context.Context, code string, timeout time.Duration) string {
	code = StripFences(code)
	if code == "" {
		return NoOutput
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, "sh", "-c", code)
	b, err := cmd.CombinedOutput()
	out := string(b)
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return out + fmt.Sprintf("\ntimed out after %v", timeout)
	case err != nil:
		return out + "\n" + err.Error()
	case strings.TrimSpace(out) == "":
		return NoOutput
	}
	return out
}

// SQL runs a single SQL statement against db and renders any result rows
// as a table. Any failure is reported in the returned text.
func SQL(ctx context.Context, db *sqlitex.Pool, query string) string {
	query = StripFences(query)
	if query == "" {
		return NoOutput
	}
	conn, err := db.Take(ctx)
	defer db.Put(conn)
	if err != nil {
		return "couldn't get connection: " + err.Error()
	}
	start := time.Now()
	st, _, err := conn.PrepareTransient(query)
	if err != nil {
		return err.Error()
	}
	defer st.Finalize()
	t := table.Table{Columns: make([]string, st.ColumnCount())}
	for i := range t.Columns {
		t.Columns[i] = st.ColumnName(i)
	}
	for {
		ok, err := st.Step()
		if err != nil {
			return err.Error()
		}
		if !ok {
			break
		}
		r := make([]string, len(t.Columns))
		for i := range r {
			if st.ColumnType(i) != sqlite.TypeNull {
				r[i] = st.ColumnText(i)
			}
		}
		t.Rows = append(t.Rows, r)
	}
	took := time.Since(start).Round(time.Microsecond)
	if len(t.Columns) == 0 {
		return strconv.Itoa(conn.Changes()) + " rows affected in " + took.String()
	}
	return t.Render() + "\n" + strconv.Itoa(len(t.Rows)) + " rows in " + took.String()
}
