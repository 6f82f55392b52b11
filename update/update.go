// Package update updates the bot's source checkout with git.
package update

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"slices"
	"strings"
)

// Runner runs a program in a directory and returns its combined output.
type Runner interface {
	Run(ctx context.Context, dir, name string, args ...string) (string, error)
}

// Exec is a Runner that executes real processes.
type Exec struct{}

// Run implements [Runner].
func (Exec) Run(ctx context.Context, dir, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	b, err := cmd.CombinedOutput()
	return string(b), err
}

// Mode is an update strategy.
type Mode string

const (
	// Pull runs git pull.
	Pull Mode = "pull"
	// Reset fetches origin and hard resets to the tracked branch.
	Reset Mode = "reset"
	// Force fetches all remotes, hard resets to the tracked branch, then pulls.
	Force Mode = "force"
)

// ErrMode is returned for an unknown update mode.
var ErrMode = errors.New("invalid update mode")

// ParseMode parses an update mode case-insensitively. The empty string is
// [Pull].
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(s)); m {
	case "":
		return Pull, nil
	case Pull, Reset, Force:
		return m, nil
	}
	return "", fmt.Errorf("%w %q", ErrMode, s)
}

// Updater updates a git checkout.
type Updater struct {
	// Run runs git.
	Run Runner
	// Dir is the checkout directory.
	Dir string
	// Repo is the URL added as origin when the checkout has no origin.
	Repo string
	// Branch is the branch that reset and force modes reset to.
	// If empty, it is DefaultBranch.
	Branch string
}

// DefaultBranch is the branch used when an Updater has none.
const DefaultBranch = "main"


// Update updates the checkout and returns a log of what it did.
// If a git command fails, the log includes everything up to the failure.
func (u *Updater) Update(ctx context.Context, mode Mode) (string, error) {
	var log strings.Builder
	say := func(s string) {
		s = strings.TrimRight(s, "\n")
		if s == "" {
			return
		}
		log.WriteString(s)
		log.WriteByte('\n')
	}
	git := func(args ...string) (string, error) {
		slog.InfoContext(ctx, "git", slog.String("dir", u.Dir), slog.Any("args", args))
		out, err := u.Run.Run(ctx, u.Dir, "git", args...)
		if err != nil {
			say(out)
			return out, fmt.Errorf("git %s: %w", strings.Join(args, " "), err)
		}
		return out, nil
	}
	branch := cmp.Or(u.Branch, DefaultBranch)
	steps := map[Mode][][]string{
		Pull:  {{"pull"}},
		Reset: {{"fetch", "origin"}, {"reset", "--hard", "origin/" + branch}},
		Force: {{"fetch", "--all"}, {"reset", "--hard", "origin/" + branch}, {"pull"}},
	}
	plan, ok := steps[mode]
	if !ok {
		return "", fmt.Errorf("%w %q", ErrMode, mode)
	}

	say("Working directory: " + u.Dir)
	say("Mode: " + string(mode))
	if _, err := u.Run.Run(ctx, u.Dir, "git", "rev-parse", "--git-dir"); err != nil {
		say("No git repository found; initializing.")
		if _, err := git("init"); err != nil {
			return log.String(), err
		}
	} else {
		say("Git repository detected.")
	}
	out, err := git("remote")
	if err != nil {
		return log.String(), err
	}
	if !slices.Contains(strings.Fields(out), "origin") {
		say("Adding origin: " + u.Repo)
		if _, err := git("remote", "add", "origin", u.Repo); err != nil {
			return log.String(), err
		}
	} else {
		say("Remote origin exists.")
	}

	for _, args := range plan {
		say("Running git " + strings.Join(args, " "))
		out, err := git(args...)
		if err != nil {
			return log.String(), err
		}
		say(out)
	}
	say("Update complete.")
	return log.String(), nil
}
