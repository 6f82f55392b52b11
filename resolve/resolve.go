// Package resolve turns identifiers typed by administrators into block list
// targets.
package resolve

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/dgraph-io/ristretto/v2"

	"github.com/zephyrtronium/warden/blocklist"
)

// ErrMalformed is returned for an argument that is neither a user mention
// nor a numeric ID.
var ErrMalformed = errors.New("malformed identifier")

// ErrNotFound is a sentinel that Lookup functions return when no user has
// an ID. Other errors from Lookup are treated as failures.
var ErrNotFound = errors.New("no such user")

// Lookup reports whether a snowflake is the ID of a user on the platform.
// It returns ErrNotFound if it is not.
type Lookup func(ctx context.Context, id string) error

// Resolver resolves identifiers, remembering recent user lookups.
type Resolver struct {
	lookup Lookup
	memo   *ristretto.Cache[uint64, bool]
	ttl    time.Duration
}

// New creates a resolver. Lookup results are remembered for ttl.
func New(lookup Lookup, ttl time.Duration) (*Resolver, error) {
	memo, err := ristretto.NewCache(&ristretto.Config[uint64, bool]{
		NumCounters:        1e5,
		MaxCost:            1 << 14,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("couldn't create lookup cache: %w", err)
	}
	return &Resolver{lookup: lookup, memo: memo, ttl: ttl}, nil
}

// Close releases the resolver's cache.
func (r *Resolver) Close() {
	r.memo.Close()
}

// Target resolves an argument. A mention like <@123> or <@!123> must name an
// existing user. A bare number is a user if one has that ID and otherwise a
// raw ID.
func (r *Resolver) Target(ctx context.Context, arg string) (blocklist.Target, error) {
	s, mention := mentioned(arg)
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil || id == 0 {
		return nil, fmt.Errorf("%w %q", ErrMalformed, arg)
	}
	user, err := r.isUser(ctx, id)
	if err != nil {
		return nil, err
	}
	switch {
	case user:
		return blocklist.ResolvedUser{ID: id}, nil
	case mention:
		return nil, fmt.Errorf("%w: no user %d", ErrMalformed, id)
	default:
		return blocklist.RawID{ID: id}, nil
	}
}

func (r *Resolver) isUser(ctx context.Context, id uint64) (bool, error) {
	if v, ok := r.memo.Get(id); ok {
		return v, nil
	}
	err := r.lookup(ctx, strconv.FormatUint(id, 10))
	switch {
	case err == nil:
		r.remember(id, true)
		return true, nil
	case errors.Is(err, ErrNotFound):
		r.remember(id, false)
		return false, nil
	default:
		slog.WarnContext(ctx, "user lookup failed", slog.Uint64("id", id), slog.Any("err", err))
		return false, fmt.Errorf("couldn't look up user %d: %w", id, err)
	}
}

func (r *Resolver) remember(id uint64, user bool) {
	r.memo.SetWithTTL(id, user, 1, r.ttl)
	r.memo.Wait()
}

// mentioned strips user mention syntax from s.
func mentioned(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "<@") || !strings.HasSuffix(s, ">") {
		return s, false
	}
	s = s[2 : len(s)-1]
	s = strings.TrimPrefix(s, "!")
	return s, true
}
