// Package blocklist implements the set of users and guilds denied access to
// the bot, kept consistent between durable storage and an in-memory cache.
package blocklist

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
)

// Kind distinguishes the namespace of a blocked identifier.
// User and guild snowflakes can collide numerically.
type Kind uint8

const (
	User Kind = 1 + iota
	Guild
)

// String returns the stored name of the kind.
func (k Kind) String() string {
	switch k {
	case User:
		return "USER"
	case Guild:
		return "GUILD"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// ParseKind parses a kind name, case-insensitively.
func ParseKind(s string) (Kind, error) {
	switch strings.ToUpper(s) {
	case "USER", "MEMBER":
		return User, nil
	case "GUILD", "SERVER":
		return Guild, nil
	default:
		return 0, fmt.Errorf("unknown block kind %q", s)
	}
}

// Entry is a single block record.
type Entry struct {
	// ID is the blocked user or guild ID.
	ID uint64
	// Kind is the namespace of ID.
	Kind Kind
	// Reason is an optional note from whoever created the block.
	Reason string
}

// Compare orders entries by ID and then kind.
// Stores return lists in this order.
func Compare(a, b Entry) int {
	if c := cmp.Compare(a.ID, b.ID); c != 0 {
		return c
	}
	return cmp.Compare(a.Kind, b.Kind)
}

var (
	// ErrAlreadyBlocked is returned when blocking an identifier that already
	// has an entry of the same kind.
	ErrAlreadyBlocked = errors.New("already blocked")
	// ErrNotBlocked is returned when unblocking an identifier with no entry.
	ErrNotBlocked = errors.New("not blocked")
	// ErrAmbiguous is returned when unblocking by ID alone matches both a
	// user entry and a guild entry.
	ErrAmbiguous = errors.New("blocked as both a user and a guild")
)

// Store is durable storage for block entries.
type Store interface {
	// Insert adds an entry. If an entry with the same ID and kind exists,
	// Insert returns ErrAlreadyBlocked and changes nothing.
	Insert(ctx context.Context, e Entry) error
	// Delete removes the entry with the given ID and kind.
	// If there is no such entry, Delete returns ErrNotBlocked.
	Delete(ctx context.Context, id uint64, kind Kind) error
	// Lookup returns all entries with the given ID, in Compare order.
	Lookup(ctx context.Context, id uint64) ([]Entry, error)
	// List returns every entry in Compare order.
	List(ctx context.Context) ([]Entry, error)
}

// Cache is the in-memory mirror of a Store.
type Cache interface {
	Add(id uint64, kind Kind)
	Remove(id uint64, kind Kind)
	Contains(id uint64) bool
	Replace(entries []Entry)
	All() iter.Seq2[uint64, Kind]
}
