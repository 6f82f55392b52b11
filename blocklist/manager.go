package blocklist

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/zephyrtronium/warden/metrics"
)

// Manager applies block list mutations to a store and then to its cache.
// Mutations are serialized, so the cache never observes an interleaving of
// two writes to the same identifier.
type Manager struct {
	mu    sync.Mutex
	store Store
	cache Cache
	log   *slog.Logger

	// Mutations counts successful mutations, labelled by operation.
	// It may be nil.
	Mutations metrics.Observer
	// Size observes the number of cached entries of each kind after every
	// change, labelled by kind. It may be nil.
	Size metrics.Observer
}

// NewManager creates a manager over a store and cache. The cache is not
// populated until Load is called.
func NewManager(store Store, cache Cache, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{store: store, cache: cache, log: log}
}

// Load replaces the contents of the cache with the store's entries.
func (m *Manager) Load(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, err := m.store.List(ctx)
	if err != nil {
		return fmt.Errorf("couldn't load block list: %w", err)
	}
	m.cache.Replace(l)
	m.observeSize()
	m.log.DebugContext(ctx, "loaded block list", slog.Int("entries", len(l)))
	return nil
}

// Block adds a block entry. If an entry with the same ID and kind exists, the
// result is ErrAlreadyBlocked and nothing changes.
func (m *Manager) Block(ctx context.Context, id uint64, kind Kind, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	err := m.store.Insert(ctx, Entry{ID: id, Kind: kind, Reason: reason})
	if err != nil {
		return err
	}
	// The entry is durable. Update the cache even if ctx is done by now.
	m.cache.Add(id, kind)
	m.observe("block")
	m.observeSize()
	m.log.InfoContext(ctx, "blocked",
		slog.Uint64("id", id),
		slog.String("kind", kind.String()),
		slog.String("reason", reason),
	)
	return nil
}

// Unblock removes the block entry for an ID regardless of kind.
// If there is no entry, the result is ErrNotBlocked. If the ID is blocked as
// both a user and a guild, the result is ErrAmbiguous and nothing changes;
// use UnblockKind to choose one.
func (m *Manager) Unblock(ctx context.Context, id uint64) (Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, err := m.store.Lookup(ctx, id)
	if err != nil {
		return Entry{}, fmt.Errorf("couldn't look up block entry: %w", err)
	}
	switch len(l) {
	case 0:
		return Entry{}, ErrNotBlocked
	case 1: // do nothing
	default:
		return Entry{}, ErrAmbiguous
	}
	if err := m.unblock(ctx, id, l[0].Kind); err != nil {
		return Entry{}, err
	}
	return l[0], nil
}

// UnblockKind removes the block entry for an ID and kind.
func (m *Manager) UnblockKind(ctx context.Context, id uint64, kind Kind) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.unblock(ctx, id, kind)
}

func (m *Manager) unblock(ctx context.Context, id uint64, kind Kind) error {
	if err := m.store.Delete(ctx, id, kind); err != nil {
		return err
	}
	m.cache.Remove(id, kind)
	m.observe("unblock")
	m.observeSize()
	m.log.InfoContext(ctx, "unblocked", slog.Uint64("id", id), slog.String("kind", kind.String()))
	return nil
}

// Blocked reports whether any of the given identifiers is blocked.
// It consults only the cache.
func (m *Manager) Blocked(ids ...uint64) bool {
	for _, id := range ids {
		if id != 0 && m.cache.Contains(id) {
			return true
		}
	}
	return false
}

// Entries lists the store's entries.
func (m *Manager) Entries(ctx context.Context) ([]Entry, error) {
	return m.store.List(ctx)
}

// Resync reloads the cache from the store every d until ctx is done.
// It returns nil when ctx ends.
func (m *Manager) Resync(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTicker(d)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if err := m.Load(ctx); err != nil {
				m.log.ErrorContext(ctx, "block list resync failed", slog.Any("err", err))
			}
		}
	}
}

func (m *Manager) observe(op string) {
	if m.Mutations != nil {
		m.Mutations.Observe(1, op)
	}
}

func (m *Manager) observeSize() {
	if m.Size == nil {
		return
	}
	var users, guilds int
	for _, kind := range m.cache.All() {
		switch kind {
		case User:
			users++
		case Guild:
			guilds++
		}
	}
	m.Size.Observe(float64(users), User.String())
	m.Size.Observe(float64(guilds), Guild.String())
}
