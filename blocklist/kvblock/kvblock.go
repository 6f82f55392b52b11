// Package kvblock implements a block list store in a Badger database.
package kvblock

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"slices"

	"github.com/dgraph-io/badger/v4"

	"github.com/zephyrtronium/warden/blocklist"
)

/*
Key structure:
Prefix × Kind × ID
- Prefix is the bytes "block\x00" so the list can share a database.
- Kind is one byte, the numeric blocklist.Kind.
- ID is eight bytes big-endian.
The value is the reason text, possibly empty.
*/

const prefix = "block\x00"

// List is a block list backed by a Badger database.
type List struct {
	db *badger.DB
}

var _ blocklist.Store = (*List)(nil)

// New returns a block list in a Badger database.
// The db must remain open for the lifetime of the list.
func New(db *badger.DB) *List {
	return &List{db: db}
}

func key(id uint64, kind blocklist.Kind) []byte {
	b := make([]byte, 0, len(prefix)+1+8)
	b = append(b, prefix...)
	b = append(b, byte(kind))
	return binary.BigEndian.AppendUint64(b, id)
}

func parseKey(k []byte) (uint64, blocklist.Kind, error) {
	if len(k) != len(prefix)+1+8 {
		return 0, 0, fmt.Errorf("malformed block key %q", k)
	}
	kind := blocklist.Kind(k[len(prefix)])
	id := binary.BigEndian.Uint64(k[len(prefix)+1:])
	return id, kind, nil
}

// Insert adds an entry to the database.
func (l *List) Insert(ctx context.Context, e blocklist.Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	k := key(e.ID, e.Kind)
	err := l.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(k)
		switch {
		case err == nil:
			return blocklist.ErrAlreadyBlocked
		case errors.Is(err, badger.ErrKeyNotFound): // do nothing
		default:
			return err
		}
		return txn.Set(k, []byte(e.Reason))
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, blocklist.ErrAlreadyBlocked):
		return err
	default:
		return fmt.Errorf("couldn't add block entry: %w", err)
	}
}

// Delete removes an entry from the database.
func (l *List) Delete(ctx context.Context, id uint64, kind blocklist.Kind) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	k := key(id, kind)
	err := l.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(k)
		switch {
		case err == nil: // do nothing
		case errors.Is(err, badger.ErrKeyNotFound):
			return blocklist.ErrNotBlocked
		default:
			return err
		}
		return txn.Delete(k)
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, blocklist.ErrNotBlocked):
		return err
	default:
		return fmt.Errorf("couldn't remove block entry: %w", err)
	}
}

// Lookup finds the entries for an ID.
func (l *List) Lookup(ctx context.Context, id uint64) ([]blocklist.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var r []blocklist.Entry
	err := l.db.View(func(txn *badger.Txn) error {
		for _, kind := range []blocklist.Kind{blocklist.User, blocklist.Guild} {
			item, err := txn.Get(key(id, kind))
			switch {
			case err == nil: // do nothing
			case errors.Is(err, badger.ErrKeyNotFound):
				continue
			default:
				return err
			}
			v, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			r = append(r, blocklist.Entry{ID: id, Kind: kind, Reason: string(v)})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("couldn't look up block entry: %w", err)
	}
	return r, nil
}

// List lists all entries.
func (l *List) List(ctx context.Context) ([]blocklist.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var r []blocklist.Entry
	err := l.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(opts.Prefix); it.ValidForPrefix(opts.Prefix); it.Next() {
			item := it.Item()
			id, kind, err := parseKey(item.Key())
			if err != nil {
				return err
			}
			v, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			r = append(r, blocklist.Entry{ID: id, Kind: kind, Reason: string(v)})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("couldn't list block entries: %w", err)
	}
	slices.SortFunc(r, blocklist.Compare)
	return r, nil
}
