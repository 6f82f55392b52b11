package resolve_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/zephyrtronium/warden/blocklist"
	"github.com/zephyrtronium/warden/resolve"
)

type users struct {
	known map[string]bool
	calls int
	err   error
}

func (u *users) lookup(ctx context.Context, id string) error {
	u.calls++
	if u.err != nil {
		return u.err
	}
	if !u.known[id] {
		return resolve.ErrNotFound
	}
	return nil
}

func TestTarget(t *testing.T) {
	cases := []struct {
		name string
		arg  string
		want blocklist.Target
		err  error
	}{
		{"mention", "<@555>", blocklist.ResolvedUser{ID: 555}, nil},
		{"nick", "<@!555>", blocklist.ResolvedUser{ID: 555}, nil},
		{"user-id", "555", blocklist.ResolvedUser{ID: 555}, nil},
		{"guild-id", "1256942715761856562", blocklist.RawID{ID: 1256942715761856562}, nil},
		{"unknown-mention", "<@777>", nil, resolve.ErrMalformed},
		{"name", "bocchi", nil, resolve.ErrMalformed},
		{"zero", "0", nil, resolve.ErrMalformed},
		{"negative", "-5", nil, resolve.ErrMalformed},
		{"empty", "", nil, resolve.ErrMalformed},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			u := users{known: map[string]bool{"555": true}}
			r, err := resolve.New(u.lookup, time.Minute)
			if err != nil {
				t.Fatal(err)
			}
			defer r.Close()
			got, err := r.Target(context.Background(), c.arg)
			if !errors.Is(err, c.err) {
				t.Errorf("wrong error: want %v, got %v", c.err, err)
			}
			if got != c.want {
				t.Errorf("wrong target: want %#v, got %#v", c.want, got)
			}
		})
	}
}

func TestTargetRemembers(t *testing.T) {
	u := users{known: map[string]bool{"555": true}}
	r, err := resolve.New(u.lookup, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	ctx := context.Background()
	for range 3 {
		if _, err := r.Target(ctx, "555"); err != nil {
			t.Fatal(err)
		}
		if _, err := r.Target(ctx, "12"); err != nil {
			t.Fatal(err)
		}
	}
	if u.calls != 2 {
		t.Errorf("wrong number of lookups: want 2, got %d", u.calls)
	}
}

func TestTargetLookupFailure(t *testing.T) {
	u := users{err: errors.New("503 Service Unavailable")}
	r, err := resolve.New(u.lookup, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	ctx := context.Background()
	if _, err := r.Target(ctx, "555"); err == nil || errors.Is(err, resolve.ErrMalformed) {
		t.Errorf("wrong error for failed lookup: %v", err)
	}
	// Failures aren't remembered.
	u.err = nil
	got, err := r.Target(ctx, "555")
	if err != nil {
		t.Fatal(err)
	}
	if got != (blocklist.RawID{ID: 555}) {
		t.Errorf("wrong target after recovery: %#v", got)
	}
}
