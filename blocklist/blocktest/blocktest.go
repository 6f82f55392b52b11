// Package blocktest provides integration testing facilities for block list
// stores.
package blocktest

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/zephyrtronium/warden/blocklist"
)

// Test runs the integration test suite against stores produced by new.
// Each subtest receives a fresh store.
//
// If a store cannot be created without error, new should call t.Fatal.
func Test(ctx context.Context, t *testing.T, new func(context.Context) blocklist.Store) {
	t.Run("insert", testInsert(ctx, new(ctx)))
	t.Run("duplicate", testDuplicate(ctx, new(ctx)))
	t.Run("kinds", testKinds(ctx, new(ctx)))
	t.Run("delete", testDelete(ctx, new(ctx)))
	t.Run("deleteMissing", testDeleteMissing(ctx, new(ctx)))
	t.Run("list", testList(ctx, new(ctx)))
}

func testInsert(ctx context.Context, s blocklist.Store) func(t *testing.T) {
	return func(t *testing.T) {
		e := blocklist.Entry{ID: 555, Kind: blocklist.User, Reason: "spam"}
		if err := s.Insert(ctx, e); err != nil {
			t.Fatalf("couldn't insert: %v", err)
		}
		got, err := s.Lookup(ctx, 555)
		if err != nil {
			t.Fatalf("couldn't look up: %v", err)
		}
		if diff := cmp.Diff([]blocklist.Entry{e}, got); diff != "" {
			t.Errorf("wrong lookup (+got/-want):\n%s", diff)
		}
		got, err = s.Lookup(ctx, 556)
		if err != nil {
			t.Fatalf("couldn't look up absent: %v", err)
		}
		if len(got) != 0 {
			t.Errorf("found entries for absent id: %v", got)
		}
	}
}

func testDuplicate(ctx context.Context, s blocklist.Store) func(t *testing.T) {
	return func(t *testing.T) {
		e := blocklist.Entry{ID: 1, Kind: blocklist.Guild, Reason: "first"}
		if err := s.Insert(ctx, e); err != nil {
			t.Fatalf("couldn't insert: %v", err)
		}
		err := s.Insert(ctx, blocklist.Entry{ID: 1, Kind: blocklist.Guild, Reason: "second"})
		if !errors.Is(err, blocklist.ErrAlreadyBlocked) {
			t.Errorf("wrong error for duplicate insert: want %v, got %v", blocklist.ErrAlreadyBlocked, err)
		}
		got, err := s.List(ctx)
		if err != nil {
			t.Fatalf("couldn't list: %v", err)
		}
		if diff := cmp.Diff([]blocklist.Entry{e}, got); diff != "" {
			t.Errorf("duplicate insert changed state (+got/-want):\n%s", diff)
		}
	}
}

func testKinds(ctx context.Context, s blocklist.Store) func(t *testing.T) {
	return func(t *testing.T) {
		u := blocklist.Entry{ID: 7, Kind: blocklist.User}
		g := blocklist.Entry{ID: 7, Kind: blocklist.Guild, Reason: "raid"}
		if err := s.Insert(ctx, g); err != nil {
			t.Fatalf("couldn't insert guild: %v", err)
		}
		if err := s.Insert(ctx, u); err != nil {
			t.Fatalf("couldn't insert user with same id as guild: %v", err)
		}
		got, err := s.Lookup(ctx, 7)
		if err != nil {
			t.Fatalf("couldn't look up: %v", err)
		}
		if diff := cmp.Diff([]blocklist.Entry{u, g}, got); diff != "" {
			t.Errorf("wrong lookup (+got/-want):\n%s", diff)
		}
	}
}

func testDelete(ctx context.Context, s blocklist.Store) func(t *testing.T) {
	return func(t *testing.T) {
		for _, e := range []blocklist.Entry{{ID: 9, Kind: blocklist.User}, {ID: 9, Kind: blocklist.Guild}} {
			if err := s.Insert(ctx, e); err != nil {
				t.Fatalf("couldn't insert %v: %v", e, err)
			}
		}
		if err := s.Delete(ctx, 9, blocklist.User); err != nil {
			t.Fatalf("couldn't delete: %v", err)
		}
		got, err := s.Lookup(ctx, 9)
		if err != nil {
			t.Fatalf("couldn't look up: %v", err)
		}
		want := []blocklist.Entry{{ID: 9, Kind: blocklist.Guild}}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("wrong entries after delete (+got/-want):\n%s", diff)
		}
		if err := s.Delete(ctx, 9, blocklist.User); !errors.Is(err, blocklist.ErrNotBlocked) {
			t.Errorf("wrong error deleting twice: want %v, got %v", blocklist.ErrNotBlocked, err)
		}
	}
}

func testDeleteMissing(ctx context.Context, s blocklist.Store) func(t *testing.T) {
	return func(t *testing.T) {
		if err := s.Delete(ctx, 404, blocklist.Guild); !errors.Is(err, blocklist.ErrNotBlocked) {
			t.Errorf("wrong error deleting missing entry: want %v, got %v", blocklist.ErrNotBlocked, err)
		}
		got, err := s.List(ctx)
		if err != nil {
			t.Fatalf("couldn't list: %v", err)
		}
		if len(got) != 0 {
			t.Errorf("entries appeared after failed delete: %v", got)
		}
	}
}

func testList(ctx context.Context, s blocklist.Store) func(t *testing.T) {
	return func(t *testing.T) {
		in := []blocklist.Entry{
			{ID: 1 << 62, Kind: blocklist.User, Reason: "big"},
			{ID: 3, Kind: blocklist.Guild},
			{ID: 2, Kind: blocklist.User, Reason: "bocchi"},
			{ID: 3, Kind: blocklist.User, Reason: "ryou"},
		}
		for _, e := range in {
			if err := s.Insert(ctx, e); err != nil {
				t.Fatalf("couldn't insert %v: %v", e, err)
			}
		}
		want := []blocklist.Entry{
			{ID: 2, Kind: blocklist.User, Reason: "bocchi"},
			{ID: 3, Kind: blocklist.User, Reason: "ryou"},
			{ID: 3, Kind: blocklist.Guild},
			{ID: 1 << 62, Kind: blocklist.User, Reason: "big"},
		}
		got, err := s.List(ctx)
		if err != nil {
			t.Fatalf("couldn't list: %v", err)
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("wrong list (+got/-want):\n%s", diff)
		}
	}
}
