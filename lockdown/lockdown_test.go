package lockdown_test

import (
	"context"
	"testing"
	"time"

	"github.com/zephyrtronium/warden/lockdown"
)

func TestActive(t *testing.T) {
	var s lockdown.State
	if on, msg := s.Active(); on || msg != "" {
		t.Errorf("zero state is active: %q", msg)
	}
	s.Begin("")
	if on, msg := s.Active(); !on || msg != lockdown.DefaultMessage {
		t.Errorf("wrong state after begin without message: %t %q", on, msg)
	}
	s.Begin("back soon")
	if on, msg := s.Active(); !on || msg != "back soon" {
		t.Errorf("wrong state after begin with message: %t %q", on, msg)
	}
	if !s.End() {
		t.Errorf("end reported no lockdown")
	}
	if on, _ := s.Active(); on {
		t.Errorf("still active after end")
	}
	if s.End() {
		t.Errorf("second end reported a lockdown")
	}
}

func TestGenerations(t *testing.T) {
	var s lockdown.State
	a := s.Begin("a")
	if !s.Current(a) {
		t.Errorf("first lockdown not current")
	}
	s.End()
	if s.Current(a) {
		t.Errorf("ended lockdown is current")
	}
	b := s.Begin("b")
	if a == b {
		t.Fatalf("generations did not advance: %d", a)
	}
	if s.Current(a) {
		t.Errorf("old generation is current after off then on")
	}
	if !s.Current(b) {
		t.Errorf("new generation is not current")
	}
}

func TestAwait(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	cases := []struct {
		name string
		// during runs while Await waits.
		during func(s *lockdown.State)
		want   bool
	}{
		{"held", func(s *lockdown.State) {}, true},
		{"ended", func(s *lockdown.State) { s.End() }, false},
		{"restarted", func(s *lockdown.State) { s.End(); s.Begin("again") }, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			var s lockdown.State
			gen := s.Begin("")
			c.during(&s)
			if got := s.Await(ctx, gen, time.Millisecond); got != c.want {
				t.Errorf("wrong await result: want %t, got %t", c.want, got)
			}
		})
	}
}

func TestAwaitCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var s lockdown.State
	gen := s.Begin("")
	if s.Await(ctx, gen, time.Hour) {
		t.Errorf("await reported lockdown after cancel")
	}
}
