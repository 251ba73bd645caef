package clock_test

import (
	"testing"
	"time"

	"github.com/artpar/modelgate/adapters/clock"
)

func TestReal_Now(t *testing.T) {
	c := clock.Real{}

	before := time.Now().UTC()
	got := c.Now()
	after := time.Now().UTC()

	if got.Before(before) || got.After(after) {
		t.Errorf("Now() = %v, want between %v and %v", got, before, after)
	}
	if got.Location() != time.UTC {
		t.Errorf("Now() location = %v, want UTC", got.Location())
	}
}

func TestFake(t *testing.T) {
	base := time.Date(2026, 3, 18, 12, 0, 0, 0, time.UTC)
	c := clock.NewFake(base)

	if got := c.Now(); !got.Equal(base) {
		t.Errorf("Now() = %v, want %v", got, base)
	}

	c.Advance(time.Hour)
	if got := c.Now(); !got.Equal(base.Add(time.Hour)) {
		t.Errorf("after Advance, Now() = %v", got)
	}

	c.Set(base)
	if got := c.Now(); !got.Equal(base) {
		t.Errorf("after Set, Now() = %v", got)
	}
}
