package resilience

import (
	"errors"
	"testing"
	"time"
)

func TestChain_PrimaryFirst(t *testing.T) {
	t.Parallel()

	c := NewChain("a", "value-a", ChainConfig{})
	c.Extend("b", "value-b")

	var seen []string
	err := c.Do(func(v string) error {
		seen = append(seen, v)
		return nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if len(seen) != 1 || seen[0] != "value-a" {
		t.Errorf("seen = %v, want [value-a]", seen)
	}
	if got := c.Primary(); got != "value-a" {
		t.Errorf("Primary() = %q, want value-a", got)
	}
}

func TestChain_FailoverInInsertionOrder(t *testing.T) {
	t.Parallel()

	c := NewChain("a", "value-a", ChainConfig{})
	c.Extend("b", "value-b")
	c.Extend("c", "value-c")

	var seen []string
	err := c.Do(func(v string) error {
		seen = append(seen, v)
		if v == "value-c" {
			return nil
		}
		return errVendorDown
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	want := []string{"value-a", "value-b", "value-c"}
	if len(seen) != len(want) {
		t.Fatalf("seen = %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("seen = %v, want %v", seen, want)
		}
	}
}

func TestChain_ExhaustionWrapsLastError(t *testing.T) {
	t.Parallel()

	c := NewChain("a", "value-a", ChainConfig{})
	c.Extend("b", "value-b")

	lastErr := errors.New("b is down")
	err := c.Do(func(v string) error {
		if v == "value-b" {
			return lastErr
		}
		return errVendorDown
	})
	if !errors.Is(err, ErrChainExhausted) {
		t.Fatalf("err = %v, want ErrChainExhausted", err)
	}
}

func TestChain_SkipsOpenBreaker(t *testing.T) {
	t.Parallel()

	c := NewChain("a", "value-a", ChainConfig{
		Breaker: BreakerConfig{TripAfter: 1, Cooldown: time.Hour},
	})
	c.Extend("b", "value-b")

	// Trip the primary's breaker.
	_ = c.Do(func(v string) error {
		if v == "value-a" {
			return errVendorDown
		}
		return nil
	})

	var seen []string
	err := c.Do(func(v string) error {
		seen = append(seen, v)
		return nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if len(seen) != 1 || seen[0] != "value-b" {
		t.Errorf("seen = %v, want [value-b] only", seen)
	}
}

func TestChain_AllBreakersOpen(t *testing.T) {
	t.Parallel()

	c := NewChain("a", "value-a", ChainConfig{
		Breaker: BreakerConfig{TripAfter: 1, Cooldown: time.Hour},
	})
	_ = c.Do(func(string) error { return errVendorDown })

	called := false
	err := c.Do(func(string) error { called = true; return nil })
	if !errors.Is(err, ErrChainExhausted) {
		t.Fatalf("err = %v, want ErrChainExhausted", err)
	}
	if called {
		t.Error("fn was called while every breaker was open")
	}
}

func TestCall_ReturnsResult(t *testing.T) {
	t.Parallel()

	c := NewChain("a", 7, ChainConfig{})
	got, err := Call(c, func(v int) (int, error) {
		return v * 2, nil
	})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if got != 14 {
		t.Errorf("Call result = %d, want 14", got)
	}
}

func TestCall_ZeroResultOnExhaustion(t *testing.T) {
	t.Parallel()

	c := NewChain("a", 7, ChainConfig{})
	got, err := Call(c, func(int) (int, error) {
		return 99, errVendorDown
	})
	if !errors.Is(err, ErrChainExhausted) {
		t.Fatalf("err = %v, want ErrChainExhausted", err)
	}
	if got != 0 {
		t.Errorf("Call result = %d, want zero value on failure", got)
	}
}
