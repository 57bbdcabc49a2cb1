package svchealth

import (
	"errors"
	"testing"
)

func TestCheckerRollup(t *testing.T) {
	c := NewChecker()

	c.Run("a", func() error { return nil })
	if got := c.Overall(); got != Healthy {
		t.Fatalf("expected Healthy with one passing check, got %v", got)
	}

	c.Run("b", func() error { return errors.New("boom") })
	if got := c.Overall(); got != Degraded {
		t.Fatalf("expected Degraded with one of two checks failing, got %v", got)
	}

	c.Run("a", func() error { return errors.New("also broken") })
	if got := c.Overall(); got != Unhealthy {
		t.Fatalf("expected Unhealthy with all checks failing, got %v", got)
	}

	if len(c.All()) != 2 {
		t.Fatalf("expected 2 recorded checks, got %d", len(c.All()))
	}
}

func TestCheckerEmptyIsHealthy(t *testing.T) {
	c := NewChecker()
	if got := c.Overall(); got != Healthy {
		t.Fatalf("expected empty Checker to report Healthy, got %v", got)
	}
}
