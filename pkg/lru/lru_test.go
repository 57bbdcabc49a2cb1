package lru

import "testing"

func TestPutGet(t *testing.T) {
	c := New[int, string](2)
	c.Put(1, "a")
	c.Put(2, "b")
	if v, ok := c.Get(1); !ok || v != "a" {
		t.Fatalf("Get(1) = %q, %v", v, ok)
	}
}

func TestEvictsLeastRecentlyUsed(t *testing.T) {
	c := New[int, string](2)
	c.Put(1, "a")
	c.Put(2, "b")
	c.Get(1) // 1 is now most recent; 2 is the LRU victim
	c.Put(3, "c")

	if _, ok := c.Get(2); ok {
		t.Fatalf("expected key 2 to be evicted")
	}
	if v, ok := c.Get(1); !ok || v != "a" {
		t.Fatalf("expected key 1 to survive, got %q, %v", v, ok)
	}
	if v, ok := c.Get(3); !ok || v != "c" {
		t.Fatalf("expected key 3 present, got %q, %v", v, ok)
	}
}

func TestOverwriteDoesNotGrow(t *testing.T) {
	c := New[int, string](2)
	c.Put(1, "a")
	c.Put(1, "a2")
	if c.Len() != 1 {
		t.Fatalf("expected len 1, got %d", c.Len())
	}
	v, _ := c.Get(1)
	if v != "a2" {
		t.Fatalf("expected overwritten value, got %q", v)
	}
}

func TestRemoveAndClear(t *testing.T) {
	c := New[int, string](4)
	c.Put(1, "a")
	c.Put(2, "b")
	c.Remove(1)
	if _, ok := c.Get(1); ok {
		t.Fatalf("expected key 1 removed")
	}
	c.Clear()
	if c.Len() != 0 {
		t.Fatalf("expected empty cache after Clear, got len %d", c.Len())
	}
}

func TestCapacityNormalizedToOne(t *testing.T) {
	c := New[int, string](0)
	c.Put(1, "a")
	c.Put(2, "b")
	if c.Len() != 1 {
		t.Fatalf("expected capacity normalized to 1, got len %d", c.Len())
	}
}
