package providerpool

import "testing"

// scenario 1: one input A with max=2, grace=1 (the pool's fixed grace
// allowance). acquire(A) x4 -> Available, Available, GracePeriod,
// Exhausted; releasing the first frees a slot for a 5th Available.
func TestProviderPoolSingleCapacity(t *testing.T) {
	pp := New([]InputConfig{
		{ID: 1, Name: "A", URL: "http://a", MaxConnections: 2},
	}, 10, 5, nil)

	h1 := pp.Acquire("A", "c1")
	if h1.State() != Available {
		t.Fatalf("1st acquire: got %v, want Available", h1.State())
	}
	h2 := pp.Acquire("A", "c2")
	if h2.State() != Available {
		t.Fatalf("2nd acquire: got %v, want Available", h2.State())
	}
	h3 := pp.Acquire("A", "c3")
	if h3.State() != GracePeriod {
		t.Fatalf("3rd acquire: got %v, want GracePeriod", h3.State())
	}
	h4 := pp.Acquire("A", "c4")
	if h4.State() != Exhausted {
		t.Fatalf("4th acquire: got %v, want Exhausted", h4.State())
	}

	pp.Release("c1")

	h5 := pp.Acquire("A", "c5")
	if h5.State() != Available {
		t.Fatalf("5th acquire after release: got %v, want Available", h5.State())
	}
}

// scenario 2: input B with main {pri:1, max:1} and aliases {pri:0, max:2},
// {pri:2, max:1}. Ascending priority order means the pri:0 alias goes
// first, then the pri:1 main, then the pri:2 alias.
func TestProviderPoolAliasedPriorities(t *testing.T) {
	pp := New([]InputConfig{
		{
			ID: 1, Name: "B", URL: "http://main", Priority: 1, MaxConnections: 1,
			Aliases: []AliasInput{
				{ID: 2, Name: "alias_2", URL: "http://alias1", Priority: 0, MaxConnections: 2},
				{ID: 3, Name: "alias_3", URL: "http://alias2", Priority: 2, MaxConnections: 1},
			},
		},
	}, 10, 5, nil)

	want := []string{"alias_2", "alias_2", "B", "alias_3"}
	for i, name := range want {
		h := pp.Acquire("B", "client")
		if h.State() == Exhausted {
			t.Fatalf("acquire %d: unexpectedly exhausted", i)
		}
		if h.ProviderName() != name {
			t.Fatalf("acquire %d: got provider %q, want %q", i, h.ProviderName(), name)
		}
		defer h.Release()
	}
}

func TestProviderPoolGetNextNeverAllocates(t *testing.T) {
	pp := New([]InputConfig{
		{ID: 1, Name: "A", URL: "http://a", MaxConnections: 1},
	}, 0, 0, nil)

	for i := 0; i < 5; i++ {
		p := pp.GetNext("A")
		if p == nil {
			t.Fatalf("GetNext returned nil")
		}
	}
	if got := pp.ActiveConnections(); got != nil {
		t.Fatalf("GetNext must never allocate capacity, got %v", got)
	}
}

func TestProviderPoolForceAcquirePinsExactProvider(t *testing.T) {
	pp := New([]InputConfig{
		{ID: 1, Name: "A", URL: "http://a", MaxConnections: 1},
	}, 0, 0, nil)

	h := pp.ForceAcquire("A", "c1")
	if h.State() != Available || h.ProviderName() != "A" {
		t.Fatalf("ForceAcquire: got state=%v name=%q", h.State(), h.ProviderName())
	}
	// Force-acquire bypasses the limit entirely.
	h2 := pp.ForceAcquire("A", "c2")
	if h2.State() != Available {
		t.Fatalf("second ForceAcquire should still succeed, got %v", h2.State())
	}
}

func TestProviderPoolUpdateConfigCarriesOverCounters(t *testing.T) {
	initial := []InputConfig{{ID: 1, Name: "A", URL: "http://a", MaxConnections: 5}}
	pp := New(initial, 0, 0, nil)

	h := pp.Acquire("A", "c1")
	if h.State() != Available {
		t.Fatalf("acquire: got %v", h.State())
	}

	oldByName := map[string]InputConfig{"A": initial[0]}
	updated := []InputConfig{{ID: 1, Name: "A", URL: "http://a", MaxConnections: 10}}
	pp.UpdateConfig(updated, 0, 0, oldByName)

	active := pp.ActiveConnections()
	if active["A"] != 1 {
		t.Fatalf("expected carried-over count of 1, got %v", active)
	}
}

func TestProviderPoolUpdateConfigSkipsRebuildWhenUnchanged(t *testing.T) {
	initial := []InputConfig{{ID: 1, Name: "A", URL: "http://a", MaxConnections: 1}}
	pp := New(initial, 0, 0, nil)
	before := pp.current.Load()

	oldByName := map[string]InputConfig{"A": initial[0]}
	pp.UpdateConfig(initial, 0, 0, oldByName)

	after := pp.current.Load()
	if before != after {
		t.Fatalf("expected snapshot to be unchanged for an equal input set")
	}
}

func TestProviderPoolIsOverLimit(t *testing.T) {
	pp := New([]InputConfig{
		{ID: 1, Name: "A", URL: "http://a", MaxConnections: 1},
	}, 10, 5, nil)

	if pp.IsOverLimit("A") {
		t.Fatalf("fresh provider should not be over limit")
	}
	pp.Acquire("A", "c1")
	if pp.IsOverLimit("A") {
		t.Fatalf("provider at exactly max (not yet over) should not report over-limit before grace is used")
	}
	pp.Acquire("A", "c2") // grace slot
	if !pp.IsOverLimit("A") {
		t.Fatalf("provider using its grace slot should report over-limit")
	}
}
