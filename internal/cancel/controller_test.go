package cancel

import "testing"

func TestGetOrCreate_ReturnsSameTokenUntilCancelled(t *testing.T) {
	c := NewController()
	a := c.GetOrCreate(OpGeneration)
	b := c.GetOrCreate(OpGeneration)
	if a != b {
		t.Fatal("expected the same token while not cancelled")
	}

	c.Cancel(OpGeneration)
	d := c.GetOrCreate(OpGeneration)
	if d == a {
		t.Fatal("expected a new token after cancel")
	}
}

func TestCancel_TwiceIsNoop(t *testing.T) {
	c := NewController()
	c.GetOrCreate(OpGeneration)
	c.Cancel(OpGeneration)
	c.Cancel(OpGeneration) // must not panic
	if c.Active(OpGeneration) {
		t.Fatal("expected no active token after cancel")
	}
}

func TestIndependentTracks(t *testing.T) {
	c := NewController()
	gen := c.GetOrCreate(OpGeneration)
	c.GetOrCreate(OpDeepDebug)

	c.Cancel(OpGeneration)
	if gen.Cancelled() != true {
		t.Fatal("expected generation token cancelled")
	}
	if !c.Active(OpDeepDebug) {
		t.Fatal("deep-debug track must be unaffected by generation cancel")
	}
}
