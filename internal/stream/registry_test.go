package stream

import "testing"

func TestRegistry_OpenAndClose(t *testing.T) {
	r := NewRegistry()

	var closed int
	r.Open("t1", func() { closed++ })

	if !r.HasActiveConnection([]string{"t1"}) {
		t.Error("expected t1 connection tracked")
	}
	if r.HasActiveConnection([]string{"t2"}) {
		t.Error("unexpected connection for t2")
	}

	r.CloseConnectionsForTasks([]string{"t1", "t2"})
	if closed != 1 {
		t.Errorf("expected closeFn called once, got %d", closed)
	}
	if r.HasActiveConnection([]string{"t1"}) {
		t.Error("expected t1 removed after close")
	}

	// Closing again is a no-op.
	r.CloseConnectionsForTasks([]string{"t1"})
	if closed != 1 {
		t.Errorf("close must be idempotent, closeFn called %d times", closed)
	}
}

func TestRegistry_ReopenClosesPrevious(t *testing.T) {
	r := NewRegistry()

	var first, second int
	r.Open("t1", func() { first++ })
	r.Open("t1", func() { second++ })

	if first != 1 {
		t.Errorf("expected first connection closed on reopen, got %d", first)
	}
	if second != 0 {
		t.Errorf("second connection must stay open, closed %d times", second)
	}
	if r.ActiveCount() != 1 {
		t.Errorf("expected 1 active connection, got %d", r.ActiveCount())
	}
}

func TestRegistry_ReleaseDoesNotClose(t *testing.T) {
	r := NewRegistry()

	var closed int
	r.Open("t1", func() { closed++ })
	r.Release("t1")

	if closed != 0 {
		t.Errorf("release must not invoke closeFn, called %d times", closed)
	}
	if r.ActiveCount() != 0 {
		t.Errorf("expected empty registry, got %d", r.ActiveCount())
	}
}

func TestConnection_CloseIdempotent(t *testing.T) {
	var closed int
	c := &Connection{TaskID: "t1", closeFn: func() { closed++ }}
	c.Close()
	c.Close()
	if closed != 1 {
		t.Errorf("expected closeFn called once, got %d", closed)
	}
}
