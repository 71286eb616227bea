package presence

import "testing"

func TestAttachDetachTracksOnline(t *testing.T) {
	r := New()

	wasOffline := r.Attach(1, "sessA")
	if !wasOffline {
		t.Fatal("expected first attach to report wasOffline=true")
	}
	if !r.IsOnline(1) {
		t.Fatal("expected user to be online after attach")
	}

	r.Attach(1, "sessB")
	if r.LiveSessionCount() != 2 {
		t.Fatalf("got %d sessions, want 2", r.LiveSessionCount())
	}

	wentOffline, _ := r.Detach(1, "sessA")
	if wentOffline {
		t.Fatal("should not be offline with sessB still attached")
	}

	wentOffline, _ = r.Detach(1, "sessB")
	if !wentOffline {
		t.Fatal("expected last detach to report wentOffline=true")
	}
	if r.IsOnline(1) {
		t.Fatal("expected user offline after last session detached")
	}
}

func TestViewershipAcrossMultipleSessions(t *testing.T) {
	r := New()
	r.Attach(2, "s1")
	r.Attach(2, "s2")

	first := r.Join(2, "s1", 100)
	if !first {
		t.Fatal("expected first join to report firstJoin=true")
	}
	if !r.IsViewer(100, 2) {
		t.Fatal("expected user to be a viewer after join")
	}

	// second session joining the same conversation is not a "first join"
	if r.Join(2, "s2", 100) {
		t.Fatal("expected firstJoin=false when another session already joined")
	}

	// leaving from s1 should not remove viewership: s2 still has it joined
	last := r.Leave(2, "s1", 100)
	if last {
		t.Fatal("should not be last leave while s2 still joined")
	}
	if !r.IsViewer(100, 2) {
		t.Fatal("expected user to remain a viewer while s2 still joined")
	}

	// leaving from s2 removes the last join
	last = r.Leave(2, "s2", 100)
	if !last {
		t.Fatal("expected last leave to report lastLeave=true")
	}
	if r.IsViewer(100, 2) {
		t.Fatal("expected user to no longer be a viewer")
	}
}

func TestDetachReturnsAffectedConversations(t *testing.T) {
	r := New()
	r.Attach(3, "s1")
	r.Join(3, "s1", 10)
	r.Join(3, "s1", 20)

	_, affected := r.Detach(3, "s1")
	if len(affected) != 2 {
		t.Fatalf("got %d affected conversations, want 2", len(affected))
	}
	if r.IsViewer(10, 3) || r.IsViewer(20, 3) {
		t.Fatal("expected viewership cleared after detach")
	}
}

func TestThrottleTypingAtMostOncePerWindow(t *testing.T) {
	r := New()

	passed := 0
	for i := 0; i < 5; i++ {
		if r.ThrottleTyping(1, 2, 1000) {
			passed++
		}
	}
	if passed != 1 {
		t.Fatalf("got %d passes, want 1", passed)
	}
}
