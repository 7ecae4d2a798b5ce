package runtime

import (
	"testing"
	"time"
)

func TestUnrespondedTracker_ResolveClearsEntry(t *testing.T) {
	u := NewUnrespondedTracker()
	u.Mark("repo-1", "sess-1", "C1")
	u.Resolve("sess-1")

	if len(u.pending) != 0 {
		t.Errorf("expected Resolve to remove the pending entry, got %d remaining", len(u.pending))
	}
}

func TestUnrespondedTracker_SweepAlertsOnlyPastThreshold(t *testing.T) {
	u := NewUnrespondedTracker()
	u.Mark("repo-1", "fresh", "C1")
	u.pending["stale"] = &pending{repoID: "repo-1", sessionID: "stale", commentID: "C2", markedAt: time.Now().Add(-unrespondedAlertAfter - time.Minute)}

	u.Sweep()

	if u.pending["fresh"].alerted {
		t.Errorf("expected a recently marked entry to not be alerted yet")
	}
	if !u.pending["stale"].alerted {
		t.Errorf("expected a stale entry past the threshold to be alerted")
	}
}

func TestUnrespondedTracker_SweepDoesNotRealertSameEntry(t *testing.T) {
	u := NewUnrespondedTracker()
	u.pending["stale"] = &pending{repoID: "repo-1", sessionID: "stale", commentID: "C2", markedAt: time.Now().Add(-unrespondedAlertAfter - time.Minute)}

	u.Sweep()
	firstAlertedAt := u.pending["stale"].alerted
	u.Sweep()

	if !firstAlertedAt || !u.pending["stale"].alerted {
		t.Fatalf("expected the entry to remain alerted across sweeps")
	}
}
