package client

import (
	"testing"
	"time"

	"medishare/module/chat/model"
)

func confirmed(id, sender, text string, ts time.Time) model.Message {
	return model.Message{ID: id, SenderID: sender, SenderName: sender, Text: text, Timestamp: ts}
}

func texts(v *View) []string {
	var out []string
	for _, m := range v.Messages() {
		out = append(out, m.Text)
	}
	return out
}

func TestViewPendingThenEcho(t *testing.T) {
	now := time.Now()
	v := NewView()
	v.SetHistory([]model.Message{confirmed("m1", "peer", "hi", now.Add(-time.Minute))})

	v.AddPending("tmp-1", "me", "me", "hello back", now)
	if v.PendingCount() != 1 || len(v.Messages()) != 2 {
		t.Fatalf("pending=%d messages=%v", v.PendingCount(), texts(v))
	}

	// server echo of our own send replaces the optimistic row in place
	if !v.Apply(confirmed("m2", "me", "hello back", now.Add(200*time.Millisecond))) {
		t.Fatalf("echo did not change the view")
	}
	if v.PendingCount() != 0 {
		t.Fatalf("pending entry survived reconciliation")
	}
	msgs := v.Messages()
	if len(msgs) != 2 || msgs[1].ID != "m2" || msgs[1].Text != "hello back" {
		t.Fatalf("messages = %+v", msgs)
	}
}

func TestViewEchoBeforePendingMatchedByID(t *testing.T) {
	// broadcast can beat the ack: Apply lands first, then the ack's copy of
	// the same message must be a no-op rather than a duplicate
	now := time.Now()
	v := NewView()
	v.AddPending("tmp-1", "me", "me", "ping", now)

	msg := confirmed("m1", "me", "ping", now)
	if !v.Apply(msg) {
		t.Fatalf("first Apply did not change the view")
	}
	if v.Apply(msg) {
		t.Fatalf("second Apply of same id changed the view")
	}
	if got := texts(v); len(got) != 1 || got[0] != "ping" {
		t.Fatalf("messages = %v", got)
	}
	if v.PendingCount() != 0 {
		t.Fatalf("pending count = %d", v.PendingCount())
	}
}

func TestViewWindowBoundsFallbackMatch(t *testing.T) {
	now := time.Now()
	v := NewView()
	v.AddPending("tmp-1", "me", "me", "same text", now)

	// outside the window: not the same send, appended separately
	v.Apply(confirmed("m1", "me", "same text", now.Add(ReconcileWindow+time.Second)))
	if v.PendingCount() != 1 || len(v.Messages()) != 2 {
		t.Fatalf("out-of-window echo reconciled: pending=%d messages=%v", v.PendingCount(), texts(v))
	}

	// a different sender never matches, even with identical text
	v.Apply(confirmed("m2", "peer", "same text", now))
	if v.PendingCount() != 1 || len(v.Messages()) != 3 {
		t.Fatalf("cross-sender echo reconciled: pending=%d", v.PendingCount())
	}

	// within the window for the right sender: reconciled
	v.Apply(confirmed("m3", "me", "same text", now.Add(time.Second)))
	if v.PendingCount() != 0 || len(v.Messages()) != 3 {
		t.Fatalf("in-window echo not reconciled: pending=%d messages=%v", v.PendingCount(), texts(v))
	}
}

func TestViewDropPending(t *testing.T) {
	now := time.Now()
	v := NewView()
	v.SetHistory([]model.Message{confirmed("m1", "peer", "hi", now.Add(-time.Minute))})
	v.AddPending("tmp-1", "me", "me", "will fail", now)

	if !v.DropPending("tmp-1") {
		t.Fatalf("DropPending missed the entry")
	}
	if v.DropPending("tmp-1") {
		t.Fatalf("DropPending removed twice")
	}
	if got := texts(v); len(got) != 1 || got[0] != "hi" {
		t.Fatalf("messages after drop = %v", got)
	}

	// id index must survive the removal
	if v.Apply(confirmed("m1", "peer", "hi", now.Add(-time.Minute))) {
		t.Fatalf("duplicate history message re-applied after removal")
	}
}

func TestViewSetHistoryKeepsPending(t *testing.T) {
	now := time.Now()
	v := NewView()
	v.AddPending("tmp-1", "me", "me", "queued offline", now)

	v.SetHistory([]model.Message{
		confirmed("m1", "peer", "first", now.Add(-2*time.Minute)),
		confirmed("m2", "me", "second", now.Add(-time.Minute)),
	})
	got := texts(v)
	want := []string{"first", "second", "queued offline"}
	if len(got) != len(want) {
		t.Fatalf("messages = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("messages = %v, want %v", got, want)
		}
	}
	if v.PendingCount() != 1 {
		t.Fatalf("pending lost across SetHistory")
	}
}
