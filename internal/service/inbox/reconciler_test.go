package inbox

import (
	"context"
	"testing"
	"time"

	"github.com/nestmate/nestmate-server/internal/core"
)

func thread(viewerID, otherID, listingID int64, unread int64) *Thread {
	return &Thread{
		Key:         core.ConversationKey(listingID, viewerID, otherID),
		Other:       core.Participant{ID: otherID},
		Listing:     core.ListingRef{ID: listingID},
		UnreadCount: unread,
	}
}

func liveMessage(senderID, receiverID, listingID int64, at time.Time) *core.Message {
	return &core.Message{
		Sender:    core.Participant{ID: senderID},
		Receiver:  core.Participant{ID: receiverID},
		Listing:   core.ListingRef{ID: listingID},
		Content:   "hey",
		CreatedAt: at,
	}
}

func TestReconcilerApply(t *testing.T) {
	const viewer = 1

	now := time.Now()
	activeKey := core.ConversationKey(10, 1, 2)

	tests := []struct {
		name       string
		msg        *core.Message
		activeKey  string
		want       Decision
		wantUnread int64
	}{
		{
			name:       "incoming to inactive thread bumps",
			msg:        liveMessage(2, viewer, 10, now),
			activeKey:  "",
			want:       DecisionBumped,
			wantUnread: 1,
		},
		{
			name:       "incoming to active thread marks read",
			msg:        liveMessage(2, viewer, 10, now),
			activeKey:  activeKey,
			want:       DecisionMarkRead,
			wantUnread: 0,
		},
		{
			name:       "own message from another tab is silent",
			msg:        liveMessage(viewer, 2, 10, now),
			activeKey:  "",
			want:       DecisionNone,
			wantUnread: 0,
		},
		{
			name:      "unknown conversation asks for refresh",
			msg:       liveMessage(3, viewer, 99, now),
			activeKey: "",
			want:      DecisionRefresh,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewReconciler(viewer, []*Thread{thread(viewer, 2, 10, 0)})

			got := r.Apply(tt.msg, tt.activeKey)
			if got != tt.want {
				t.Fatalf("Apply() = %v, want %v", got, tt.want)
			}
			if tt.want == DecisionRefresh {
				return
			}

			th, ok := r.Thread(2, 10)
			if !ok {
				t.Fatalf("thread missing after apply")
			}
			if th.UnreadCount != tt.wantUnread {
				t.Fatalf("unread = %d, want %d", th.UnreadCount, tt.wantUnread)
			}
			if th.LastMessage != tt.msg {
				t.Fatalf("last message not replaced")
			}
		})
	}
}

func TestReconcilerOpenZeroesCounter(t *testing.T) {
	r := NewReconciler(1, []*Thread{thread(1, 2, 10, 5)})

	r.Open(2, 10)

	th, _ := r.Thread(2, 10)
	if th.UnreadCount != 0 {
		t.Fatalf("unread = %d after open, want 0", th.UnreadCount)
	}

	// Opening a conversation that is not tracked must not panic.
	r.Open(9, 99)
}

func TestReconcilerSnapshotOrder(t *testing.T) {
	r := NewReconciler(1, []*Thread{
		thread(1, 2, 10, 0),
		thread(1, 3, 10, 0),
	})

	base := time.Now()
	r.Apply(liveMessage(2, 1, 10, base), "")
	r.Apply(liveMessage(3, 1, 10, base.Add(time.Second)), "")

	snap := r.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("expected 2 threads, got %d", len(snap))
	}
	if snap[0].Other.ID != 3 || snap[1].Other.ID != 2 {
		t.Fatalf("snapshot not ordered by activity: %d, %d", snap[0].Other.ID, snap[1].Other.ID)
	}
	if r.TotalUnread() != 2 {
		t.Fatalf("total unread = %d, want 2", r.TotalUnread())
	}
}

// The reconciler's incrementally maintained counters must agree with a full
// recomputation from the store after any interleaving of sends and opens.
func TestReconcilerParityWithStore(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	seedThreads, err := f.svc.Threads(ctx, f.bob.ID)
	if err != nil {
		t.Fatalf("threads: %v", err)
	}
	r := NewReconciler(f.bob.ID, seedThreads)

	send := func(from, to int64) {
		msg := f.send(t, from, to, "ping")
		live := &core.Message{
			ID:        msg.ID,
			Sender:    core.Participant{ID: msg.SenderID},
			Receiver:  core.Participant{ID: msg.ReceiverID},
			Listing:   core.ListingRef{ID: msg.ListingID},
			Content:   msg.Content,
			CreatedAt: msg.CreatedAt,
		}
		if d := r.Apply(live, ""); d == DecisionRefresh {
			fresh, err := f.svc.Threads(ctx, f.bob.ID)
			if err != nil {
				t.Fatalf("refresh threads: %v", err)
			}
			r.Replace(fresh)
		}
	}
	open := func(otherID int64) {
		if _, err := f.svc.MarkRead(ctx, f.bob.ID, otherID, &f.listing.ID); err != nil {
			t.Fatalf("mark read: %v", err)
		}
		r.Open(otherID, f.listing.ID)
	}

	send(f.alice.ID, f.bob.ID)
	send(f.alice.ID, f.bob.ID)
	send(f.bob.ID, f.alice.ID)
	open(f.alice.ID)
	send(f.alice.ID, f.bob.ID)

	fresh, err := f.svc.Threads(ctx, f.bob.ID)
	if err != nil {
		t.Fatalf("threads: %v", err)
	}
	for _, want := range fresh {
		got, ok := r.Thread(want.Other.ID, want.Listing.ID)
		if !ok {
			t.Fatalf("reconciler missing thread %s", want.Key)
		}
		if got.UnreadCount != want.UnreadCount {
			t.Fatalf("thread %s: reconciler unread %d, store unread %d",
				want.Key, got.UnreadCount, want.UnreadCount)
		}
	}
}
