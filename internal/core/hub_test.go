package core

import (
	"context"
	"testing"
	"time"
)

func startHub(t *testing.T, fs *fakeStore) *Hub {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	t.Cleanup(cancel)

	hub := NewHub(fs, nil, nil)
	go hub.Run(ctx)
	return hub
}

func TestHubSendBroadcastsToRoomMembers(t *testing.T) {
	fs := &fakeStore{}
	hub := startHub(t, fs)

	alice := NewClient("a", 1, "alice")
	bob := NewClient("b", 2, "bob")
	hub.RegisterClient(alice)
	hub.RegisterClient(bob)

	// Both participants join the same conversation from opposite ends.
	alice.Commands <- &Command{Kind: CommandJoinRoom, OtherUserID: 2, ListingID: 5}
	bob.Commands <- &Command{Kind: CommandJoinRoom, OtherUserID: 1, ListingID: 5}

	alice.Commands <- &Command{Kind: CommandSendMessage, ReceiverID: 2, ListingID: 5, Content: "is this still available?"}

	ev := mustEvent(t, bob.Events, EventNewMessage)
	if ev.Message == nil || ev.Message.Content != "is this still available?" {
		t.Fatalf("unexpected message event: %+v", ev)
	}
	if ev.Message.Sender.ID != 1 || ev.Message.Receiver.ID != 2 {
		t.Fatalf("unexpected participants: %+v", ev.Message)
	}
	if ev.Room != ConversationKey(5, 1, 2) {
		t.Fatalf("unexpected room key: %q", ev.Room)
	}

	// The sender, being a room member, sees its own message too.
	own := mustEvent(t, alice.Events, EventNewMessage)
	if own.Message.ID != ev.Message.ID {
		t.Fatalf("sender saw different message: %+v", own.Message)
	}

	if fs.count() != 1 {
		t.Fatalf("expected exactly one persisted message, got %d", fs.count())
	}
}

func TestHubSenderIdentityIsConnectionBound(t *testing.T) {
	fs := &fakeStore{}
	hub := startHub(t, fs)

	alice := NewClient("a", 1, "alice")
	bob := NewClient("b", 2, "bob")
	hub.RegisterClient(alice)
	hub.RegisterClient(bob)

	bob.Commands <- &Command{Kind: CommandJoinRoom, OtherUserID: 1, ListingID: 5}

	// There is no sender field on commands at all; whatever a client sends,
	// the persisted sender is its authenticated identity.
	alice.Commands <- &Command{Kind: CommandSendMessage, ReceiverID: 2, ListingID: 5, Content: "hi"}

	ev := mustEvent(t, bob.Events, EventNewMessage)
	if ev.Message.Sender.ID != 1 {
		t.Fatalf("expected sender 1, got %d", ev.Message.Sender.ID)
	}
}

func TestHubSendWithoutJoinStillPersistsAndReachesInbox(t *testing.T) {
	fs := &fakeStore{}
	hub := startHub(t, fs)

	alice := NewClient("a", 1, "alice")
	bob := NewClient("b", 2, "bob")
	hub.RegisterClient(alice)
	hub.RegisterClient(bob)

	// Neither side joined the room; the write must still happen and the
	// receiver's connections get an inbox copy.
	alice.Commands <- &Command{Kind: CommandSendMessage, ReceiverID: 2, ListingID: 5, Content: "hello"}

	ev := mustEvent(t, bob.Events, EventInboxMessage)
	if ev.Message.Content != "hello" {
		t.Fatalf("unexpected inbox message: %+v", ev.Message)
	}
	if fs.count() != 1 {
		t.Fatalf("expected one persisted message, got %d", fs.count())
	}
}

func TestHubValidationErrorsReachSenderOnly(t *testing.T) {
	fs := &fakeStore{}
	hub := startHub(t, fs)

	alice := NewClient("a", 1, "alice")
	bob := NewClient("b", 2, "bob")
	hub.RegisterClient(alice)
	hub.RegisterClient(bob)

	bob.Commands <- &Command{Kind: CommandJoinRoom, OtherUserID: 1, ListingID: 5}

	tests := []struct {
		name string
		cmd  *Command
	}{
		{"empty content", &Command{Kind: CommandSendMessage, ReceiverID: 2, ListingID: 5, Content: "   "}},
		{"self message", &Command{Kind: CommandSendMessage, ReceiverID: 1, ListingID: 5, Content: "hi"}},
		{"missing listing", &Command{Kind: CommandSendMessage, ReceiverID: 2, Content: "hi"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			alice.Commands <- tt.cmd

			ev := mustEvent(t, alice.Events, EventError)
			if ev.Error == nil || ev.Error.Code != ErrCodeValidation {
				t.Fatalf("expected validation error, got %+v", ev)
			}
			mustNoEvent(t, bob.Events)
		})
	}

	if fs.count() != 0 {
		t.Fatalf("expected no persisted messages, got %d", fs.count())
	}
}

func TestHubPersistenceFailureNotBroadcast(t *testing.T) {
	fs := &fakeStore{}
	hub := startHub(t, fs)

	alice := NewClient("a", 1, "alice")
	bob := NewClient("b", 2, "bob")
	hub.RegisterClient(alice)
	hub.RegisterClient(bob)

	bob.Commands <- &Command{Kind: CommandJoinRoom, OtherUserID: 1, ListingID: 5}

	fs.setFail(true)
	alice.Commands <- &Command{Kind: CommandSendMessage, ReceiverID: 2, ListingID: 5, Content: "hi"}

	ev := mustEvent(t, alice.Events, EventError)
	if ev.Error == nil || ev.Error.Code != ErrCodePersistence {
		t.Fatalf("expected persistence error, got %+v", ev)
	}
	mustNoEvent(t, bob.Events)

	// A retry of the identical send succeeds once the store recovers.
	fs.setFail(false)
	alice.Commands <- &Command{Kind: CommandSendMessage, ReceiverID: 2, ListingID: 5, Content: "hi"}
	msgEv := mustEvent(t, bob.Events, EventNewMessage)
	if msgEv.Message.Content != "hi" {
		t.Fatalf("unexpected message after retry: %+v", msgEv.Message)
	}
	if fs.count() != 1 {
		t.Fatalf("expected one persisted message, got %d", fs.count())
	}
}

func TestHubPerSenderOrderingPreserved(t *testing.T) {
	fs := &fakeStore{}
	hub := startHub(t, fs)

	alice := NewClient("a", 1, "alice")
	bob := NewClient("b", 2, "bob")
	hub.RegisterClient(alice)
	hub.RegisterClient(bob)

	bob.Commands <- &Command{Kind: CommandJoinRoom, OtherUserID: 1, ListingID: 5}

	texts := []string{"m1", "m2", "m3"}
	for _, text := range texts {
		alice.Commands <- &Command{Kind: CommandSendMessage, ReceiverID: 2, ListingID: 5, Content: text}
	}

	for _, want := range texts {
		ev := mustEvent(t, bob.Events, EventNewMessage)
		if ev.Message.Content != want {
			t.Fatalf("out of order: expected %q, got %q", want, ev.Message.Content)
		}
	}
}

func TestHubDoubleJoinProducesError(t *testing.T) {
	hub := startHub(t, &fakeStore{})

	alice := NewClient("a", 1, "alice")
	hub.RegisterClient(alice)

	alice.Commands <- &Command{Kind: CommandJoinRoom, OtherUserID: 2, ListingID: 5}
	alice.Commands <- &Command{Kind: CommandJoinRoom, OtherUserID: 2, ListingID: 5}

	ev := mustEvent(t, alice.Events, EventError)
	if ev.Error == nil || ev.Error.Code != ErrCodeAlreadyJoined {
		t.Fatalf("expected already_joined error, got %+v", ev)
	}
}

func TestHubLeaveUnknownRoomError(t *testing.T) {
	hub := startHub(t, &fakeStore{})

	alice := NewClient("a", 1, "alice")
	hub.RegisterClient(alice)

	alice.Commands <- &Command{Kind: CommandLeaveRoom, OtherUserID: 2, ListingID: 5}

	ev := mustEvent(t, alice.Events, EventError)
	if ev.Error == nil || ev.Error.Code != ErrCodeNotInRoom {
		t.Fatalf("expected not_in_room error, got %+v", ev)
	}
}

func TestHubLeaveStopsDelivery(t *testing.T) {
	fs := &fakeStore{}
	hub := startHub(t, fs)

	alice := NewClient("a", 1, "alice")
	carol := NewClient("c", 3, "carol")
	hub.RegisterClient(alice)
	hub.RegisterClient(carol)

	carol.Commands <- &Command{Kind: CommandJoinRoom, OtherUserID: 1, ListingID: 5}
	carol.Commands <- &Command{Kind: CommandLeaveRoom, OtherUserID: 1, ListingID: 5}

	// Give the hub a moment to process the membership changes.
	time.Sleep(50 * time.Millisecond)

	alice.Commands <- &Command{Kind: CommandSendMessage, ReceiverID: 3, ListingID: 5, Content: "hi carol"}

	// Carol still gets the inbox copy as the receiver, but no room
	// broadcast after leaving.
	ev := <-carol.Events
	if ev.Kind != EventInboxMessage {
		t.Fatalf("expected inbox event, got %+v", ev)
	}
	mustNoEvent(t, carol.Events)
}
