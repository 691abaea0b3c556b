package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nestmate/nestmate-server/internal/store"
)

func mustEvent(t *testing.T, ch <-chan *Event, kind EventKind) *Event {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		select {
		case ev := <-ch:
			if ev == nil {
				continue
			}
			if ev.Kind == kind {
				return ev
			}
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}
	t.Fatalf("expected event kind %v not received", kind)
	return nil
}

func mustNoEvent(t *testing.T, ch <-chan *Event) {
	t.Helper()

	select {
	case ev := <-ch:
		t.Fatalf("expected no event, got %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}

// fakeStore is an in-memory MessageStore with a failure toggle.
type fakeStore struct {
	mu       sync.Mutex
	nextID   int64
	messages []*store.Message
	fail     bool
}

var errStoreDown = errors.New("store unavailable")

func (f *fakeStore) CreateMessage(_ context.Context, senderID, receiverID, listingID int64, content string) (*store.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.fail {
		return nil, errStoreDown
	}
	f.nextID++
	msg := &store.Message{
		ID:         f.nextID,
		SenderID:   senderID,
		ReceiverID: receiverID,
		ListingID:  listingID,
		Content:    content,
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
	}
	f.messages = append(f.messages, msg)
	return msg, nil
}

func (f *fakeStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.messages)
}

func (f *fakeStore) setFail(fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = fail
}
