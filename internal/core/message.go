package core

import (
	"context"
	"time"

	"github.com/nestmate/nestmate-server/internal/store"
)

// Participant is the public view of a user attached to delivered messages.
type Participant struct {
	ID         int64
	Name       string
	Avatar     string
	Occupation string
}

// ListingRef is the listing summary attached to delivered messages.
type ListingRef struct {
	ID    int64
	Title string
}

// Message is a chat message enriched with participant and listing details,
// as broadcast to room members.
type Message struct {
	ID        int64
	Sender    Participant
	Receiver  Participant
	Listing   ListingRef
	Content   string
	Read      bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// PopulateMessage enriches a stored message with sender, receiver and
// listing details from the directory. Enrichment is best effort: on lookup
// failure the returned message still carries the raw identifiers and the
// first lookup error is returned alongside it.
func PopulateMessage(ctx context.Context, dir Directory, m *store.Message) (*Message, error) {
	out := &Message{
		ID:        m.ID,
		Sender:    Participant{ID: m.SenderID},
		Receiver:  Participant{ID: m.ReceiverID},
		Listing:   ListingRef{ID: m.ListingID},
		Content:   m.Content,
		Read:      m.Read,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
	if dir == nil {
		return out, nil
	}

	var firstErr error
	if u, err := dir.GetUserByID(ctx, m.SenderID); err == nil {
		out.Sender = ParticipantFromUser(u)
	} else {
		firstErr = err
	}
	if u, err := dir.GetUserByID(ctx, m.ReceiverID); err == nil {
		out.Receiver = ParticipantFromUser(u)
	} else if firstErr == nil {
		firstErr = err
	}
	if l, err := dir.GetListingByID(ctx, m.ListingID); err == nil {
		out.Listing = ListingRef{ID: l.ID, Title: l.Title}
	} else if firstErr == nil {
		firstErr = err
	}

	return out, firstErr
}

// ParticipantFromUser strips a stored user down to its public view.
func ParticipantFromUser(u *store.User) Participant {
	return Participant{
		ID:         u.ID,
		Name:       u.Name,
		Avatar:     u.Avatar,
		Occupation: u.Occupation,
	}
}
