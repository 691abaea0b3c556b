package inbox

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/nestmate/nestmate-server/internal/core"
	"github.com/nestmate/nestmate-server/internal/store"
)

var (
	// ErrNotOwner is returned when a user requests inquiries for a listing
	// they do not own.
	ErrNotOwner = errors.New("not the listing owner")
)

// Thread is one inbox row for a viewing user: the other participant, the
// listing the conversation is about, the latest message and how many
// messages are still unread by the viewer.
type Thread struct {
	Key         string
	Other       core.Participant
	Listing     core.ListingRef
	LastMessage *core.Message
	UnreadCount int64
}

// Service builds inbox views from the message store and keeps read state
// consistent. Threads are derived entirely from message rows; nothing here
// is persisted separately.
type Service struct {
	store store.Store
	log   *zerolog.Logger
}

// NewService creates a new inbox service.
func NewService(st store.Store, logger *zerolog.Logger) *Service {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Service{store: st, log: logger}
}

// Threads returns the viewer's inbox, one row per (other participant,
// listing) pair, ordered by last activity descending.
func (s *Service) Threads(ctx context.Context, userID int64) ([]*Thread, error) {
	rows, err := s.store.ThreadRows(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("thread rows: %w", err)
	}

	users := map[int64]core.Participant{}
	listings := map[int64]core.ListingRef{}

	users[userID] = core.Participant{ID: userID}
	if u, err := s.store.GetUserByID(ctx, userID); err == nil {
		users[userID] = core.ParticipantFromUser(u)
	}

	threads := make([]*Thread, 0, len(rows))
	for _, row := range rows {
		other, ok := users[row.OtherID]
		if !ok {
			other = core.Participant{ID: row.OtherID}
			if u, err := s.store.GetUserByID(ctx, row.OtherID); err == nil {
				other = core.ParticipantFromUser(u)
			} else {
				s.log.Debug().Err(err).Int64("user_id", row.OtherID).Msg("thread participant lookup failed")
			}
			users[row.OtherID] = other
		}

		listing, ok := listings[row.ListingID]
		if !ok {
			listing = core.ListingRef{ID: row.ListingID}
			if l, err := s.store.GetListingByID(ctx, row.ListingID); err == nil {
				listing = core.ListingRef{ID: l.ID, Title: l.Title}
			} else {
				s.log.Debug().Err(err).Int64("listing_id", row.ListingID).Msg("thread listing lookup failed")
			}
			listings[row.ListingID] = listing
		}

		threads = append(threads, &Thread{
			Key:         core.ConversationKey(row.ListingID, userID, row.OtherID),
			Other:       other,
			Listing:     listing,
			LastMessage: enrich(row.LastMessage, users, listing),
			UnreadCount: row.UnreadCount,
		})
	}

	return threads, nil
}

// History returns the conversation between the viewer and another user
// about a listing, oldest first, with participant details populated. The
// viewer is a participant by construction: the query is scoped to messages
// between the two identities.
func (s *Service) History(ctx context.Context, viewerID, listingID, otherID int64) ([]*core.Message, error) {
	msgs, err := s.store.ListConversation(ctx, listingID, viewerID, otherID)
	if err != nil {
		return nil, fmt.Errorf("list conversation: %w", err)
	}

	users := map[int64]core.Participant{}
	for _, id := range []int64{viewerID, otherID} {
		users[id] = core.Participant{ID: id}
		if u, err := s.store.GetUserByID(ctx, id); err == nil {
			users[id] = core.ParticipantFromUser(u)
		}
	}
	listing := core.ListingRef{ID: listingID}
	if l, err := s.store.GetListingByID(ctx, listingID); err == nil {
		listing = core.ListingRef{ID: l.ID, Title: l.Title}
	}

	out := make([]*core.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, enrich(m, users, listing))
	}
	return out, nil
}

// MarkRead flips all unread messages from otherID to the viewer. Only rows
// addressed to the viewer can ever be touched, so no further authorization
// applies. Idempotent.
func (s *Service) MarkRead(ctx context.Context, viewerID, otherID int64, listingID *int64) (int64, error) {
	updated, err := s.store.MarkRead(ctx, viewerID, otherID, listingID)
	if err != nil {
		return 0, fmt.Errorf("mark read: %w", err)
	}
	return updated, nil
}

// Inquiries returns the latest incoming message per interested user for a
// listing the viewer owns. Returns ErrNotOwner otherwise.
func (s *Service) Inquiries(ctx context.Context, viewerID, listingID int64) ([]*core.Message, error) {
	listing, err := s.store.GetListingByID(ctx, listingID)
	if err != nil {
		return nil, fmt.Errorf("get listing: %w", err)
	}
	if listing.OwnerID != viewerID {
		return nil, ErrNotOwner
	}

	msgs, err := s.store.ListInquiries(ctx, listingID, viewerID)
	if err != nil {
		return nil, fmt.Errorf("list inquiries: %w", err)
	}

	ref := core.ListingRef{ID: listing.ID, Title: listing.Title}
	users := map[int64]core.Participant{}
	out := make([]*core.Message, 0, len(msgs))
	for _, m := range msgs {
		if _, ok := users[m.SenderID]; !ok {
			users[m.SenderID] = core.Participant{ID: m.SenderID}
			if u, err := s.store.GetUserByID(ctx, m.SenderID); err == nil {
				users[m.SenderID] = core.ParticipantFromUser(u)
			}
		}
		if _, ok := users[m.ReceiverID]; !ok {
			users[m.ReceiverID] = core.Participant{ID: m.ReceiverID}
			if u, err := s.store.GetUserByID(ctx, m.ReceiverID); err == nil {
				users[m.ReceiverID] = core.ParticipantFromUser(u)
			}
		}
		out = append(out, enrich(m, users, ref))
	}
	return out, nil
}

func enrich(m *store.Message, users map[int64]core.Participant, listing core.ListingRef) *core.Message {
	if m == nil {
		return nil
	}
	sender, ok := users[m.SenderID]
	if !ok {
		sender = core.Participant{ID: m.SenderID}
	}
	receiver, ok := users[m.ReceiverID]
	if !ok {
		receiver = core.Participant{ID: m.ReceiverID}
	}
	return &core.Message{
		ID:        m.ID,
		Sender:    sender,
		Receiver:  receiver,
		Listing:   listing,
		Content:   m.Content,
		Read:      m.Read,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}
