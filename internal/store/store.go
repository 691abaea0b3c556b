package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrEmptyContent is returned when a message has no content.
	ErrEmptyContent = errors.New("message content is empty")
	// ErrSelfMessage is returned when sender and receiver are the same user.
	ErrSelfMessage = errors.New("sender and receiver are the same user")
)

// User represents a registered user.
type User struct {
	ID           int64
	Username     string
	PasswordHash string
	Name         string
	Avatar       string
	Occupation   string
	CreatedAt    time.Time
}

// Listing represents a room listing posted by a host.
type Listing struct {
	ID          int64
	OwnerID     int64
	Title       string
	Description string
	Location    string
	Rent        int64 // monthly rent, in the smallest currency unit
	CreatedAt   time.Time
}

// Message represents a persisted chat message. Rows are immutable once
// created except for the read flag.
type Message struct {
	ID         int64
	SenderID   int64
	ReceiverID int64
	ListingID  int64
	Content    string
	Read       bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// ThreadRow is one aggregated inbox row for a viewing user: the latest
// message exchanged with another user about one listing, plus how many
// of that exchange's messages are still unread by the viewer.
type ThreadRow struct {
	OtherID     int64
	ListingID   int64
	LastMessage *Message
	UnreadCount int64
}

// UserStore handles user persistence.
type UserStore interface {
	// CreateUser creates a new user with hashed password.
	CreateUser(ctx context.Context, username, passwordHash, name string) (*User, error)

	// GetUserByID retrieves a user by ID.
	GetUserByID(ctx context.Context, id int64) (*User, error)

	// GetUserByUsername retrieves a user by username.
	GetUserByUsername(ctx context.Context, username string) (*User, error)

	// UpdateProfile updates the display fields of a user.
	UpdateProfile(ctx context.Context, id int64, name, avatar, occupation string) error
}

// ListingStore handles listing persistence.
type ListingStore interface {
	// CreateListing creates a new listing owned by ownerID.
	CreateListing(ctx context.Context, ownerID int64, title, description, location string, rent int64) (*Listing, error)

	// GetListingByID retrieves a listing by ID.
	GetListingByID(ctx context.Context, id int64) (*Listing, error)

	// ListListings lists all listings, newest first.
	ListListings(ctx context.Context) ([]*Listing, error)

	// ListListingsByOwner lists listings owned by a user, newest first.
	ListListingsByOwner(ctx context.Context, ownerID int64) ([]*Listing, error)
}

// FavoriteStore handles saved listings.
type FavoriteStore interface {
	// SaveListing marks a listing as saved by the user. Saving twice is a no-op.
	SaveListing(ctx context.Context, userID, listingID int64) error

	// UnsaveListing removes a listing from the user's saved set.
	UnsaveListing(ctx context.Context, userID, listingID int64) error

	// ListSaved lists the user's saved listings, most recently saved first.
	ListSaved(ctx context.Context, userID int64) ([]*Listing, error)
}

// MessageStore handles message persistence. It is the durable source of
// truth for conversation history and read state.
type MessageStore interface {
	// CreateMessage persists a message and returns the stored record with
	// server-assigned identifier and timestamps. Returns ErrEmptyContent or
	// ErrSelfMessage for invalid input; nothing is persisted on error.
	CreateMessage(ctx context.Context, senderID, receiverID, listingID int64, content string) (*Message, error)

	// ListConversation returns all messages between two users about a
	// listing, ordered by creation time ascending. Always a fresh read.
	ListConversation(ctx context.Context, listingID, userA, userB int64) ([]*Message, error)

	// MarkRead flips read=true on all unread messages sent by otherID to
	// viewerID, optionally scoped to a listing. Idempotent; returns the
	// number of rows updated.
	MarkRead(ctx context.Context, viewerID, otherID int64, listingID *int64) (int64, error)

	// ListInquiries returns the most recent incoming message per sender for
	// a listing, newest first. Used for the owner's inquiry view.
	ListInquiries(ctx context.Context, listingID, ownerID int64) ([]*Message, error)

	// ThreadRows returns one aggregated row per (other user, listing) pair
	// the user has exchanged messages on, ordered by last activity descending.
	ThreadRows(ctx context.Context, userID int64) ([]*ThreadRow, error)
}

// Store aggregates all storage interfaces.
type Store interface {
	UserStore
	ListingStore
	FavoriteStore
	MessageStore

	// Close closes the underlying database connection.
	Close() error
}
