package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/nestmate/nestmate-server/internal/store"
)

// SQLiteStore implements store.Store for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// New creates a new SQLite store and applies the schema.
// dbPath is the path to the SQLite database file.
func New(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with a single writer connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// NewWithSetup creates a new SQLite store and runs a setup function instead
// of the default schema. Useful for tests that need to control the schema.
func NewWithSetup(dbPath string, setup func(*sql.DB) error) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if setup != nil {
		if err := setup(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("setup: %w", err)
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ==== UserStore implementation ====

// CreateUser creates a new user with hashed password.
func (s *SQLiteStore) CreateUser(ctx context.Context, username, passwordHash, name string) (*store.User, error) {
	query := `
		INSERT INTO users (username, password_hash, name)
		VALUES (?, ?, ?)
	`
	result, err := s.db.ExecContext(ctx, query, username, passwordHash, name)
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("get last insert id: %w", err)
	}

	return s.GetUserByID(ctx, id)
}

// GetUserByID retrieves a user by ID.
func (s *SQLiteStore) GetUserByID(ctx context.Context, id int64) (*store.User, error) {
	query := `
		SELECT id, username, password_hash, name, avatar, occupation, created_at
		FROM users
		WHERE id = ?
	`
	return s.scanUser(s.db.QueryRowContext(ctx, query, id))
}

// GetUserByUsername retrieves a user by username.
func (s *SQLiteStore) GetUserByUsername(ctx context.Context, username string) (*store.User, error) {
	query := `
		SELECT id, username, password_hash, name, avatar, occupation, created_at
		FROM users
		WHERE username = ?
	`
	return s.scanUser(s.db.QueryRowContext(ctx, query, username))
}

// UpdateProfile updates the display fields of a user.
func (s *SQLiteStore) UpdateProfile(ctx context.Context, id int64, name, avatar, occupation string) error {
	query := `
		UPDATE users SET name = ?, avatar = ?, occupation = ?
		WHERE id = ?
	`
	result, err := s.db.ExecContext(ctx, query, name, avatar, occupation, id)
	if err != nil {
		return fmt.Errorf("update profile: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) scanUser(row *sql.Row) (*store.User, error) {
	var user store.User
	err := row.Scan(
		&user.ID,
		&user.Username,
		&user.PasswordHash,
		&user.Name,
		&user.Avatar,
		&user.Occupation,
		&user.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user: %w", store.ErrNotFound)
		}
		return nil, fmt.Errorf("query user: %w", err)
	}
	return &user, nil
}

// ==== ListingStore implementation ====

// CreateListing creates a new listing owned by ownerID.
func (s *SQLiteStore) CreateListing(ctx context.Context, ownerID int64, title, description, location string, rent int64) (*store.Listing, error) {
	query := `
		INSERT INTO listings (owner_id, title, description, location, rent)
		VALUES (?, ?, ?, ?, ?)
	`
	result, err := s.db.ExecContext(ctx, query, ownerID, title, description, location, rent)
	if err != nil {
		return nil, fmt.Errorf("insert listing: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("get last insert id: %w", err)
	}

	return s.GetListingByID(ctx, id)
}

// GetListingByID retrieves a listing by ID.
func (s *SQLiteStore) GetListingByID(ctx context.Context, id int64) (*store.Listing, error) {
	query := `
		SELECT id, owner_id, title, description, location, rent, created_at
		FROM listings
		WHERE id = ?
	`
	var l store.Listing
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&l.ID,
		&l.OwnerID,
		&l.Title,
		&l.Description,
		&l.Location,
		&l.Rent,
		&l.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("listing: %w", store.ErrNotFound)
		}
		return nil, fmt.Errorf("query listing: %w", err)
	}
	return &l, nil
}

// ListListings lists all listings, newest first.
func (s *SQLiteStore) ListListings(ctx context.Context) ([]*store.Listing, error) {
	query := `
		SELECT id, owner_id, title, description, location, rent, created_at
		FROM listings
		ORDER BY created_at DESC, id DESC
	`
	return s.queryListings(ctx, query)
}

// ListListingsByOwner lists listings owned by a user, newest first.
func (s *SQLiteStore) ListListingsByOwner(ctx context.Context, ownerID int64) ([]*store.Listing, error) {
	query := `
		SELECT id, owner_id, title, description, location, rent, created_at
		FROM listings
		WHERE owner_id = ?
		ORDER BY created_at DESC, id DESC
	`
	return s.queryListings(ctx, query, ownerID)
}

func (s *SQLiteStore) queryListings(ctx context.Context, query string, args ...any) ([]*store.Listing, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query listings: %w", err)
	}
	defer rows.Close()

	var listings []*store.Listing
	for rows.Next() {
		var l store.Listing
		if err := rows.Scan(&l.ID, &l.OwnerID, &l.Title, &l.Description, &l.Location, &l.Rent, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan listing: %w", err)
		}
		listings = append(listings, &l)
	}

	return listings, rows.Err()
}

// ==== FavoriteStore implementation ====

// SaveListing marks a listing as saved by the user. Saving twice is a no-op.
func (s *SQLiteStore) SaveListing(ctx context.Context, userID, listingID int64) error {
	query := `
		INSERT OR IGNORE INTO favorites (user_id, listing_id)
		VALUES (?, ?)
	`
	if _, err := s.db.ExecContext(ctx, query, userID, listingID); err != nil {
		return fmt.Errorf("save listing: %w", err)
	}
	return nil
}

// UnsaveListing removes a listing from the user's saved set.
func (s *SQLiteStore) UnsaveListing(ctx context.Context, userID, listingID int64) error {
	query := `
		DELETE FROM favorites WHERE user_id = ? AND listing_id = ?
	`
	if _, err := s.db.ExecContext(ctx, query, userID, listingID); err != nil {
		return fmt.Errorf("unsave listing: %w", err)
	}
	return nil
}

// ListSaved lists the user's saved listings, most recently saved first.
func (s *SQLiteStore) ListSaved(ctx context.Context, userID int64) ([]*store.Listing, error) {
	query := `
		SELECT l.id, l.owner_id, l.title, l.description, l.location, l.rent, l.created_at
		FROM listings l
		JOIN favorites f ON f.listing_id = l.id
		WHERE f.user_id = ?
		ORDER BY f.saved_at DESC
	`
	return s.queryListings(ctx, query, userID)
}

// ==== MessageStore implementation ====

// CreateMessage persists a message and returns the stored record.
func (s *SQLiteStore) CreateMessage(ctx context.Context, senderID, receiverID, listingID int64, content string) (*store.Message, error) {
	if strings.TrimSpace(content) == "" {
		return nil, store.ErrEmptyContent
	}
	if senderID == receiverID {
		return nil, store.ErrSelfMessage
	}

	query := `
		INSERT INTO messages (sender_id, receiver_id, listing_id, content)
		VALUES (?, ?, ?, ?)
	`
	result, err := s.db.ExecContext(ctx, query, senderID, receiverID, listingID, content)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("get last insert id: %w", err)
	}

	return s.getMessageByID(ctx, id)
}

// ListConversation returns all messages between two users about a listing,
// ordered by creation time ascending.
func (s *SQLiteStore) ListConversation(ctx context.Context, listingID, userA, userB int64) ([]*store.Message, error) {
	query := `
		SELECT id, sender_id, receiver_id, listing_id, content, read, created_at, updated_at
		FROM messages
		WHERE listing_id = ?
		  AND ((sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?))
		ORDER BY created_at ASC, id ASC
	`
	return s.queryMessages(ctx, query, listingID, userA, userB, userB, userA)
}

// MarkRead flips read=true on all unread messages sent by otherID to viewerID.
func (s *SQLiteStore) MarkRead(ctx context.Context, viewerID, otherID int64, listingID *int64) (int64, error) {
	query := `
		UPDATE messages
		SET read = 1, updated_at = CURRENT_TIMESTAMP
		WHERE receiver_id = ? AND sender_id = ? AND read = 0
	`
	args := []any{viewerID, otherID}
	if listingID != nil {
		query += " AND listing_id = ?"
		args = append(args, *listingID)
	}

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("mark read: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return affected, nil
}

// ListInquiries returns the most recent incoming message per sender for a
// listing, newest first.
func (s *SQLiteStore) ListInquiries(ctx context.Context, listingID, ownerID int64) ([]*store.Message, error) {
	query := `
		SELECT m.id, m.sender_id, m.receiver_id, m.listing_id, m.content, m.read, m.created_at, m.updated_at
		FROM messages m
		JOIN (
			SELECT MAX(id) AS last_id
			FROM messages
			WHERE listing_id = ? AND receiver_id = ?
			GROUP BY sender_id
		) t ON m.id = t.last_id
		ORDER BY m.created_at DESC, m.id DESC
	`
	return s.queryMessages(ctx, query, listingID, ownerID)
}

// ThreadRows returns one aggregated row per (other user, listing) pair.
func (s *SQLiteStore) ThreadRows(ctx context.Context, userID int64) ([]*store.ThreadRow, error) {
	// MAX(id) identifies the newest message per group; identifiers are
	// assigned in insertion order.
	query := `
		SELECT m.id, m.sender_id, m.receiver_id, m.listing_id, m.content, m.read, m.created_at, m.updated_at,
		       t.unread
		FROM messages m
		JOIN (
			SELECT MAX(id) AS last_id,
			       CASE WHEN sender_id = ? THEN receiver_id ELSE sender_id END AS other_id,
			       listing_id,
			       SUM(CASE WHEN receiver_id = ? AND read = 0 THEN 1 ELSE 0 END) AS unread
			FROM messages
			WHERE sender_id = ? OR receiver_id = ?
			GROUP BY other_id, listing_id
		) t ON m.id = t.last_id
		ORDER BY m.created_at DESC, m.id DESC
	`
	rows, err := s.db.QueryContext(ctx, query, userID, userID, userID, userID)
	if err != nil {
		return nil, fmt.Errorf("query threads: %w", err)
	}
	defer rows.Close()

	var threads []*store.ThreadRow
	for rows.Next() {
		var msg store.Message
		var row store.ThreadRow
		if err := rows.Scan(
			&msg.ID,
			&msg.SenderID,
			&msg.ReceiverID,
			&msg.ListingID,
			&msg.Content,
			&msg.Read,
			&msg.CreatedAt,
			&msg.UpdatedAt,
			&row.UnreadCount,
		); err != nil {
			return nil, fmt.Errorf("scan thread: %w", err)
		}
		row.ListingID = msg.ListingID
		if msg.SenderID == userID {
			row.OtherID = msg.ReceiverID
		} else {
			row.OtherID = msg.SenderID
		}
		row.LastMessage = &msg
		threads = append(threads, &row)
	}

	return threads, rows.Err()
}

func (s *SQLiteStore) getMessageByID(ctx context.Context, id int64) (*store.Message, error) {
	query := `
		SELECT id, sender_id, receiver_id, listing_id, content, read, created_at, updated_at
		FROM messages
		WHERE id = ?
	`
	var m store.Message
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&m.ID,
		&m.SenderID,
		&m.ReceiverID,
		&m.ListingID,
		&m.Content,
		&m.Read,
		&m.CreatedAt,
		&m.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("message: %w", store.ErrNotFound)
		}
		return nil, fmt.Errorf("query message: %w", err)
	}
	return &m, nil
}

func (s *SQLiteStore) queryMessages(ctx context.Context, query string, args ...any) ([]*store.Message, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var messages []*store.Message
	for rows.Next() {
		var m store.Message
		if err := rows.Scan(
			&m.ID,
			&m.SenderID,
			&m.ReceiverID,
			&m.ListingID,
			&m.Content,
			&m.Read,
			&m.CreatedAt,
			&m.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, &m)
	}

	return messages, rows.Err()
}
