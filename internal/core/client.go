package core

// Client is one live connection bound to an authenticated user. A user with
// several open tabs has several clients.
type Client struct {
	ID       string
	UserID   int64
	Name     string
	Commands chan *Command
	Events   chan *Event
	Rooms    map[string]struct{}

	// closed is owned by the hub loop; events are never sent to a closed
	// client.
	closed bool
}

// NewClient constructs a client with initialized channels.
func NewClient(id string, userID int64, name string) *Client {
	return &Client{
		ID:       id,
		UserID:   userID,
		Name:     name,
		Commands: make(chan *Command, 8),
		Events:   make(chan *Event, 8),
		Rooms:    make(map[string]struct{}),
	}
}
