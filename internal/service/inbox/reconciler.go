package inbox

import (
	"sort"

	"github.com/nestmate/nestmate-server/internal/core"
)

// Decision tells the caller what to do after a live message was applied to
// the reconciler.
type Decision int

const (
	// DecisionNone requires no follow-up; the thread was updated in place.
	DecisionNone Decision = iota
	// DecisionMarkRead means the message landed in the viewer's active
	// conversation: the caller must mark it read in the store instead of
	// surfacing an unread count.
	DecisionMarkRead
	// DecisionBumped means the matching thread's unread counter was
	// incremented and its last message replaced.
	DecisionBumped
	// DecisionRefresh means no thread exists yet for the message's
	// conversation; the caller must re-query the aggregator.
	DecisionRefresh
)

// Reconciler tracks one viewer's thread state between aggregator queries.
// It applies live message events and explicit conversation opens so unread
// counters stay consistent without refetching on every event. The counters
// are eventually consistent: mark-read and message arrival can race, and a
// Replace with fresh aggregator output always restores durable truth.
//
// Not safe for concurrent use; callers serialize access per connection.
type Reconciler struct {
	viewerID int64
	threads  map[string]*Thread
}

// NewReconciler builds a reconciler for the viewer seeded with the
// aggregator's current output.
func NewReconciler(viewerID int64, threads []*Thread) *Reconciler {
	r := &Reconciler{viewerID: viewerID}
	r.Replace(threads)
	return r
}

// Replace swaps in fresh aggregator output, dropping all local state.
func (r *Reconciler) Replace(threads []*Thread) {
	r.threads = make(map[string]*Thread, len(threads))
	for _, t := range threads {
		r.threads[t.Key] = t
	}
}

// Open zeroes the unread counter for a conversation the viewer explicitly
// opened. The caller is responsible for the durable MarkRead.
func (r *Reconciler) Open(otherID, listingID int64) {
	key := core.ConversationKey(listingID, r.viewerID, otherID)
	if t, ok := r.threads[key]; ok {
		t.UnreadCount = 0
	}
}

// Apply folds one live message into the thread state and reports the
// required follow-up. activeKey is the conversation key of the viewer's
// currently open conversation, or empty when none is open.
func (r *Reconciler) Apply(msg *core.Message, activeKey string) Decision {
	key := core.ConversationKey(msg.Listing.ID, msg.Sender.ID, msg.Receiver.ID)
	t, ok := r.threads[key]
	if !ok {
		return DecisionRefresh
	}

	t.LastMessage = msg

	if msg.Sender.ID == r.viewerID {
		// The viewer's own message, observed from another tab. Nothing
		// unread for the sender.
		return DecisionNone
	}

	if key == activeKey {
		t.UnreadCount = 0
		return DecisionMarkRead
	}

	t.UnreadCount++
	return DecisionBumped
}

// Thread returns the tracked thread for a conversation, if any.
func (r *Reconciler) Thread(otherID, listingID int64) (*Thread, bool) {
	t, ok := r.threads[core.ConversationKey(listingID, r.viewerID, otherID)]
	return t, ok
}

// Snapshot returns the tracked threads ordered by last activity descending.
func (r *Reconciler) Snapshot() []*Thread {
	out := make([]*Thread, 0, len(r.threads))
	for _, t := range r.threads {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		var ti, tj int64
		if out[i].LastMessage != nil {
			ti = out[i].LastMessage.CreatedAt.UnixNano()
		}
		if out[j].LastMessage != nil {
			tj = out[j].LastMessage.CreatedAt.UnixNano()
		}
		if ti == tj {
			return out[i].Key < out[j].Key
		}
		return ti > tj
	})
	return out
}

// TotalUnread sums unread counters across all threads.
func (r *Reconciler) TotalUnread() int64 {
	var total int64
	for _, t := range r.threads {
		total += t.UnreadCount
	}
	return total
}
