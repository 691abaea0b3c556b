package core

import "fmt"

// ConversationKey derives the canonical room key for the conversation
// between two users about one listing. The key is identical regardless of
// argument order, so both participants resolve the same room and stored
// messages query back as one thread. Two users may have independent
// conversations per listing.
func ConversationKey(listingID, userA, userB int64) string {
	lo, hi := userA, userB
	if lo > hi {
		lo, hi = hi, lo
	}
	return fmt.Sprintf("conv:%d:%d:%d", listingID, lo, hi)
}
