package message

import "time"

// ReactionChange describes what a toggle did to one user's reaction.
type ReactionChange string

const (
	ReactionAdded    ReactionChange = "added"
	ReactionRemoved  ReactionChange = "removed"
	ReactionReplaced ReactionChange = "replaced"
)

// ToggleReaction applies the single-active-emoji rule for userID on a message's reaction
// set: the same emoji again removes it, a different emoji replaces it, otherwise it is
// added. The input slice is not modified.
func ToggleReaction(reactions []Reaction, messageID, userID int64, emoji string, now time.Time) ([]Reaction, ReactionChange) {
	out := make([]Reaction, 0, len(reactions)+1)
	var existing *Reaction
	for i := range reactions {
		if reactions[i].UserID == userID {
			r := reactions[i]
			existing = &r
			continue
		}
		out = append(out, reactions[i])
	}

	if existing != nil && existing.Emoji == emoji {
		return out, ReactionRemoved
	}

	next := Reaction{MessageID: messageID, UserID: userID, Emoji: emoji, CreatedAt: now}
	if existing != nil {
		next.User = existing.User
		out = append(out, next)
		return out, ReactionReplaced
	}
	out = append(out, next)
	return out, ReactionAdded
}
