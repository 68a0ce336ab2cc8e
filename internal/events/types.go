package events

// Event type constants follow the format: domain.action

// Message events
const (
	EventTypeMessageCreated = "message.created"
	EventTypeMessageDeleted = "message.deleted"
)

// Receipt events
const (
	EventTypeReceiptRead = "receipt.read"
)

// Reaction events
const (
	EventTypeReactionAdded    = "reaction.added"
	EventTypeReactionRemoved  = "reaction.removed"
	EventTypeReactionReplaced = "reaction.replaced"
)

// Presence events
const (
	EventTypePresenceOnline  = "presence.online"
	EventTypePresenceOffline = "presence.offline"
)

// Conversation events
const (
	EventTypeConversationCreated = "conversation.created"
	EventTypeConversationUpdated = "conversation.updated"
)

// Aggregate type constants
const (
	AggregateTypeMessage        = "message"
	AggregateTypeMessageReceipt = "message_receipt"
	AggregateTypeReaction       = "reaction"
	AggregateTypePresence       = "presence"
	AggregateTypeConversation   = "conversation"
)
