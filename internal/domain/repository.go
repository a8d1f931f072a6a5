package domain

import "context"

// MessageArchive defines local persistence for messages seen during a
// session. Implementations must be safe for use from the read loop; errors
// are reported to the caller and never interrupt live message handling.
type MessageArchive interface {
	SaveMessage(ctx context.Context, m Message) error
	ListForConversation(ctx context.Context, conversationID string, limit int) ([]Message, error)
	PruneOld(ctx context.Context, conversationID string, keepLimit int) error
}

// ConversationCache defines local persistence for conversation snapshots.
type ConversationCache interface {
	SaveConversation(ctx context.Context, c Conversation) error
	ListConversations(ctx context.Context) ([]Conversation, error)
}
