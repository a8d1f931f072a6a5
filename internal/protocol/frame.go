package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/co-de-er123/CrowdAid/internal/domain"
)

// Inbound frame types (server -> client).
const (
	TypeMessage            = "MESSAGE"
	TypeConversationUpdate = "CONVERSATION_UPDATE"
	TypeConversationsList  = "CONVERSATIONS_LIST"
	TypeMessagesList       = "MESSAGES_LIST"
	TypeError              = "ERROR"
)

// Outbound frame types (client -> server).
const (
	TypeSendMessage        = "SEND_MESSAGE"
	TypeCreateConversation = "CREATE_CONVERSATION"
	TypeGetMessages        = "GET_MESSAGES"
	TypeMarkAsRead         = "MARK_AS_READ"
)

// Frame is the JSON envelope used in both directions over the transport.
// The server's ERROR frames put the text at the envelope level rather than
// inside the payload, so Message is decoded as a fallback.
type Frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Message string          `json:"message,omitempty"`
}

// Event is a decoded inbound frame.
type Event interface {
	isEvent()
}

// MessageEvent carries a newly delivered message.
type MessageEvent struct {
	Message domain.Message
}

// ConversationUpdateEvent carries a single conversation to upsert.
type ConversationUpdateEvent struct {
	Conversation domain.Conversation
}

// ConversationsListEvent carries a full conversation resync.
type ConversationsListEvent struct {
	Conversations []domain.Conversation
}

// MessagesListEvent carries the message history for a requested
// conversation. There is no correlation id on the wire; the payload's own
// conversation ids say where the history belongs.
type MessagesListEvent struct {
	Messages []domain.Message
}

// ServerErrorEvent carries a server-reported error.
type ServerErrorEvent struct {
	Message string
}

// UnknownEvent carries a frame with an unrecognized type tag. Receivers log
// and skip it.
type UnknownEvent struct {
	Type string
}

func (MessageEvent) isEvent()            {}
func (ConversationUpdateEvent) isEvent() {}
func (ConversationsListEvent) isEvent()  {}
func (MessagesListEvent) isEvent()       {}
func (ServerErrorEvent) isEvent()        {}
func (UnknownEvent) isEvent()            {}

type errorPayload struct {
	Message string `json:"message"`
}

// DecodeFrame parses one raw frame into a typed event. An undecodable
// envelope or payload yields an error; callers report it and continue with
// the next frame.
func DecodeFrame(data []byte) (Event, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode frame envelope: %w", err)
	}

	switch f.Type {
	case TypeMessage:
		var m domain.Message
		if err := json.Unmarshal(f.Payload, &m); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", f.Type, err)
		}
		return MessageEvent{Message: m}, nil

	case TypeConversationUpdate:
		var c domain.Conversation
		if err := json.Unmarshal(f.Payload, &c); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", f.Type, err)
		}
		return ConversationUpdateEvent{Conversation: c}, nil

	case TypeConversationsList:
		var cs []domain.Conversation
		if err := json.Unmarshal(f.Payload, &cs); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", f.Type, err)
		}
		return ConversationsListEvent{Conversations: cs}, nil

	case TypeMessagesList:
		var ms []domain.Message
		if err := json.Unmarshal(f.Payload, &ms); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", f.Type, err)
		}
		return MessagesListEvent{Messages: ms}, nil

	case TypeError:
		msg := f.Message
		if len(f.Payload) > 0 {
			var p errorPayload
			if err := json.Unmarshal(f.Payload, &p); err == nil && p.Message != "" {
				msg = p.Message
			}
		}
		if msg == "" {
			msg = "an error occurred"
		}
		return ServerErrorEvent{Message: msg}, nil

	default:
		return UnknownEvent{Type: f.Type}, nil
	}
}

// SendMessagePayload is the body of a SEND_MESSAGE command.
type SendMessagePayload struct {
	Content        string `json:"content"`
	ConversationID string `json:"conversationId"`
}

// CreateConversationPayload is the body of a CREATE_CONVERSATION command.
type CreateConversationPayload struct {
	ParticipantIDs []string `json:"participantIds"`
	InitialMessage string   `json:"initialMessage,omitempty"`
}

// ConversationRefPayload addresses a single conversation; used by
// GET_MESSAGES and MARK_AS_READ.
type ConversationRefPayload struct {
	ConversationID string `json:"conversationId"`
}

// NewSendMessageFrame builds a SEND_MESSAGE command frame.
func NewSendMessageFrame(conversationID, content string) Frame {
	return newFrame(TypeSendMessage, SendMessagePayload{
		Content:        content,
		ConversationID: conversationID,
	})
}

// NewCreateConversationFrame builds a CREATE_CONVERSATION command frame.
func NewCreateConversationFrame(participantIDs []string, initialMessage string) Frame {
	return newFrame(TypeCreateConversation, CreateConversationPayload{
		ParticipantIDs: participantIDs,
		InitialMessage: initialMessage,
	})
}

// NewGetMessagesFrame builds a GET_MESSAGES command frame.
func NewGetMessagesFrame(conversationID string) Frame {
	return newFrame(TypeGetMessages, ConversationRefPayload{ConversationID: conversationID})
}

// NewMarkAsReadFrame builds a MARK_AS_READ command frame.
func NewMarkAsReadFrame(conversationID string) Frame {
	return newFrame(TypeMarkAsRead, ConversationRefPayload{ConversationID: conversationID})
}

func newFrame(frameType string, payload any) Frame {
	// The payload structs above contain only plain fields; marshaling them
	// cannot fail.
	b, _ := json.Marshal(payload)
	return Frame{Type: frameType, Payload: b}
}
