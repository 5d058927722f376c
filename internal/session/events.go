package session

import "fmt"

// Event types sent to clients.
const (
	EventMessageReceived = "message_received"
	EventStatus          = "status"
	EventAIResponse      = "ai_response"
	EventError           = "error"
)

// Error codes carried by error events.
const (
	CodeTimeout     = "timeout"
	CodeInvalid     = "invalid_message"
	CodeTooLong     = "too_long"
	CodeRateLimited = "rate_limited"
	CodeFailed      = "failed"
)

// Websocket close codes for rejected connections.
const (
	CloseUnauthenticated = 4003
	CloseChatNotFound    = 4004
	CloseChatArchived    = 4008
)

// Status and error texts.
const (
	StatusProcessing = "Processing your message..."
	MsgTimeout       = "AI response timeout after multiple attempts."
	MsgFailed        = "Failed to process message."
	MsgInvalid       = "Message content is required."
	MsgTooLong       = "Message is too long."
	MsgRateLimited   = "Too many messages, slow down."
)

// Event is one JSON frame sent to a client.
type Event struct {
	Type      string         `json:"type"`
	ChatID    string         `json:"chat_id,omitempty"`
	MessageID string         `json:"message_id,omitempty"`
	Message   string         `json:"message,omitempty"`
	Code      string         `json:"code,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

func messageReceived(chatID, messageID string) Event {
	return Event{Type: EventMessageReceived, ChatID: chatID, MessageID: messageID}
}

func status(msg string) Event { return Event{Type: EventStatus, Message: msg} }

func waiting(attempt, total int) Event {
	return status(fmt.Sprintf("Waiting for AI response... (attempt %d/%d)", attempt, total))
}

func aiResponse(data map[string]any) Event { return Event{Type: EventAIResponse, Data: data} }

func errorEvent(code, msg string) Event { return Event{Type: EventError, Code: code, Message: msg} }

// inbound is a client frame.
type inbound struct {
	Content string `json:"content"`
}
