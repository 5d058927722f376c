package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Stream entry field names. Every value on the wire is a string.
const (
	FieldMessageID      = "message_id"
	FieldUserID         = "user_id"
	FieldUserRole       = "user_role"
	FieldChatID         = "chat_id"
	FieldMessageRole    = "message_role"
	FieldContent        = "content"
	FieldIsFirstMessage = "is_first_message"
	FieldTimestamp      = "timestamp"
	FieldHistory        = "last_twenty_messages"
	FieldMetadata       = "ai_response_metadata"
	FieldReferences     = "ai_references"
	FieldTokensUsed     = "tokens_used"
	FieldResponseTime   = "response_time"
)

var requestFields = []string{
	FieldMessageID, FieldUserID, FieldUserRole, FieldChatID, FieldMessageRole,
	FieldContent, FieldIsFirstMessage, FieldTimestamp, FieldHistory,
}

// lenientRequestFields may be absent on a request entry; ParseRequest fills
// them with zero values. Every other entry of requestFields is required.
var lenientRequestFields = map[string]bool{
	FieldUserRole:       true,
	FieldMessageRole:    true,
	FieldIsFirstMessage: true,
	FieldTimestamp:      true,
	FieldHistory:        true,
}

var responseFields = []string{
	FieldMessageID, FieldUserID, FieldChatID, FieldContent, FieldMetadata,
	FieldReferences, FieldTokensUsed, FieldResponseTime, FieldTimestamp,
}

// MissingFieldError reports a required stream field that was absent or empty.
type MissingFieldError struct {
	Field string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("missing required field %q", e.Field)
}

// RequestEnvelope is a question published by a session for a worker.
type RequestEnvelope struct {
	MessageID      string
	UserID         string
	UserRole       string
	ChatID         string
	MessageRole    string
	Content        string
	IsFirstMessage bool
	Timestamp      string
	History        []HistoryItem
}

// Values flattens the envelope into stream entry fields.
func (r RequestEnvelope) Values() map[string]any {
	history := r.History
	if history == nil {
		history = []HistoryItem{}
	}
	hist, _ := json.Marshal(history)
	first := "0"
	if r.IsFirstMessage {
		first = "1"
	}
	return map[string]any{
		FieldMessageID:      r.MessageID,
		FieldUserID:         r.UserID,
		FieldUserRole:       r.UserRole,
		FieldChatID:         r.ChatID,
		FieldMessageRole:    r.MessageRole,
		FieldContent:        r.Content,
		FieldIsFirstMessage: first,
		FieldTimestamp:      r.Timestamp,
		FieldHistory:        string(hist),
	}
}

// ParseRequest rebuilds a request from stream entry fields.
// A malformed history snapshot is dropped rather than failing the request.
func ParseRequest(values map[string]any) (RequestEnvelope, error) {
	get := stringer(values)
	for _, f := range requestFields {
		if !lenientRequestFields[f] && strings.TrimSpace(get(f)) == "" {
			return RequestEnvelope{}, &MissingFieldError{Field: f}
		}
	}

	req := RequestEnvelope{
		MessageID:      get(FieldMessageID),
		UserID:         get(FieldUserID),
		UserRole:       get(FieldUserRole),
		ChatID:         get(FieldChatID),
		MessageRole:    get(FieldMessageRole),
		Content:        get(FieldContent),
		IsFirstMessage: parseBool(get(FieldIsFirstMessage)),
		Timestamp:      get(FieldTimestamp),
	}
	if raw := get(FieldHistory); raw != "" {
		_ = json.Unmarshal([]byte(raw), &req.History)
	}
	return req, nil
}

// ResponseMetadata travels as a JSON string in ai_response_metadata.
type ResponseMetadata struct {
	Model          string `json:"model"`
	ProcessingTime string `json:"processing_time"`
	SuggestedTitle string `json:"suggested_title,omitempty"`
}

// ResponseEnvelope is a worker's answer to exactly one request.
type ResponseEnvelope struct {
	MessageID    string
	UserID       string
	ChatID       string
	Content      string
	Metadata     ResponseMetadata
	References   json.RawMessage
	TokensUsed   int
	ResponseTime float64
	Timestamp    string
}

// Values flattens the envelope into stream entry fields.
func (r ResponseEnvelope) Values() map[string]any {
	meta, _ := json.Marshal(r.Metadata)
	refs := r.References
	if len(refs) == 0 {
		refs = json.RawMessage("[]")
	}
	return map[string]any{
		FieldMessageID:    r.MessageID,
		FieldUserID:       r.UserID,
		FieldChatID:       r.ChatID,
		FieldContent:      r.Content,
		FieldMetadata:     string(meta),
		FieldReferences:   string(refs),
		FieldTokensUsed:   strconv.Itoa(r.TokensUsed),
		FieldResponseTime: strconv.FormatFloat(r.ResponseTime, 'f', 3, 64),
		FieldTimestamp:    r.Timestamp,
	}
}

// ParseResponse rebuilds a response from stream entry fields. Only
// message_id is required; numeric and JSON fields fall back to zero values.
func ParseResponse(values map[string]any) (ResponseEnvelope, error) {
	get := stringer(values)
	if get(FieldMessageID) == "" {
		return ResponseEnvelope{}, &MissingFieldError{Field: FieldMessageID}
	}

	resp := ResponseEnvelope{
		MessageID: get(FieldMessageID),
		UserID:    get(FieldUserID),
		ChatID:    get(FieldChatID),
		Content:   get(FieldContent),
		Timestamp: get(FieldTimestamp),
	}
	if raw := get(FieldMetadata); raw != "" {
		_ = json.Unmarshal([]byte(raw), &resp.Metadata)
	}
	if raw := get(FieldReferences); raw != "" && json.Valid([]byte(raw)) {
		resp.References = json.RawMessage(raw)
	}
	resp.TokensUsed, _ = strconv.Atoi(get(FieldTokensUsed))
	resp.ResponseTime, _ = strconv.ParseFloat(get(FieldResponseTime), 64)
	return resp, nil
}

// RequestFields lists the fields a request entry must carry.
func RequestFields() []string { return append([]string(nil), requestFields...) }

// ResponseFields lists the fields a response entry must carry.
func ResponseFields() []string { return append([]string(nil), responseFields...) }

// Now formats the current time the way envelopes carry timestamps.
func Now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

func stringer(values map[string]any) func(string) string {
	return func(key string) string {
		switch v := values[key].(type) {
		case string:
			return v
		case []byte:
			return string(v)
		case nil:
			return ""
		default:
			return fmt.Sprint(v)
		}
	}
}

func parseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes":
		return true
	}
	return false
}
