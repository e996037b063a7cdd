package models

import "time"

// Message is one entry of a chat transcript. Content is the only field that changes after creation, and
// only for the assistant entry that is still receiving a streamed answer. Timestamp is SentAt in the
// server's zone; browsers show SentAt in their own zone.
type Message struct {
	ID        string
	Role      Role
	Content   string
	Timestamp string
	SentAt    time.Time
}

// Role represents the role of a message participant.
type Role string

const (
	// RoleUser represents a message typed by the user.
	RoleUser Role = "user"
	// RoleAssistant represents a message produced by the assistant, including the welcome entry.
	RoleAssistant Role = "assistant"
)

// WelcomeMessageID is the fixed id of the greeting entry that opens every transcript.
const WelcomeMessageID = "welcome"

// TimestampLayout renders a time of day as two digit hour and minute on a 12-hour clock, e.g. "03:04 PM".
const TimestampLayout = "03:04 PM"

// HistoryEntry is the reduced form of a Message sent to the backend as conversation context.
type HistoryEntry struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// QueryRequest is the body of a chat request sent to the backend.
type QueryRequest struct {
	Query       string         `json:"query"`
	DocumentID  string         `json:"documentId"`
	ChatHistory []HistoryEntry `json:"chatHistory"`
}

// FormatTimestamp formats t with TimestampLayout.
func FormatTimestamp(t time.Time) string {
	return t.Format(TimestampLayout)
}
