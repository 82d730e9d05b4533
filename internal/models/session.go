package models

import "strings"

// ChatMessage is one prior exchange line supplied by the client.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// IsUser reports whether the message was written by the human side.
func (m ChatMessage) IsUser() bool {
	return strings.EqualFold(m.Role, "user")
}

// ConversationTurn is the admin prompt plus the explicit history that
// accompanies it. Nothing here is shared across requests.
type ConversationTurn struct {
	RequestID string        `json:"requestId"`
	Prompt    string        `json:"prompt"`
	History   []ChatMessage `json:"history,omitempty"`
	UserID    string        `json:"userId,omitempty"`
}

// RecentHistory returns at most limit trailing messages, skipping blanks.
func (t ConversationTurn) RecentHistory(limit int) []ChatMessage {
	out := make([]ChatMessage, 0, len(t.History))
	for _, m := range t.History {
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		out = append(out, m)
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}
