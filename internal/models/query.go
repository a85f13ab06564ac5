// internal/models/query.go
package models

import "time"

// Sender identifies who produced a conversation turn.
type Sender string

const (
	SenderUser   Sender = "user"
	SenderAgent  Sender = "agent"
	SenderSystem Sender = "system"
)

// ConversationTurn is one prior message in the conversation, oldest first.
type ConversationTurn struct {
	Sender    Sender    `json:"sender"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Query is the immutable input to a pipeline run.
type Query struct {
	Text        string             `json:"text"`
	WorkspaceID string             `json:"workspaceId"`
	AgentID     string             `json:"agentId"`
	History     []ConversationTurn `json:"history,omitempty"`
}

// LastAgentTurn returns the most recent agent message, or nil.
func (q *Query) LastAgentTurn() *ConversationTurn {
	for i := len(q.History) - 1; i >= 0; i-- {
		if q.History[i].Sender == SenderAgent {
			return &q.History[i]
		}
	}
	return nil
}

// RecentHistory returns up to n most recent turns, oldest first.
func (q *Query) RecentHistory(n int) []ConversationTurn {
	if n <= 0 || len(q.History) <= n {
		return q.History
	}
	return q.History[len(q.History)-n:]
}
