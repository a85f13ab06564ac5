package answerquery

import (
	"time"

	"insight-pipeline/internal/models"
)

// Input is the variable set a process must provide on an answer-query job.
type Input struct {
	Query       string                    `json:"query"`
	WorkspaceID string                    `json:"workspaceId"`
	AgentID     string                    `json:"agentId,omitempty"`
	History     []models.ConversationTurn `json:"history,omitempty"`
}

// ToQuery converts the job input into the pipeline request model.
func (in *Input) ToQuery() *models.Query {
	return &models.Query{
		Text:        in.Query,
		WorkspaceID: in.WorkspaceID,
		AgentID:     in.AgentID,
		History:     in.History,
	}
}

// parseHistoryTurns converts raw job variables into conversation turns.
// Entries that are not objects are skipped; a missing sender defaults to
// user and a bad timestamp is left at zero.
func parseHistoryTurns(raw []interface{}) []models.ConversationTurn {
	turns := make([]models.ConversationTurn, 0, len(raw))
	for _, entry := range raw {
		item, ok := entry.(map[string]interface{})
		if !ok {
			continue
		}

		turn := models.ConversationTurn{Sender: models.SenderUser}
		if sender, ok := item["sender"].(string); ok && sender != "" {
			turn.Sender = models.Sender(sender)
		}
		if content, ok := item["content"].(string); ok {
			turn.Content = content
		}
		if ts, ok := item["timestamp"].(string); ok {
			if parsed, err := time.Parse(time.RFC3339, ts); err == nil {
				turn.Timestamp = parsed
			}
		}
		turns = append(turns, turn)
	}
	return turns
}
