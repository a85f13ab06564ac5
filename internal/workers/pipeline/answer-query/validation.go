package answerquery

import "insight-pipeline/internal/common/validation"

func GetInputSchema() validation.JSONSchema {
	return validation.JSONSchema{
		Type:     "object",
		Required: []string{"query", "workspaceId"},
		Properties: map[string]validation.Property{
			"query": {
				Type:        "string",
				Description: "Natural language question to answer",
				MinLength:   intPtr(1),
				MaxLength:   intPtr(4000),
			},
			"workspaceId": {
				Type:        "string",
				Description: "Workspace whose data sources the question runs against",
				MinLength:   intPtr(1),
				MaxLength:   intPtr(64),
			},
			"agentId": {
				Type:        "string",
				Description: "Agent the conversation belongs to",
				MaxLength:   intPtr(64),
			},
			"history": {
				Type:        "array",
				Description: "Prior conversation turns, oldest first",
			},
		},
		AdditionalProperties: false,
	}
}

func intPtr(i int) *int {
	return &i
}
