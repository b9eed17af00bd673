package dialogturn

import "crm-dialogs/internal/common/validation"

var inputSchema = validation.MustCompile(`{
	"type": "object",
	"required": ["conversationId", "event"],
	"properties": {
		"conversationId": {"type": "string", "minLength": 1, "maxLength": 200},
		"dialog": {"type": "string", "minLength": 1, "maxLength": 100},
		"accountName": {"type": "string", "maxLength": 160},
		"event": {
			"type": "object",
			"required": ["type"],
			"properties": {
				"type": {"type": "string", "enum": ["begin", "message"]},
				"text": {"type": "string", "maxLength": 4000}
			}
		}
	}
}`)

func GetInputSchema() *validation.Schema {
	return inputSchema
}
