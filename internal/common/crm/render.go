package crm

import (
	"context"
	"fmt"

	"crm-dialogs/internal/models"
)

const adaptiveCardVersion = "1.2"

// RenderReadOnlyForm renders record through form as an Adaptive Card. Fields the
// record does not carry are skipped; sections left empty are dropped.
func RenderReadOnlyForm(record *models.Record, form models.FormDefinition) (*models.Attachment, error) {
	if record == nil {
		return nil, fmt.Errorf("render %s: nil record", form.Name)
	}

	body := []map[string]interface{}{
		{
			"type":   "TextBlock",
			"text":   record.PrimaryName(),
			"size":   "Large",
			"weight": "Bolder",
			"wrap":   true,
		},
	}

	for _, section := range form.Sections {
		facts := make([]map[string]interface{}, 0, len(section.Fields))
		for _, field := range section.Fields {
			value, ok := record.FormattedAttribute(field.Attribute)
			if !ok {
				continue
			}
			title := field.Label
			if title == "" {
				title = field.Attribute
			}
			facts = append(facts, map[string]interface{}{"title": title, "value": value})
		}
		if len(facts) == 0 {
			continue
		}

		items := make([]map[string]interface{}, 0, 2)
		if section.Label != "" {
			items = append(items, map[string]interface{}{
				"type":   "TextBlock",
				"text":   section.Label,
				"weight": "Bolder",
				"wrap":   true,
			})
		}
		items = append(items, map[string]interface{}{"type": "FactSet", "facts": facts})
		body = append(body, map[string]interface{}{
			"type":      "Container",
			"separator": true,
			"items":     items,
		})
	}

	return &models.Attachment{
		ContentType: models.ContentTypeAdaptiveCard,
		Name:        form.Name,
		Content: map[string]interface{}{
			"type":    "AdaptiveCard",
			"$schema": "http://adaptivecards.io/schemas/adaptive-card.json",
			"version": adaptiveCardVersion,
			"body":    body,
		},
	}, nil
}

// Renderer provides RenderReadOnlyForm for backends that embed it.
type Renderer struct{}

func (Renderer) RenderReadOnlyForm(_ context.Context, record *models.Record, form models.FormDefinition) (*models.Attachment, error) {
	return RenderReadOnlyForm(record, form)
}
