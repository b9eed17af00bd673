package crm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crm-dialogs/internal/models"
)

func contactForm() models.FormDefinition {
	return models.FormDefinition{
		ID:         "form-1",
		Name:       "Contact",
		EntityType: "contact",
		Sections: []models.FormSection{
			{
				Name:  "summary",
				Label: "Summary",
				Fields: []models.FormField{
					{Attribute: "fullname", Label: "Full Name"},
					{Attribute: "emailaddress1", Label: "Email"},
					{Attribute: "parentcustomerid"},
				},
			},
			{
				Name:   "empty",
				Label:  "Nothing here",
				Fields: []models.FormField{{Attribute: "fax", Label: "Fax"}},
			},
		},
	}
}

func TestRenderReadOnlyForm(t *testing.T) {
	record := &models.Record{
		LogicalName: "contact",
		ID:          "c-1",
		Attributes: map[string]interface{}{
			"fullname":         "Jane Doe",
			"emailaddress1":    "jane@acme.test",
			"parentcustomerid": "a-1",
			"parentcustomerid" + models.FormattedValueSuffix: "Acme Corp",
		},
	}

	att, err := RenderReadOnlyForm(record, contactForm())
	require.NoError(t, err)

	assert.Equal(t, models.ContentTypeAdaptiveCard, att.ContentType)
	assert.Equal(t, "Contact", att.Name)

	card := att.Content.(map[string]interface{})
	assert.Equal(t, "AdaptiveCard", card["type"])

	body := card["body"].([]map[string]interface{})
	require.Len(t, body, 2, "title plus one non-empty section")
	assert.Equal(t, "Jane Doe", body[0]["text"])

	items := body[1]["items"].([]map[string]interface{})
	require.Len(t, items, 2)
	assert.Equal(t, "Summary", items[0]["text"])

	facts := items[1]["facts"].([]map[string]interface{})
	require.Len(t, facts, 3)
	assert.Equal(t, map[string]interface{}{"title": "Full Name", "value": "Jane Doe"}, facts[0])
	assert.Equal(t, map[string]interface{}{"title": "Email", "value": "jane@acme.test"}, facts[1])
	assert.Equal(t, map[string]interface{}{"title": "parentcustomerid", "value": "Acme Corp"}, facts[2])
}

func TestRenderReadOnlyForm_NilRecord(t *testing.T) {
	_, err := RenderReadOnlyForm(nil, contactForm())
	assert.Error(t, err)
}

func TestRenderer_DelegatesToRenderReadOnlyForm(t *testing.T) {
	record := &models.Record{LogicalName: "contact", ID: "c-9"}

	att, err := Renderer{}.RenderReadOnlyForm(context.Background(), record, models.FormDefinition{Name: "Quick"})
	require.NoError(t, err)

	body := att.Content.(map[string]interface{})["body"].([]map[string]interface{})
	require.Len(t, body, 1)
	assert.Equal(t, "c-9", body[0]["text"], "falls back to the id when no name attribute exists")
}
