package dynamics

import (
	"encoding/xml"
	"fmt"

	"crm-dialogs/internal/models"
)

const defaultLanguageCode = "1033"

type formXML struct {
	Tabs []struct {
		Columns []struct {
			Sections []formXMLSection `xml:"sections>section"`
		} `xml:"columns>column"`
	} `xml:"tabs>tab"`
}

type formXMLSection struct {
	Name   string         `xml:"name,attr"`
	Labels []formXMLLabel `xml:"labels>label"`
	Cells  []formXMLCell  `xml:"rows>row>cell"`
}

type formXMLCell struct {
	Labels  []formXMLLabel `xml:"labels>label"`
	Control *struct {
		DataFieldName string `xml:"datafieldname,attr"`
	} `xml:"control"`
}

type formXMLLabel struct {
	Description  string `xml:"description,attr"`
	LanguageCode string `xml:"languagecode,attr"`
}

func pickLabel(labels []formXMLLabel) string {
	for _, l := range labels {
		if l.LanguageCode == defaultLanguageCode {
			return l.Description
		}
	}
	if len(labels) > 0 {
		return labels[0].Description
	}
	return ""
}

// ParseFormXML extracts the bound fields of a systemform layout, section by section.
func ParseFormXML(id, name, entityType, raw string) (models.FormDefinition, error) {
	form := models.FormDefinition{ID: id, Name: name, EntityType: entityType}

	var doc formXML
	if err := xml.Unmarshal([]byte(raw), &doc); err != nil {
		return form, fmt.Errorf("failed to parse formxml for %s: %w", name, err)
	}

	for _, tab := range doc.Tabs {
		for _, column := range tab.Columns {
			for _, s := range column.Sections {
				section := models.FormSection{Name: s.Name, Label: pickLabel(s.Labels)}
				for _, cell := range s.Cells {
					if cell.Control == nil || cell.Control.DataFieldName == "" {
						continue
					}
					section.Fields = append(section.Fields, models.FormField{
						Attribute: cell.Control.DataFieldName,
						Label:     pickLabel(cell.Labels),
					})
				}
				if len(section.Fields) > 0 {
					form.Sections = append(form.Sections, section)
				}
			}
		}
	}
	return form, nil
}
