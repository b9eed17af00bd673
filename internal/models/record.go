package models

import (
	"fmt"
	"strings"
)

const FormattedValueSuffix = "@OData.Community.Display.V1.FormattedValue"

// RecordReference identifies one CRM record.
type RecordReference struct {
	LogicalName string `json:"logicalName"`
	ID          string `json:"id"`
}

func (r RecordReference) IsZero() bool {
	return r.LogicalName == "" && r.ID == ""
}

func (r RecordReference) String() string {
	return fmt.Sprintf("%s(%s)", r.LogicalName, r.ID)
}

// Record is a generic CRM entity: a logical type plus untyped attribute values.
type Record struct {
	LogicalName string                 `json:"logicalName"`
	ID          string                 `json:"id"`
	Attributes  map[string]interface{} `json:"attributes,omitempty"`
}

func (r Record) Reference() RecordReference {
	return RecordReference{LogicalName: r.LogicalName, ID: r.ID}
}

// Attribute returns the raw value of name and whether the record carries it.
func (r Record) Attribute(name string) (interface{}, bool) {
	if r.Attributes == nil {
		return nil, false
	}
	v, ok := r.Attributes[name]
	return v, ok
}

// FormattedAttribute prefers the display-formatted value of name over the raw one.
func (r Record) FormattedAttribute(name string) (string, bool) {
	if v, ok := r.Attribute(name + FormattedValueSuffix); ok && v != nil {
		return fmt.Sprint(v), true
	}
	v, ok := r.Attribute(name)
	if !ok || v == nil {
		return "", false
	}
	return fmt.Sprint(v), true
}

// PrimaryName is the best human label for the record.
func (r Record) PrimaryName() string {
	candidates := []string{"fullname", "name", strings.ToLower(r.LogicalName) + "name"}
	for _, attr := range candidates {
		if v, ok := r.FormattedAttribute(attr); ok && strings.TrimSpace(v) != "" {
			return v
		}
	}
	return r.ID
}

// FormDefinition describes how a record type is laid out for display.
type FormDefinition struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	EntityType string        `json:"entityType"`
	Sections   []FormSection `json:"sections"`
}

type FormSection struct {
	Name   string      `json:"name"`
	Label  string      `json:"label,omitempty"`
	Fields []FormField `json:"fields"`
}

type FormField struct {
	Attribute string `json:"attribute"`
	Label     string `json:"label,omitempty"`
}
