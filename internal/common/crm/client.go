// Package crm defines the CRM collaborator used by dialogs and the pieces shared by its backends.
package crm

import (
	"context"
	"regexp"
	"strings"

	"crm-dialogs/internal/models"
)

// Client is a CRM backend able to query records, fetch form layouts and render them.
type Client interface {
	RetrieveRecords(ctx context.Context, entityType string, query models.RecordQuery) ([]models.Record, error)
	RetrieveRecord(ctx context.Context, ref models.RecordReference) (*models.Record, error)
	RetrieveFormsOf(ctx context.Context, entityType string, max int) ([]models.FormDefinition, error)
	RenderReadOnlyForm(ctx context.Context, record *models.Record, form models.FormDefinition) (*models.Attachment, error)
}

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,127}$`)

// ValidIdentifier reports whether name can be used as an entity or attribute name.
func ValidIdentifier(name string) bool {
	return identifierPattern.MatchString(name)
}

// EscapeLike makes value match literally inside a like pattern that uses bracket
// escapes (FetchXML, T-SQL).
func EscapeLike(value string) string {
	r := strings.NewReplacer("[", "[[]", "%", "[%]", "_", "[_]")
	return r.Replace(value)
}
