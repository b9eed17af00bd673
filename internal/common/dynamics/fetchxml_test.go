package dynamics

import (
	"encoding/xml"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crm-dialogs/internal/common/errors"
	"crm-dialogs/internal/models"
)

func contactsForAccount(accountName string) models.RecordQuery {
	return models.RecordQuery{
		Entity:        "contact",
		AllAttributes: true,
		Filters:       []models.Condition{{Attribute: "statecode", Operator: models.OperatorEqual, Value: "0"}},
		Orders:        []models.Order{{Attribute: "modifiedon", Descending: true}},
		Links: []models.LinkEntity{{
			Name:       "account",
			From:       "accountid",
			To:         "parentaccountid",
			Alias:      "ac",
			Attributes: []models.LinkAttribute{{Name: "name", Alias: "accountname"}},
			Filters:    []models.Condition{{Attribute: "name", Operator: models.OperatorContains, Value: accountName}},
		}},
	}
}

func TestBuildFetchXML(t *testing.T) {
	got, err := BuildFetchXML(contactsForAccount("Acme"))
	require.NoError(t, err)

	want := `<fetch mapping="logical"><entity name="contact"><all-attributes></all-attributes>` +
		`<filter type="and"><condition attribute="statecode" operator="eq" value="0"></condition></filter>` +
		`<order attribute="modifiedon" descending="true"></order>` +
		`<link-entity name="account" from="accountid" to="parentaccountid" alias="ac">` +
		`<attribute name="name" alias="accountname"></attribute>` +
		`<filter type="and"><condition attribute="name" operator="like" value="%Acme%"></condition></filter>` +
		`</link-entity></entity></fetch>`
	assert.Equal(t, want, got)
}

func TestBuildFetchXML_ValuesCannotAlterQuery(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantValue string
	}{
		{"markup", `x"/><condition attribute="statecode" operator="ne" value="0`, `%x"/><condition attribute="statecode" operator="ne" value="0%`},
		{"wildcards", `50%_off`, `%50[%][_]off%`},
		{"brackets", `[ab]`, `%[[]ab]%`},
		{"empty", ``, `%%`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := BuildFetchXML(contactsForAccount(tt.input))
			require.NoError(t, err)

			var doc fetchDocument
			require.NoError(t, xml.Unmarshal([]byte(raw), &doc))
			require.Len(t, doc.Entity.Filter.Conditions, 1)
			require.Len(t, doc.Entity.Links, 1)
			require.Len(t, doc.Entity.Links[0].Filter.Conditions, 1)
			assert.Equal(t, tt.wantValue, doc.Entity.Links[0].Filter.Conditions[0].Value)
		})
	}
}

func TestBuildFetchXML_RejectsInvalidIdentifiers(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(q *models.RecordQuery)
	}{
		{"entity", func(q *models.RecordQuery) { q.Entity = "contact x" }},
		{"filter attribute", func(q *models.RecordQuery) { q.Filters[0].Attribute = `statecode"` }},
		{"order attribute", func(q *models.RecordQuery) { q.Orders[0].Attribute = "" }},
		{"link target", func(q *models.RecordQuery) { q.Links[0].To = "parent-account" }},
		{"link attribute alias", func(q *models.RecordQuery) { q.Links[0].Attributes[0].Alias = "a b" }},
		{"operator", func(q *models.RecordQuery) { q.Filters[0].Operator = "between" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := contactsForAccount("Acme")
			tt.mutate(&q)

			_, err := BuildFetchXML(q)
			require.Error(t, err)
			assert.Equal(t, errors.ErrCodeInvalidQuery, errors.CodeOf(err))
		})
	}
}
