package database

import (
	"context"
	"database/sql"
	"fmt"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"crm-dialogs/internal/common/errors"
	"crm-dialogs/internal/common/logger"
	"crm-dialogs/internal/models"
)

// ==========================
// Test Helper Functions
// ==========================

const contactsSQL = `SELECT "t".*, "ac"."name" AS "accountname" FROM "contact" AS "t" ` +
	`JOIN "account" AS "ac" ON "ac"."accountid" = "t"."parentaccountid" ` +
	`WHERE "t"."statecode" = $1 AND "ac"."name" ILIKE $2 ESCAPE '\' ` +
	`ORDER BY "t"."modifiedon" DESC`

func newTestStore(t *testing.T) (*CRMStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewCRMStore(db, logger.NewZapAdapter(zaptest.NewLogger(t))), mock
}

func contactsQuery(accountName string) models.RecordQuery {
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

// ==========================
// BuildSelect
// ==========================

func TestBuildSelect(t *testing.T) {
	sqlText, args, err := BuildSelect(contactsQuery("Acme"))
	require.NoError(t, err)
	assert.Equal(t, contactsSQL, sqlText)
	assert.Equal(t, []interface{}{"0", "%Acme%"}, args)
}

func TestBuildSelect_BindsUserText(t *testing.T) {
	tests := []struct {
		input   string
		wantArg string
	}{
		{`Acme'; DROP TABLE contact; --`, `%Acme'; DROP TABLE contact; --%`},
		{`100%`, `%100\%%`},
		{`a_b`, `%a\_b%`},
		{`back\slash`, `%back\\slash%`},
		{``, `%%`},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			sqlText, args, err := BuildSelect(contactsQuery(tt.input))
			require.NoError(t, err)
			assert.Equal(t, contactsSQL, sqlText, "user text never reaches the SQL text")
			assert.Equal(t, tt.wantArg, args[1])
		})
	}
}

func TestBuildSelect_SelectedAttributes(t *testing.T) {
	sqlText, args, err := BuildSelect(models.RecordQuery{
		Entity:     "account",
		Attributes: []string{"name"},
		Filters:    []models.Condition{{Attribute: "statecode", Operator: models.OperatorEqual, Value: "0"}},
	})
	require.NoError(t, err)
	assert.Equal(t, `SELECT "t"."accountid", "t"."name" FROM "account" AS "t" WHERE "t"."statecode" = $1`, sqlText)
	assert.Equal(t, []interface{}{"0"}, args)
}

func TestBuildSelect_InvalidIdentifiers(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(q *models.RecordQuery)
	}{
		{"entity", func(q *models.RecordQuery) { q.Entity = `contact"` }},
		{"link alias collides with base", func(q *models.RecordQuery) { q.Links[0].Alias = "t" }},
		{"link attribute", func(q *models.RecordQuery) { q.Links[0].Attributes[0].Name = "name,1" }},
		{"order", func(q *models.RecordQuery) { q.Orders[0].Attribute = "modifiedon desc; --" }},
		{"operator", func(q *models.RecordQuery) { q.Links[0].Filters[0].Operator = "regex" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := contactsQuery("Acme")
			tt.mutate(&q)
			_, _, err := BuildSelect(q)
			assert.Equal(t, errors.ErrCodeInvalidQuery, errors.CodeOf(err))
		})
	}
}

// ==========================
// CRMStore
// ==========================

func TestCRMStore_RetrieveRecords(t *testing.T) {
	store, mock := newTestStore(t)

	rows := sqlmock.NewRows([]string{"contactid", "fullname", "statecode", "accountname"}).
		AddRow("c-1", []byte("Jane Doe"), 0, "Acme Corp").
		AddRow("c-2", "John Roe", 0, "Acme Ltd")
	mock.ExpectQuery(contactsSQL).WithArgs("0", "%Acme%").WillReturnRows(rows)

	records, err := store.RetrieveRecords(context.Background(), "contact", contactsQuery("Acme"))
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, models.RecordReference{LogicalName: "contact", ID: "c-1"}, records[0].Reference())
	name, ok := records[0].Attribute("fullname")
	assert.True(t, ok)
	assert.Equal(t, "Jane Doe", name)
	assert.Equal(t, "John Roe", records[1].PrimaryName())

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCRMStore_RetrieveRecords_Empty(t *testing.T) {
	store, mock := newTestStore(t)
	mock.ExpectQuery(contactsSQL).WithArgs("0", "%Nobody%").
		WillReturnRows(sqlmock.NewRows([]string{"contactid"}))

	records, err := store.RetrieveRecords(context.Background(), "contact", contactsQuery("Nobody"))
	require.NoError(t, err)
	assert.Empty(t, records)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCRMStore_RetrieveRecords_DatabaseError(t *testing.T) {
	store, mock := newTestStore(t)
	mock.ExpectQuery(contactsSQL).WithArgs("0", "%Acme%").WillReturnError(fmt.Errorf("connection reset"))

	_, err := store.RetrieveRecords(context.Background(), "contact", contactsQuery("Acme"))
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeCRMQueryFailed, errors.CodeOf(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCRMStore_RetrieveRecord(t *testing.T) {
	store, mock := newTestStore(t)
	mock.ExpectQuery(`SELECT * FROM "contact" WHERE "contactid" = $1`).WithArgs("c-2").
		WillReturnRows(sqlmock.NewRows([]string{"contactid", "fullname"}).AddRow("c-2", "John Roe"))

	record, err := store.RetrieveRecord(context.Background(), models.RecordReference{LogicalName: "contact", ID: "c-2"})
	require.NoError(t, err)
	assert.Equal(t, "c-2", record.ID)
	assert.Equal(t, "John Roe", record.PrimaryName())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCRMStore_RetrieveRecord_NotFound(t *testing.T) {
	store, mock := newTestStore(t)
	mock.ExpectQuery(`SELECT * FROM "contact" WHERE "contactid" = $1`).WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"contactid"}))

	_, err := store.RetrieveRecord(context.Background(), models.RecordReference{LogicalName: "contact", ID: "missing"})
	assert.Equal(t, errors.ErrCodeCRMRecordNotFound, errors.CodeOf(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCRMStore_RetrieveFormsOf(t *testing.T) {
	store, mock := newTestStore(t)

	definition := []byte(`[{"name":"summary","label":"Summary","fields":[{"attribute":"fullname","label":"Full Name"}]}]`)
	mock.ExpectQuery(formsQuery).WithArgs("contact", 2).
		WillReturnRows(sqlmock.NewRows([]string{"form_id", "name", "definition"}).
			AddRow("f-1", "Contact", definition))

	forms, err := store.RetrieveFormsOf(context.Background(), "contact", 2)
	require.NoError(t, err)
	require.Len(t, forms, 1)
	assert.Equal(t, "contact", forms[0].EntityType)
	assert.Equal(t, []models.FormField{{Attribute: "fullname", Label: "Full Name"}}, forms[0].Sections[0].Fields)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCRMStore_RetrieveFormsOf_Errors(t *testing.T) {
	tests := []struct {
		name  string
		setup func(mock sqlmock.Sqlmock)
	}{
		{
			name: "query error",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(formsQuery).WithArgs("contact", 2).WillReturnError(sql.ErrConnDone)
			},
		},
		{
			name: "bad definition",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(formsQuery).WithArgs("contact", 2).
					WillReturnRows(sqlmock.NewRows([]string{"form_id", "name", "definition"}).
						AddRow("f-1", "Contact", []byte(`{not json`)))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, mock := newTestStore(t)
			tt.setup(mock)

			_, err := store.RetrieveFormsOf(context.Background(), "contact", 2)
			assert.Equal(t, errors.ErrCodeCRMFormsFailed, errors.CodeOf(err))
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}
