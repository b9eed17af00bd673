// internal/common/database/crm_store.go
package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"crm-dialogs/internal/common/crm"
	"crm-dialogs/internal/common/errors"
	"crm-dialogs/internal/common/logger"
	"crm-dialogs/internal/models"
)

const baseAlias = "t"

// CRMStore is a crm.Client over a Postgres mirror of CRM entities. Each entity is a
// table named after its logical name with a <entity>id primary key; form layouts
// live in crm_forms.
type CRMStore struct {
	crm.Renderer

	db     *sql.DB
	logger logger.Logger
}

func NewCRMStore(db *sql.DB, log logger.Logger) *CRMStore {
	return &CRMStore{db: db, logger: log}
}

// escapeILike makes value match literally in an ILIKE ... ESCAPE '\' pattern.
func escapeILike(value string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(value)
}

func quote(alias, column string) string {
	return pq.QuoteIdentifier(alias) + "." + pq.QuoteIdentifier(column)
}

type sqlBuilder struct {
	where []string
	args  []interface{}
}

func (b *sqlBuilder) bind(v interface{}) string {
	b.args = append(b.args, v)
	return fmt.Sprintf("$%d", len(b.args))
}

func (b *sqlBuilder) conditions(alias string, conds []models.Condition) error {
	for _, c := range conds {
		if !crm.ValidIdentifier(c.Attribute) {
			return errors.NewInvalidQueryError(fmt.Sprintf("invalid condition attribute %q", c.Attribute))
		}
		switch c.Operator {
		case models.OperatorEqual:
			b.where = append(b.where, fmt.Sprintf("%s = %s", quote(alias, c.Attribute), b.bind(c.Value)))
		case models.OperatorContains:
			b.where = append(b.where, fmt.Sprintf(`%s ILIKE %s ESCAPE '\'`, quote(alias, c.Attribute), b.bind("%"+escapeILike(c.Value)+"%")))
		default:
			return errors.NewInvalidQueryError(fmt.Sprintf("unsupported operator %q", c.Operator))
		}
	}
	return nil
}

// BuildSelect renders query as parameterized SQL. Identifiers are validated and
// quoted; every value is a bind parameter.
func BuildSelect(query models.RecordQuery) (string, []interface{}, error) {
	if !crm.ValidIdentifier(query.Entity) {
		return "", nil, errors.NewInvalidQueryError(fmt.Sprintf("invalid entity name %q", query.Entity))
	}

	var columns []string
	if query.AllAttributes || len(query.Attributes) == 0 {
		columns = append(columns, pq.QuoteIdentifier(baseAlias)+".*")
	} else {
		if !containsString(query.Attributes, query.Entity+"id") {
			columns = append(columns, quote(baseAlias, query.Entity+"id"))
		}
		for _, a := range query.Attributes {
			if !crm.ValidIdentifier(a) {
				return "", nil, errors.NewInvalidQueryError(fmt.Sprintf("invalid attribute %q", a))
			}
			columns = append(columns, quote(baseAlias, a))
		}
	}

	b := &sqlBuilder{}
	if err := b.conditions(baseAlias, query.Filters); err != nil {
		return "", nil, err
	}

	var joins []string
	for _, l := range query.Links {
		alias := l.Alias
		if alias == "" {
			alias = l.Name
		}
		for _, ident := range []string{l.Name, l.From, l.To, alias} {
			if !crm.ValidIdentifier(ident) || ident == baseAlias {
				return "", nil, errors.NewInvalidQueryError(fmt.Sprintf("invalid link identifier %q", ident))
			}
		}
		for _, a := range l.Attributes {
			if !crm.ValidIdentifier(a.Name) || (a.Alias != "" && !crm.ValidIdentifier(a.Alias)) {
				return "", nil, errors.NewInvalidQueryError(fmt.Sprintf("invalid attribute %q as %q", a.Name, a.Alias))
			}
			col := quote(alias, a.Name)
			if a.Alias != "" {
				col += " AS " + pq.QuoteIdentifier(a.Alias)
			}
			columns = append(columns, col)
		}
		joins = append(joins, fmt.Sprintf("JOIN %s AS %s ON %s = %s",
			pq.QuoteIdentifier(l.Name), pq.QuoteIdentifier(alias),
			quote(alias, l.From), quote(baseAlias, l.To)))
		if err := b.conditions(alias, l.Filters); err != nil {
			return "", nil, err
		}
	}

	var orders []string
	for _, o := range query.Orders {
		if !crm.ValidIdentifier(o.Attribute) {
			return "", nil, errors.NewInvalidQueryError(fmt.Sprintf("invalid order attribute %q", o.Attribute))
		}
		dir := "ASC"
		if o.Descending {
			dir = "DESC"
		}
		orders = append(orders, quote(baseAlias, o.Attribute)+" "+dir)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "SELECT %s FROM %s AS %s", strings.Join(columns, ", "),
		pq.QuoteIdentifier(query.Entity), pq.QuoteIdentifier(baseAlias))
	for _, j := range joins {
		sb.WriteString(" " + j)
	}
	if len(b.where) > 0 {
		sb.WriteString(" WHERE " + strings.Join(b.where, " AND "))
	}
	if len(orders) > 0 {
		sb.WriteString(" ORDER BY " + strings.Join(orders, ", "))
	}
	return sb.String(), b.args, nil
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func (s *CRMStore) RetrieveRecords(ctx context.Context, entityType string, query models.RecordQuery) ([]models.Record, error) {
	if query.Entity == "" {
		query.Entity = entityType
	}
	if query.Entity != entityType {
		return nil, errors.NewInvalidQueryError(fmt.Sprintf("query entity %q does not match %q", query.Entity, entityType))
	}

	sqlText, args, err := BuildSelect(query)
	if err != nil {
		return nil, err
	}

	s.logger.Debug("Executing record query", map[string]interface{}{
		"entityType": entityType,
		"query":      sqlText,
		"argCount":   len(args),
	})

	rows, err := s.db.QueryContext(ctx, sqlText, args...)
	if err != nil {
		return nil, errors.NewCRMQueryFailedError(entityType, err)
	}
	defer rows.Close()

	records, err := scanRecords(entityType, rows)
	if err != nil {
		return nil, errors.NewCRMQueryFailedError(entityType, err)
	}
	return records, nil
}

func (s *CRMStore) RetrieveRecord(ctx context.Context, ref models.RecordReference) (*models.Record, error) {
	if !crm.ValidIdentifier(ref.LogicalName) {
		return nil, errors.NewInvalidQueryError(fmt.Sprintf("invalid entity name %q", ref.LogicalName))
	}

	sqlText := fmt.Sprintf("SELECT * FROM %s WHERE %s = $1",
		pq.QuoteIdentifier(ref.LogicalName), pq.QuoteIdentifier(ref.LogicalName+"id"))

	rows, err := s.db.QueryContext(ctx, sqlText, ref.ID)
	if err != nil {
		return nil, errors.NewCRMQueryFailedError(ref.LogicalName, err)
	}
	defer rows.Close()

	records, err := scanRecords(ref.LogicalName, rows)
	if err != nil {
		return nil, errors.NewCRMQueryFailedError(ref.LogicalName, err)
	}
	if len(records) == 0 {
		return nil, errors.NewCRMRecordNotFoundError(ref.LogicalName, ref.ID)
	}
	return &records[0], nil
}

const formsQuery = `SELECT form_id, name, definition FROM crm_forms WHERE entity_type = $1 ORDER BY name LIMIT $2`

func (s *CRMStore) RetrieveFormsOf(ctx context.Context, entityType string, max int) ([]models.FormDefinition, error) {
	if max <= 0 {
		return []models.FormDefinition{}, nil
	}

	rows, err := s.db.QueryContext(ctx, formsQuery, entityType, max)
	if err != nil {
		return nil, errors.NewCRMFormsFailedError(entityType, err)
	}
	defer rows.Close()

	forms := make([]models.FormDefinition, 0, max)
	for rows.Next() {
		var (
			form       models.FormDefinition
			definition []byte
		)
		if err := rows.Scan(&form.ID, &form.Name, &definition); err != nil {
			return nil, errors.NewCRMFormsFailedError(entityType, err)
		}
		if err := json.Unmarshal(definition, &form.Sections); err != nil {
			return nil, errors.NewCRMFormsFailedError(entityType, fmt.Errorf("form %s: %w", form.ID, err))
		}
		form.EntityType = entityType
		forms = append(forms, form)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewCRMFormsFailedError(entityType, err)
	}
	return forms, nil
}

func scanRecords(entityType string, rows *sql.Rows) ([]models.Record, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	records := []models.Record{}
	for rows.Next() {
		values := make([]interface{}, len(columns))
		ptrs := make([]interface{}, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}

		record := models.Record{LogicalName: entityType, Attributes: make(map[string]interface{}, len(columns))}
		for i, col := range columns {
			v := values[i]
			if b, ok := v.([]byte); ok {
				v = string(b)
			}
			record.Attributes[col] = v
		}
		if id, ok := record.Attributes[entityType+"id"]; ok && id != nil {
			record.ID = fmt.Sprint(id)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}
