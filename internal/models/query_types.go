// internal/models/query_types.go
package models

// Operator is a condition operator understood by every CRM backend.
type Operator string

const (
	OperatorEqual    Operator = "eq"
	OperatorContains Operator = "contains"
)

// RecordQuery is a backend-neutral record query. Values are never spliced into
// query text by callers; each backend escapes or binds them.
type RecordQuery struct {
	Entity        string       `json:"entity"`
	AllAttributes bool         `json:"allAttributes"`
	Attributes    []string     `json:"attributes,omitempty"`
	Filters       []Condition  `json:"filters,omitempty"`
	Orders        []Order      `json:"orders,omitempty"`
	Links         []LinkEntity `json:"links,omitempty"`
}

type Condition struct {
	Attribute string   `json:"attribute"`
	Operator  Operator `json:"operator"`
	Value     string   `json:"value"`
}

type Order struct {
	Attribute  string `json:"attribute"`
	Descending bool   `json:"descending"`
}

// LinkEntity joins Name on Name.From = parent.To.
type LinkEntity struct {
	Name       string          `json:"name"`
	From       string          `json:"from"`
	To         string          `json:"to"`
	Alias      string          `json:"alias"`
	Attributes []LinkAttribute `json:"attributes,omitempty"`
	Filters    []Condition     `json:"filters,omitempty"`
}

type LinkAttribute struct {
	Name  string `json:"name"`
	Alias string `json:"alias"`
}
