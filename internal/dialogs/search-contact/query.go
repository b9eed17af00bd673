package searchcontact

import "crm-dialogs/internal/models"

const (
	EntityContact = "contact"
	EntityAccount = "account"

	stateCodeOpen = "0"
)

// RecentContactsForAccount selects contacts whose parent account name contains
// accountName, most recently modified first. With onlyOpen, inactive contacts are
// excluded.
func RecentContactsForAccount(accountName string, onlyOpen bool) models.RecordQuery {
	q := models.RecordQuery{
		Entity:        EntityContact,
		AllAttributes: true,
		Orders:        []models.Order{{Attribute: "modifiedon", Descending: true}},
		Links: []models.LinkEntity{{
			Name:       EntityAccount,
			From:       "accountid",
			To:         "parentaccountid",
			Alias:      "ac",
			Attributes: []models.LinkAttribute{{Name: "name", Alias: "accountname"}},
			Filters: []models.Condition{{
				Attribute: "name",
				Operator:  models.OperatorContains,
				Value:     accountName,
			}},
		}},
	}
	if onlyOpen {
		q.Filters = append(q.Filters, models.Condition{
			Attribute: "statecode",
			Operator:  models.OperatorEqual,
			Value:     stateCodeOpen,
		})
	}
	return q
}
