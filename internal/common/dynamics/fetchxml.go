package dynamics

import (
	"encoding/xml"
	"fmt"

	"crm-dialogs/internal/common/crm"
	"crm-dialogs/internal/common/errors"
	"crm-dialogs/internal/models"
)

type fetchDocument struct {
	XMLName xml.Name    `xml:"fetch"`
	Mapping string      `xml:"mapping,attr"`
	Entity  fetchEntity `xml:"entity"`
}

type fetchEntity struct {
	Name          string           `xml:"name,attr"`
	AllAttributes *struct{}        `xml:"all-attributes"`
	Attributes    []fetchAttribute `xml:"attribute"`
	Filter        *fetchFilter     `xml:"filter"`
	Orders        []fetchOrder     `xml:"order"`
	Links         []fetchLink      `xml:"link-entity"`
}

type fetchAttribute struct {
	Name  string `xml:"name,attr"`
	Alias string `xml:"alias,attr,omitempty"`
}

type fetchFilter struct {
	Type       string           `xml:"type,attr"`
	Conditions []fetchCondition `xml:"condition"`
}

type fetchCondition struct {
	Attribute string `xml:"attribute,attr"`
	Operator  string `xml:"operator,attr"`
	Value     string `xml:"value,attr"`
}

type fetchOrder struct {
	Attribute  string `xml:"attribute,attr"`
	Descending bool   `xml:"descending,attr"`
}

type fetchLink struct {
	Name       string           `xml:"name,attr"`
	From       string           `xml:"from,attr"`
	To         string           `xml:"to,attr"`
	Alias      string           `xml:"alias,attr,omitempty"`
	Attributes []fetchAttribute `xml:"attribute"`
	Filter     *fetchFilter     `xml:"filter"`
}

// BuildFetchXML renders query as a FetchXML document. Condition values end up
// in XML attributes, so the encoder escapes them; like patterns are bracket-escaped
// so user text only ever matches literally.
func BuildFetchXML(query models.RecordQuery) (string, error) {
	if !crm.ValidIdentifier(query.Entity) {
		return "", errors.NewInvalidQueryError(fmt.Sprintf("invalid entity name %q", query.Entity))
	}

	entity := fetchEntity{Name: query.Entity}
	if query.AllAttributes {
		entity.AllAttributes = &struct{}{}
	}

	var err error
	if entity.Attributes, err = buildAttributes(query.Attributes, nil); err != nil {
		return "", err
	}
	if entity.Filter, err = buildFilter(query.Filters); err != nil {
		return "", err
	}

	for _, o := range query.Orders {
		if !crm.ValidIdentifier(o.Attribute) {
			return "", errors.NewInvalidQueryError(fmt.Sprintf("invalid order attribute %q", o.Attribute))
		}
		entity.Orders = append(entity.Orders, fetchOrder{Attribute: o.Attribute, Descending: o.Descending})
	}

	for _, l := range query.Links {
		for _, ident := range []string{l.Name, l.From, l.To} {
			if !crm.ValidIdentifier(ident) {
				return "", errors.NewInvalidQueryError(fmt.Sprintf("invalid link identifier %q", ident))
			}
		}
		if l.Alias != "" && !crm.ValidIdentifier(l.Alias) {
			return "", errors.NewInvalidQueryError(fmt.Sprintf("invalid link alias %q", l.Alias))
		}

		link := fetchLink{Name: l.Name, From: l.From, To: l.To, Alias: l.Alias}
		if link.Attributes, err = buildAttributes(nil, l.Attributes); err != nil {
			return "", err
		}
		if link.Filter, err = buildFilter(l.Filters); err != nil {
			return "", err
		}
		entity.Links = append(entity.Links, link)
	}

	out, err := xml.Marshal(fetchDocument{Mapping: "logical", Entity: entity})
	if err != nil {
		return "", errors.NewInvalidQueryError(err.Error())
	}
	return string(out), nil
}

func buildAttributes(names []string, aliased []models.LinkAttribute) ([]fetchAttribute, error) {
	var out []fetchAttribute
	for _, name := range names {
		if !crm.ValidIdentifier(name) {
			return nil, errors.NewInvalidQueryError(fmt.Sprintf("invalid attribute %q", name))
		}
		out = append(out, fetchAttribute{Name: name})
	}
	for _, a := range aliased {
		if !crm.ValidIdentifier(a.Name) || (a.Alias != "" && !crm.ValidIdentifier(a.Alias)) {
			return nil, errors.NewInvalidQueryError(fmt.Sprintf("invalid attribute %q as %q", a.Name, a.Alias))
		}
		out = append(out, fetchAttribute{Name: a.Name, Alias: a.Alias})
	}
	return out, nil
}

func buildFilter(conditions []models.Condition) (*fetchFilter, error) {
	if len(conditions) == 0 {
		return nil, nil
	}

	filter := &fetchFilter{Type: "and"}
	for _, c := range conditions {
		if !crm.ValidIdentifier(c.Attribute) {
			return nil, errors.NewInvalidQueryError(fmt.Sprintf("invalid condition attribute %q", c.Attribute))
		}
		switch c.Operator {
		case models.OperatorEqual:
			filter.Conditions = append(filter.Conditions, fetchCondition{Attribute: c.Attribute, Operator: "eq", Value: c.Value})
		case models.OperatorContains:
			filter.Conditions = append(filter.Conditions, fetchCondition{
				Attribute: c.Attribute,
				Operator:  "like",
				Value:     "%" + crm.EscapeLike(c.Value) + "%",
			})
		default:
			return nil, errors.NewInvalidQueryError(fmt.Sprintf("unsupported operator %q", c.Operator))
		}
	}
	return filter, nil
}
