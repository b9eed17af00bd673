// Package dynamics is a crm.Client backed by the Dynamics 365 Web API.
package dynamics

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"crm-dialogs/internal/common/auth"
	"crm-dialogs/internal/common/config"
	"crm-dialogs/internal/common/crm"
	"crm-dialogs/internal/common/errors"
	httpclient "crm-dialogs/internal/common/http"
	"crm-dialogs/internal/common/logger"
	"crm-dialogs/internal/models"
)

const (
	formTypeMain  = 2
	annotationsOf = `odata.include-annotations="OData.Community.Display.V1.FormattedValue"`
)

var entitySets = map[string]string{
	"account":    "accounts",
	"contact":    "contacts",
	"systemform": "systemforms",
	"product":    "products",
}

// EntitySetName maps a logical entity name to its Web API collection.
func EntitySetName(logicalName string) string {
	if set, ok := entitySets[logicalName]; ok {
		return set
	}
	if strings.HasSuffix(logicalName, "y") {
		return strings.TrimSuffix(logicalName, "y") + "ies"
	}
	return logicalName + "s"
}

type Client struct {
	crm.Renderer

	baseURL string
	http    *httpclient.Client
	tokens  auth.TokenSource
	logger  logger.Logger
}

func NewClient(cfg config.DynamicsConfig, tokens auth.TokenSource, log logger.Logger) *Client {
	return &Client{
		baseURL: fmt.Sprintf("%s/api/data/v%s", strings.TrimSuffix(cfg.URL, "/"), cfg.APIVersion),
		http:    httpclient.NewClient(config.GetDuration(cfg.Timeout)),
		tokens:  tokens,
		logger:  log,
	}
}

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return err
	}

	headers := map[string]string{
		"Authorization":    "Bearer " + token,
		"OData-MaxVersion": "4.0",
		"OData-Version":    "4.0",
		"Prefer":           annotationsOf,
	}
	return c.http.DoJSON(ctx, http.MethodGet, c.baseURL+"/"+path, headers, nil, out)
}

func statusOf(err error) int {
	var statusErr *httpclient.StatusError
	if stderrors.As(err, &statusErr) {
		return statusErr.StatusCode
	}
	return 0
}

func isAuthStatus(status int) bool {
	return status == http.StatusUnauthorized || status == http.StatusForbidden
}

// RetrieveRecords runs query as FetchXML against the entity set of entityType.
func (c *Client) RetrieveRecords(ctx context.Context, entityType string, query models.RecordQuery) ([]models.Record, error) {
	if query.Entity == "" {
		query.Entity = entityType
	}
	if query.Entity != entityType {
		return nil, errors.NewInvalidQueryError(fmt.Sprintf("query entity %q does not match %q", query.Entity, entityType))
	}

	fetchXML, err := BuildFetchXML(query)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("Executing FetchXML", map[string]interface{}{
		"entityType": entityType,
		"fetchXml":   fetchXML,
	})

	var resp struct {
		Value []map[string]interface{} `json:"value"`
	}
	path := EntitySetName(entityType) + "?fetchXml=" + url.QueryEscape(fetchXML)
	if err := c.get(ctx, path, &resp); err != nil {
		if isAuthStatus(statusOf(err)) {
			return nil, errors.NewCRMAuthFailedError(err)
		}
		if _, ok := errors.AsStandardError(err); ok {
			return nil, err
		}
		return nil, errors.NewCRMQueryFailedError(entityType, err)
	}

	records := make([]models.Record, 0, len(resp.Value))
	for _, row := range resp.Value {
		records = append(records, toRecord(entityType, row))
	}
	return records, nil
}

// RetrieveRecord fetches one record by reference. Ids must be GUIDs.
func (c *Client) RetrieveRecord(ctx context.Context, ref models.RecordReference) (*models.Record, error) {
	if !crm.ValidIdentifier(ref.LogicalName) {
		return nil, errors.NewInvalidQueryError(fmt.Sprintf("invalid entity name %q", ref.LogicalName))
	}
	id, err := uuid.Parse(ref.ID)
	if err != nil {
		return nil, errors.NewCRMRecordNotFoundError(ref.LogicalName, ref.ID)
	}

	var row map[string]interface{}
	path := fmt.Sprintf("%s(%s)", EntitySetName(ref.LogicalName), id.String())
	if err := c.get(ctx, path, &row); err != nil {
		status := statusOf(err)
		switch {
		case status == http.StatusNotFound:
			return nil, errors.NewCRMRecordNotFoundError(ref.LogicalName, ref.ID)
		case isAuthStatus(status):
			return nil, errors.NewCRMAuthFailedError(err)
		}
		if _, ok := errors.AsStandardError(err); ok {
			return nil, err
		}
		return nil, errors.NewCRMQueryFailedError(ref.LogicalName, err)
	}

	record := toRecord(ref.LogicalName, row)
	return &record, nil
}

// RetrieveFormsOf returns up to max main forms of entityType.
func (c *Client) RetrieveFormsOf(ctx context.Context, entityType string, max int) ([]models.FormDefinition, error) {
	if !crm.ValidIdentifier(entityType) {
		return nil, errors.NewInvalidQueryError(fmt.Sprintf("invalid entity name %q", entityType))
	}
	if max <= 0 {
		return []models.FormDefinition{}, nil
	}

	params := url.Values{}
	params.Set("$select", "formid,name,formxml")
	params.Set("$filter", fmt.Sprintf("objecttypecode eq '%s' and type eq %d", entityType, formTypeMain))
	params.Set("$top", strconv.Itoa(max))

	var resp struct {
		Value []struct {
			FormID  string `json:"formid"`
			Name    string `json:"name"`
			FormXML string `json:"formxml"`
		} `json:"value"`
	}
	if err := c.get(ctx, "systemforms?"+params.Encode(), &resp); err != nil {
		if isAuthStatus(statusOf(err)) {
			return nil, errors.NewCRMAuthFailedError(err)
		}
		if _, ok := errors.AsStandardError(err); ok {
			return nil, err
		}
		return nil, errors.NewCRMFormsFailedError(entityType, err)
	}

	forms := make([]models.FormDefinition, 0, len(resp.Value))
	for _, f := range resp.Value {
		form, err := ParseFormXML(f.FormID, f.Name, entityType, f.FormXML)
		if err != nil {
			return nil, errors.NewCRMFormsFailedError(entityType, err)
		}
		forms = append(forms, form)
		if len(forms) == max {
			break
		}
	}
	return forms, nil
}

func toRecord(entityType string, row map[string]interface{}) models.Record {
	record := models.Record{LogicalName: entityType, Attributes: make(map[string]interface{}, len(row))}
	for k, v := range row {
		if strings.HasPrefix(k, "@odata.") {
			continue
		}
		record.Attributes[k] = v
	}
	if id, ok := row[entityType+"id"].(string); ok {
		record.ID = id
	}
	return record
}
