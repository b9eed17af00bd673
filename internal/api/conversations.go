package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"crm-dialogs/internal/common/errors"
	"crm-dialogs/internal/common/validation"
	"crm-dialogs/internal/dialog"
	searchcontact "crm-dialogs/internal/dialogs/search-contact"
)

const maxBodyBytes = 64 << 10

var (
	beginSchema = validation.MustCompile(`{
		"type": "object",
		"properties": {
			"dialog": {"type": "string", "minLength": 1, "maxLength": 100},
			"accountName": {"type": "string", "maxLength": 160}
		},
		"additionalProperties": false
	}`)

	messageSchema = validation.MustCompile(`{
		"type": "object",
		"required": ["text"],
		"properties": {
			"text": {"type": "string", "maxLength": 4000}
		},
		"additionalProperties": false
	}`)
)

type BeginRequest struct {
	Dialog      string `json:"dialog,omitempty"`
	AccountName string `json:"accountName,omitempty"`
}

type MessageRequest struct {
	Text string `json:"text"`
}

// Begin starts a dialog for the conversation, replacing any active one.
func (h *Handler) Begin(w http.ResponseWriter, r *http.Request) {
	var req BeginRequest
	if err := decodeBody(r, beginSchema, true, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if req.Dialog == "" {
		req.Dialog = h.defaultDialog
	}

	start := time.Now()
	res, err := h.runtime.BeginKind(r.Context(), chi.URLParam(r, "conversationId"), req.Dialog, map[string]string{
		searchcontact.ArgAccountName: req.AccountName,
	})
	h.respond(w, r, res, err, start)
}

// Message delivers user text to the conversation's active dialog.
func (h *Handler) Message(w http.ResponseWriter, r *http.Request) {
	var req MessageRequest
	if err := decodeBody(r, messageSchema, false, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	start := time.Now()
	res, err := h.runtime.Deliver(r.Context(), chi.URLParam(r, "conversationId"), req.Text)
	h.respond(w, r, res, err, start)
}

func (h *Handler) respond(w http.ResponseWriter, r *http.Request, res *dialog.TurnResult, err error, start time.Time) {
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.obs.RecordTurn(r.Context(), res.Dialog, string(res.Status), time.Since(start))
	JSON(w, http.StatusOK, res)
}

// decodeBody validates the JSON body against schema and decodes it into out.
// An empty body counts as {} when allowEmpty is set.
func decodeBody(r *http.Request, schema *validation.Schema, allowEmpty bool, out interface{}) error {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return errors.NewInputParsingError(err)
	}
	if len(raw) > maxBodyBytes {
		return errors.NewInputValidationError(fmt.Sprintf("body exceeds %d bytes", maxBodyBytes))
	}
	if len(raw) == 0 && allowEmpty {
		raw = []byte("{}")
	}

	var document interface{}
	if err := json.Unmarshal(raw, &document); err != nil {
		return errors.NewInputParsingError(err)
	}
	if result := schema.Validate(document); !result.Valid {
		return errors.NewInputValidationError(fmt.Sprintf("%v", result.GetErrorMessages()))
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return errors.NewInputParsingError(err)
	}
	return nil
}
