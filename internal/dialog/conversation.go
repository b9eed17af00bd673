package dialog

import (
	"context"

	"crm-dialogs/internal/models"
)

// KeyRecordReference holds the CRM record most recently shown in a conversation.
const KeyRecordReference = "entityReference"

// StoreRecordReference overwrites the conversation's current record reference.
func StoreRecordReference(ctx context.Context, data ConversationData, ref models.RecordReference) error {
	return data.Set(ctx, KeyRecordReference, ref)
}

func LoadRecordReference(ctx context.Context, data ConversationData) (models.RecordReference, bool, error) {
	var ref models.RecordReference
	ok, err := data.Get(ctx, KeyRecordReference, &ref)
	return ref, ok, err
}
