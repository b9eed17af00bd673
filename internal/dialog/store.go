package dialog

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"crm-dialogs/internal/common/errors"
)

// Frame is one persisted entry of a conversation's dialog stack.
type Frame struct {
	Kind    string          `json:"kind"`
	State   json.RawMessage `json:"state"`
	Waiting bool            `json:"waiting"`
}

// Unlock releases a conversation lock taken with Store.Lock.
type Unlock func(ctx context.Context) error

// Store persists dialog stacks and conversation data.
type Store interface {
	// Lock takes the per-conversation turn lock. It fails with a
	// CONVERSATION_BUSY error while another holder has it.
	Lock(ctx context.Context, conversationID string) (Unlock, error)
	LoadStack(ctx context.Context, conversationID string) ([]Frame, error)
	SaveStack(ctx context.Context, conversationID string, frames []Frame) error
	DeleteStack(ctx context.Context, conversationID string) error
	SetData(ctx context.Context, conversationID, key string, value []byte) error
	GetData(ctx context.Context, conversationID, key string) ([]byte, bool, error)
}

type conversationData struct {
	store          Store
	conversationID string
}

// NewConversationData exposes the data of one conversation in store.
func NewConversationData(store Store, conversationID string) ConversationData {
	return &conversationData{store: store, conversationID: conversationID}
}

func (c *conversationData) Set(ctx context.Context, key string, value interface{}) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	return c.store.SetData(ctx, c.conversationID, key, raw)
}

func (c *conversationData) Get(ctx context.Context, key string, out interface{}) (bool, error) {
	raw, ok, err := c.store.GetData(ctx, c.conversationID, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return true, nil
}

// MemoryStore keeps everything in process memory.
type MemoryStore struct {
	mu     sync.Mutex
	stacks map[string][]Frame
	data   map[string]map[string][]byte
	locked map[string]bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		stacks: make(map[string][]Frame),
		data:   make(map[string]map[string][]byte),
		locked: make(map[string]bool),
	}
}

func (m *MemoryStore) Lock(_ context.Context, conversationID string) (Unlock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.locked[conversationID] {
		return nil, errors.NewConversationBusyError(conversationID)
	}
	m.locked[conversationID] = true
	return func(context.Context) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.locked, conversationID)
		return nil
	}, nil
}

func (m *MemoryStore) LoadStack(_ context.Context, conversationID string) ([]Frame, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	frames := m.stacks[conversationID]
	out := make([]Frame, len(frames))
	copy(out, frames)
	return out, nil
}

func (m *MemoryStore) SaveStack(_ context.Context, conversationID string, frames []Frame) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := make([]Frame, len(frames))
	copy(stored, frames)
	m.stacks[conversationID] = stored
	return nil
}

func (m *MemoryStore) DeleteStack(_ context.Context, conversationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.stacks, conversationID)
	return nil
}

func (m *MemoryStore) SetData(_ context.Context, conversationID, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data[conversationID] == nil {
		m.data[conversationID] = make(map[string][]byte)
	}
	m.data[conversationID][key] = append([]byte(nil), value...)
	return nil
}

func (m *MemoryStore) GetData(_ context.Context, conversationID, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[conversationID][key]
	return v, ok, nil
}

func storeErr(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := errors.AsStandardError(err); ok {
		return err
	}
	return errors.NewConversationStoreError(err)
}
