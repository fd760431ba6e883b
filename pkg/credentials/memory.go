package credentials

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/joe/netmedia/pkg/filesystem"
)

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu    sync.RWMutex
	byID  map[string]Credentials
	order []string
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byID: make(map[string]Credentials)}
}

// Save inserts or replaces creds, assigning an ID when it has none.
func (m *MemoryStore) Save(_ context.Context, creds *Credentials) error {
	if creds.ID == "" {
		creds.ID = uuid.NewString()
	}

	normalize(creds)

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byID[creds.ID]; !ok {
		m.order = append(m.order, creds.ID)
	}

	m.byID[creds.ID] = *creds

	return nil
}

// Delete removes the credentials with id, if present.
func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byID[id]; !ok {
		return nil
	}

	delete(m.byID, id)

	for i, existing := range m.order {
		if existing == id {
			m.order = append(m.order[:i], m.order[i+1:]...)

			break
		}
	}

	return nil
}

// List returns all credentials in insertion order.
func (m *MemoryStore) List(_ context.Context) ([]Credentials, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Credentials, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.byID[id])
	}

	return out, nil
}

// ByID implements Lookup.
func (m *MemoryStore) ByID(_ context.Context, id string) (*Credentials, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	creds, ok := m.byID[id]
	if !ok {
		return nil, nil //nolint:nilnil // Not found is nil, nil by contract
	}

	return &creds, nil
}

// ByTypeServerAndPort implements Lookup.
func (m *MemoryStore) ByTypeServerAndPort(
	_ context.Context,
	protocol filesystem.Protocol,
	host string,
	port int,
) (*Credentials, error) {
	return m.first(func(c *Credentials) bool {
		return c.Protocol == protocol && strings.EqualFold(c.Host, host) && c.Port == port
	}), nil
}

// ByServerAndShare implements Lookup.
func (m *MemoryStore) ByServerAndShare(_ context.Context, host, share string) (*Credentials, error) {
	share = strings.Trim(share, "/")

	return m.first(func(c *Credentials) bool {
		return c.Protocol == filesystem.ProtocolSMB && strings.EqualFold(c.Host, host) && strings.EqualFold(c.Share, share)
	}), nil
}

// ByServer implements Lookup.
func (m *MemoryStore) ByServer(_ context.Context, host string) ([]Credentials, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Credentials

	for _, id := range m.order {
		if creds := m.byID[id]; strings.EqualFold(creds.Host, host) {
			out = append(out, creds)
		}
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Protocol < out[j].Protocol })

	return out, nil
}

func (m *MemoryStore) first(match func(*Credentials) bool) *Credentials {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, id := range m.order {
		creds := m.byID[id]
		if match(&creds) {
			return &creds
		}
	}

	return nil
}

var _ Store = (*MemoryStore)(nil)
