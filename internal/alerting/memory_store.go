package alerting

import (
	"context"
	"sort"
	"sync"
	"time"

	"example.com/trainingalerts/internal/domain"
)

// MemoryStore is a Store kept in process memory. It backs tests and dry runs of the engine.
type MemoryStore struct {
	mu      sync.Mutex
	alerts  []domain.Alert
	names   map[string]string
	nowFunc func() time.Time
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		names:   make(map[string]string),
		nowFunc: func() time.Time { return time.Now().UTC() },
	}
}

// SetClientName records the display name joined into listed alerts.
func (m *MemoryStore) SetClientName(tenantID, clientID, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.names[tenantID+"|"+clientID] = name
}

// Alerts returns a copy of every stored alert in insertion order.
func (m *MemoryStore) Alerts() []domain.Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Alert, len(m.alerts))
	copy(out, m.alerts)
	return out
}

// CreateIfAbsent implements Store.
func (m *MemoryStore) CreateIfAbsent(_ context.Context, alert domain.Alert, since time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.alerts {
		if existing.TenantID == alert.TenantID &&
			existing.ClientID == alert.ClientID &&
			existing.Type == alert.Type &&
			!existing.IsResolved &&
			!existing.CreatedAt.Before(since) {
			return false, nil
		}
	}
	m.alerts = append(m.alerts, alert)
	return true, nil
}

// List implements Store.
func (m *MemoryStore) List(_ context.Context, tenantID string, filter domain.ListFilter) ([]domain.Alert, *domain.ListCursor, error) {
	filter = filter.Normalize()

	m.mu.Lock()
	matched := make([]domain.Alert, 0)
	for _, a := range m.alerts {
		if a.TenantID != tenantID || a.IsResolved != filter.Dismissed {
			continue
		}
		if filter.ClientID != "" && a.ClientID != filter.ClientID {
			continue
		}
		if filter.Severity != "" && a.Severity != filter.Severity {
			continue
		}
		a.ClientName = m.names[a.TenantID+"|"+a.ClientID]
		matched = append(matched, a)
	}
	m.mu.Unlock()

	sort.Slice(matched, func(i, j int) bool { return listsBefore(matched[i], matched[j]) })

	page := make([]domain.Alert, 0, filter.Limit)
	for _, a := range matched {
		if filter.Cursor != nil && !afterCursor(a, filter.Cursor) {
			continue
		}
		page = append(page, a)
		if len(page) == filter.Limit {
			break
		}
	}

	var next *domain.ListCursor
	if len(page) == filter.Limit {
		next = domain.CursorAfter(page[len(page)-1])
	}
	return page, next, nil
}

// DismissOne implements Store.
func (m *MemoryStore) DismissOne(_ context.Context, tenantID, alertID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.alerts {
		if m.alerts[i].ID == alertID && m.alerts[i].TenantID == tenantID {
			m.resolve(i)
			return true, nil
		}
	}
	return false, nil
}

// DismissAllForClient implements Store.
func (m *MemoryStore) DismissAllForClient(_ context.Context, tenantID, clientID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var changed int64
	for i := range m.alerts {
		a := m.alerts[i]
		if a.TenantID == tenantID && a.ClientID == clientID && !a.IsResolved {
			m.resolve(i)
			changed++
		}
	}
	return changed, nil
}

func (m *MemoryStore) resolve(i int) {
	if m.alerts[i].IsResolved {
		return
	}
	now := m.nowFunc()
	m.alerts[i].IsResolved = true
	m.alerts[i].ResolvedAt = &now
}

// listsBefore orders by severity rank, then newest first, then id descending.
func listsBefore(a, b domain.Alert) bool {
	if ra, rb := a.Severity.Rank(), b.Severity.Rank(); ra != rb {
		return ra > rb
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID > b.ID
}

func afterCursor(a domain.Alert, c *domain.ListCursor) bool {
	return listsBefore(domain.Alert{Severity: severityForRank(c.SeverityRank), CreatedAt: c.CreatedAt, ID: c.ID}, a)
}

func severityForRank(rank int) domain.Severity {
	switch rank {
	case 3:
		return domain.SeverityHigh
	case 2:
		return domain.SeverityMedium
	case 1:
		return domain.SeverityLow
	default:
		return ""
	}
}
