// Package domain defines the training alert model shared by the rule engine, the stores and the API.
package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrAlertNotFound is returned when an alert cannot be located for the tenant.
	ErrAlertNotFound = errors.New("alert not found")
	// ErrInvalidSeverity indicates a severity outside low|medium|high.
	ErrInvalidSeverity = errors.New("invalid severity")
	// ErrUnknownAlertType indicates an alert type the engine does not evaluate.
	ErrUnknownAlertType = errors.New("unknown alert type")
	// ErrInvalidCursor is returned when a list cursor cannot be decoded.
	ErrInvalidCursor = errors.New("invalid cursor")
)

// AlertType identifies the rule that produced an alert.
type AlertType string

const (
	AlertLowReadiness        AlertType = "low_readiness"
	AlertVolumePlateau       AlertType = "volume_plateau"
	AlertRecoveryLow         AlertType = "recovery_low"
	AlertOvertrainingRisk    AlertType = "overtraining_risk"
	AlertFatigueAccumulation AlertType = "fatigue_accumulation"
	AlertDeloadSuggested     AlertType = "deload_suggested"
)

// AlertTypes lists every alert type in evaluation order.
var AlertTypes = []AlertType{
	AlertLowReadiness,
	AlertVolumePlateau,
	AlertRecoveryLow,
	AlertOvertrainingRisk,
	AlertFatigueAccumulation,
	AlertDeloadSuggested,
}

// Valid reports whether t is one of the known alert types.
func (t AlertType) Valid() bool {
	for _, known := range AlertTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Severity ranks how urgently a coach should act on an alert.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Rank orders severities high > medium > low. Unknown severities rank 0.
func (s Severity) Rank() int {
	switch s {
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// ParseSeverity validates a severity string. The empty string is accepted and means "any".
func ParseSeverity(raw string) (Severity, error) {
	s := Severity(raw)
	if s == "" || s.Rank() > 0 {
		return s, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidSeverity, raw)
}

// AlertDraft is a rule's finding before deduplication and persistence.
type AlertDraft struct {
	Type     AlertType
	Severity Severity
	Title    string
	Message  string
	Data     Payload
}

// Alert is a persisted training alert.
type Alert struct {
	ID         string
	TenantID   string
	ClientID   string
	ClientName string
	Type       AlertType
	Severity   Severity
	Title      string
	Message    string
	Data       Payload
	CreatedAt  time.Time
	IsResolved bool
	ResolvedAt *time.Time
}

// NewAlert materialises a draft for the given client.
func NewAlert(id, tenantID, clientID string, draft AlertDraft, createdAt time.Time) Alert {
	return Alert{
		ID:        id,
		TenantID:  tenantID,
		ClientID:  clientID,
		Type:      draft.Type,
		Severity:  draft.Severity,
		Title:     draft.Title,
		Message:   draft.Message,
		Data:      draft.Data,
		CreatedAt: createdAt.UTC(),
	}
}

const (
	// DefaultListLimit is applied when a list request does not specify a limit.
	DefaultListLimit = 50
	// MaxListLimit caps list requests.
	MaxListLimit = 200
)

// ListFilter narrows an alert listing.
type ListFilter struct {
	ClientID  string
	Severity  Severity
	Dismissed bool
	Limit     int
	Cursor    *ListCursor
}

// Normalize applies the default and maximum limits.
func (f ListFilter) Normalize() ListFilter {
	if f.Limit <= 0 {
		f.Limit = DefaultListLimit
	}
	if f.Limit > MaxListLimit {
		f.Limit = MaxListLimit
	}
	return f
}

// ListCursor models the keyset pagination position: the last alert returned.
type ListCursor struct {
	SeverityRank int
	CreatedAt    time.Time
	ID           string
}

// CursorAfter builds the cursor that continues after a.
func CursorAfter(a Alert) *ListCursor {
	return &ListCursor{SeverityRank: a.Severity.Rank(), CreatedAt: a.CreatedAt, ID: a.ID}
}
