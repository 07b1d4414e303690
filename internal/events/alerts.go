// Package events defines the event payloads the alert service publishes and consumes.
package events

import (
	"encoding/json"
	"time"
)

// Event types.
const (
	TrainingAlertCreated  = "training_alert.created"
	TrainingAlertResolved = "training_alert.resolved"
	CheckinSubmitted      = "checkin.submitted"
)

// Topics.
const (
	TrainingAlertsTopic = "training_alerts"
	CheckinsTopic       = "checkin_events"
)

// AlertCreated is emitted when a rule fires and a new alert is persisted.
type AlertCreated struct {
	AlertID   string          `json:"alert_id"`
	TenantID  string          `json:"tenant_id"`
	ClientID  string          `json:"client_id"`
	AlertType string          `json:"alert_type"`
	Severity  string          `json:"severity"`
	Title     string          `json:"title"`
	Message   string          `json:"message"`
	Data      json.RawMessage `json:"data,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// AlertResolved is emitted when a coach dismisses an alert.
type AlertResolved struct {
	AlertID    string    `json:"alert_id"`
	TenantID   string    `json:"tenant_id"`
	ClientID   string    `json:"client_id"`
	AlertType  string    `json:"alert_type"`
	ResolvedAt time.Time `json:"resolved_at"`
}

// CheckinSubmittedEvent is published by the check-in service after a client submits a daily check-in.
type CheckinSubmittedEvent struct {
	TenantID    string    `json:"tenant_id"`
	ClientID    string    `json:"client_id"`
	CheckinDate string    `json:"checkin_date"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// Route describes where an outbound event type is published.
type Route struct {
	Topic         string
	SchemaSubject string
}

// Catalog maps each outbound event type to its topic and schema subject.
var Catalog = map[string]Route{
	TrainingAlertCreated: {
		Topic:         TrainingAlertsTopic,
		SchemaSubject: TrainingAlertsTopic + "-created-value",
	},
	TrainingAlertResolved: {
		Topic:         TrainingAlertsTopic,
		SchemaSubject: TrainingAlertsTopic + "-resolved-value",
	},
}
