package outbox

import "example.com/trainingalerts/internal/events"

const alertCreatedSchema = `{
  "type": "object",
  "title": "TrainingAlertCreated",
  "properties": {
    "alert_id": {"type": "string"},
    "tenant_id": {"type": "string"},
    "client_id": {"type": "string"},
    "alert_type": {"type": "string", "enum": ["low_readiness", "volume_plateau", "recovery_low", "overtraining_risk", "fatigue_accumulation", "deload_suggested"]},
    "severity": {"type": "string", "enum": ["low", "medium", "high"]},
    "title": {"type": "string"},
    "message": {"type": "string"},
    "data": {"type": ["object", "null"]},
    "created_at": {"type": "string", "format": "date-time"}
  },
  "required": ["alert_id", "tenant_id", "client_id", "alert_type", "severity", "title", "message", "created_at"],
  "additionalProperties": false
}`

const alertResolvedSchema = `{
  "type": "object",
  "title": "TrainingAlertResolved",
  "properties": {
    "alert_id": {"type": "string"},
    "tenant_id": {"type": "string"},
    "client_id": {"type": "string"},
    "alert_type": {"type": "string"},
    "resolved_at": {"type": "string", "format": "date-time"}
  },
  "required": ["alert_id", "tenant_id", "client_id", "alert_type", "resolved_at"],
  "additionalProperties": false
}`

// schemaCatalog maps event type to the JSON schema registered for its subject.
var schemaCatalog = map[string]string{
	events.TrainingAlertCreated:  alertCreatedSchema,
	events.TrainingAlertResolved: alertResolvedSchema,
}
