package consumer

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"

	"example.com/trainingalerts/internal/domain"
	"example.com/trainingalerts/internal/events"
	"example.com/trainingalerts/internal/observability"
)

// Checker runs every alert rule for one client.
type Checker interface {
	RunAllChecks(ctx context.Context, tenantID, clientID string) ([]domain.Alert, error)
}

// CheckTriggerHandler runs the alert checks for a client whenever a check-in is submitted.
// Other event types are acknowledged without work.
type CheckTriggerHandler struct {
	checker Checker
	logger  logrus.FieldLogger
}

// NewCheckTriggerHandler constructs a CheckTriggerHandler. A nil logger falls back to the standard logger.
func NewCheckTriggerHandler(checker Checker, logger logrus.FieldLogger) *CheckTriggerHandler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &CheckTriggerHandler{checker: checker, logger: observability.Component(logger, "check-trigger")}
}

// Handle decodes a checkin.submitted payload and evaluates the client's rules.
// Malformed payloads are dropped; persistence failures are returned so the record is not committed.
func (h *CheckTriggerHandler) Handle(ctx context.Context, msg Message) error {
	if msg.EventType != events.CheckinSubmitted {
		return nil
	}

	var evt events.CheckinSubmittedEvent
	if err := json.Unmarshal(msg.Payload, &evt); err != nil {
		h.logger.WithError(err).WithField("offset", msg.Offset).Warn("dropping malformed checkin event")
		triggeredChecksCounter.WithLabelValues("malformed").Inc()
		return nil
	}
	if evt.TenantID == "" {
		evt.TenantID = msg.TenantID
	}
	if evt.TenantID == "" || evt.ClientID == "" {
		h.logger.WithField("offset", msg.Offset).Warn("dropping checkin event without tenant or client")
		triggeredChecksCounter.WithLabelValues("malformed").Inc()
		return nil
	}

	created, err := h.checker.RunAllChecks(ctx, evt.TenantID, evt.ClientID)
	if err != nil {
		triggeredChecksCounter.WithLabelValues("error").Inc()
		return fmt.Errorf("checks for client %s: %w", evt.ClientID, err)
	}

	triggeredChecksCounter.WithLabelValues("ok").Inc()
	if len(created) > 0 {
		h.logger.WithFields(logrus.Fields{
			"tenant_id": evt.TenantID,
			"client_id": evt.ClientID,
			"created":   len(created),
		}).Info("alerts raised from checkin")
	}
	return nil
}
