// Package notify provides an activity that requests a notification through
// the event bus. Delivery (email, push) is handled by downstream consumers.
package notify

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/dukex/flowstate/pkg/eventbus"
	"github.com/dukex/flowstate/pkg/events"
	"github.com/dukex/flowstate/pkg/models"
	"github.com/dukex/flowstate/pkg/protocol"
)

var ErrNotifySubjectMissing = errors.New("notify activity requires a subject")

// NewNotifyActivityFactory creates the factory. The bus is injected once at
// registry construction so every created activity publishes through it.
func NewNotifyActivityFactory(bus eventbus.EventBus) *NotifyActivityFactory {
	return &NotifyActivityFactory{bus: bus}
}

type NotifyActivityFactory struct {
	bus eventbus.EventBus
}

func (*NotifyActivityFactory) ID() string {
	return "notify"
}

func (f *NotifyActivityFactory) Create(config map[string]any) (protocol.Activity, error) {
	return NewNotifyActivity(f.bus, config)
}

type NotifyActivity struct {
	bus     eventbus.EventBus
	subject string
	body    string
	userIDs []string
}

func NewNotifyActivity(bus eventbus.EventBus, config map[string]any) (*NotifyActivity, error) {
	subject, _ := config["subject"].(string)
	if subject == "" {
		return nil, ErrNotifySubjectMissing
	}

	body, _ := config["body"].(string)

	var userIDs []string

	if raw, ok := config["user_ids"].([]any); ok {
		for _, v := range raw {
			if id, ok := v.(string); ok {
				userIDs = append(userIDs, id)
			}
		}
	}

	return &NotifyActivity{bus: bus, subject: subject, body: body, userIDs: userIDs}, nil
}

func (a *NotifyActivity) Execute(ctx context.Context, instance *models.WorkflowInstance, logger *slog.Logger) (map[string]any, error) {
	event := events.NotificationRequested{
		BaseEvent: events.BaseEvent{
			ID:         a.bus.GenerateID(),
			Type:       events.NotificationRequestedEvent,
			Timestamp:  time.Now().UTC(),
			WorkflowID: instance.ID,
		},
		Subject: a.subject,
		Body:    a.body,
		UserIDs: a.userIDs,
		Payload: map[string]any{
			"current_state": instance.CurrentState,
			"subject_type":  instance.SubjectType,
			"subject_id":    instance.SubjectID,
		},
	}

	if err := a.bus.Publish(ctx, instance.ID, event); err != nil {
		return nil, err
	}

	logger.InfoContext(ctx, "notification requested",
		"activity", "notify", "workflow_id", instance.ID, "subject", a.subject)

	return map[string]any{"subject": a.subject, "recipients": len(a.userIDs)}, nil
}

// Compensate is a no-op: a requested notification cannot be recalled once
// published, and duplicate or stale notifications are acceptable downstream.
func (a *NotifyActivity) Compensate(_ context.Context, _ *models.WorkflowInstance, _ map[string]any, _ *slog.Logger) error {
	return nil
}
