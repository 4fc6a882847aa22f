package log_activity

import (
	"context"
	"log/slog"

	"github.com/dukex/flowstate/pkg/models"
	"github.com/dukex/flowstate/pkg/protocol"
)

func NewLogActivityFactory() *LogActivityFactory {
	return &LogActivityFactory{}
}

type LogActivityFactory struct {
}

func (*LogActivityFactory) ID() string {
	return "log"
}

func (f *LogActivityFactory) Create(config map[string]any) (protocol.Activity, error) {
	if config == nil {
		config = map[string]any{}
	}

	return NewLogActivity(config), nil
}

// LogActivity writes a structured log line when a state is entered or
// exited. It has no external side effects, so compensation is a no-op.
type LogActivity struct {
	message string
	level   string
}

func NewLogActivity(config map[string]any) *LogActivity {
	message, _ := config["message"].(string)
	level, _ := config["level"].(string)

	if level == "" {
		level = "info"
	}

	return &LogActivity{message: message, level: level}
}

func (a *LogActivity) Execute(ctx context.Context, instance *models.WorkflowInstance, logger *slog.Logger) (map[string]any, error) {
	logger = logger.With("activity", "log", "workflow_id", instance.ID, "state", instance.CurrentState)

	switch a.level {
	case "debug":
		logger.DebugContext(ctx, a.message)
	case "warn", "warning":
		logger.WarnContext(ctx, a.message)
	case "error":
		logger.ErrorContext(ctx, a.message)
	default:
		logger.InfoContext(ctx, a.message)
	}

	return map[string]any{"message": a.message, "level": a.level}, nil
}

func (a *LogActivity) Compensate(_ context.Context, _ *models.WorkflowInstance, _ map[string]any, _ *slog.Logger) error {
	return nil
}
