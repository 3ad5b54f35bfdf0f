package notifier

import (
	"context"
	"log/slog"
)

// LogNotifier writes pushes to the structured log instead of sending them.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return &DeliveryError{Reason: "context done", Err: err}
	}
	n.logger.InfoContext(ctx, "push notification",
		"subject_id", msg.SubjectID,
		"title", msg.Title,
		"body", msg.Body,
		"data", msg.Data,
	)
	return nil
}
