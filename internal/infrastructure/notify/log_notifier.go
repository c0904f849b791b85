package notify

import (
	"context"

	"go.uber.org/zap"
)

// LogNotifier is the default Notifier (scheduler.Notifier): it writes
// periodic-task outcomes to the structured log rather than an external
// push provider. Grounded on
// original_source/heureum-platform/notifications/services.py's
// notification-record concept; push delivery (email/SMS/mobile) is out of
// scope per spec.md's Non-goals, so the trivial in-process collaborator is
// the log itself.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier builds a log-backed notifier.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Notify implements scheduler.Notifier.
func (n *LogNotifier) Notify(ctx context.Context, userRef, title, body string) error {
	n.logger.Info("notification",
		zap.String("user_ref", userRef),
		zap.String("title", title),
		zap.String("body", body),
	)
	return nil
}
