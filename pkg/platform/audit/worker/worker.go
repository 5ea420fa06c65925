package worker

import (
	"context"
	"log/slog"

	audit "willvault/pkg/platform/audit"
)

// Handler processes one staged event taken off the inbox.
type Handler func(ctx context.Context, staged audit.Staged) error

// Worker consumes audit events from a channel and hands them to a handler.
// Handler failures are logged and do not stop the loop; audit delivery must
// never take the service down.
type Worker struct {
	handle Handler
	inbox  <-chan audit.Staged
	logger *slog.Logger
}

func NewWorker(handle Handler, inbox <-chan audit.Staged, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{handle: handle, inbox: inbox, logger: logger}
}

// Run processes events until ctx is cancelled or the inbox is closed. A
// closed inbox is drained completely before Run returns nil.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case staged, ok := <-w.inbox:
			if !ok {
				return nil
			}
			if err := w.handle(ctx, staged); err != nil {
				w.logger.ErrorContext(ctx, "audit event dropped",
					"action", staged.Event.Action,
					"will_id", staged.Event.WillID.String(),
					"request_id", staged.Event.RequestID,
					"error", err,
				)
			}
		}
	}
}
