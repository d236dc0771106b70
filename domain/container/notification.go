package container

import (
	"context"
	"log/slog"
)

// Notification is the abstract transport for user-facing alerts —
// spec.md §1's single-call collaborator: "notify(title, body)". No
// concrete transport is named by the spec; see DESIGN.md for why a
// logging-backed default is used instead of wiring an email provider.
type Notification interface {
	Notify(ctx context.Context, title, body string) error
}

// LogNotification is the default Notification: it records the
// notification as a structured log line rather than delivering it
// anywhere, the same degrade-to-log behavior the teacher uses for
// collaborators that have no dependency wired in local/test environments.
type LogNotification struct {
	log *slog.Logger
}

// NewLogNotification builds a LogNotification.
func NewLogNotification(log *slog.Logger) *LogNotification {
	return &LogNotification{log: log.With("component", "notification")}
}

func (n *LogNotification) Notify(ctx context.Context, title, body string) error {
	n.log.Info("notification", "title", title, "body", body)
	return nil
}
