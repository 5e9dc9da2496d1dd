// Package notifier defines the operational alerting port (interface).
package notifier

import (
	"context"
	"errors"
)

// ErrNotConfigured is returned when a notifier has no destination configured.
var ErrNotConfigured = errors.New("notifier: not configured")

// Notification is the payload sent through a Notifier.
type Notification struct {
	Title   string `json:"title"`
	Message string `json:"message"`
	Level   string `json:"level"`  // "info", "warning", "error"
	Source  string `json:"source"` // e.g. "reconcile.completed", "gateway.disconnected"
}

// Notifier is the port interface for sending operational alerts.
type Notifier interface {
	// Name returns the unique identifier for this notifier.
	Name() string

	// Send delivers a notification.
	Send(ctx context.Context, notification Notification) error
}
