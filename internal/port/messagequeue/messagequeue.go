// Package messagequeue defines the message queue port (interface).
package messagequeue

import "context"

// Handler processes a message received from the queue.
type Handler func(ctx context.Context, subject string, data []byte) error

// Queue is the port interface for publishing and subscribing to messages.
type Queue interface {
	// Publish sends a message to the given subject.
	Publish(ctx context.Context, subject string, data []byte) error

	// Subscribe registers a handler for messages on the given subject.
	// The returned function cancels the subscription.
	Subscribe(ctx context.Context, subject string, handler Handler) (cancel func(), err error)

	// Drain gracefully drains all subscriptions before closing.
	Drain() error

	// Close shuts down the queue connection immediately.
	Close() error
}

// Subject constants for the mirror audit and control subjects.
const (
	// SubjectRoleGranted carries one RoleChangePayload per granted role.
	SubjectRoleGranted = "mirror.role.granted"

	// SubjectRoleRevoked carries one RoleChangePayload per revoked role.
	SubjectRoleRevoked = "mirror.role.revoked"

	// SubjectReconcileDone carries a ReconcileDonePayload after each full pass.
	SubjectReconcileDone = "mirror.reconcile.done"

	// SubjectReconcileRequest triggers an on-demand reconciliation pass.
	// Payload is a ReconcileRequestPayload; an empty guild list means all.
	SubjectReconcileRequest = "mirror.reconcile.request"
)
