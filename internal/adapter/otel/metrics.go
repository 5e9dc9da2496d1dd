package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "guildmirror"

// Metrics holds all GuildMirror metric instruments.
type Metrics struct {
	RolesGranted      metric.Int64Counter
	RolesRevoked      metric.Int64Counter
	SyncFailures      metric.Int64Counter
	DeltasProcessed   metric.Int64Counter
	ReconcileRuns     metric.Int64Counter
	ReconcileSkipped  metric.Int64Counter
	ReconcileDuration metric.Float64Histogram
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.RolesGranted, err = meter.Int64Counter("guildmirror.roles.granted",
		metric.WithDescription("Number of target roles granted"))
	if err != nil {
		return nil, err
	}

	m.RolesRevoked, err = meter.Int64Counter("guildmirror.roles.revoked",
		metric.WithDescription("Number of target roles revoked"))
	if err != nil {
		return nil, err
	}

	m.SyncFailures, err = meter.Int64Counter("guildmirror.sync.failures",
		metric.WithDescription("Number of failed grant/revoke calls"))
	if err != nil {
		return nil, err
	}

	m.DeltasProcessed, err = meter.Int64Counter("guildmirror.deltas.processed",
		metric.WithDescription("Number of member role deltas processed"))
	if err != nil {
		return nil, err
	}

	m.ReconcileRuns, err = meter.Int64Counter("guildmirror.reconcile.runs",
		metric.WithDescription("Number of reconciliation passes"))
	if err != nil {
		return nil, err
	}

	m.ReconcileSkipped, err = meter.Int64Counter("guildmirror.reconcile.skipped",
		metric.WithDescription("Number of mappings skipped during reconciliation"))
	if err != nil {
		return nil, err
	}

	m.ReconcileDuration, err = meter.Float64Histogram("guildmirror.reconcile.duration_seconds",
		metric.WithDescription("Reconciliation pass duration in seconds"))
	if err != nil {
		return nil, err
	}

	return m, nil
}
