package alerting

import (
	"context"

	"github.com/rs/zerolog"

	"bondkeeper/internal/logging"
	"bondkeeper/internal/metrics"
)

// Audit statuses recorded for every delivery decision.
const (
	StatusSent         = "sent"
	StatusFailed       = "failed"
	StatusDeduplicated = "deduplicated"
	StatusSkipped      = "skipped"
)

// Deduplicator suppresses notifications that were already delivered.
type Deduplicator interface {
	AlreadySent(ctx context.Context, key string) bool
	Record(ctx context.Context, key string)
	Clear(ctx context.Context, key string)
}

// Auditor persists delivery outcomes.
type Auditor interface {
	AuditAlert(ctx context.Context, note Notification, status string, deliveryErr error) error
}

// Dispatcher 负责把告警送达 notifier，失败只记录日志，不向调用方返回错误。
type Dispatcher struct {
	notifier Notifier
	dedup    Deduplicator
	audit    Auditor
	logger   zerolog.Logger
}

// DispatcherOption customises a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithDeduplicator enables suppression of notes carrying a DedupKey.
func WithDeduplicator(d Deduplicator) DispatcherOption {
	return func(disp *Dispatcher) { disp.dedup = d }
}

// WithAuditor records every delivery decision.
func WithAuditor(a Auditor) DispatcherOption {
	return func(disp *Dispatcher) { disp.audit = a }
}

// NewDispatcher wraps notifier. A nil notifier disables delivery.
func NewDispatcher(notifier Notifier, logger zerolog.Logger, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		notifier: notifier,
		logger:   logging.Component(logger, "dispatcher"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Enabled reports whether a notifier is configured.
func (d *Dispatcher) Enabled() bool {
	return d != nil && d.notifier != nil
}

// Send makes a single delivery attempt. It never fails the caller.
func (d *Dispatcher) Send(ctx context.Context, note Notification) {
	if !d.Enabled() {
		if d != nil {
			d.logger.Info().Str("kind", note.Kind).Str("title", note.Title).Msg("notification skipped (no webhook configured)")
		}
		return
	}

	if note.DedupKey != "" && d.dedup != nil && d.dedup.AlreadySent(ctx, note.DedupKey) {
		metrics.AlertsDeduplicatedTotal.WithLabelValues(note.Kind).Inc()
		d.logger.Info().Str("kind", note.Kind).Str("dedup_key", note.DedupKey).Msg("notification suppressed, already sent")
		d.record(ctx, note, StatusDeduplicated, nil)
		return
	}

	if err := d.notifier.Notify(ctx, note); err != nil {
		metrics.AlertsFailedTotal.WithLabelValues(note.Kind).Inc()
		d.logger.Warn().Err(err).Str("kind", note.Kind).Str("title", note.Title).Msg("notification failed")
		d.record(ctx, note, StatusFailed, err)
		return
	}

	metrics.AlertsSentTotal.WithLabelValues(note.Kind).Inc()
	if note.DedupKey != "" && d.dedup != nil {
		d.dedup.Record(ctx, note.DedupKey)
	}
	d.record(ctx, note, StatusSent, nil)
}

// Reset forgets a dedup key so the notification can fire again.
func (d *Dispatcher) Reset(ctx context.Context, key string) {
	if d == nil || d.dedup == nil || key == "" {
		return
	}
	d.dedup.Clear(ctx, key)
}

func (d *Dispatcher) record(ctx context.Context, note Notification, status string, deliveryErr error) {
	if d.audit == nil {
		return
	}
	if err := d.audit.AuditAlert(ctx, note, status, deliveryErr); err != nil {
		d.logger.Error().Err(err).Str("kind", note.Kind).Msg("failed to persist alert record")
	}
}
