package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/sifan077/TempLogin/internal/app/model"
)

// EventPublisher publishes link lifecycle events to the LINKS stream.
// Delivery failures are logged and never reach the caller.
type EventPublisher struct {
	js     nats.JetStreamContext
	logger *zap.Logger
	now    func() time.Time
}

// NewEventPublisher creates a JetStream backed Notifier.
func NewEventPublisher(js nats.JetStreamContext, logger *zap.Logger) *EventPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventPublisher{js: js, logger: logger, now: time.Now}
}

func (p *EventPublisher) LinkIssued(ctx context.Context, link model.Link) {
	p.publish(ctx, model.LinkIssuedSubject, model.LinkEvent{
		Type:            model.EventLinkIssued,
		LinkID:          link.ID,
		SubjectIdentity: link.SubjectIdentity,
		ExpiresAt:       link.ExpiresAt,
		OccurredAt:      p.now().UTC(),
		Link:            &link,
	})
}

func (p *EventPublisher) LinkExpired(ctx context.Context, link model.Link, reason string) {
	p.publish(ctx, model.LinkExpiredSubject, model.LinkEvent{
		Type:            model.EventLinkExpired,
		LinkID:          link.ID,
		SubjectIdentity: link.SubjectIdentity,
		Reason:          reason,
		ExpiresAt:       link.ExpiresAt,
		OccurredAt:      p.now().UTC(),
	})
}

func (p *EventPublisher) publish(ctx context.Context, subject string, event model.LinkEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		p.logger.Error("failed to marshal link event", zap.String("type", event.Type), zap.Error(err))
		return
	}

	if _, err := p.js.Publish(subject, data, nats.Context(context.WithoutCancel(ctx))); err != nil {
		p.logger.Warn("failed to publish link event",
			zap.String("type", event.Type),
			zap.String("link_id", event.LinkID),
			zap.Error(err),
		)
	}
}

// LogNotifier writes lifecycle events to the log. Used when NATS is not configured.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates a Notifier that only logs.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) LinkIssued(_ context.Context, link model.Link) {
	n.logger.Info(model.EventLinkIssued,
		zap.String("link_id", link.ID),
		zap.String("subject", link.SubjectIdentity),
		zap.Time("expires_at", link.ExpiresAt),
	)
}

func (n *LogNotifier) LinkExpired(_ context.Context, link model.Link, reason string) {
	n.logger.Info(model.EventLinkExpired,
		zap.String("link_id", link.ID),
		zap.String("subject", link.SubjectIdentity),
		zap.String("reason", reason),
	)
}
