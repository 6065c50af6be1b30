package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/sifan077/TempLogin/internal/app/model"
	"github.com/sifan077/TempLogin/internal/app/repository"
)

// AccessLog records presentation attempts. Implementations may be asynchronous.
type AccessLog interface {
	Record(ctx context.Context, entry model.AccessLogEntry) error
}

// RepositoryAccessLog writes entries straight to the database.
type RepositoryAccessLog struct {
	repo repository.AccessLogRepository
}

// NewRepositoryAccessLog creates a synchronous access log sink.
func NewRepositoryAccessLog(repo repository.AccessLogRepository) *RepositoryAccessLog {
	return &RepositoryAccessLog{repo: repo}
}

func (l *RepositoryAccessLog) Record(ctx context.Context, entry model.AccessLogEntry) error {
	return l.repo.Create(ctx, &entry)
}

// JetStreamAccessLog publishes entries to the ACCESS stream; AccessLogConsumer persists them.
type JetStreamAccessLog struct {
	js nats.JetStreamContext
}

// NewJetStreamAccessLog creates an access log sink backed by JetStream.
func NewJetStreamAccessLog(js nats.JetStreamContext) *JetStreamAccessLog {
	return &JetStreamAccessLog{js: js}
}

// Record publishes the entry. The entry ID doubles as the message ID so JetStream
// drops duplicates inside its dedupe window.
func (l *JetStreamAccessLog) Record(ctx context.Context, entry model.AccessLogEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal access log entry: %w", err)
	}

	if _, err := l.js.Publish(model.AccessStreamSubject, data, nats.MsgId(entry.ID), nats.Context(ctx)); err != nil {
		return fmt.Errorf("publish access log entry: %w", err)
	}
	return nil
}
