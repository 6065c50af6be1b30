package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/sifan077/TempLogin/internal/app/model"
	"github.com/sifan077/TempLogin/internal/app/repository"
	"github.com/sifan077/TempLogin/internal/infra/postgres"
	"github.com/sifan077/TempLogin/internal/infra/sqlite"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := sqlite.NewGorm(sqlite.MemoryDSN(uuid.NewString()))
	require.NoError(t, err)
	require.NoError(t, postgres.AutoMigrate(context.Background(), db, &model.Link{}, &model.AccessLogEntry{}))

	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

type mockLinkRepository struct {
	createFn       func(ctx context.Context, link *model.Link) error
	getByIDFn      func(ctx context.Context, id string) (*model.Link, error)
	getByTokenFn   func(ctx context.Context, token string) (*model.Link, error)
	tryConsumeFn   func(ctx context.Context, token string, now time.Time) (repository.ConsumeResult, error)
	setActiveFn    func(ctx context.Context, id string, active bool) error
	extendExpiryFn func(ctx context.Context, id string, newExpiresAt time.Time) error
	deleteFn       func(ctx context.Context, id string) error
	listExpiredFn  func(ctx context.Context, now time.Time, batchSize int, fn func([]model.Link) error) error
	markTornDownFn func(ctx context.Context, id string, at time.Time) (bool, error)
	listFn         func(ctx context.Context, filter repository.ListFilter) ([]model.Link, error)
}

func (m *mockLinkRepository) Create(ctx context.Context, link *model.Link) error {
	if m.createFn != nil {
		return m.createFn(ctx, link)
	}
	return nil
}

func (m *mockLinkRepository) GetByID(ctx context.Context, id string) (*model.Link, error) {
	if m.getByIDFn != nil {
		return m.getByIDFn(ctx, id)
	}
	return nil, repository.ErrLinkNotFound
}

func (m *mockLinkRepository) GetByToken(ctx context.Context, token string) (*model.Link, error) {
	if m.getByTokenFn != nil {
		return m.getByTokenFn(ctx, token)
	}
	return nil, repository.ErrLinkNotFound
}

func (m *mockLinkRepository) TryConsume(ctx context.Context, token string, now time.Time) (repository.ConsumeResult, error) {
	if m.tryConsumeFn != nil {
		return m.tryConsumeFn(ctx, token, now)
	}
	return repository.ConsumeResult{}, repository.ErrLinkNotFound
}

func (m *mockLinkRepository) SetActive(ctx context.Context, id string, active bool) error {
	if m.setActiveFn != nil {
		return m.setActiveFn(ctx, id, active)
	}
	return nil
}

func (m *mockLinkRepository) ExtendExpiry(ctx context.Context, id string, newExpiresAt time.Time) error {
	if m.extendExpiryFn != nil {
		return m.extendExpiryFn(ctx, id, newExpiresAt)
	}
	return nil
}

func (m *mockLinkRepository) Delete(ctx context.Context, id string) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, id)
	}
	return nil
}

func (m *mockLinkRepository) ListExpiredBefore(ctx context.Context, now time.Time, batchSize int, fn func([]model.Link) error) error {
	if m.listExpiredFn != nil {
		return m.listExpiredFn(ctx, now, batchSize, fn)
	}
	return nil
}

func (m *mockLinkRepository) MarkTornDown(ctx context.Context, id string, at time.Time) (bool, error) {
	if m.markTornDownFn != nil {
		return m.markTornDownFn(ctx, id, at)
	}
	return true, nil
}

func (m *mockLinkRepository) List(ctx context.Context, filter repository.ListFilter) ([]model.Link, error) {
	if m.listFn != nil {
		return m.listFn(ctx, filter)
	}
	return nil, nil
}

type stubCodec struct {
	tokens []string
	next   int
	err    error
}

func (c *stubCodec) Generate() (string, error) {
	if c.err != nil {
		return "", c.err
	}
	tok := c.tokens[c.next%len(c.tokens)]
	c.next++
	return tok, nil
}

func (c *stubCodec) Validate(raw string) (string, error) {
	return raw, nil
}

type notification struct {
	kind   string
	linkID string
	reason string
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notification
}

func (n *recordingNotifier) LinkIssued(_ context.Context, link model.Link) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, notification{kind: model.EventLinkIssued, linkID: link.ID})
}

func (n *recordingNotifier) LinkExpired(_ context.Context, link model.Link, reason string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, notification{kind: model.EventLinkExpired, linkID: link.ID, reason: reason})
}

func (n *recordingNotifier) expired() []notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []notification
	for _, e := range n.events {
		if e.kind == model.EventLinkExpired {
			out = append(out, e)
		}
	}
	return out
}

type countingMetrics struct {
	mu            sync.Mutex
	presentations map[string]int
	issued        int
	swept         int
	logFailures   int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{presentations: make(map[string]int)}
}

func (m *countingMetrics) Presentation(outcome, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.presentations[outcome+"/"+reason]++
}

func (m *countingMetrics) LinkIssued() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.issued++
}

func (m *countingMetrics) LinksSwept(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.swept += n
}

func (m *countingMetrics) AccessLogFailure() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logFailures++
}

func intPtr(v int) *int { return &v }

func timePtr(v time.Time) *time.Time { return &v }
