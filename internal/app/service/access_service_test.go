package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sifan077/TempLogin/internal/app/access"
	"github.com/sifan077/TempLogin/internal/app/model"
	"github.com/sifan077/TempLogin/internal/app/repository"
	"github.com/sifan077/TempLogin/internal/app/token"
)

type accessFixture struct {
	links   LinkService
	access  AccessService
	repo    repository.LinkRepository
	logs    repository.AccessLogRepository
	metrics *countingMetrics
}

func newAccessFixture(t *testing.T) *accessFixture {
	t.Helper()

	db := newTestDB(t)
	repo := repository.NewLinkRepository(db)
	logs := repository.NewAccessLogRepository(db)
	codec := token.NewCodec()
	metrics := newCountingMetrics()

	return &accessFixture{
		links: NewLinkService(LinkServiceDeps{Links: repo, Codec: codec, Defaults: testDefaults}),
		access: NewAccessService(AccessServiceDeps{
			Links:     repo,
			Codec:     codec,
			AccessLog: NewRepositoryAccessLog(logs),
			Metrics:   metrics,
		}),
		repo:    repo,
		logs:    logs,
		metrics: metrics,
	}
}

func (f *accessFixture) issue(t *testing.T, input IssueLinkInput) *model.Link {
	t.Helper()
	if input.SubjectIdentity == "" {
		input.SubjectIdentity = "alice"
	}
	link, err := f.links.IssueLink(context.Background(), input, t0)
	require.NoError(t, err)
	return link
}

func TestAccessService_SingleUseLink(t *testing.T) {
	ctx := context.Background()
	f := newAccessFixture(t)
	link := f.issue(t, IssueLinkInput{ExpiresAt: timePtr(t0.Add(time.Hour)), MaxAccesses: intPtr(1)})

	first, err := f.access.PresentToken(ctx, link.Token, t0.Add(time.Minute), RequesterContext{IP: "10.0.0.1", UserAgent: "curl"})
	require.NoError(t, err)
	assert.True(t, first.Granted)
	assert.Equal(t, "alice", first.SubjectIdentity)
	assert.Equal(t, link.ID, first.LinkID)

	second, err := f.access.PresentToken(ctx, link.Token, t0.Add(time.Minute), RequesterContext{IP: "10.0.0.1"})
	require.NoError(t, err)
	assert.False(t, second.Granted)
	assert.Equal(t, access.ReasonMaxedOut, second.Reason)

	stored, err := f.repo.GetByID(ctx, link.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.AccessCount)
	require.NotNil(t, stored.LastAccessedAt)

	entries, err := f.logs.ListByLink(ctx, link.ID, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	outcomes := []string{entries[0].Outcome, entries[1].Outcome}
	assert.ElementsMatch(t, []string{model.OutcomeGranted, model.OutcomeDenied}, outcomes)
	assert.Equal(t, "10.0.0.1", entries[0].RequesterIP)
}

func TestAccessService_UnlimitedLinkExpires(t *testing.T) {
	ctx := context.Background()
	f := newAccessFixture(t)
	link := f.issue(t, IssueLinkInput{ExpiresAt: timePtr(t0.Add(time.Second)), MaxAccesses: intPtr(0)})

	p, err := f.access.PresentToken(ctx, link.Token, t0.Add(2*time.Second), RequesterContext{})
	require.NoError(t, err)
	assert.False(t, p.Granted)
	assert.Equal(t, access.ReasonExpired, p.Reason)
}

func TestAccessService_ExpiryWinsOverRemainingAccesses(t *testing.T) {
	ctx := context.Background()
	f := newAccessFixture(t)
	link := f.issue(t, IssueLinkInput{ExpiresAt: timePtr(t0.Add(time.Hour)), MaxAccesses: intPtr(5)})

	for _, at := range []time.Time{t0.Add(time.Hour), t0.Add(2 * time.Hour), t0.Add(48 * time.Hour)} {
		p, err := f.access.PresentToken(ctx, link.Token, at, RequesterContext{})
		require.NoError(t, err)
		assert.Equal(t, access.ReasonExpired, p.Reason, "at %s", at)
	}

	stored, err := f.repo.GetByID(ctx, link.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, stored.AccessCount)
}

func TestAccessService_DeactivateAndReactivate(t *testing.T) {
	ctx := context.Background()
	f := newAccessFixture(t)
	link := f.issue(t, IssueLinkInput{MaxAccesses: intPtr(3)})

	require.NoError(t, f.links.Deactivate(ctx, link.ID))
	p, err := f.access.PresentToken(ctx, link.Token, t0.Add(time.Minute), RequesterContext{})
	require.NoError(t, err)
	assert.Equal(t, access.ReasonDeactivated, p.Reason)

	require.NoError(t, f.links.Reactivate(ctx, link.ID))
	p, err = f.access.PresentToken(ctx, link.Token, t0.Add(2*time.Minute), RequesterContext{})
	require.NoError(t, err)
	assert.True(t, p.Granted)
}

func TestAccessService_ConcurrentPresentations(t *testing.T) {
	const (
		maxAccesses = 3
		attempts    = 12
	)

	ctx := context.Background()
	f := newAccessFixture(t)
	link := f.issue(t, IssueLinkInput{MaxAccesses: intPtr(maxAccesses)})

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		granted int
		denied  = map[access.Reason]int{}
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p, err := f.access.PresentToken(ctx, link.Token, t0.Add(time.Minute), RequesterContext{RequestID: fmt.Sprint(i)})
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if p.Granted {
				granted++
			} else {
				denied[p.Reason]++
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, maxAccesses, granted)
	assert.Equal(t, map[access.Reason]int{access.ReasonMaxedOut: attempts - maxAccesses}, denied)

	stored, err := f.repo.GetByID(ctx, link.ID)
	require.NoError(t, err)
	assert.Equal(t, maxAccesses, stored.AccessCount)
}

func TestAccessService_InvalidAndUnknownTokens(t *testing.T) {
	ctx := context.Background()
	f := newAccessFixture(t)

	p, err := f.access.PresentToken(ctx, "not-a-token", t0, RequesterContext{})
	require.NoError(t, err)
	assert.Equal(t, Presentation{Reason: access.ReasonInvalidFormat}, p)

	unknown, err := token.NewCodec().Generate()
	require.NoError(t, err)
	p, err = f.access.PresentToken(ctx, unknown, t0, RequesterContext{})
	require.NoError(t, err)
	assert.Equal(t, Presentation{Reason: access.ReasonNotFound}, p)

	assert.Equal(t, 1, f.metrics.presentations["denied/invalid_format"])
	assert.Equal(t, 1, f.metrics.presentations["denied/not_found"])
}

func TestAccessService_InvalidFormatSkipsStore(t *testing.T) {
	repo := &mockLinkRepository{
		tryConsumeFn: func(ctx context.Context, token string, now time.Time) (repository.ConsumeResult, error) {
			t.Fatal("store must not be queried for malformed tokens")
			return repository.ConsumeResult{}, nil
		},
	}
	svc := NewAccessService(AccessServiceDeps{Links: repo, Codec: token.NewCodec()})

	p, err := svc.PresentToken(context.Background(), "tl_short", t0, RequesterContext{})
	require.NoError(t, err)
	assert.Equal(t, access.ReasonInvalidFormat, p.Reason)
}

func TestAccessService_StorageFailureIsNotADenial(t *testing.T) {
	repo := &mockLinkRepository{
		tryConsumeFn: func(ctx context.Context, token string, now time.Time) (repository.ConsumeResult, error) {
			return repository.ConsumeResult{}, fmt.Errorf("consume link: %w: %w", repository.ErrStorageUnavailable, errors.New("connection refused"))
		},
	}
	log := &recordingAccessLog{}
	svc := NewAccessService(AccessServiceDeps{Links: repo, Codec: &stubCodec{}, AccessLog: log})

	p, err := svc.PresentToken(context.Background(), "tl_anything", t0, RequesterContext{})
	require.ErrorIs(t, err, repository.ErrStorageUnavailable)
	assert.False(t, p.Granted)
	assert.Empty(t, log.entries, "no outcome is recorded when the store is unavailable")
}

func TestAccessService_AccessLogFailureKeepsGrant(t *testing.T) {
	ctx := context.Background()
	f := newAccessFixture(t)
	link := f.issue(t, IssueLinkInput{})

	metrics := newCountingMetrics()
	svc := NewAccessService(AccessServiceDeps{
		Links:     f.repo,
		Codec:     token.NewCodec(),
		AccessLog: &recordingAccessLog{err: errors.New("stream unavailable")},
		Metrics:   metrics,
	})

	p, err := svc.PresentToken(ctx, link.Token, t0.Add(time.Minute), RequesterContext{})
	require.NoError(t, err)
	assert.True(t, p.Granted)
	assert.Equal(t, 1, metrics.logFailures)
}

func TestAccessService_AccessLogSurvivesCancellation(t *testing.T) {
	log := &recordingAccessLog{}
	repo := &mockLinkRepository{
		tryConsumeFn: func(ctx context.Context, token string, now time.Time) (repository.ConsumeResult, error) {
			link := model.Link{ID: "l1", SubjectIdentity: "alice", IsActive: true, ExpiresAt: t0.Add(time.Hour)}
			return repository.ConsumeResult{Link: link, Verdict: access.Granted()}, nil
		},
	}
	svc := NewAccessService(AccessServiceDeps{Links: repo, Codec: &stubCodec{}, AccessLog: log})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p, err := svc.PresentToken(ctx, "tl_x", t0, RequesterContext{RequestID: "req-1"})
	require.NoError(t, err)
	require.True(t, p.Granted)

	require.Len(t, log.entries, 1)
	assert.NoError(t, log.ctxErr)
	assert.Equal(t, "req-1", log.entries[0].RequestID)
	assert.Equal(t, model.OutcomeGranted, log.entries[0].Outcome)
}

func TestAccessService_GetDisplayStatus(t *testing.T) {
	ctx := context.Background()
	f := newAccessFixture(t)
	link := f.issue(t, IssueLinkInput{ExpiresAt: timePtr(t0.Add(time.Hour)), MaxAccesses: intPtr(1)})

	for i := 0; i < 3; i++ {
		status, err := f.access.GetDisplayStatus(ctx, link.Token, t0.Add(time.Minute))
		require.NoError(t, err)
		assert.Equal(t, access.StatusActive, status)
	}

	stored, err := f.repo.GetByID(ctx, link.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, stored.AccessCount)
	assert.Nil(t, stored.LastAccessedAt)

	status, err := f.access.GetDisplayStatus(ctx, link.Token, t0.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, access.StatusExpired, status)

	status, err = f.access.GetDisplayStatus(ctx, "garbage", t0)
	require.NoError(t, err)
	assert.Equal(t, access.StatusNotFound, status)

	entries, err := f.logs.ListByLink(ctx, link.ID, 10)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

type recordingAccessLog struct {
	mu      sync.Mutex
	entries []model.AccessLogEntry
	ctxErr  error
	err     error
}

func (l *recordingAccessLog) Record(ctx context.Context, entry model.AccessLogEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return l.err
	}
	l.ctxErr = ctx.Err()
	l.entries = append(l.entries, entry)
	return nil
}
