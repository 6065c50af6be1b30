package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sifan077/TempLogin/internal/app/model"
	"github.com/sifan077/TempLogin/internal/app/repository"
)

type sweepCountingService struct {
	LinkService
	mu    sync.Mutex
	calls []time.Time
}

func (s *sweepCountingService) SweepExpired(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, now)
	return 0, nil
}

func (s *sweepCountingService) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func TestExpirySweeper_RunsUntilStopped(t *testing.T) {
	svc := &sweepCountingService{}
	sweeper := NewExpirySweeper(nil, svc, 10*time.Millisecond)
	sweeper.now = func() time.Time { return t0 }

	sweeper.Start()
	require.Eventually(t, func() bool { return svc.callCount() >= 2 }, time.Second, 5*time.Millisecond)

	sweeper.Stop()
	calls := svc.callCount()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, calls, svc.callCount())
	assert.Equal(t, t0, svc.calls[0])

	// Stop is safe to call twice.
	sweeper.Stop()
}

func TestExpirySweeper_EmitsTeardown(t *testing.T) {
	ctx := context.Background()
	links := repository.NewLinkRepository(newTestDB(t))
	notifier := &recordingNotifier{}
	svc := NewLinkService(LinkServiceDeps{
		Links:    links,
		Codec:    &stubCodec{tokens: []string{"tl_sweeper"}},
		Notifier: notifier,
		Defaults: testDefaults,
	})
	_, err := svc.IssueLink(ctx, IssueLinkInput{SubjectIdentity: "alice", ExpiresAt: timePtr(t0.Add(time.Minute))}, t0)
	require.NoError(t, err)

	sweeper := NewExpirySweeper(nil, svc, 10*time.Millisecond)
	sweeper.now = func() time.Time { return t0.Add(time.Hour) }
	sweeper.Start()
	defer sweeper.Stop()

	require.Eventually(t, func() bool { return len(notifier.expired()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, model.EventLinkExpired, notifier.expired()[0].kind)
}

func TestExpirySweeper_StopWithoutStart(t *testing.T) {
	svc := &sweepCountingService{}
	sweeper := NewExpirySweeper(nil, svc, 10*time.Millisecond)

	stopped := make(chan struct{})
	go func() {
		sweeper.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Stop blocked on a sweeper that was never started")
	}

	sweeper.Start()
	time.Sleep(30 * time.Millisecond)
	assert.Zero(t, svc.callCount())
}
