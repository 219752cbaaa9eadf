package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LJTian/TopicDigest/internal/delivery"
	"github.com/LJTian/TopicDigest/internal/logging"
)

type fakeTicker struct {
	mu      sync.Mutex
	kinds   []delivery.Kind
	ctxErrs []error
	started chan struct{}
	release chan struct{}
}

func (f *fakeTicker) RunDue(ctx context.Context, kind delivery.Kind) (delivery.TickReport, error) {
	f.mu.Lock()
	f.kinds = append(f.kinds, kind)
	f.ctxErrs = append(f.ctxErrs, ctx.Err())
	first := len(f.kinds) == 1
	f.mu.Unlock()

	if f.started != nil && first {
		close(f.started)
	}
	if f.release != nil {
		<-f.release
	}
	return delivery.TickReport{RunID: "run", Kind: kind}, nil
}

func (f *fakeTicker) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.kinds)
}

func TestNewRejectsBadSpec(t *testing.T) {
	_, err := New("not a cron spec", &fakeTicker{}, logging.Discard())
	assert.Error(t, err)
}

func TestSchedulerTicksOnSchedule(t *testing.T) {
	ft := &fakeTicker{}
	s, err := New("@every 1s", ft, logging.Discard())
	require.NoError(t, err)

	s.Start()
	s.Start() // 重复启动无副作用
	require.Eventually(t, func() bool { return ft.count() >= 1 }, 3*time.Second, 20*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))

	ft.mu.Lock()
	assert.Equal(t, delivery.KindScheduled, ft.kinds[0])
	ft.mu.Unlock()
}

func TestRestartTicksWithLiveContext(t *testing.T) {
	ft := &fakeTicker{}
	s, err := New("@every 1s", ft, logging.Discard())
	require.NoError(t, err)

	s.Start()
	require.Eventually(t, func() bool { return ft.count() >= 1 }, 3*time.Second, 20*time.Millisecond)
	require.NoError(t, s.Stop(context.Background()))

	before := ft.count()
	s.Start()
	require.Eventually(t, func() bool { return ft.count() > before }, 3*time.Second, 20*time.Millisecond)
	require.NoError(t, s.Stop(context.Background()))

	ft.mu.Lock()
	defer ft.mu.Unlock()
	for i, e := range ft.ctxErrs {
		assert.NoError(t, e, "tick %d ran on a cancelled context", i)
	}
}

func TestStopWaitsForRunningTick(t *testing.T) {
	ft := &fakeTicker{started: make(chan struct{}), release: make(chan struct{})}
	s, err := New("@every 1s", ft, logging.Discard())
	require.NoError(t, err)
	s.Start()

	select {
	case <-ft.started:
	case <-time.After(3 * time.Second):
		t.Fatal("tick did not start")
	}

	stopped := make(chan error, 1)
	go func() { stopped <- s.Stop(context.Background()) }()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a tick was still running")
	case <-time.After(100 * time.Millisecond):
	}

	close(ft.release)
	select {
	case err := <-stopped:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return after tick finished")
	}
}

func TestStopHonoursDeadline(t *testing.T) {
	ft := &fakeTicker{started: make(chan struct{}), release: make(chan struct{})}
	defer close(ft.release)
	s, err := New("@every 1s", ft, logging.Discard())
	require.NoError(t, err)
	s.Start()
	<-ft.started

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, s.Stop(ctx), context.DeadlineExceeded)
}

func TestRunOnceIsManual(t *testing.T) {
	ft := &fakeTicker{}
	s, err := New("0 * * * *", ft, logging.Discard())
	require.NoError(t, err)

	report, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, delivery.KindManual, report.Kind)
	assert.NoError(t, s.Stop(context.Background()), "stopping a scheduler that never started is a no-op")
}
