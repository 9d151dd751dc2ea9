package jobs

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Checker-Finance/copytrader/pkg/model"
)

type countingWarmer struct{ runs atomic.Int32 }

func (w *countingWarmer) WarmCache(context.Context) int {
	w.runs.Add(1)
	return 3
}

type recordingPublisher struct {
	mu       sync.Mutex
	subjects []string
	fail     bool
}

func (p *recordingPublisher) PublishEnvelope(_ context.Context, subject string, _ *model.Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subjects = append(p.subjects, subject)
	if p.fail {
		return errors.New("nats down")
	}
	return nil
}

func TestCacheRefresher_RunOnce(t *testing.T) {
	w := &countingWarmer{}
	pub := &recordingPublisher{}
	r := NewCacheRefresher(zap.NewNop(), w, pub, time.Minute)

	r.RunOnce(context.Background())
	assert.Equal(t, int32(1), w.runs.Load())
	assert.Equal(t, []string{RefreshedSubject}, pub.subjects)
}

func TestCacheRefresher_PublishFailureIsAbsorbed(t *testing.T) {
	w := &countingWarmer{}
	r := NewCacheRefresher(zap.NewNop(), w, &recordingPublisher{fail: true}, time.Minute)
	assert.NotPanics(t, func() { r.RunOnce(context.Background()) })
	assert.Equal(t, int32(1), w.runs.Load())
}

func TestCacheRefresher_TicksUntilStopped(t *testing.T) {
	w := &countingWarmer{}
	r := NewCacheRefresher(zap.NewNop(), w, nil, 10*time.Millisecond)

	done := make(chan struct{})
	go func() {
		r.Start(context.Background())
		close(done)
	}()

	require.Eventually(t, func() bool { return w.runs.Load() >= 2 }, time.Second, 5*time.Millisecond)
	r.Stop()
	r.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("refresher did not stop")
	}
}

func TestCacheRefresher_DisabledInterval(t *testing.T) {
	w := &countingWarmer{}
	r := NewCacheRefresher(zap.NewNop(), w, nil, 0)
	r.Start(context.Background())
	assert.Zero(t, w.runs.Load())
}
