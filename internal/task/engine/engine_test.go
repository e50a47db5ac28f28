package engine

import (
	"context"
	"errors"
	"math/rand"
	"sync/atomic"
	"testing"
	"time"

	"otterbot/internal/eventbus"
	logx "otterbot/pkg/logx"
)

func newTestService(t *testing.T, cfg Config) *Service {
	t.Helper()
	cfg.Enabled = true
	s := New(cfg, logx.Nop(), eventbus.New())
	s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met in time")
}

func TestEnqueueDisabledAndStopped(t *testing.T) {
	t.Parallel()

	run := func(context.Context) error { return nil }
	s := New(Config{}, logx.Nop(), nil)
	if err := s.Enqueue(Task{Name: "x", Run: run}); !errors.Is(err, ErrDisabled) {
		t.Fatalf("err=%v want ErrDisabled", err)
	}
	s = New(Config{Enabled: true}, logx.Nop(), nil)
	if err := s.Enqueue(Task{Name: "x", Run: run}); !errors.Is(err, ErrStopped) {
		t.Fatalf("err=%v want ErrStopped", err)
	}
}

func TestEnqueueValidates(t *testing.T) {
	t.Parallel()

	s := newTestService(t, Config{})
	if err := s.Enqueue(Task{Name: "x"}); err == nil {
		t.Fatalf("expected error for nil Run")
	}
	if err := s.Enqueue(Task{Name: "  ", Run: func(context.Context) error { return nil }}); err == nil {
		t.Fatalf("expected error for blank name")
	}
}

func TestOverlapSkipIfRunning(t *testing.T) {
	t.Parallel()

	s := newTestService(t, Config{Workers: 2})
	state := &RunState{}
	release := make(chan struct{})
	var runs atomic.Int32
	task := Task{
		Name:  "slow",
		State: state,
		Opt:   TaskOptions{Overlap: OverlapSkipIfRunning},
		Run: func(ctx context.Context) error {
			runs.Add(1)
			<-release
			return nil
		},
	}
	if err := s.Enqueue(task); err != nil {
		t.Fatalf("first enqueue: %v", err)
	}
	if err := s.Enqueue(task); !errors.Is(err, ErrOverlapSkip) {
		t.Fatalf("second enqueue err=%v want ErrOverlapSkip", err)
	}
	close(release)
	waitFor(t, func() bool { return !state.Running() })
	if err := s.Enqueue(task); err != nil {
		t.Fatalf("enqueue after finish: %v", err)
	}
	waitFor(t, func() bool { return runs.Load() == 2 })
}

func TestRetriesAndNoRetry(t *testing.T) {
	t.Parallel()

	s := newTestService(t, Config{Workers: 1})

	var flaky atomic.Int32
	err := s.Enqueue(Task{
		Name: "flaky",
		Opt:  TaskOptions{RetryMax: 2, RetryBase: time.Millisecond, RetryMaxDelay: 2 * time.Millisecond},
		Run: func(context.Context) error {
			if flaky.Add(1) < 3 {
				return errors.New("boom")
			}
			return nil
		},
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	var permanent atomic.Int32
	err = s.Enqueue(Task{
		Name: "permanent",
		Opt:  TaskOptions{RetryMax: 5, RetryBase: time.Millisecond},
		Run: func(context.Context) error {
			permanent.Add(1)
			return NoRetry(errors.New("bad input"))
		},
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	waitFor(t, func() bool { return len(s.Snapshot().History) == 2 })
	hist := s.Snapshot().History
	if hist[0].Name != "flaky" || hist[0].Attempts != 3 || hist[0].Error != "" {
		t.Fatalf("flaky history=%+v", hist[0])
	}
	if hist[1].Name != "permanent" || hist[1].Attempts != 1 || hist[1].Error != "bad input" {
		t.Fatalf("permanent history=%+v", hist[1])
	}
	if permanent.Load() != 1 {
		t.Fatalf("permanent ran %d times", permanent.Load())
	}
}

func TestPanicIsRecovered(t *testing.T) {
	t.Parallel()

	s := newTestService(t, Config{Workers: 1})
	if err := s.Enqueue(Task{Name: "panics", Opt: TaskOptions{RetryMax: 0}, Run: func(context.Context) error { panic("kaboom") }}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	var ok atomic.Bool
	if err := s.Enqueue(Task{Name: "after", Run: func(context.Context) error { ok.Store(true); return nil }}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	waitFor(t, ok.Load)
	if h := s.Snapshot().History; len(h) < 1 || h[0].Error == "" {
		t.Fatalf("panic not recorded as failure: %+v", h)
	}
}

func TestQueueFullDrops(t *testing.T) {
	t.Parallel()

	s := newTestService(t, Config{Workers: 1, QueueSize: 1})
	block := make(chan struct{})
	defer close(block)
	started := make(chan struct{})
	_ = s.Enqueue(Task{Name: "busy", Run: func(context.Context) error { close(started); <-block; return nil }})
	<-started
	_ = s.Enqueue(Task{Name: "queued", Run: func(context.Context) error { return nil }})
	if err := s.Enqueue(Task{Name: "dropped", Run: func(context.Context) error { return nil }}); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("err=%v want ErrQueueFull", err)
	}
	if s.Snapshot().DroppedQueueFull != 1 {
		t.Fatalf("dropped=%d", s.Snapshot().DroppedQueueFull)
	}
}

func TestTaskEventsPublished(t *testing.T) {
	t.Parallel()

	bus := eventbus.New()
	ch, unsub := bus.Subscribe(8)
	defer unsub()
	s := New(Config{Enabled: true, Workers: 1}, logx.Nop(), bus)
	s.Start(context.Background())
	defer s.Stop(context.Background())

	if err := s.Enqueue(Task{Name: "evt", Opt: TaskOptions{RetryMax: 0}, Run: func(context.Context) error { return errors.New("x") }}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	var types []string
	timeout := time.After(3 * time.Second)
	for len(types) < 2 {
		select {
		case e := <-ch:
			types = append(types, e.Type)
		case <-timeout:
			t.Fatalf("events=%v", types)
		}
	}
	if types[0] != eventbus.TypeTaskStarted || types[1] != eventbus.TypeTaskFailed {
		t.Fatalf("events=%v", types)
	}
}

func TestBackoffDelayBounds(t *testing.T) {
	t.Parallel()

	opt := TaskOptions{RetryBase: 100 * time.Millisecond, RetryMaxDelay: time.Second, RetryJitter: 0.2}
	rng := rand.New(rand.NewSource(1))
	tests := []struct {
		retry    int
		min, max time.Duration
	}{
		{1, 80 * time.Millisecond, 120 * time.Millisecond},
		{2, 160 * time.Millisecond, 240 * time.Millisecond},
		{10, 800 * time.Millisecond, time.Second},
	}
	for _, tt := range tests {
		d := backoffDelay(opt, tt.retry, rng)
		if d < tt.min || d > tt.max {
			t.Fatalf("retry %d: delay %v outside [%v,%v]", tt.retry, d, tt.min, tt.max)
		}
	}
}
