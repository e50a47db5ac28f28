package kit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"otterbot/internal/task/engine"
	"otterbot/internal/transport"
	logx "otterbot/pkg/logx"
)

func TestKeyedMutexSerializesSameKey(t *testing.T) {
	t.Parallel()

	km := NewKeyedMutex()
	var inside, maxInside atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := km.Lock(context.Background(), "g1")
			if err != nil {
				t.Errorf("lock: %v", err)
				return
			}
			n := inside.Add(1)
			for {
				m := maxInside.Load()
				if n <= m || maxInside.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			inside.Add(-1)
			unlock()
		}()
	}
	wg.Wait()
	if maxInside.Load() != 1 {
		t.Fatalf("max concurrent holders=%d", maxInside.Load())
	}
	if km.Len() != 0 {
		t.Fatalf("entries leaked: %d", km.Len())
	}
}

func TestKeyedMutexDifferentKeysDoNotBlock(t *testing.T) {
	t.Parallel()

	km := NewKeyedMutex()
	unlock, _ := km.Lock(context.Background(), "g1")
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	u2, err := km.Lock(ctx, "g2")
	if err != nil {
		t.Fatalf("other key blocked: %v", err)
	}
	u2()

	if _, ok := km.TryLock("g1"); ok {
		t.Fatalf("held key was acquired")
	}
	short, cancel2 := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel2()
	if _, err := km.Lock(short, "g1"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err=%v", err)
	}
	if km.Len() != 1 {
		t.Fatalf("len=%d", km.Len())
	}
}

func TestUnlockIsIdempotent(t *testing.T) {
	t.Parallel()

	km := NewKeyedMutex()
	unlock, ok := km.TryLock("k")
	if !ok {
		t.Fatalf("trylock failed")
	}
	unlock()
	unlock()
	if u, ok := km.TryLock("k"); !ok {
		t.Fatalf("key not released")
	} else {
		u()
	}
}

func TestMentionParsing(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		fn   func(string) (string, bool)
		in   string
		want string
		ok   bool
	}{
		{"channel mention", ChannelID, "<#743138942035034164>", "743138942035034164", true},
		{"channel bare", ChannelID, " 743138942035034164 ", "743138942035034164", true},
		{"channel garbage", ChannelID, "#general", "", false},
		{"role mention", RoleID, "<@&1234>", "1234", true},
		{"user mention", UserID, "<@42>", "42", true},
		{"user nick mention", UserID, "<@!42>", "42", true},
		{"role is not a user", UserID, "<@&42>", "", false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, ok := tt.fn(tt.in)
			if got != tt.want || ok != tt.ok {
				t.Fatalf("got %q,%v want %q,%v", got, ok, tt.want, tt.ok)
			}
		})
	}
}

type fakeScheduler struct {
	mu   sync.Mutex
	jobs map[string]func(ctx context.Context) error
}

func (f *fakeScheduler) add(name string, job func(ctx context.Context) error) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.jobs == nil {
		f.jobs = map[string]func(ctx context.Context) error{}
	}
	f.jobs[name] = job
	return name, nil
}

func (f *fakeScheduler) AddCron(name, _ string, _ time.Duration, job func(ctx context.Context) error) (string, error) {
	return f.add(name, job)
}

func (f *fakeScheduler) AddDaily(name, _ string, _ time.Duration, job func(ctx context.Context) error) (string, error) {
	return f.add(name, job)
}

func (f *fakeScheduler) AddWeekly(name string, _ time.Weekday, _ string, _ time.Duration, job func(ctx context.Context) error) (string, error) {
	return f.add(name, job)
}

func (f *fakeScheduler) AddOnce(name string, _ time.Time, _ time.Duration, job func(ctx context.Context) error) (string, error) {
	return f.add(name, job)
}

func (f *fakeScheduler) Remove(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.jobs[name]
	delete(f.jobs, name)
	return ok
}

func TestScheduleHelperNamespacesAndCleansUp(t *testing.T) {
	t.Parallel()

	svc := &fakeScheduler{}
	h := NewScheduleHelper("leetcode", svc, nil, logx.Nop())
	if err := h.Cron("daily", "2 0 * * *").Do(func(context.Context) error { return nil }); err != nil {
		t.Fatalf("cron: %v", err)
	}
	if err := h.At("expire:abc", time.Now().Add(time.Hour)).Do(func(context.Context) error { return nil }); err != nil {
		t.Fatalf("at: %v", err)
	}
	if got := h.Names(); len(got) != 2 || got[0] != "leetcode:daily" || got[1] != "leetcode:expire:abc" {
		t.Fatalf("names=%v", got)
	}
	h.Cleanup()
	if len(svc.jobs) != 0 {
		t.Fatalf("jobs left: %v", svc.jobs)
	}
}

func TestScheduledRunCancelledWithPlugin(t *testing.T) {
	t.Parallel()

	svc := &fakeScheduler{}
	h := NewScheduleHelper("p", svc, nil, logx.Nop())
	pctx, stopPlugin := context.WithCancel(context.Background())
	h.BindContext(pctx)

	started := make(chan struct{})
	if err := h.Cron("j", "* * * * *").Do(func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}); err != nil {
		t.Fatalf("cron: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- svc.jobs["p:j"](context.Background()) }()
	<-started
	stopPlugin()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("err=%v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("job not cancelled")
	}
}

func TestPermanentErrorsSkipRetry(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err       error
		permanent bool
	}{
		{nil, false},
		{errors.New("gateway hiccup"), false},
		{fmt.Errorf("send: %w", transport.ErrDeliveryFailed), false},
		{fmt.Errorf("send: %w", transport.ErrPermissionDenied), true},
		{fmt.Errorf("fetch: %w", transport.ErrNotFound), true},
		{transport.ErrValidation, true},
	}
	for _, tt := range tests {
		job := permanentErrors(func(context.Context) error { return tt.err })
		err := job(context.Background())
		if !errors.Is(err, tt.err) && tt.err != nil {
			t.Fatalf("error %v lost its cause: %v", tt.err, err)
		}
		if got := engine.IsNoRetry(err); got != tt.permanent {
			t.Fatalf("IsNoRetry(%v) = %v, want %v", tt.err, got, tt.permanent)
		}
	}
}
