package broadcast

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"otterbot/internal/eventbus"
	"otterbot/internal/storage"
	"otterbot/internal/transport"
	"otterbot/internal/transport/transporttest"
	logx "otterbot/pkg/logx"
)

type flakyMessenger struct {
	*transporttest.Fake
	fails atomic.Int32
	err   error
	calls atomic.Int32
}

func (m *flakyMessenger) Send(ctx context.Context, channelID string, out transport.OutMessage) (transport.MessageRef, error) {
	m.calls.Add(1)
	if m.fails.Add(-1) >= 0 {
		return transport.MessageRef{}, m.err
	}
	return m.Fake.Send(ctx, channelID, out)
}

func testConfig() Config {
	return Config{
		Enabled:     true,
		Workers:     1,
		QueueSize:   8,
		RatePerSec:  1000,
		RetryMax:    2,
		RetryBase:   time.Millisecond,
		DedupWindow: time.Hour,
	}
}

func startService(t *testing.T, cfg Config, msg transport.Messenger, st storage.Store, bus eventbus.Bus) *Service {
	t.Helper()
	s := New(cfg, msg, logx.Nop(), bus, st)
	s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s
}

func memStore(t *testing.T) storage.Store {
	t.Helper()
	st, err := storage.Open(storage.Config{Driver: "memory"}, logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	return st
}

func TestPostWaitDelivers(t *testing.T) {
	t.Parallel()

	fake := transporttest.New()
	bus := eventbus.New()
	events, unsub := bus.Subscribe(8)
	defer unsub()
	s := startService(t, testConfig(), fake, nil, bus)

	err := s.PostWait(context.Background(), Message{Name: "hiring.monthly", GuildID: "g", ChannelID: "c", Out: transport.OutMessage{Content: "hi"}})
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	if got := fake.Texts(); len(got) != 1 || got[0] != "hi" {
		t.Fatalf("sent=%v", got)
	}
	select {
	case ev := <-events:
		if ev.Type != eventbus.TypeBroadcastSent {
			t.Fatalf("event=%s", ev.Type)
		}
	case <-time.After(time.Second):
		t.Fatalf("no sent event")
	}
	if h := s.History(); len(h) != 1 || !h[0].OK {
		t.Fatalf("history=%+v", h)
	}
}

func TestRetriesTransientFailures(t *testing.T) {
	t.Parallel()

	m := &flakyMessenger{Fake: transporttest.New(), err: fmt.Errorf("gateway: %w", transport.ErrDeliveryFailed)}
	m.fails.Store(2)
	s := startService(t, testConfig(), m, nil, nil)

	if err := s.PostWait(context.Background(), Message{Name: "x", ChannelID: "c", Out: transport.OutMessage{Content: "x"}}); err != nil {
		t.Fatalf("post: %v", err)
	}
	if m.calls.Load() != 3 {
		t.Fatalf("calls=%d", m.calls.Load())
	}
}

func TestPermanentFailureIsNotRetried(t *testing.T) {
	t.Parallel()

	m := &flakyMessenger{Fake: transporttest.New(), err: fmt.Errorf("channel: %w", transport.ErrPermissionDenied)}
	m.fails.Store(10)
	s := startService(t, testConfig(), m, nil, nil)

	err := s.PostWait(context.Background(), Message{Name: "x", ChannelID: "c", Key: "k"})
	if !errors.Is(err, transport.ErrPermissionDenied) {
		t.Fatalf("err=%v", err)
	}
	if m.calls.Load() != 1 {
		t.Fatalf("calls=%d", m.calls.Load())
	}
	// a failed post releases its key
	m.fails.Store(0)
	if err := s.PostWait(context.Background(), Message{Name: "x", ChannelID: "c", Key: "k"}); err != nil {
		t.Fatalf("repost: %v", err)
	}
}

func TestDedupSurvivesRestart(t *testing.T) {
	t.Parallel()

	st := memStore(t)
	fake := transporttest.New()
	msg := Message{Name: "leetcode.daily", GuildID: "g", ChannelID: "c", Key: "leetcode:g:2024-05-01"}

	s := startService(t, testConfig(), fake, st, nil)
	if err := s.PostWait(context.Background(), msg); err != nil {
		t.Fatalf("post: %v", err)
	}
	if err := s.Post(context.Background(), msg); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("second post err=%v", err)
	}

	// a fresh service only has the store to go on
	s2 := startService(t, testConfig(), fake, st, nil)
	if err := s2.Post(context.Background(), msg); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("post after restart err=%v", err)
	}
	if n := len(fake.Sent()); n != 1 {
		t.Fatalf("sent %d times", n)
	}
}

func TestPostRejectedWhenNotRunning(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Enabled = false
	s := New(cfg, transporttest.New(), logx.Nop(), nil, nil)
	s.Start(context.Background())
	if err := s.Post(context.Background(), Message{ChannelID: "c"}); !errors.Is(err, ErrDisabled) {
		t.Fatalf("disabled err=%v", err)
	}

	s = New(testConfig(), transporttest.New(), logx.Nop(), nil, nil)
	if err := s.Post(context.Background(), Message{ChannelID: "c"}); !errors.Is(err, ErrStopped) {
		t.Fatalf("stopped err=%v", err)
	}
	s.Start(context.Background())
	defer s.Stop(context.Background())
	if err := s.Post(context.Background(), Message{}); !errors.Is(err, transport.ErrValidation) {
		t.Fatalf("empty channel err=%v", err)
	}
}

func TestRetryDelayIsBounded(t *testing.T) {
	t.Parallel()

	cfg := Config{RetryBase: 100 * time.Millisecond, RetryMaxDelay: time.Second}
	for attempt := 1; attempt <= 10; attempt++ {
		d := retryDelay(cfg, attempt)
		if d <= 0 || d > cfg.RetryMaxDelay {
			t.Fatalf("attempt %d: delay %v", attempt, d)
		}
	}
}
