package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"otterbot/internal/task/engine"
	logx "otterbot/pkg/logx"
)

func newTestScheduler(t *testing.T) (*Service, *engine.Service) {
	t.Helper()
	eng := engine.New(engine.Config{Enabled: true, Workers: 1}, logx.Nop(), nil)
	eng.Start(context.Background())
	s := New(Config{Enabled: true, Timezone: "UTC"}, eng, logx.Nop())
	s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Stop(ctx)
		eng.Stop(ctx)
	})
	return s, eng
}

func noop(context.Context) error { return nil }

func TestParseHHMM(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		h, m    int
		wantErr bool
	}{
		{"12:00", 12, 0, false},
		{" 0:05 ", 0, 5, false},
		{"23:59", 23, 59, false},
		{"24:00", 0, 0, true},
		{"12:60", 0, 0, true},
		{"1200", 0, 0, true},
		{"ab:cd", 0, 0, true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			h, m, err := parseHHMM(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err=%v wantErr=%v", err, tt.wantErr)
			}
			if !tt.wantErr && (h != tt.h || m != tt.m) {
				t.Fatalf("got %d:%d want %d:%d", h, m, tt.h, tt.m)
			}
		})
	}
}

func TestWeeklySpecNextFire(t *testing.T) {
	t.Parallel()

	s := New(Config{Timezone: "UTC"}, nil, logx.Nop())
	sched, err := s.parser.Parse(WeeklySpec(time.Tuesday, 12, 0))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	// 2024-01-01 is a Monday.
	from := time.Date(2024, 1, 1, 13, 0, 0, 0, time.UTC)
	next := sched.Next(from)
	want := time.Date(2024, 1, 2, 12, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("next=%v want %v", next, want)
	}
	if again := sched.Next(next); !again.Equal(want.AddDate(0, 0, 7)) {
		t.Fatalf("following=%v", again)
	}
}

func TestAddCronReplacesByName(t *testing.T) {
	t.Parallel()

	s, _ := newTestScheduler(t)
	if _, err := s.AddWeekly("interview_match:g1:send", time.Tuesday, "12:00", time.Minute, noop); err != nil {
		t.Fatalf("AddWeekly: %v", err)
	}
	if _, err := s.AddWeekly("interview_match:g1:send", time.Friday, "09:30", time.Minute, noop); err != nil {
		t.Fatalf("AddWeekly: %v", err)
	}
	snap := s.Snapshot()
	if len(snap.Schedules) != 1 {
		t.Fatalf("schedules=%+v", snap.Schedules)
	}
	got := snap.Schedules[0]
	if got.Spec != "30 9 * * 5" {
		t.Fatalf("spec=%q", got.Spec)
	}
	if got.Next.Weekday() != time.Friday || got.Next.Hour() != 9 || got.Next.Minute() != 30 {
		t.Fatalf("next=%v", got.Next)
	}
	if !s.Has("interview_match:g1:send") {
		t.Fatalf("Has=false")
	}
	if !s.Remove("interview_match:g1:send") || s.Has("interview_match:g1:send") {
		t.Fatalf("remove failed")
	}
	if s.Remove("interview_match:g1:send") {
		t.Fatalf("second remove reported true")
	}
}

func TestAddCronRejectsBadInput(t *testing.T) {
	t.Parallel()

	s := New(Config{}, nil, logx.Nop())
	if _, err := s.AddCron("", "* * * * *", 0, noop); err == nil {
		t.Fatalf("blank name accepted")
	}
	if _, err := s.AddCron("x", "not a spec", 0, noop); err == nil {
		t.Fatalf("bad spec accepted")
	}
	if _, err := s.AddWeekly("x", time.Weekday(9), "12:00", 0, noop); err == nil {
		t.Fatalf("bad weekday accepted")
	}
}

func TestDefinitionsSurviveUntilStart(t *testing.T) {
	t.Parallel()

	s := New(Config{Enabled: true, Timezone: "UTC"}, nil, logx.Nop())
	if _, err := s.AddDaily("leetcode:daily", "00:02", 0, noop); err != nil {
		t.Fatalf("AddDaily: %v", err)
	}
	if snap := s.Snapshot(); len(snap.Schedules) != 1 || !snap.Schedules[0].Next.IsZero() {
		t.Fatalf("before start: %+v", snap.Schedules)
	}
	s.Start(context.Background())
	defer s.Stop(context.Background())
	if snap := s.Snapshot(); snap.Schedules[0].Next.IsZero() {
		t.Fatalf("after start next not computed")
	}
}

func TestInvalidTimezoneFallsBackToLocal(t *testing.T) {
	t.Parallel()

	s := New(Config{Timezone: "Nowhere/Land"}, nil, logx.Nop())
	if s.Location() != time.Local {
		t.Fatalf("loc=%v", s.Location())
	}
}

func TestAddOnceFiresThroughEngine(t *testing.T) {
	t.Parallel()

	s, _ := newTestScheduler(t)
	var fired atomic.Int32
	if _, err := s.AddOnce("tracker:expire:abc", time.Now().Add(20*time.Millisecond), time.Second, func(context.Context) error {
		fired.Add(1)
		return nil
	}); err != nil {
		t.Fatalf("AddOnce: %v", err)
	}
	deadline := time.Now().Add(3 * time.Second)
	for fired.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if fired.Load() != 1 {
		t.Fatalf("fired=%d", fired.Load())
	}
	if s.Has("tracker:expire:abc") {
		t.Fatalf("one-shot still registered after firing")
	}
}

func TestRemoveCancelsOnce(t *testing.T) {
	t.Parallel()

	s, _ := newTestScheduler(t)
	var fired atomic.Int32
	_, _ = s.AddOnce("x", time.Now().Add(50*time.Millisecond), 0, func(context.Context) error { fired.Add(1); return nil })
	if !s.Remove("x") {
		t.Fatalf("Remove=false")
	}
	time.Sleep(120 * time.Millisecond)
	if fired.Load() != 0 {
		t.Fatalf("removed one-shot fired")
	}
}
