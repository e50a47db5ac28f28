package kit

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"otterbot/internal/eventbus"
	"otterbot/internal/task/engine"
	"otterbot/internal/transport"
	logx "otterbot/pkg/logx"
)

// Scheduler is the subset of the scheduler service plugins use.
type Scheduler interface {
	AddCron(name, spec string, timeout time.Duration, job func(ctx context.Context) error) (string, error)
	AddDaily(name, atHHMM string, timeout time.Duration, job func(ctx context.Context) error) (string, error)
	AddWeekly(name string, weekday time.Weekday, atHHMM string, timeout time.Duration, job func(ctx context.Context) error) (string, error)
	AddOnce(name string, at time.Time, timeout time.Duration, job func(ctx context.Context) error) (string, error)
	Remove(name string) bool
}

// TaskCancelledByPluginEvent is published when disabling a plugin cuts a
// running job short.
type TaskCancelledByPluginEvent struct {
	Plugin   string        `json:"plugin"`
	Task     string        `json:"task"`
	FullName string        `json:"full_name"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

// ScheduleHelper namespaces jobs as "<plugin>:<name>" and removes them all
// on Cleanup.
type ScheduleHelper struct {
	pluginName string
	svc        Scheduler
	bus        eventbus.Bus
	log        logx.Logger

	mu    sync.Mutex
	tasks map[string]struct{}
	ctx   context.Context
}

func NewScheduleHelper(pluginName string, svc Scheduler, bus eventbus.Bus, log logx.Logger) *ScheduleHelper {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &ScheduleHelper{
		pluginName: pluginName,
		svc:        svc,
		bus:        bus,
		log:        log.With(logx.String("component", "schedule")),
		tasks:      map[string]struct{}{},
	}
}

// BindContext ties every job run to the plugin lifetime.
func (h *ScheduleHelper) BindContext(ctx context.Context) {
	h.mu.Lock()
	h.ctx = ctx
	h.mu.Unlock()
}

func (h *ScheduleHelper) Cron(name, spec string) *ScheduleBuilder {
	return &ScheduleBuilder{helper: h, name: name, kind: kindCron, spec: spec, timeout: 30 * time.Second}
}

func (h *ScheduleHelper) Daily(name, atHHMM string) *ScheduleBuilder {
	return &ScheduleBuilder{helper: h, name: name, kind: kindDaily, hhmm: atHHMM, timeout: 30 * time.Second}
}

func (h *ScheduleHelper) Weekly(name string, weekday time.Weekday, atHHMM string) *ScheduleBuilder {
	return &ScheduleBuilder{helper: h, name: name, kind: kindWeekly, weekday: weekday, hhmm: atHHMM, timeout: 30 * time.Second}
}

// At runs once at t. Used for expiring pending requests.
func (h *ScheduleHelper) At(name string, t time.Time) *ScheduleBuilder {
	return &ScheduleBuilder{helper: h, name: name, kind: kindOnce, at: t, timeout: 30 * time.Second}
}

// Remove drops one job by short name.
func (h *ScheduleHelper) Remove(name string) bool {
	if h == nil || h.svc == nil {
		return false
	}
	full := h.FullName(name)
	h.mu.Lock()
	delete(h.tasks, full)
	h.mu.Unlock()
	return h.svc.Remove(full)
}

// Names lists the full names registered through this helper.
func (h *ScheduleHelper) Names() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, 0, len(h.tasks))
	for k := range h.tasks {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Cleanup removes every job registered through this helper.
func (h *ScheduleHelper) Cleanup() {
	if h == nil || h.svc == nil {
		return
	}
	h.mu.Lock()
	keys := make([]string, 0, len(h.tasks))
	for k := range h.tasks {
		keys = append(keys, k)
	}
	h.tasks = map[string]struct{}{}
	h.mu.Unlock()
	for _, k := range keys {
		h.svc.Remove(k)
	}
}

func (h *ScheduleHelper) FullName(name string) string {
	if h.pluginName == "" {
		return name
	}
	if name == "" {
		return h.pluginName
	}
	return h.pluginName + ":" + name
}

type scheduleKind uint8

const (
	kindCron scheduleKind = iota
	kindDaily
	kindWeekly
	kindOnce
)

type ScheduleBuilder struct {
	helper  *ScheduleHelper
	name    string
	kind    scheduleKind
	spec    string
	hhmm    string
	weekday time.Weekday
	at      time.Time
	timeout time.Duration
}

func (b *ScheduleBuilder) Timeout(d time.Duration) *ScheduleBuilder {
	b.timeout = d
	return b
}

// Do registers job, replacing any job with the same name.
func (b *ScheduleBuilder) Do(job func(ctx context.Context) error) error {
	if b == nil || b.helper == nil || b.helper.svc == nil {
		return errors.New("scheduler not available")
	}
	if job == nil {
		return errors.New("job is nil")
	}
	h := b.helper
	full := h.FullName(b.name)
	wrapped := permanentErrors(b.bind(full, job))

	var err error
	switch b.kind {
	case kindCron:
		_, err = h.svc.AddCron(full, b.spec, b.timeout, wrapped)
	case kindDaily:
		_, err = h.svc.AddDaily(full, b.hhmm, b.timeout, wrapped)
	case kindWeekly:
		_, err = h.svc.AddWeekly(full, b.weekday, b.hhmm, b.timeout, wrapped)
	case kindOnce:
		_, err = h.svc.AddOnce(full, b.at, b.timeout, wrapped)
	default:
		return fmt.Errorf("unknown schedule kind: %d", b.kind)
	}
	if err != nil {
		return err
	}
	h.mu.Lock()
	h.tasks[full] = struct{}{}
	h.mu.Unlock()
	return nil
}

// permanentErrors stops the engine from retrying failures Discord will
// repeat: missing permissions, deleted targets and rejected payloads.
func permanentErrors(job func(ctx context.Context) error) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		err := job(ctx)
		if errors.Is(err, transport.ErrPermissionDenied) || errors.Is(err, transport.ErrNotFound) || errors.Is(err, transport.ErrValidation) {
			return engine.NoRetry(err)
		}
		return err
	}
}

// bind adds the plugin context as a second cancellation source for each run.
func (b *ScheduleBuilder) bind(full string, job func(ctx context.Context) error) func(ctx context.Context) error {
	h := b.helper
	h.mu.Lock()
	pluginCtx := h.ctx
	h.mu.Unlock()
	if pluginCtx == nil {
		return job
	}
	return func(runCtx context.Context) error {
		started := time.Now()
		var byPlugin atomic.Bool
		cctx, cancel := context.WithCancel(runCtx)
		stop := context.AfterFunc(pluginCtx, func() {
			if runCtx.Err() != nil {
				return
			}
			byPlugin.Store(true)
			cancel()
		})
		defer func() {
			stop()
			cancel()
		}()

		err := job(cctx)
		if byPlugin.Load() && runCtx.Err() == nil {
			ev := TaskCancelledByPluginEvent{
				Plugin:   h.pluginName,
				Task:     b.name,
				FullName: full,
				Started:  started,
				Duration: time.Since(started),
			}
			if err != nil {
				ev.Error = err.Error()
			}
			if h.bus != nil {
				h.bus.Publish(eventbus.Event{Type: "task.cancelled_by_plugin", Data: ev})
			}
			h.log.Info("scheduled task cancelled by plugin", logx.String("task", full), logx.Duration("duration", ev.Duration))
		}
		return err
	}
}
