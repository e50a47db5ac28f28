package broadcast

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"otterbot/internal/eventbus"
	"otterbot/internal/transport"
	logx "otterbot/pkg/logx"
)

func (s *Service) workerLoop(ctx context.Context, q <-chan job) {
	for {
		select {
		case <-ctx.Done():
			return
		case j, ok := <-q:
			if !ok {
				return
			}
			err := s.sendWithRetry(ctx, j.msg)
			if j.done != nil {
				j.done <- err
			}
		}
	}
}

func (s *Service) sendWithRetry(ctx context.Context, m Message) error {
	s.mu.Lock()
	cfg, lim, msg := s.cfg, s.limiter, s.msg
	s.mu.Unlock()

	attempts := 1 + cfg.RetryMax
	var lastErr error
retry:
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := lim.Wait(ctx); err != nil {
			lastErr = err
			break retry
		}
		callCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		_, err := msg.Send(callCtx, m.ChannelID, m.Out)
		cancel()
		if err == nil {
			s.onSent(ctx, m, cfg)
			return nil
		}
		lastErr = err
		// Missing channels and permissions do not heal on retry.
		if errors.Is(err, transport.ErrNotFound) || errors.Is(err, transport.ErrPermissionDenied) || errors.Is(err, transport.ErrValidation) {
			break retry
		}
		if attempt == attempts {
			break retry
		}
		s.log.Debug("broadcast send retry scheduled", logx.String("name", m.Name), logx.String("channel_id", m.ChannelID), logx.Int("attempt", attempt+1), logx.Err(err))
		t := time.NewTimer(retryDelay(cfg, attempt))
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			lastErr = ctx.Err()
			break retry
		}
	}

	if cfg.DedupWindow > 0 && m.Key != "" {
		s.dedupRelease(m.Key)
	}
	s.appendHistory(m, lastErr)
	s.publish(eventbus.TypeBroadcastFail, m, lastErr)
	s.log.Warn("broadcast send failed", logx.String("name", m.Name), logx.String("guild_id", m.GuildID), logx.String("channel_id", m.ChannelID), logx.Err(lastErr))
	return lastErr
}

func (s *Service) onSent(ctx context.Context, m Message, cfg Config) {
	if cfg.DedupWindow > 0 && m.Key != "" {
		s.dedupCommit(ctx, m.Key, time.Now().Add(cfg.DedupWindow))
	}
	s.appendHistory(m, nil)
	s.publish(eventbus.TypeBroadcastSent, m, nil)
	s.log.Debug("broadcast sent", logx.String("name", m.Name), logx.String("guild_id", m.GuildID), logx.String("channel_id", m.ChannelID))
}

func retryDelay(cfg Config, attempt int) time.Duration {
	d := cfg.RetryBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= cfg.RetryMaxDelay {
			d = cfg.RetryMaxDelay
			break
		}
	}
	// Jitter 0.7..1.3
	j := 0.7 + rand.Float64()*0.6
	d = time.Duration(float64(d) * j)
	if d > cfg.RetryMaxDelay {
		d = cfg.RetryMaxDelay
	}
	return d
}
