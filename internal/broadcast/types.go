package broadcast

import (
	"errors"
	"time"

	"otterbot/internal/transport"
)

var (
	ErrDisabled  = errors.New("broadcast disabled")
	ErrQueueFull = errors.New("broadcast queue full")
	ErrStopped   = errors.New("broadcast stopped")
	// ErrDuplicate means the key was already posted inside the dedup window.
	ErrDuplicate = errors.New("broadcast duplicate suppressed")
)

// Config controls the outbound announcement pipeline.
type Config struct {
	Enabled         bool
	Workers         int
	QueueSize       int
	RatePerSec      int
	RetryMax        int
	RetryBase       time.Duration
	RetryMaxDelay   time.Duration
	DedupWindow     time.Duration
	DedupMaxEntries int
}

// Message is one post to one guild channel.
type Message struct {
	// Name groups posts in logs and history, e.g. "leetcode.daily".
	Name      string
	GuildID   string
	ChannelID string
	// Key suppresses repeats within the dedup window, across restarts.
	// Empty disables dedup for this post.
	Key string
	Out transport.OutMessage
}

type HistoryItem struct {
	At        time.Time
	Name      string
	GuildID   string
	ChannelID string
	OK        bool
	Error     string
}

// Event is the payload of broadcast.* bus events.
type Event struct {
	Name      string    `json:"name"`
	GuildID   string    `json:"guild_id"`
	ChannelID string    `json:"channel_id"`
	Key       string    `json:"key,omitempty"`
	At        time.Time `json:"at"`
	Error     string    `json:"error,omitempty"`
}

type job struct {
	msg  Message
	done chan error // optional; receives the final send result
}
