package interviewmatch

import (
	"fmt"
	"strings"
	"time"

	"otterbot/internal/plugin"
	"otterbot/internal/transport"
)

const (
	defaultHour         = 12
	defaultCheckOffset  = 1
	defaultDay          = 2
	defaultEmoji        = "👍"
	emojiConfirmTimeout = 15 * time.Second
)

// Candidate is one opted-in member.
type Candidate struct {
	UserID      string
	Username    string
	DisplayName string
	Mention     string
	// Collaborator places the member in the mentor tier.
	Collaborator bool
}

func candidateFromMember(m transport.Member, collaborator bool) Candidate {
	return Candidate{
		UserID:       m.User.ID,
		Username:     m.User.Username,
		DisplayName:  m.DisplayName(),
		Mention:      m.Mention(),
		Collaborator: collaborator,
	}
}

// Pair is one weekly assignment.
type Pair [2]Candidate

// ResetPolicy decides what happens to the stored message id after a check.
type ResetPolicy string

const (
	// ResetKeep leaves the message id in place until the next announce.
	ResetKeep ResetPolicy = "keep"
	// ResetClear empties the message id once a cycle completes.
	ResetClear ResetPolicy = "clear"
)

// Config is the plugins.interview_match.config block.
type Config struct {
	// Hour is the local hour both jobs fire at.
	Hour *int `json:"hour,omitempty"`
	// CheckOffsetDays is how many days after the announce day the check runs.
	CheckOffsetDays int         `json:"check_offset_days,omitempty"`
	ResetPolicy     ResetPolicy `json:"reset_policy,omitempty"`
	DefaultEmoji    string      `json:"default_emoji,omitempty"`
	// DefaultDay is used when start omits the day (0 = Monday).
	DefaultDay *int `json:"default_day,omitempty"`

	Timeouts plugin.Timeouts `json:"timeouts,omitempty"`
}

type settings struct {
	hour         int
	checkOffset  int
	resetPolicy  ResetPolicy
	defaultEmoji string
	defaultDay   int
	taskTimeout  time.Duration
	opTimeout    time.Duration
}

func (c Config) normalize() (settings, error) {
	s := settings{
		hour:         defaultHour,
		checkOffset:  defaultCheckOffset,
		resetPolicy:  ResetKeep,
		defaultEmoji: defaultEmoji,
		defaultDay:   defaultDay,
		taskTimeout:  c.Timeouts.TaskTimeout(5 * time.Minute),
		opTimeout:    c.Timeouts.OperationTimeout(30 * time.Second),
	}
	if c.Hour != nil {
		if *c.Hour < 0 || *c.Hour > 23 {
			return s, fmt.Errorf("hour must be 0-23, got %d", *c.Hour)
		}
		s.hour = *c.Hour
	}
	if c.CheckOffsetDays != 0 {
		if c.CheckOffsetDays < 0 || c.CheckOffsetDays > 6 {
			return s, fmt.Errorf("check_offset_days must be 1-6, got %d", c.CheckOffsetDays)
		}
		s.checkOffset = c.CheckOffsetDays
	}
	switch ResetPolicy(strings.ToLower(string(c.ResetPolicy))) {
	case "", ResetKeep:
	case ResetClear:
		s.resetPolicy = ResetClear
	default:
		return s, fmt.Errorf("reset_policy must be %q or %q, got %q", ResetKeep, ResetClear, c.ResetPolicy)
	}
	if e := strings.TrimSpace(c.DefaultEmoji); e != "" {
		s.defaultEmoji = e
	}
	if c.DefaultDay != nil {
		s.defaultDay = ((*c.DefaultDay % 7) + 7) % 7
	}
	return s, nil
}
