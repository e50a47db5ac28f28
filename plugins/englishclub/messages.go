package englishclub

import (
	"regexp"
	"strings"

	"otterbot/internal/transport"
)

const (
	colorGreen = 0x2ecc71
	colorBlue  = 0x3498db

	invalidTimeReply = "Invalid, Use the following format: HH:MM AM or HH:MM PM, e.g., '10:00 PM'."
	startedReply     = "**English Club** reminders scheduled!"
	stoppedReply     = "**English Club** reminders stopped!"
	noConfigReply    = "No config set! 😱"
)

// sessionTime accepts 12-hour clock times such as "9:30 PM" or "10:00AM".
var sessionTime = regexp.MustCompile(`^(1[0-2]|0?[1-9]):([0-5][0-9]) ?(AM|PM)$`)

func validSessionTime(s string) bool {
	return sessionTime.MatchString(s)
}

func reminderMessage(roleID string) transport.OutMessage {
	desc := "Hey yo, English club this week? 👀"
	var roles []string
	if roleID != "" {
		desc = "Hey yo, English club this week? <@&" + roleID + "> 👀"
		roles = []string{roleID}
	}
	return transport.OutMessage{
		Embeds: []transport.Embed{{
			Title:       "English Club Reminder",
			Description: desc,
			Color:       colorBlue,
		}},
		MentionRoles: roles,
	}
}

func sessionMessage(hour, imageURL string) transport.OutMessage {
	return transport.OutMessage{
		Content: "@everyone",
		Embeds: []transport.Embed{{
			Title:       "English Club Session",
			Description: "An English Club session has been scheduled for " + strings.TrimSpace(hour) + ". See you there! 🦦",
			Color:       colorGreen,
			ImageURL:    imageURL,
		}},
		MentionEveryone: true,
	}
}
