package interviewmatch

import (
	"fmt"
	"sort"
	"strings"
)

const (
	activityMessage = "%s\n" +
		"Hello my beloved otters, it is time to practice!\n" +
		"React to this message with %s if you want to make a mock interview with another otter.\n" +
		"Remember you only have 24 hours to react. A nice week to all of you and keep coding!"

	notificationMessage = "These are the pairs of the week.\nPlease get in touch with your partner!"

	privateMessage = "Hello %s!\n" +
		"You have been paired with %s. Please get in contact with them and don't forget to request the resume!.\n" +
		"*Have fun!*\n\n" +
		"Check this message for more information about the activity:\n" +
		"https://discord.com/channels/742890088190574634/743138942035034164/859236992403374110"

	sitOutMessage = "Hello %s!\n" +
		"An odd number of otters signed up this week, so you are sitting out to keep the pairs even. " +
		"Thanks for organizing the activity!"

	emptyPoolMessage = "No one wanted to practice 😟"

	emojiPromptMessage = "You have 15s to react to this message with the emoji that you want to use (by default is %s)."
	customEmojiMessage = "This is shameful, but currently we don't support custom emojis 😔"
	scheduledMessage   = "**Interview Match** activity scheduled! See you there %s."
	stoppedMessage     = "**Interview Match** activity stopped!"
	notRunningMessage  = "No activity was running! 😱"
)

func activityText(roleMention, emoji string) string {
	return fmt.Sprintf(activityMessage, roleMention, emoji)
}

func privateText(self, partner Candidate) string {
	return fmt.Sprintf(privateMessage, self.Username, partner.Username)
}

func sitOutText(c Candidate) string {
	return fmt.Sprintf(sitOutMessage, c.Username)
}

// summaryText lists every paired member, sorted by display name.
func summaryText(pairs []Pair) string {
	var all []Candidate
	for _, p := range pairs {
		all = append(all, p[0], p[1])
	}
	sort.SliceStable(all, func(i, j int) bool {
		if all[i].DisplayName != all[j].DisplayName {
			return all[i].DisplayName < all[j].DisplayName
		}
		return all[i].UserID < all[j].UserID
	})
	mentions := make([]string, 0, len(all))
	for _, c := range all {
		mentions = append(mentions, c.Mention)
	}
	return notificationMessage + "\n" + strings.Join(mentions, ",")
}
