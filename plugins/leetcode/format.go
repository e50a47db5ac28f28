package leetcode

import (
	"errors"
	"strings"

	"github.com/dustin/go-humanize"

	"otterbot/internal/transport"
)

const (
	dailyContent    = "New **daily challenge** has appeared, you have **24hrs** to solve it!"
	subscribedReply = "**Leetcode Daily Challenge** subscribed, be ready to practice!"
	removedReply    = "**Leetcode config** removed!"
	noConfigReply   = "No config set! 😱"

	embedColor = 0x1abc9c
)

var (
	errNoChallenge = errors.New("no daily challenge found")
	errNoQuestion  = errors.New("no question found in daily challenge")
)

// challengeMessage renders the daily post. Challenges without a question
// are rejected so nothing half-empty reaches a channel.
func challengeMessage(d *DailyChallenge) (transport.OutMessage, error) {
	if d == nil {
		return transport.OutMessage{}, errNoChallenge
	}
	q := d.Question
	if q == nil {
		return transport.OutMessage{}, errNoQuestion
	}
	e := transport.Embed{
		Title:  q.Title,
		URL:    siteURL + d.Link,
		Color:  embedColor,
		Footer: "Date: " + d.Date,
		Fields: []transport.EmbedField{{Name: "Difficulty", Value: q.Difficulty}},
	}
	if tags := tagList(q.TopicTags); tags != "" {
		e.Fields = append(e.Fields, transport.EmbedField{Name: "Tags", Value: tags})
	}
	return transport.OutMessage{Content: dailyContent, Embeds: []transport.Embed{e}}, nil
}

func tagList(tags []TopicTag) string {
	parts := make([]string, 0, len(tags))
	for _, t := range tags {
		if t.Name == "" {
			continue
		}
		parts = append(parts, "`"+t.Name+"`")
	}
	return strings.Join(parts, " ")
}

func profileText(u *User) string {
	if u == nil {
		return "No leetcode user with that name."
	}
	lines := []string{"**" + u.Username + "**", siteURL + "/" + u.Username + "/"}
	if p := u.Profile; p != nil {
		if p.Ranking > 0 {
			lines = append(lines, "Ranking: "+humanize.Comma(int64(p.Ranking)))
		}
		if p.CountryName != "" {
			lines = append(lines, "Country: "+p.CountryName)
		}
	}
	return strings.Join(lines, "\n")
}
