package leetcode

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/machinebox/graphql"
)

const (
	defaultEndpoint = "https://leetcode.com/graphql"
	siteURL         = "https://leetcode.com"
)

const dailyChallengeQuery = `
query activeDailyChallenge {
    activeDailyCodingChallengeQuestion {
      date
      link
      question {
        title
        difficulty
        categoryTitle
        topicTags {
          name
        }
      }
    }
}`

const userProfileQuery = `
query userPublicProfile($username: String!) {
    matchedUser(username: $username) {
        username
        profile {
            countryName
            ranking
            userAvatar
        }
    }
}`

type TopicTag struct {
	Name string `json:"name"`
}

type Question struct {
	Title         string     `json:"title"`
	Difficulty    string     `json:"difficulty"`
	CategoryTitle string     `json:"categoryTitle"`
	TopicTags     []TopicTag `json:"topicTags"`
}

type DailyChallenge struct {
	Date     string    `json:"date"`
	Link     string    `json:"link"`
	Question *Question `json:"question"`
}

type Profile struct {
	CountryName string `json:"countryName"`
	Ranking     int    `json:"ranking"`
	UserAvatar  string `json:"userAvatar"`
}

type User struct {
	Username string   `json:"username"`
	Profile  *Profile `json:"profile"`
}

// Client reads public data from the leetcode GraphQL API. A nil result
// with a nil error means the API had nothing to return.
type Client interface {
	DailyChallenge(ctx context.Context) (*DailyChallenge, error)
	UserProfile(ctx context.Context, username string) (*User, error)
}

type gqlClient struct {
	c *graphql.Client
}

// NewClient talks to endpoint, or the public API when endpoint is empty.
func NewClient(endpoint string, timeout time.Duration) Client {
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	hc := &http.Client{Timeout: timeout}
	return &gqlClient{c: graphql.NewClient(endpoint, graphql.WithHTTPClient(hc))}
}

func (g *gqlClient) DailyChallenge(ctx context.Context) (*DailyChallenge, error) {
	req := graphql.NewRequest(dailyChallengeQuery)
	req.Header.Set("Referer", siteURL)
	var resp struct {
		Daily *DailyChallenge `json:"activeDailyCodingChallengeQuestion"`
	}
	if err := g.c.Run(ctx, req, &resp); err != nil {
		return nil, fmt.Errorf("leetcode daily challenge: %w", err)
	}
	return resp.Daily, nil
}

func (g *gqlClient) UserProfile(ctx context.Context, username string) (*User, error) {
	req := graphql.NewRequest(userProfileQuery)
	req.Var("username", username)
	req.Header.Set("Referer", siteURL)
	var resp struct {
		User *User `json:"matchedUser"`
	}
	if err := g.c.Run(ctx, req, &resp); err != nil {
		return nil, fmt.Errorf("leetcode profile %q: %w", username, err)
	}
	return resp.User, nil
}
