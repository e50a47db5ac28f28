package interviewmatch

import (
	"math/rand"
	"time"
)

// MakePairs splits pool into pairs, preferring collaborator/member pairs.
//
// An odd pool is padded with wildcard. When wildcard already opted in, it
// sits out instead so nobody is paired twice. Each tier is shuffled on its
// own, cross-tier pairs are formed in lockstep, and the surplus of the larger
// tier is paired consecutively. A nil rng uses a time-seeded source.
func MakePairs(pool []Candidate, wildcard Candidate, rng *rand.Rand) []Pair {
	if len(pool) == 0 {
		return nil
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	entrants := make([]Candidate, 0, len(pool)+1)
	seen := make(map[string]bool, len(pool))
	for _, c := range pool {
		if seen[c.UserID] {
			continue
		}
		seen[c.UserID] = true
		entrants = append(entrants, c)
	}
	if len(entrants)%2 == 1 {
		if seen[wildcard.UserID] {
			entrants = removeUser(entrants, wildcard.UserID)
		} else {
			entrants = append(entrants, wildcard)
		}
	}

	var collaborators, members []Candidate
	for _, c := range entrants {
		if c.Collaborator {
			collaborators = append(collaborators, c)
		} else {
			members = append(members, c)
		}
	}
	rng.Shuffle(len(collaborators), func(i, j int) { collaborators[i], collaborators[j] = collaborators[j], collaborators[i] })
	rng.Shuffle(len(members), func(i, j int) { members[i], members[j] = members[j], members[i] })

	pairs := make([]Pair, 0, len(entrants)/2)
	n := min(len(collaborators), len(members))
	for i := 0; i < n; i++ {
		pairs = append(pairs, Pair{collaborators[i], members[i]})
	}
	pairs = appendConsecutive(pairs, collaborators[n:])
	pairs = appendConsecutive(pairs, members[n:])
	return pairs
}

func appendConsecutive(pairs []Pair, rest []Candidate) []Pair {
	for i := 0; i+1 < len(rest); i += 2 {
		pairs = append(pairs, Pair{rest[i], rest[i+1]})
	}
	return pairs
}

func removeUser(in []Candidate, userID string) []Candidate {
	out := in[:0]
	for _, c := range in {
		if c.UserID != userID {
			out = append(out, c)
		}
	}
	return out
}
