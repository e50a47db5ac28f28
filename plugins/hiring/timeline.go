package hiring

import (
	"strings"
	"time"
)

const (
	openedFor    = "Internship application opened for:"
	summerSeason = "Summer Internships 🏝️"
	fallSeason   = "Fall Internships 🍂"
	winterSeason = "Wintern Internships ⛄"
)

// seasons lists the internship seasons whose applications open in m.
// Large companies hire from August to January.
func seasons(m time.Month) []string {
	switch m {
	case time.October, time.November, time.December, time.January:
		return []string{summerSeason}
	case time.April, time.May:
		return []string{fallSeason}
	case time.August, time.September:
		return []string{summerSeason, winterSeason}
	default:
		return nil
	}
}

// EventsFor returns the announcement for month m, or ok=false for months
// with nothing opening.
func EventsFor(m time.Month) (text string, ok bool) {
	s := seasons(m)
	if len(s) == 0 {
		return "", false
	}
	return openedFor + " " + strings.Join(s, " "), true
}
