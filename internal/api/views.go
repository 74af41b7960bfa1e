package api

import (
	"sort"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// DisplayLabel renders a wire identifier such as "provision-profile" as a
// human-facing label ("Provision Profile").
func DisplayLabel(value string) string {
	cleaned := strings.ReplaceAll(strings.TrimSpace(value), "-", " ")
	if cleaned == "" {
		return ""
	}
	return cases.Title(language.Und).String(cleaned)
}

// SortJobsNewestFirst orders jobs by CreatedAt descending, breaking ties
// by ID descending.
func SortJobsNewestFirst(jobs []Job) []Job {
	if len(jobs) == 0 {
		return nil
	}
	sorted := make([]Job, len(jobs))
	copy(sorted, jobs)
	sort.Slice(sorted, func(i, j int) bool {
		ti := ParseTime(sorted[i].CreatedAt)
		tj := ParseTime(sorted[j].CreatedAt)
		if ti.Equal(tj) {
			return sorted[i].ID > sorted[j].ID
		}
		return ti.After(tj)
	})
	return sorted
}

// SortAccountsByEmail orders accounts alphabetically for stable listings.
func SortAccountsByEmail(accounts []Account) []Account {
	if len(accounts) == 0 {
		return nil
	}
	sorted := make([]Account, len(accounts))
	copy(sorted, accounts)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Email == sorted[j].Email {
			return sorted[i].ID < sorted[j].ID
		}
		return sorted[i].Email < sorted[j].Email
	})
	return sorted
}

// ParseTime parses an API timestamp, returning the zero time on failure.
func ParseTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t
	}
	return time.Time{}
}
