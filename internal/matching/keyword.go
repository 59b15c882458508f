package matching

import (
	"encoding/json"
	"strings"

	"github.com/jobpulse/jobpulse/internal/storage"
)

// Weights for the structured-field fallback score. They sum to 1 so the
// fallback stays on the same 0..1 scale as cosine similarity.
const (
	weightRole        = 0.35
	weightSkills      = 0.30
	weightLocation    = 0.15
	weightSalary      = 0.10
	weightArrangement = 0.10
)

// KeywordScore rates a (preferences, job) pair from structured fields
// alone. It is the genuine alternative ranking strategy used whenever the
// embedding path is unavailable, not a degraded stub: role, skill,
// location, salary, and arrangement all contribute.
func KeywordScore(p storage.UserPreferences, j storage.JobPosting) float64 {
	title := strings.ToLower(j.Title)
	if j.EnhancedTitle != "" {
		title = strings.ToLower(j.EnhancedTitle)
	}
	summary := strings.ToLower(j.Summary)
	if j.EnhancedSummary != "" {
		summary = strings.ToLower(j.EnhancedSummary)
	}

	var score float64

	// Role: any desired role appearing in the job title is a strong signal;
	// a summary mention counts for half.
	roles := parseList(p.Roles)
	roles = append(roles, parseList(p.Categories)...)
	best := 0.0
	for _, role := range roles {
		role = strings.ToLower(role)
		if role == "" {
			continue
		}
		switch {
		case strings.Contains(title, role):
			best = 1.0
		case best < 0.5 && strings.Contains(summary, role):
			best = 0.5
		}
	}
	score += weightRole * best

	// Skills: fraction of the user's skills the posting asks for.
	userSkills := parseList(p.Skills)
	jobSkills := make(map[string]bool)
	for _, s := range parseList(j.Skills) {
		jobSkills[strings.ToLower(s)] = true
	}
	if len(userSkills) > 0 && len(jobSkills) > 0 {
		matched := 0
		for _, s := range userSkills {
			if jobSkills[strings.ToLower(s)] {
				matched++
			}
		}
		score += weightSkills * float64(matched) / float64(len(userSkills))
	}

	// Location: a preferred location contained in the posting's location,
	// or a remote posting, satisfies the constraint.
	jobLocation := strings.ToLower(j.Location)
	remote := strings.Contains(strings.ToLower(j.Arrangement), "remote")
	for _, loc := range parseList(p.Locations) {
		if remote || (loc != "" && strings.Contains(jobLocation, strings.ToLower(loc))) {
			score += weightLocation
			break
		}
	}

	// Salary: the posting's upper bound must clear the user's floor.
	if p.SalaryFloor <= 0 || maxSalary(j) >= p.SalaryFloor {
		score += weightSalary
	}

	// Arrangement: exact tag match against the user's accepted set.
	jobArrangement := strings.ToLower(j.Arrangement)
	for _, a := range parseList(p.Arrangements) {
		if jobArrangement != "" && strings.EqualFold(a, jobArrangement) {
			score += weightArrangement
			break
		}
	}

	return score
}

func maxSalary(j storage.JobPosting) int {
	if j.SalaryMax > j.SalaryMin {
		return j.SalaryMax
	}
	return j.SalaryMin
}

func parseList(raw string) []string {
	if raw == "" || raw == "[]" {
		return nil
	}
	var items []string
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return []string{raw}
	}
	return items
}
