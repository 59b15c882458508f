package matching

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jobpulse/jobpulse/internal/storage"
)

// BuildUserProfile synthesizes the embedding source text for a user's
// preferences. The field order is fixed: the text is the cache key, so two
// users with identical preferences must produce byte-identical output.
func BuildUserProfile(p storage.UserPreferences) string {
	var b strings.Builder
	writeField(&b, "Roles", joinJSONList(p.Roles))
	writeField(&b, "Categories", joinJSONList(p.Categories))
	writeField(&b, "Interests", p.Interests)
	if p.ExperienceYears > 0 {
		writeField(&b, "Experience", fmt.Sprintf("%d years", p.ExperienceYears))
	}
	writeField(&b, "Skills", joinJSONList(p.Skills))
	writeField(&b, "Locations", joinJSONList(p.Locations))
	if p.SalaryFloor > 0 {
		writeField(&b, "Salary", fmt.Sprintf("at least %d %s", p.SalaryFloor, p.SalaryCurrency))
	}
	writeField(&b, "Work arrangement", joinJSONList(p.Arrangements))
	writeField(&b, "Industry", p.Industry)
	return strings.TrimSpace(b.String())
}

// BuildJobProfile synthesizes the embedding source text for a posting,
// preferring AI-enhanced fields over raw scraped ones when both exist.
func BuildJobProfile(j storage.JobPosting) string {
	title := j.Title
	if j.EnhancedTitle != "" {
		title = j.EnhancedTitle
	}
	summary := j.Summary
	if j.EnhancedSummary != "" {
		summary = j.EnhancedSummary
	}

	var b strings.Builder
	writeField(&b, "Title", title)
	writeField(&b, "Company", j.Company)
	writeField(&b, "Location", j.Location)
	switch {
	case j.SalaryMin > 0 && j.SalaryMax > 0:
		writeField(&b, "Salary", fmt.Sprintf("%d-%d %s", j.SalaryMin, j.SalaryMax, j.SalaryCurrency))
	case j.SalaryMin > 0:
		writeField(&b, "Salary", fmt.Sprintf("from %d %s", j.SalaryMin, j.SalaryCurrency))
	}
	writeField(&b, "Work arrangement", j.Arrangement)
	writeField(&b, "Skills", joinJSONList(j.Skills))
	writeField(&b, "Summary", summary)
	return strings.TrimSpace(b.String())
}

func writeField(b *strings.Builder, label, value string) {
	if value == "" {
		return
	}
	fmt.Fprintf(b, "%s: %s\n", label, value)
}

// joinJSONList renders a JSON string array as comma-separated text.
// Malformed input is returned as-is rather than dropped: a stale source
// string still produces a stable, embeddable text.
func joinJSONList(raw string) string {
	if raw == "" || raw == "[]" {
		return ""
	}
	var items []string
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return raw
	}
	return strings.Join(items, ", ")
}
