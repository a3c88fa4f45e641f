package model

import "time"

// UserContextProfile is the derived, single-per-namespace identity/preference
// record. memstore persists it in a dedicated user_context_profile table keyed
// by namespace, so the one-profile-per-namespace invariant is a primary-key
// guarantee rather than an application-level convention.
type UserContextProfile struct {
	Namespace string `json:"namespace"`

	Name              string   `json:"name,omitempty"`
	Location          string   `json:"location,omitempty"`
	JobTitle          string   `json:"job_title,omitempty"`
	Company           string   `json:"company,omitempty"`
	PrimaryLanguages  []string `json:"primary_languages,omitempty"`
	Tools             []string `json:"tools,omitempty"`
	CommunicationStyle string  `json:"communication_style,omitempty"`
	ActiveProjects    []string `json:"active_projects,omitempty"`
	LearningGoals     []string `json:"learning_goals,omitempty"`

	Version     int       `json:"version"`
	LastUpdated time.Time `json:"last_updated"`
}

// Merge folds other into p, incrementing Version. Non-empty scalar fields in other
// win; slice fields are unioned (stable order, no duplicates). Merge never removes
// previously known facts — the profile version
// increases monotonically on merge and merging never destroys data.
func (p *UserContextProfile) Merge(other UserContextProfile) {
	if other.Name != "" {
		p.Name = other.Name
	}
	if other.Location != "" {
		p.Location = other.Location
	}
	if other.JobTitle != "" {
		p.JobTitle = other.JobTitle
	}
	if other.Company != "" {
		p.Company = other.Company
	}
	if other.CommunicationStyle != "" {
		p.CommunicationStyle = other.CommunicationStyle
	}
	p.PrimaryLanguages = unionStrings(p.PrimaryLanguages, other.PrimaryLanguages)
	p.Tools = unionStrings(p.Tools, other.Tools)
	p.ActiveProjects = unionStrings(p.ActiveProjects, other.ActiveProjects)
	p.LearningGoals = unionStrings(p.LearningGoals, other.LearningGoals)

	p.Version++
	p.LastUpdated = time.Now()
}

func unionStrings(base, add []string) []string {
	seen := make(map[string]bool, len(base))
	out := make([]string, 0, len(base)+len(add))
	for _, s := range base {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	for _, s := range add {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
