// Package alert evaluates new and updated postings against subscriber
// alert rules and emits deduplicated match events.
package alert

import (
	"regexp"
	"strings"
	"time"

	"jobwatch/watcher-service/internal/model"
)

// Words ignored when matching multi-word keyword phrases.
var stopWords = map[string]bool{
	"a": true, "an": true, "the": true, "of": true, "and": true,
	"or": true, "in": true, "at": true, "to": true, "for": true,
	"with": true, "on": true, "by": true, "is": true, "are": true,
}

var wordSplit = regexp.MustCompile(`[^\w]+`)

// Matches reports whether a posting satisfies every filter the rule sets.
// Non-empty filters combine with AND; each list is an OR over its
// members. Rules with no filters never match — creation-time validation
// rejects them, and the engine refuses them too rather than silently
// matching everything.
func Matches(rule model.AlertRule, p model.Posting, now time.Time) bool {
	if !rule.HasFilter() {
		return false
	}

	if len(rule.Sources) > 0 && !containsFold(rule.Sources, p.SourceID) {
		return false
	}

	text := p.Title
	if rule.MatchDescription {
		text = p.Title + "\n" + p.Description
	}

	if len(rule.Keywords) > 0 {
		matched := false
		for _, kw := range rule.Keywords {
			if KeywordMatches(kw, text) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}

	// Exclusions veto after a positive keyword match.
	for _, kw := range rule.ExcludedKeywords {
		if KeywordMatches(kw, text) {
			return false
		}
	}

	// Location and department are free text and often missing; a posting
	// without the field is not excluded by a filter on it.
	if len(rule.Locations) > 0 && p.Location != "" && !anySubstringFold(rule.Locations, p.Location) {
		return false
	}
	if len(rule.Departments) > 0 && p.Department != "" && !anySubstringFold(rule.Departments, p.Department) {
		return false
	}
	if len(rule.EmploymentTypes) > 0 && !containsFold(rule.EmploymentTypes, p.EmploymentType) {
		return false
	}
	if len(rule.RemoteTypes) > 0 && !containsFold(rule.RemoteTypes, p.RemoteType) {
		return false
	}

	if rule.PostedWithinDays != nil {
		if p.PostedAt == nil {
			// Unknown age fails closed for age-bounded alerts.
			return false
		}
		cutoff := now.AddDate(0, 0, -*rule.PostedWithinDays)
		if p.PostedAt.Before(cutoff) {
			return false
		}
	}

	return true
}

// KeywordMatches checks one keyword against text, case-insensitively.
// Single-word keywords match as substrings. Multi-word phrases also match
// when every significant word appears somewhere in the text, so
// "engineering manager" matches "Senior Engineering Manager" and
// "vp engineering" matches "VP, Engineering & GM".
func KeywordMatches(keyword, text string) bool {
	keyword = strings.TrimSpace(keyword)
	if keyword == "" {
		return false
	}
	lowText := strings.ToLower(text)
	if strings.Contains(lowText, strings.ToLower(keyword)) {
		return true
	}

	keywordWords := significantWords(keyword)
	if len(keywordWords) < 2 {
		return false
	}
	textWords := make(map[string]bool)
	for _, w := range wordSplit.Split(lowText, -1) {
		textWords[w] = true
	}
	for _, w := range keywordWords {
		if !textWords[w] {
			return false
		}
	}
	return true
}

func significantWords(s string) []string {
	var out []string
	for _, w := range wordSplit.Split(strings.ToLower(s), -1) {
		if w == "" || stopWords[w] {
			continue
		}
		out = append(out, w)
	}
	return out
}

func containsFold(list []string, v string) bool {
	for _, item := range list {
		if strings.EqualFold(item, v) {
			return true
		}
	}
	return false
}

func anySubstringFold(list []string, v string) bool {
	lowV := strings.ToLower(v)
	for _, item := range list {
		if item == "" {
			continue
		}
		if strings.Contains(lowV, strings.ToLower(item)) {
			return true
		}
	}
	return false
}
