// Package normalize turns raw extractor output into canonical postings.
package normalize

import (
	"errors"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/cespare/xxhash/v2"
	"github.com/gosimple/slug"

	"jobwatch/watcher-service/internal/model"
)

// Canonical remote-type vocabulary.
const (
	RemoteRemote  = "remote"
	RemoteHybrid  = "hybrid"
	RemoteOnsite  = "onsite"
	RemoteUnknown = "unknown"
)

// Canonical employment-type vocabulary.
const (
	EmploymentFullTime = "full-time"
	EmploymentPartTime = "part-time"
	EmploymentContract = "contract"
	EmploymentUnknown  = "unknown"
)

// Error is returned when a raw posting cannot be normalized. The posting
// is dropped and counted; the session continues.
type Error struct {
	Reason string
}

func (e *Error) Error() string { return "normalize: " + e.Reason }

// IsError checks whether err is a normalization error.
func IsError(err error) bool {
	var ne *Error
	return errors.As(err, &ne)
}

// Posting maps a RawPosting to canonical Posting fields for the given
// source. Lifecycle fields (state, seen timestamps) are left zero; the
// reconciler owns those. A posting with no usable title is rejected.
func Posting(sourceID string, raw model.RawPosting) (model.Posting, error) {
	title := CollapseWhitespace(raw.Title)
	if title == "" {
		return model.Posting{}, &Error{Reason: "missing title"}
	}

	p := model.Posting{
		SourceID:       sourceID,
		ExternalID:     strings.TrimSpace(raw.ExternalID),
		Title:          title,
		Description:    CollapseWhitespace(StripMarkup(raw.Description)),
		Location:       CanonicalLocation(CollapseWhitespace(raw.Location)),
		Department:     CollapseWhitespace(raw.Department),
		EmploymentType: CanonicalEmploymentType(raw.EmploymentType),
		RemoteType:     CanonicalRemoteType(raw.RemoteType, raw.Location),
		URL:            strings.TrimSpace(raw.URL),
		PostedAt:       raw.PostedAt,
	}

	if p.ExternalID == "" {
		// No stable identifier from the source. Derive one and flag it:
		// title+location+company collides across genuinely distinct
		// postings, so the stored record must say so.
		p.ExternalID = DerivedKey(raw.Title, raw.Location, raw.Company)
		p.LowConfidenceID = true
	}

	p.ContentHash = ContentHash(p)
	return p, nil
}

// CollapseWhitespace trims and folds all interior whitespace runs into
// single spaces.
func CollapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// StripMarkup removes HTML tags from a description, keeping text content.
// Non-HTML input passes through unchanged.
func StripMarkup(s string) string {
	if !strings.ContainsRune(s, '<') {
		return s
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return s
	}
	return doc.Text()
}

// CanonicalRemoteType maps source-specific remote vocabulary onto the
// closed canonical set. The location string is consulted as a fallback
// since many boards only say "Remote" there.
func CanonicalRemoteType(remoteType, location string) string {
	switch strings.ToLower(strings.TrimSpace(remoteType)) {
	case "remote", "fully remote", "full remote", "wfh", "work from home", "telecommute":
		return RemoteRemote
	case "hybrid", "partially remote", "flexible":
		return RemoteHybrid
	case "onsite", "on-site", "on site", "office", "in office", "in-office":
		return RemoteOnsite
	case "":
		if strings.Contains(strings.ToLower(location), "remote") {
			return RemoteRemote
		}
		return RemoteUnknown
	default:
		return RemoteUnknown
	}
}

// CanonicalEmploymentType maps contract vocabulary onto the closed set.
func CanonicalEmploymentType(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "full-time", "full time", "fulltime", "permanent", "full_time":
		return EmploymentFullTime
	case "part-time", "part time", "parttime", "part_time":
		return EmploymentPartTime
	case "contract", "contractor", "freelance", "temporary", "fixed-term":
		return EmploymentContract
	default:
		return EmploymentUnknown
	}
}

// locationAliases maps lowercase location spellings to a canonical name.
var locationAliases = map[string]string{
	"nyc":           "New York",
	"new york city": "New York",
	"new york, ny":  "New York",
	"sf":            "San Francisco",
	"san francisco, ca": "San Francisco",
	"london, uk":        "London",
	"london, england":   "London",
	"tlv":               "Tel Aviv",
	"tel-aviv":          "Tel Aviv",
	"tel aviv-yafo":     "Tel Aviv",
	"berlin, germany":   "Berlin",
	"amsterdam, netherlands": "Amsterdam",
}

// CanonicalLocation folds known aliases of a location into one spelling.
// Unknown locations pass through untouched.
func CanonicalLocation(s string) string {
	if canonical, ok := locationAliases[strings.ToLower(s)]; ok {
		return canonical
	}
	return s
}

// DerivedKey builds a fallback external id from title, location and
// company when the source provides none.
func DerivedKey(title, location, company string) string {
	return slug.Make(fmt.Sprintf("%s %s %s", company, title, location))
}

// ContentHash hashes the material fields used for change detection.
// Lifecycle fields and the URL are deliberately excluded: a tracking-token
// change in the URL is not a content change worth notifying about.
func ContentHash(p model.Posting) uint64 {
	h := xxhash.New()
	for _, field := range []string{
		p.Title, p.Description, p.Location,
		p.Department, p.EmploymentType, p.RemoteType,
	} {
		h.WriteString(field)
		h.Write([]byte{0})
	}
	return h.Sum64()
}
