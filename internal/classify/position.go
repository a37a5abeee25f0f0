// Package classify implements the deterministic title and keyword classifiers
// that gate scraped postings before any network-side verification runs.
package classify

import "strings"

// The position-type filters are strict allow lists: absence of an explicit
// marker never produces a positive. Exclude terms are scanned before include
// terms, with a narrow escape hatch for titles that carry an explicit marker
// of the target category alongside an excluded term ("PhD Position - read
// more" must survive the "read more" exclusion).

// Terms shared by both classifiers: industry roles, admin roles, and generic
// university pages that are never job postings.
var nonAcademicExcludes = []string{
	"senior engineer", "staff engineer", "lead engineer",
	"software engineer", "network engineer", "systems engineer",
	"data engineer", "devops", "developer", "programmer",
	"manager", "director", "head of", "chief",
	"technician", "techniker", "operator",
	"consultant", "analyst", "architect",
	"intern ", "internship", "praktikum", "werkstudent",

	"secretary", "administrative", "coordinator",
	"marketing", "sales", "hr ", "human resources",
	"accountant", "finance", "legal",

	"welcome to", "about us", "contact us", "home page",
	"department of", "faculty of", "school of",
	"university of", "institute of",
	"news", "events", "calendar", "sitemap",
	"login", "register", "apply now", "more information",
	"read more", "click here", "learn more",
}

var phdExcludes = append([]string{
	"postdoc", "post-doc", "post doc", "postdoctoral",
	"professor", "tenure", "faculty", "lecturer",
	"assistant professor", "associate professor", "full professor",
	"chair", "habilitation", "juniorprofessur",
	"w1", "w2", "w3",
	"senior researcher", "principal investigator",
}, nonAcademicExcludes...)

var phdIncludes = []string{
	"phd", "ph.d", "ph.d.",
	"doctoral", "doctorate",
	"doktorand", "doktorandin", "doktorarbeit",
	"promotionsstelle", "promotionsstudent",
	"dissertation",
	"research assistant (phd", "research assistant with phd",
	"(phd)", "- phd", "phd -", "phd:", ": phd",
	"wissenschaftlicher mitarbeiter (m/w/d) zur promotion",
	"wissenschaftliche mitarbeiterin zur promotion",
}

// phdContext qualifies a "research assistant"/"wissenschaftliche" title as a
// doctoral opening.
var phdContext = []string{"phd", "doctoral", "promot", "dissertation"}

var postdocExcludes = append([]string{
	"phd student", "phd position", "phd candidate",
	"doctoral student", "doctoral position",
	"doktorand", "doktorandin", "doktorarbeit",
	"promotionsstelle", "promotionsstudent",
}, nonAcademicExcludes...)

var postdocIncludes = []string{
	"postdoc", "post-doc", "post doc", "postdoctoral",
	"postdoctoral researcher", "postdoctoral fellow",
	"research fellow", "research associate",

	"professor", "tenure", "tenure track", "tenure-track",
	"assistant professor", "associate professor", "full professor",
	"faculty", "faculty position", "lecturer", "senior lecturer",
	"juniorprofessur", "juniorprofessor",
	"w1", "w2", "w3",
	"chair", "endowed chair",
	"habilitation",
	"principal investigator", "pi position",
	"senior researcher", "senior scientist",
	"group leader", "research group leader",
}

// postdocMarkers override an exclude hit when the title still names a
// postdoc-level role explicitly.
var postdocMarkers = []string{"postdoc", "professor", "tenure", "faculty"}

func containsAny(s string, terms []string) bool {
	for _, term := range terms {
		if strings.Contains(s, term) {
			return true
		}
	}
	return false
}

// IsPhD reports whether the title names an explicit doctoral opening.
// It never returns true on ambiguous or empty input.
func IsPhD(title string) bool {
	if len(title) < 5 {
		return false
	}
	lower := strings.ToLower(title)

	for _, kw := range phdExcludes {
		if !strings.Contains(lower, kw) {
			continue
		}
		// Escape hatch: an explicit PhD marker survives the exclusion
		// unless an opposing strong marker is also present.
		if strings.Contains(lower, "phd") || strings.Contains(lower, "doktorand") {
			if strings.Contains(lower, "postdoc") || strings.Contains(lower, "professor") {
				return false
			}
			return true
		}
		return false
	}

	if containsAny(lower, phdIncludes) {
		return true
	}

	if strings.Contains(lower, "research assistant") || strings.Contains(lower, "wissenschaftliche") {
		if containsAny(lower, phdContext) {
			return true
		}
	}

	return false
}

// IsPostDoc reports whether the title names an explicit postdoc, tenure
// track, or professorship opening. Same strict-allow-list discipline as
// IsPhD.
func IsPostDoc(title string) bool {
	if len(title) < 5 {
		return false
	}
	lower := strings.ToLower(title)

	for _, kw := range postdocExcludes {
		if !strings.Contains(lower, kw) {
			continue
		}
		if containsAny(lower, postdocMarkers) {
			return true
		}
		return false
	}

	if containsAny(lower, postdocIncludes) {
		return true
	}

	if strings.Contains(lower, "research") {
		if containsAny(lower, []string{"senior", "fellow", "associate"}) {
			return true
		}
	}

	return false
}

// Matches reports whether the title matches the requested position type.
func Matches(title string, positionType string) bool {
	if positionType == "postdoc" {
		return IsPostDoc(title)
	}
	return IsPhD(title)
}
