// Package triage detects obstetric danger signs in free-text messages.
// Matching is case-insensitive over English and Swahili phrase forms and is
// independent of the sender's declared language: a Swahili keyword inside an
// English-flagged message still matches. Classification is a pure function of
// the keyword tables, so callers can rely on deterministic results.
package triage

import "regexp"

// Category is one fixed class of obstetric danger sign.
type Category string

const (
	Bleeding             Category = "bleeding"
	SevereHeadache       Category = "severe_headache"
	Fever                Category = "fever"
	ReducedFetalMovement Category = "reduced_fetal_movement"
	AbdominalPain        Category = "abdominal_pain"
	RuptureOfMembranes   Category = "rupture_of_membranes"
	Convulsions          Category = "convulsions"
	SevereSwelling       Category = "severe_swelling"
)

// Categories lists every category in table order, which is also the order
// Classify reports matches in.
func Categories() []Category {
	cats := make([]Category, len(patternTable))
	for i, e := range patternTable {
		cats[i] = e.category
	}
	return cats
}

type tableEntry struct {
	category Category
	patterns []*regexp.Regexp
}

// Phrase tables per WHO / Kenya MOH danger-sign guidance. English first,
// Swahili variants after.
var patternTable = []tableEntry{
	{Bleeding, compileAll(
		`\b(heavy\s+)?bleeding\b`,
		`\bexcessive\s+blood\b`,
		`\bblood\s+(clots?|loss)\b`,
		`\bkutoka\s+damu\b`,
		`\bdamu\s+nyingi\b`,
	)},
	{SevereHeadache, compileAll(
		`\bsevere\s+headache\b`,
		`\bblurred?\s+vision\b`,
		`\bvision\s+(is\s+)?blurred?\b`,
		`\bseeing\s+(spots?|stars?)\b`,
		`\bkichwa\s+kuuma\b`,
		`\bmacho\s+kuona\s+vibaya\b`,
	)},
	{Fever, compileAll(
		`\b(high|severe)\s+fever\b`,
		`\bchills\b`,
		`\bhoma\s+kali\b`,
		`\bbaridi\s+mwilini\b`,
	)},
	{ReducedFetalMovement, compileAll(
		`\breduced\s+fetal\s+movement\b`,
		`\bno\s+(fetal\s+)?movement\b`,
		`\bbaby\s+(not\s+moving|stopped?\s+moving|isn'?t\s+moving)\b`,
		`\bcan'?t\s+feel\s+(the\s+)?baby\b`,
		`\bmtoto\s+ha(tembei|chezi)\b`,
	)},
	{AbdominalPain, compileAll(
		`\bsevere\s+(abdominal\s+)?pain\b`,
		`\bstomach\s+pain\b`,
		`\bsharp\s+pain\b`,
		`\btumbo\s+kuuma\s+sana\b`,
	)},
	{RuptureOfMembranes, compileAll(
		`\bwater\s+(break(ing|s)?|broke)\b`,
		`\bfluid\s+(leaking|leakage|gushing)\b`,
		`\bleaking\s+fluid\b`,
		`\bmaji\s+ya(mekatika|kutoka)\b`,
	)},
	{Convulsions, compileAll(
		`\bconvulsions?\b`,
		`\bseizures?\b`,
		`\bloss\s+of\s+consciousness\b`,
		`\bfaint(ed|ing)\b`,
		`\bpassed?\s+out\b`,
		`\bdegedege\b`,
		`\bkupoteza\s+fahamu\b`,
	)},
	{SevereSwelling, compileAll(
		`\bsevere\s+swelling\b`,
		`\bswollen\s+(face|hands?|feet)\b`,
		`\bkuvimba\s+sana\b`,
	)},
}

func compileAll(exprs ...string) []*regexp.Regexp {
	res := make([]*regexp.Regexp, len(exprs))
	for i, e := range exprs {
		res[i] = regexp.MustCompile(`(?i)` + e)
	}
	return res
}

// Result carries the matched categories plus the literal phrases that
// triggered them, for the conversation log.
type Result struct {
	Categories []Category
	Keywords   []string
}

// Detected reports whether any danger sign matched.
func (r Result) Detected() bool {
	return len(r.Categories) > 0
}

// Classify scans text against every category table and returns all matches.
// There is no first-match short-circuit across categories: the emergency
// response must reflect the full extent of reported symptoms.
func Classify(text string) Result {
	var res Result
	for _, entry := range patternTable {
		for _, p := range entry.patterns {
			if m := p.FindString(text); m != "" {
				res.Categories = append(res.Categories, entry.category)
				res.Keywords = append(res.Keywords, m)
				break // one phrase per category is enough
			}
		}
	}
	return res
}
