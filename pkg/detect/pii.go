package detect

import "regexp"

// pii.go implements the `pii` detector as a conservative regex/gazetteer
// heuristic (spec Non-goals: "no concrete ML model; detectors are
// pluggable predicates" — a real deployment swaps this implementation for
// a model-backed one without changing the Registry interface).

var (
	emailRe = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	phoneRe = regexp.MustCompile(`(\+?\d{1,2}[ .\-]?)?\(?\d{3}\)?[ .\-]?\d{3}[ .\-]?\d{4}\b`)
	// personGazetteer is a tiny stand-in name list; a production detector
	// would call a named-entity-recognition model instead.
	personGazetteer = []string{"bob", "alice", "peter", "carol", "dave", "mallory", "eve"}
	locationGazetteer = []string{"paris", "london", "new york", "tokyo", "berlin", "rome"}
)

func classifyPII(tag, s string) Result {
	switch tag {
	case "EMAIL_ADDRESS":
		if loc := emailRe.FindStringIndex(s); loc != nil {
			return Result{Matched: true, HasSpan: true, Start: loc[0], End: loc[1]}
		}
	case "PHONE_NUMBER":
		if loc := phoneRe.FindStringIndex(s); loc != nil {
			return Result{Matched: true, HasSpan: true, Start: loc[0], End: loc[1]}
		}
	case "PERSON":
		if start, end, found := findGazetteer(s, personGazetteer); found {
			return Result{Matched: true, HasSpan: true, Start: start, End: end}
		}
	case "LOCATION":
		if start, end, found := findGazetteer(s, locationGazetteer); found {
			return Result{Matched: true, HasSpan: true, Start: start, End: end}
		}
	}
	return Result{}
}

func findGazetteer(s string, names []string) (int, int, bool) {
	lower := []rune(s)
	for _, name := range names {
		re := regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(name) + `\b`)
		if loc := re.FindStringIndex(string(lower)); loc != nil {
			return loc[0], loc[1], true
		}
	}
	return 0, 0, false
}

func detectAnyPII(s string) bool {
	if emailRe.MatchString(s) || phoneRe.MatchString(s) {
		return true
	}
	if _, _, found := findGazetteer(s, personGazetteer); found {
		return true
	}
	if _, _, found := findGazetteer(s, locationGazetteer); found {
		return true
	}
	return false
}
